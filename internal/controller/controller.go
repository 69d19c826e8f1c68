// Package controller implements the pipeline controller: it runs in the
// host process, spawns plugins, performs the handshake, orders initialize
// and drop, routes host API calls to the frontend, enforces timeouts, and
// records reproduction data.
//
// Simplification from the protocol's literal description: adjacent
// plugins' gatestream traffic is relayed through the controller rather
// than established as a socket direct between the two plugin processes.
// The observable protocol semantics — ordering, synchronous/asynchronous
// behavior, failure propagation — are identical either way; the direct
// channel is a performance optimization the original protocol text
// mentions but that this runtime does not need for its host-visible
// contract, so it is not built out. See DESIGN.md.
package controller

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/qcsim/qcsim/config"
	"github.com/qcsim/qcsim/internal/errkind"
	"github.com/qcsim/qcsim/internal/events"
	"github.com/qcsim/qcsim/internal/pluginrt"
	"github.com/qcsim/qcsim/internal/wire"
	"github.com/qcsim/qcsim/prng"
	"github.com/qcsim/qcsim/repro"
	"github.com/qcsim/qcsim/telemetry/logging"
	"github.com/qcsim/qcsim/telemetry/tracing"
)

// controllerIDBase is the controller's half of the shared request-id space
// on every plugin connection (see wire.Duplex); plugins call back on this
// same connection using the 0 half to relay a gatestream request to the
// next plugin downstream.
const controllerIDBase = uint64(1) << 63

// gatestreamKinds are the request kinds a plugin may issue upstream on its
// own connection for the controller to relay to the next plugin down the
// pipeline, rather than the controller having asked for them.
var gatestreamKinds = map[wire.Kind]bool{
	wire.KindAllocateReq:    true,
	wire.KindFreeReq:        true,
	wire.KindGateReq:        true,
	wire.KindAdvanceReq:     true,
	wire.KindUpstreamArbReq: true,
}

type pluginConn struct {
	cfg      config.PluginConfig
	index    int
	listener net.Listener
	handle   Handle
	conn     *wire.Duplex
	machine  *pluginrt.Machine
	streams  *prng.PluginStreams
}

// Controller orchestrates one simulation's plugin pipeline.
type Controller struct {
	cfg     config.SimulationConfig
	spawner Spawner
	logger  *logging.Logger
	bus     events.Bus
	tracer  oteltrace.Tracer

	plugins []*pluginConn
	sockDir string

	record *repro.Record
	log    *repro.Log

	mu          sync.Mutex
	runInFlight bool
}

// New builds a Controller for cfg, using spawner to start each plugin. Each
// Controller owns its own span provider: a simulation run is the natural
// trace boundary, the same way the controller owns its own reproduction
// record rather than sharing one across runs.
func New(cfg config.SimulationConfig, spawner Spawner, logger *logging.Logger, bus events.Bus) *Controller {
	rec := repro.NewRecord(cfg.Seed, cfg.Plugins)
	return &Controller{
		cfg:     cfg,
		spawner: spawner,
		logger:  logger,
		bus:     bus,
		tracer:  tracing.NewProvider().Tracer(),
		record:  rec,
		log:     repro.NewLog(rec, cfg.ReproductionPath),
	}
}

// startCall begins a span for one host-channel or gatestream call this
// controller makes, publishing a pipeline event carrying the span's
// trace/span ids so log correlation survives the process boundary.
func (c *Controller) startCall(ctx context.Context, call, pluginName string) (context.Context, oteltrace.Span) {
	spanCtx, span := tracing.StartCall(ctx, c.tracer, call, pluginName)
	if c.bus != nil {
		c.bus.PublishCtx(spanCtx, events.Event{Category: events.CategoryPipeline, Type: call, Plugin: pluginName})
	}
	return spanCtx, span
}

func (c *Controller) logSinkFor(name string) func(wire.LogEvent) {
	return func(ev wire.LogEvent) {
		if c.logger != nil {
			c.logger.InfoCtx(context.Background(), ev.Message, logging.F().With("plugin", name).With("severity", ev.Severity))
		}
	}
}

// onEventFor decodes unsolicited frames arriving on the plugin at index.
// KindLogEvent is forwarded to sink, same as before. KindMeasurementEvent
// is a measurement an operator's default gate forwarded and is now
// reporting out of band; it is relayed one hop further upstream (toward
// the frontend) the same way relayHandlerFor relays a synchronous request,
// terminating when it reaches the frontend's own connection, where that
// plugin's Runtime decodes it into its Context.Measurements table.
func (c *Controller) onEventFor(index int, sink func(wire.LogEvent)) func(*wire.Frame) {
	return func(f *wire.Frame) {
		switch f.Kind {
		case wire.KindLogEvent:
			var ev wire.LogEvent
			if wire.DecodePayload(f.Payload, &ev) == nil {
				sink(ev)
			}
		case wire.KindMeasurementEvent:
			if index == 0 {
				return
			}
			_ = c.plugins[index-1].conn.Notify(wire.KindMeasurementEvent, f.Payload)
		}
	}
}

// relayHandlerFor answers a gatestream request a plugin issues on its own
// connection by forwarding it, unchanged, to the next plugin downstream and
// returning that plugin's answer. This is how the controller stands in for
// the direct plugin-to-plugin channel described in the package doc: each
// plugin's own Definition callback still runs (invoked by the controller's
// own call into that plugin's connection), it just reaches "downstream" by
// calling back into this same connection instead of a second socket.
//
// The relay writes the forwarded request with CallAsync and then waits for
// its answer. The connection serves a plugin's requests one at a time in
// arrival order, so relayed requests reach the next plugin in the order the
// plugin issued them; the plugin itself does not wait for one relay to
// finish before sending its next request.
func (c *Controller) relayHandlerFor(index int) wire.Handler {
	return func(f *wire.Frame) (*wire.Frame, error) {
		if !gatestreamKinds[f.Kind] {
			return nil, errkind.New(errkind.Protocol, c.plugins[index].cfg.Name, fmt.Sprintf("unexpected relay request kind %d", f.Kind))
		}
		if index+1 >= len(c.plugins) {
			return nil, errkind.New(errkind.Protocol, c.plugins[index].cfg.Name, "backend has no downstream plugin to relay to")
		}
		_, span := c.startCall(context.Background(), "relay", c.plugins[index+1].cfg.Name)
		defer span.End()
		return c.plugins[index+1].conn.CallAsync(f.Kind, f.Payload).Wait()
	}
}

// Spawn opens a listening endpoint per plugin and starts each plugin
// process, passing it that endpoint's address as its sole command-line
// argument.
func (c *Controller) Spawn(ctx context.Context) error {
	dir, err := os.MkdirTemp("", "qcsim-")
	if err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	c.sockDir = dir
	for i, pc := range c.cfg.Plugins {
		sockPath := filepath.Join(dir, fmt.Sprintf("plugin-%d.sock", i))
		lis, err := net.Listen("unix", sockPath)
		if err != nil {
			c.teardownListeners()
			return fmt.Errorf("listen for plugin %s: %w", pc.Name, err)
		}
		h, err := c.spawner.Spawn(ctx, pc, sockPath)
		if err != nil {
			_ = lis.Close()
			c.teardownListeners()
			return fmt.Errorf("spawn plugin %s: %w", pc.Name, err)
		}
		c.plugins = append(c.plugins, &pluginConn{
			cfg: pc, index: i, listener: lis, handle: h,
			machine: pluginrt.NewMachine(),
			streams: prng.NewPluginStreams(c.cfg.Seed, i),
		})
	}
	return nil
}

func (c *Controller) teardownListeners() {
	for _, p := range c.plugins {
		if p.listener != nil {
			_ = p.listener.Close()
		}
	}
}

// Accept waits for every spawned plugin to connect, bounded by its
// per-plugin accept timeout. Failure tears down every already-started
// plugin.
func (c *Controller) Accept(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range c.plugins {
		p := p
		g.Go(func() error { return c.acceptOne(gctx, p) })
	}
	if err := g.Wait(); err != nil {
		for _, p := range c.plugins {
			if p.conn != nil {
				_ = p.conn.Close()
			}
			if p.handle != nil {
				_ = p.handle.Kill()
			}
		}
		c.Teardown()
		return err
	}
	return nil
}

func (c *Controller) acceptOne(ctx context.Context, p *pluginConn) error {
	timeout := p.cfg.AcceptTimeout
	if timeout <= 0 {
		timeout = c.cfg.DefaultAccept
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	type result struct {
		conn net.Conn
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		nc, err := p.listener.Accept()
		resCh <- result{nc, err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			p.machine.Fail(res.err.Error())
			return errkind.Wrap(errkind.IO, p.cfg.Name, "accept connection", res.err)
		}
		t := wire.NewStreamTransport(res.conn)
		if err := wire.ExchangeHandshake(t); err != nil {
			p.machine.Fail(err.Error())
			return err
		}
		var handler wire.Handler
		if p.index+1 < len(c.plugins) {
			handler = c.relayHandlerFor(p.index)
		}
		p.conn = wire.NewDuplex(t, controllerIDBase, handler, c.onEventFor(p.index, c.logSinkFor(p.cfg.Name)))
		return p.machine.Advance(pluginrt.Chained)
	case <-time.After(timeout):
		_ = p.listener.Close()
		p.machine.Fail("accept timeout")
		return errkind.New(errkind.Timeout, p.cfg.Name, fmt.Sprintf("no connection within %s", timeout))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Initialize sends each plugin's init commands downstream-first (the
// backend is initialized before the frontend).
func (c *Controller) Initialize(ctx context.Context) error {
	for i := len(c.plugins) - 1; i >= 0; i-- {
		p := c.plugins[i]
		payload, err := wire.EncodePayload(wire.InitializeReq{SimSeed: c.cfg.Seed, PluginIndex: p.index})
		if err != nil {
			return err
		}
		_, span := c.startCall(ctx, "initialize", p.cfg.Name)
		_, err = p.conn.CallAsync(wire.KindInitializeReq, payload).Wait()
		span.End()
		if err != nil {
			p.machine.Fail(err.Error())
			c.Teardown()
			return err
		}
		if err := p.machine.Advance(pluginrt.Initialized); err != nil {
			return err
		}
	}
	for _, p := range c.plugins {
		if err := p.machine.Advance(pluginrt.Serving); err != nil {
			return err
		}
	}
	if c.bus != nil {
		c.bus.Publish(events.Event{Category: events.CategoryPipeline, Type: "initialized"})
	}
	return nil
}

// frontendConn returns the controller's connection to the frontend plugin,
// which is also the host channel.
func (c *Controller) frontendConn() *wire.Duplex {
	return c.plugins[0].conn
}

// Start schedules exactly one execution of the frontend's run callback.
// A second Start before Wait is an error.
func (c *Controller) Start(ctx context.Context, argCBOR []byte) error {
	c.mu.Lock()
	if c.runInFlight {
		c.mu.Unlock()
		return errkind.New(errkind.InvalidArgument, "frontend", "run already in flight; call Wait first")
	}
	c.runInFlight = true
	c.mu.Unlock()

	payload, err := wire.EncodePayload(wire.StartReq{ArgCBOR: argCBOR})
	if err != nil {
		return err
	}
	_, span := c.startCall(ctx, "start", c.plugins[0].cfg.Name)
	_, err = c.frontendConn().CallAsync(wire.KindStartReq, payload).Wait()
	span.End()
	c.log.Append(repro.CallRecord{Kind: repro.CallStart, ArgCBOR: argCBOR})
	return err
}

// Wait blocks until the most recently started run completes and returns
// its result.
func (c *Controller) Wait(ctx context.Context) ([]byte, error) {
	payload, err := wire.EncodePayload(wire.WaitReq{})
	if err != nil {
		return nil, err
	}
	_, span := c.startCall(ctx, "wait", c.plugins[0].cfg.Name)
	f, err := c.frontendConn().CallAsync(wire.KindWaitReq, payload).Wait()
	span.End()
	c.mu.Lock()
	c.runInFlight = false
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var resp wire.WaitResp
	if err := wire.DecodePayload(f.Payload, &resp); err != nil {
		return nil, err
	}
	c.log.Append(repro.CallRecord{Kind: repro.CallStart, RespCBOR: resp.DataCBOR})
	return resp.DataCBOR, nil
}

// Send enqueues a message for the frontend's run to receive.
func (c *Controller) Send(ctx context.Context, dataCBOR []byte) error {
	payload, err := wire.EncodePayload(wire.SendReq{DataCBOR: dataCBOR})
	if err != nil {
		return err
	}
	_, span := c.startCall(ctx, "send", c.plugins[0].cfg.Name)
	_, err = c.frontendConn().CallAsync(wire.KindSendReq, payload).Wait()
	span.End()
	c.log.Append(repro.CallRecord{Kind: repro.CallSend, ArgCBOR: dataCBOR})
	return err
}

// Recv returns the next message the frontend sent via the host channel.
func (c *Controller) Recv(ctx context.Context) ([]byte, error) {
	payload, err := wire.EncodePayload(wire.RecvReq{})
	if err != nil {
		return nil, err
	}
	_, span := c.startCall(ctx, "recv", c.plugins[0].cfg.Name)
	f, err := c.frontendConn().CallAsync(wire.KindRecvReq, payload).Wait()
	span.End()
	if err != nil {
		return nil, err
	}
	var resp wire.RecvResp
	if err := wire.DecodePayload(f.Payload, &resp); err != nil {
		return nil, err
	}
	return resp.DataCBOR, nil
}

// HostArb routes a command to the named plugin's host_arb callback.
func (c *Controller) HostArb(ctx context.Context, pluginName string, cmdCBOR []byte) ([]byte, error) {
	var target *pluginConn
	for _, p := range c.plugins {
		if p.cfg.Name == pluginName {
			target = p
			break
		}
	}
	if target == nil {
		return nil, errkind.New(errkind.InvalidArgument, pluginName, "unknown plugin name")
	}
	payload, err := wire.EncodePayload(wire.HostArbReq{Plugin: pluginName, CmdCBOR: cmdCBOR})
	if err != nil {
		return nil, err
	}
	_, span := c.startCall(ctx, "host_arb", pluginName)
	f, err := target.conn.CallAsync(wire.KindHostArbReq, payload).Wait()
	span.End()
	if err != nil {
		c.log.Append(repro.CallRecord{Kind: repro.CallHostArb, Plugin: pluginName, ArgCBOR: cmdCBOR})
		return nil, err
	}
	var resp wire.HostArbResp
	if err := wire.DecodePayload(f.Payload, &resp); err != nil {
		return nil, err
	}
	c.log.Append(repro.CallRecord{Kind: repro.CallHostArb, Plugin: pluginName, ArgCBOR: cmdCBOR, RespCBOR: resp.DataCBOR})
	return resp.DataCBOR, nil
}

// Yield allows buffered asynchronous traffic to drain.
func (c *Controller) Yield(ctx context.Context) error {
	payload, err := wire.EncodePayload(wire.YieldReq{})
	if err != nil {
		return err
	}
	_, span := c.startCall(ctx, "yield", c.plugins[0].cfg.Name)
	_, err = c.frontendConn().CallAsync(wire.KindYieldReq, payload).Wait()
	span.End()
	return err
}

// Drop runs each plugin's drop callback downstream-first, escalating to
// forcible termination if a plugin exceeds its shutdown timeout.
func (c *Controller) Drop(ctx context.Context) error {
	var firstErr error
	for i := len(c.plugins) - 1; i >= 0; i-- {
		p := c.plugins[i]
		if p.conn == nil {
			continue
		}
		if err := p.machine.Advance(pluginrt.Dropping); err != nil {
			continue
		}
		timeout := p.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = c.cfg.DefaultShutdown
		}
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		done := make(chan error, 1)
		go func() {
			_, span := c.startCall(ctx, "drop", p.cfg.Name)
			defer span.End()
			payload, _ := wire.EncodePayload(wire.DropReq{})
			_, err := p.conn.CallAsync(wire.KindDropReq, payload).Wait()
			done <- err
		}()
		select {
		case err := <-done:
			if err != nil && firstErr == nil {
				firstErr = err
			}
		case <-time.After(timeout):
			_ = p.handle.Kill()
			err := errkind.New(errkind.Timeout, p.cfg.Name, fmt.Sprintf("drop exceeded shutdown timeout %s", timeout))
			if firstErr == nil {
				firstErr = err
			}
		}
		_ = p.machine.Advance(pluginrt.Done)
		p.conn.Close()
	}
	c.Teardown()
	return firstErr
}

// Teardown closes every listener and releases the socket directory.
func (c *Controller) Teardown() {
	c.teardownListeners()
	if c.sockDir != "" {
		_ = os.RemoveAll(c.sockDir)
	}
	c.log.Close()
}

// Record returns the in-progress reproduction record.
func (c *Controller) Record() *repro.Record { return c.record }

// PluginState is a point-in-time view of one pipeline stage's identity and
// protocol state, for status reporting.
type PluginState struct {
	Name  string
	Type  string
	State string
}

// PluginStates returns the current protocol state of every configured
// plugin, in pipeline order.
func (c *Controller) PluginStates() []PluginState {
	out := make([]PluginState, len(c.plugins))
	for i, p := range c.plugins {
		st := "unknown"
		if p.machine != nil {
			st = p.machine.State().String()
		}
		out[i] = PluginState{Name: p.cfg.Name, Type: p.cfg.Type, State: st}
	}
	return out
}
