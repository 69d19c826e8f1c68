package pluginrt

import (
	"context"
	"fmt"
	"sync"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/qcsim/qcsim/arbdata"
	"github.com/qcsim/qcsim/handle"
	"github.com/qcsim/qcsim/internal/errkind"
	"github.com/qcsim/qcsim/internal/wire"
	"github.com/qcsim/qcsim/plugin"
	"github.com/qcsim/qcsim/prng"
	"github.com/qcsim/qcsim/qubit"
	"github.com/qcsim/qcsim/quantum"
	"github.com/qcsim/qcsim/telemetry/tracing"
)

// tracerOnce builds this process's span provider the first time a plugin
// runtime needs one; every plugin runs in its own process, so each gets
// its own in-process provider rather than sharing the host's.
var (
	tracerOnce     sync.Once
	tracerProvider *tracing.Provider
)

func runtimeTracer() oteltrace.Tracer {
	tracerOnce.Do(func() { tracerProvider = tracing.NewProvider() })
	return tracerProvider.Tracer()
}

// pluginIDBase is every plugin runtime's half of the shared request-id
// space on its connection to the controller (see wire.Duplex); the
// controller always calls in on the high half (controller.controllerIDBase),
// leaving this half free for a plugin's own downstream-relay and chain
// calls without either side's ids colliding.
const pluginIDBase = uint64(0)

// downstream implements plugin.Downstream by relaying each call through
// the plugin's single connection to the controller, which forwards it to
// the next plugin in the pipeline and returns its answer. See
// internal/controller's package doc for why this stands in for a direct
// plugin-to-plugin socket.
//
// Allocate/Free/Gate/Advance are asynchronously pipelined: each sends its
// request with Duplex.CallAsync and does not wait behind any call issued
// before it. Free and Advance need nothing back from their own request to
// answer their caller, so they never wait for it at all — a failure
// becomes a pendingErr surfaced at the next synchronous boundary
// (UpstreamArb). Gate's default caller (an operator with no override)
// doesn't want the answer either; it calls GateAsync for the same
// fire-and-forget treatment, and a real measurement arrives later via
// onMeasurement. Allocate is the one call that cannot be deferred: a
// QubitRef is minted by the downstream peer, not by this connection, so
// nothing past Allocate can proceed without it — it still issues its
// request with CallAsync (so it is never blocked behind an earlier
// Free/Advance/Gate that hasn't been acknowledged yet), but waits on its
// own response immediately.
type downstream struct {
	conn *wire.Duplex
	name string

	mu         sync.Mutex
	wg         sync.WaitGroup
	pendingErr error

	// onMeasurement, when set, receives a downstream peer's measurements
	// once GateAsync's request is finally answered.
	onMeasurement func(*quantum.MeasurementSet)
}

// fail records err as the channel's pending error if one is not already
// set; the first asynchronous failure wins and later ones are discarded
// until flush clears it.
func (d *downstream) fail(err error) {
	d.mu.Lock()
	if d.pendingErr == nil {
		d.pendingErr = errkind.Wrap(errkind.Downstream, d.name, "asynchronous gatestream request", err)
	}
	d.mu.Unlock()
}

// flush blocks until every asynchronous request issued so far on this
// channel has been acknowledged, then returns (and clears) any deferred
// failure. Call it at a synchronous boundary before trusting the
// channel's state.
func (d *downstream) flush() error {
	d.wg.Wait()
	d.mu.Lock()
	err := d.pendingErr
	d.pendingErr = nil
	d.mu.Unlock()
	return err
}

func (d *downstream) Allocate(count uint32, cmds *arbdata.ArbCmdQueue) (*qubit.Set, error) {
	_, span := tracing.StartCall(context.Background(), runtimeTracer(), "allocate", d.name)
	defer span.End()
	cmdsCBOR, err := cmds.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	payload, err := wire.EncodePayload(wire.AllocateReq{Count: count, InitCmdCBOR: cmdsCBOR})
	if err != nil {
		return nil, err
	}
	f, err := d.conn.CallAsync(wire.KindAllocateReq, payload).Wait()
	if err != nil {
		return nil, err
	}
	var resp wire.AllocateResp
	if err := wire.DecodePayload(f.Payload, &resp); err != nil {
		return nil, err
	}
	refs := make([]qubit.Ref, len(resp.Qubits))
	for i, q := range resp.Qubits {
		refs[i] = qubit.Ref(q)
	}
	return qubit.NewSetFrom(refs...), nil
}

func (d *downstream) Free(qubits *qubit.Set) error {
	_, span := tracing.StartCall(context.Background(), runtimeTracer(), "free", d.name)
	defer span.End()
	refs := qubits.Refs()
	ids := make([]uint64, len(refs))
	for i, r := range refs {
		ids[i] = uint64(r)
	}
	payload, err := wire.EncodePayload(wire.FreeReq{Qubits: ids})
	if err != nil {
		return err
	}
	pending := d.conn.CallAsync(wire.KindFreeReq, payload)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := pending.Wait(); err != nil {
			d.fail(err)
		}
	}()
	return nil
}

// Gate sends the gate request and waits for the downstream peer's real
// answer. Use this when the caller needs the measured values now (a
// frontend branching on a result, or an operator overriding the default);
// GateAsync is the non-waiting alternative the default operator uses.
func (d *downstream) Gate(gate *quantum.Gate) (*quantum.MeasurementSet, error) {
	_, span := tracing.StartCall(context.Background(), runtimeTracer(), "gate", d.name)
	defer span.End()
	gateCBOR, err := gate.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	payload, err := wire.EncodePayload(wire.GateReq{GateCBOR: gateCBOR})
	if err != nil {
		return nil, err
	}
	f, err := d.conn.CallAsync(wire.KindGateReq, payload).Wait()
	if err != nil {
		return nil, err
	}
	var resp wire.GateResp
	if err := wire.DecodePayload(f.Payload, &resp); err != nil {
		return nil, err
	}
	out := quantum.NewMeasurementSet()
	if len(resp.MeasurementsCBOR) > 0 {
		if err := out.UnmarshalCBOR(resp.MeasurementsCBOR); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GateAsync forwards gate downstream and returns as soon as the request
// is written to the wire. Whatever the peer eventually answers is decoded
// in the background and handed to onMeasurement; a failure becomes this
// channel's pending error instead of an immediate return.
func (d *downstream) GateAsync(gate *quantum.Gate) error {
	_, span := tracing.StartCall(context.Background(), runtimeTracer(), "gate_async", d.name)
	defer span.End()
	gateCBOR, err := gate.MarshalCBOR()
	if err != nil {
		return err
	}
	payload, err := wire.EncodePayload(wire.GateReq{GateCBOR: gateCBOR})
	if err != nil {
		return err
	}
	pending := d.conn.CallAsync(wire.KindGateReq, payload)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		f, err := pending.Wait()
		if err != nil {
			d.fail(err)
			return
		}
		var resp wire.GateResp
		if err := wire.DecodePayload(f.Payload, &resp); err != nil {
			d.fail(err)
			return
		}
		if len(resp.MeasurementsCBOR) == 0 {
			return
		}
		measured := quantum.NewMeasurementSet()
		if err := measured.UnmarshalCBOR(resp.MeasurementsCBOR); err != nil {
			d.fail(err)
			return
		}
		if d.onMeasurement != nil {
			d.onMeasurement(measured)
		}
	}()
	return nil
}

func (d *downstream) Advance(cycles uint64) (uint64, error) {
	_, span := tracing.StartCall(context.Background(), runtimeTracer(), "advance", d.name)
	defer span.End()
	payload, err := wire.EncodePayload(wire.AdvanceReq{Cycles: cycles})
	if err != nil {
		return 0, err
	}
	pending := d.conn.CallAsync(wire.KindAdvanceReq, payload)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		f, err := pending.Wait()
		if err != nil {
			d.fail(err)
			return
		}
		var resp wire.AdvanceResp
		if err := wire.DecodePayload(f.Payload, &resp); err != nil {
			d.fail(err)
			return
		}
		if resp.NewCycleCount != cycles {
			d.fail(errkind.New(errkind.Protocol, d.name, fmt.Sprintf("downstream reported %d cycles for a requested advance of %d", resp.NewCycleCount, cycles)))
		}
	}()
	// optimistic: advance practically never clamps: the one legitimate
	// case (mismatch) surfaces as a deferred error at the next UpstreamArb.
	return cycles, nil
}

// UpstreamArb is the channel's synchronous boundary: spec.md's protocol
// requires it to flush every asynchronous request issued so far to a
// known state before it sends its own request, and to surface any
// deferred failure from that flush rather than silently proceeding.
func (d *downstream) UpstreamArb(cmd *arbdata.ArbCmd) (*arbdata.ArbData, error) {
	_, span := tracing.StartCall(context.Background(), runtimeTracer(), "upstream_arb", d.name)
	defer span.End()
	if err := d.flush(); err != nil {
		return nil, err
	}
	cmdCBOR, err := cmd.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	payload, err := wire.EncodePayload(wire.UpstreamArbReq{CmdCBOR: cmdCBOR})
	if err != nil {
		return nil, err
	}
	f, err := d.conn.CallAsync(wire.KindUpstreamArbReq, payload).Wait()
	if err != nil {
		return nil, err
	}
	var resp wire.UpstreamArbResp
	if err := wire.DecodePayload(f.Payload, &resp); err != nil {
		return nil, err
	}
	data := arbdata.New()
	if err := data.UnmarshalCBOR(resp.DataCBOR); err != nil {
		return nil, err
	}
	return data, nil
}

// runningState backs a frontend's Run callback: Send pushes a message the
// host will read via Controller.Recv, Recv blocks for the next message the
// host pushed via Controller.Send.
type runningState struct {
	inbox  chan *arbdata.ArbData
	outbox chan *arbdata.ArbData
}

func newRunningState() *runningState {
	return &runningState{inbox: make(chan *arbdata.ArbData, 16), outbox: make(chan *arbdata.ArbData, 16)}
}

func (s *runningState) Send(data *arbdata.ArbData) { s.outbox <- data }

func (s *runningState) Recv() (*arbdata.ArbData, error) {
	d, ok := <-s.inbox
	if !ok {
		return nil, errkind.New(errkind.Deadlock, "", "host channel closed")
	}
	return d, nil
}

type runOutcome struct {
	data *arbdata.ArbData
	err  error
}

// Runtime is the plugin-side half of the protocol: it owns the connection
// to the controller, the plugin's Definition and PRNG streams, and
// dispatches every inbound request to the matching callback, driving the
// local state Machine through the same diagram the controller enforces.
type Runtime struct {
	def        *plugin.Definition
	machine    *Machine
	ctx        *plugin.Context
	conn       *wire.Duplex
	downstream *downstream

	mu      sync.Mutex
	running bool
	state   *runningState
	result  chan runOutcome
	onDone  chan struct{}
}

// NewRuntime builds a Runtime for def, bound to t (the plugin's connection
// to the controller, already past the version handshake). The plugin's PRNG
// streams are derived once InitializeReq delivers the simulation seed and
// pipeline index.
func NewRuntime(def *plugin.Definition, t wire.Transport) *Runtime {
	rt := &Runtime{
		def:     def,
		machine: NewMachine(),
		ctx: &plugin.Context{
			Name:         def.Name,
			Handles:      handle.New(),
			Measurements: plugin.NewMeasurementTable(),
		},
	}
	ds := &downstream{name: def.Name, onMeasurement: rt.deliverMeasurement}
	rt.downstream = ds
	rt.conn = wire.NewDuplex(t, pluginIDBase, rt.dispatch, rt.onEvent)
	ds.conn = rt.conn
	rt.ctx.Downstream = ds
	return rt
}

// onEvent handles unsolicited frames arriving on this plugin's connection.
// A KindMeasurementEvent is a measurement relayed from further downstream
// (an operator's default Gate forwarded and is now reporting the answer);
// it lands in Context.Measurements for a Run callback blocked in Await to
// pick up, and (for an operator) is itself run through ModifyMeasurement
// and relayed on upstream.
func (rt *Runtime) onEvent(f *wire.Frame) {
	if f.Kind != wire.KindMeasurementEvent {
		return
	}
	var ev wire.MeasurementEvent
	if err := wire.DecodePayload(f.Payload, &ev); err != nil {
		return
	}
	measured := quantum.NewMeasurementSet()
	if len(ev.MeasurementsCBOR) > 0 {
		if err := measured.UnmarshalCBOR(ev.MeasurementsCBOR); err != nil {
			return
		}
	}
	rt.deliverMeasurement(measured)
}

// deliverMeasurement is the landing spot for a measurement computed
// out-of-band of the gate request that triggered it: either this plugin's
// own downstream answering a GateAsync call, or one relayed in from
// further downstream via onEvent. An operator runs it through
// ModifyMeasurement and relays the result on upstream via Notify; any
// other plugin kind just makes it available to its own Run callback.
func (rt *Runtime) deliverMeasurement(measured *quantum.MeasurementSet) {
	if rt.def.Kind != plugin.Operator {
		for _, ref := range measured.Qubits() {
			m, _ := measured.Get(ref)
			rt.ctx.Measurements.Put(m)
		}
		return
	}
	out := quantum.NewMeasurementSet()
	for _, ref := range measured.Qubits() {
		m, _ := measured.Get(ref)
		modified, err := rt.def.ModifyMeasurement(rt.ctx, m)
		if err != nil {
			rt.downstream.fail(errkind.Wrap(errkind.UserCallback, rt.def.Name, "modify_measurement callback", err))
			return
		}
		out.Put(modified)
	}
	measCBOR, err := out.MarshalCBOR()
	if err != nil {
		rt.downstream.fail(err)
		return
	}
	payload, err := wire.EncodePayload(wire.MeasurementEvent{MeasurementsCBOR: measCBOR})
	if err != nil {
		rt.downstream.fail(err)
		return
	}
	if err := rt.conn.Notify(wire.KindMeasurementEvent, payload); err != nil {
		rt.downstream.fail(err)
	}
}

// Serve blocks until a KindDropReq completes this plugin's run, or the
// connection fails.
func (rt *Runtime) Serve() error {
	if err := rt.machine.Advance(Chained); err != nil {
		return err
	}
	<-rt.doneSignal()
	if rt.machine.State() == Failed {
		return errkind.New(errkind.UserCallback, rt.def.Name, "drop failed: "+rt.machine.LastError())
	}
	return nil
}

func (rt *Runtime) doneSignal() <-chan struct{} {
	ch := make(chan struct{})
	rt.mu.Lock()
	rt.onDone = ch
	rt.mu.Unlock()
	return ch
}

func (rt *Runtime) dispatch(f *wire.Frame) (*wire.Frame, error) {
	_, span := tracing.StartCall(context.Background(), runtimeTracer(), fmt.Sprintf("dispatch_kind_%d", f.Kind), rt.def.Name)
	defer span.End()
	switch f.Kind {
	case wire.KindInitializeReq:
		return rt.handleInitialize(f)
	case wire.KindDropReq:
		return rt.handleDrop(f)
	case wire.KindAllocateReq:
		return rt.handleAllocate(f)
	case wire.KindFreeReq:
		return rt.handleFree(f)
	case wire.KindGateReq:
		return rt.handleGate(f)
	case wire.KindAdvanceReq:
		return rt.handleAdvance(f)
	case wire.KindUpstreamArbReq:
		return rt.handleUpstreamArb(f)
	case wire.KindHostArbReq:
		return rt.handleHostArb(f)
	case wire.KindStartReq:
		return rt.handleStart(f)
	case wire.KindWaitReq:
		return rt.handleWait(f)
	case wire.KindSendReq:
		return rt.handleSend(f)
	case wire.KindRecvReq:
		return rt.handleRecv(f)
	case wire.KindYieldReq:
		return rt.handleYield(f)
	default:
		return nil, errkind.New(errkind.Protocol, rt.def.Name, fmt.Sprintf("unexpected request kind %d", f.Kind))
	}
}

func (rt *Runtime) handleInitialize(f *wire.Frame) (*wire.Frame, error) {
	var req wire.InitializeReq
	if err := wire.DecodePayload(f.Payload, &req); err != nil {
		return nil, err
	}
	rt.ctx.Streams = prng.NewPluginStreams(req.SimSeed, req.PluginIndex)
	if err := rt.machine.Advance(Initialized); err != nil {
		return nil, errkind.Wrap(errkind.Protocol, rt.def.Name, "initialize", err)
	}
	if err := rt.def.Initialize(rt.ctx, rt.def.InitCmds); err != nil {
		rt.machine.Fail(err.Error())
		return nil, errkind.Wrap(errkind.UserCallback, rt.def.Name, "initialize callback", err)
	}
	if err := rt.machine.Advance(Serving); err != nil {
		return nil, err
	}
	payload, err := wire.EncodePayload(wire.InitializeResp{})
	if err != nil {
		return nil, err
	}
	return &wire.Frame{Kind: wire.KindInitializeResp, Payload: payload}, nil
}

func (rt *Runtime) handleDrop(f *wire.Frame) (*wire.Frame, error) {
	if err := rt.machine.Advance(Dropping); err != nil {
		return nil, errkind.Wrap(errkind.Protocol, rt.def.Name, "drop", err)
	}
	cbErr := rt.def.Drop(rt.ctx)
	if cbErr != nil {
		rt.machine.Fail(cbErr.Error())
	} else {
		_ = rt.machine.Advance(Done)
	}
	payload, err := wire.EncodePayload(wire.DropResp{})
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	if rt.onDone != nil {
		close(rt.onDone)
		rt.onDone = nil
	}
	rt.mu.Unlock()
	if cbErr != nil {
		return nil, errkind.Wrap(errkind.UserCallback, rt.def.Name, "drop callback", cbErr)
	}
	return &wire.Frame{Kind: wire.KindDropResp, Payload: payload}, nil
}

func (rt *Runtime) handleAllocate(f *wire.Frame) (*wire.Frame, error) {
	var req wire.AllocateReq
	if err := wire.DecodePayload(f.Payload, &req); err != nil {
		return nil, err
	}
	cmds := arbdata.NewQueue()
	if len(req.InitCmdCBOR) > 0 {
		if err := cmds.UnmarshalCBOR(req.InitCmdCBOR); err != nil {
			return nil, err
		}
	}
	set, err := rt.def.Allocate(rt.ctx, req.Count, cmds)
	if err != nil {
		return nil, errkind.Wrap(errkind.UserCallback, rt.def.Name, "allocate callback", err)
	}
	refs := set.Refs()
	ids := make([]uint64, len(refs))
	for i, r := range refs {
		ids[i] = uint64(r)
	}
	payload, err := wire.EncodePayload(wire.AllocateResp{Qubits: ids})
	if err != nil {
		return nil, err
	}
	return &wire.Frame{Kind: wire.KindAllocateResp, Payload: payload}, nil
}

func (rt *Runtime) handleFree(f *wire.Frame) (*wire.Frame, error) {
	var req wire.FreeReq
	if err := wire.DecodePayload(f.Payload, &req); err != nil {
		return nil, err
	}
	refs := make([]qubit.Ref, len(req.Qubits))
	for i, q := range req.Qubits {
		refs[i] = qubit.Ref(q)
	}
	if err := rt.def.Free(rt.ctx, qubit.NewSetFrom(refs...)); err != nil {
		return nil, errkind.Wrap(errkind.UserCallback, rt.def.Name, "free callback", err)
	}
	payload, err := wire.EncodePayload(wire.FreeResp{})
	if err != nil {
		return nil, err
	}
	return &wire.Frame{Kind: wire.KindFreeResp, Payload: payload}, nil
}

func (rt *Runtime) handleGate(f *wire.Frame) (*wire.Frame, error) {
	var req wire.GateReq
	if err := wire.DecodePayload(f.Payload, &req); err != nil {
		return nil, err
	}
	gate := &quantum.Gate{}
	if err := gate.UnmarshalCBOR(req.GateCBOR); err != nil {
		return nil, err
	}
	measured, err := rt.def.Gate(rt.ctx, gate)
	if err != nil {
		return nil, errkind.Wrap(errkind.UserCallback, rt.def.Name, "gate callback", err)
	}
	if measured == nil {
		measured = quantum.NewMeasurementSet()
	}
	measCBOR, err := measured.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	payload, err := wire.EncodePayload(wire.GateResp{MeasurementsCBOR: measCBOR})
	if err != nil {
		return nil, err
	}
	return &wire.Frame{Kind: wire.KindGateResp, Payload: payload}, nil
}

func (rt *Runtime) handleAdvance(f *wire.Frame) (*wire.Frame, error) {
	var req wire.AdvanceReq
	if err := wire.DecodePayload(f.Payload, &req); err != nil {
		return nil, err
	}
	newCycles, err := rt.def.Advance(rt.ctx, req.Cycles)
	if err != nil {
		return nil, errkind.Wrap(errkind.UserCallback, rt.def.Name, "advance callback", err)
	}
	payload, err := wire.EncodePayload(wire.AdvanceResp{NewCycleCount: newCycles})
	if err != nil {
		return nil, err
	}
	return &wire.Frame{Kind: wire.KindAdvanceResp, Payload: payload}, nil
}

func (rt *Runtime) handleUpstreamArb(f *wire.Frame) (*wire.Frame, error) {
	var req wire.UpstreamArbReq
	if err := wire.DecodePayload(f.Payload, &req); err != nil {
		return nil, err
	}
	cmd := &arbdata.ArbCmd{}
	if err := cmd.UnmarshalCBOR(req.CmdCBOR); err != nil {
		return nil, err
	}
	data, err := rt.def.UpstreamArb(rt.ctx, cmd)
	if err != nil {
		return nil, errkind.Wrap(errkind.UserCallback, rt.def.Name, "upstream_arb callback", err)
	}
	dataCBOR, err := data.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	payload, err := wire.EncodePayload(wire.UpstreamArbResp{DataCBOR: dataCBOR})
	if err != nil {
		return nil, err
	}
	return &wire.Frame{Kind: wire.KindUpstreamArbResp, Payload: payload}, nil
}

func (rt *Runtime) handleHostArb(f *wire.Frame) (*wire.Frame, error) {
	var req wire.HostArbReq
	if err := wire.DecodePayload(f.Payload, &req); err != nil {
		return nil, err
	}
	// HostArb is a synchronous boundary, same as Wait and UpstreamArb.
	if err := rt.downstream.flush(); err != nil {
		return nil, err
	}
	cmd := &arbdata.ArbCmd{}
	if err := cmd.UnmarshalCBOR(req.CmdCBOR); err != nil {
		return nil, err
	}
	data, err := rt.def.HostArb(rt.ctx, cmd)
	if err != nil {
		return nil, errkind.Wrap(errkind.UserCallback, rt.def.Name, "host_arb callback", err)
	}
	dataCBOR, err := data.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	payload, err := wire.EncodePayload(wire.HostArbResp{DataCBOR: dataCBOR})
	if err != nil {
		return nil, err
	}
	return &wire.Frame{Kind: wire.KindHostArbResp, Payload: payload}, nil
}

func (rt *Runtime) handleStart(f *wire.Frame) (*wire.Frame, error) {
	var req wire.StartReq
	if err := wire.DecodePayload(f.Payload, &req); err != nil {
		return nil, err
	}
	arg := arbdata.New()
	if len(req.ArgCBOR) > 0 {
		if err := arg.UnmarshalCBOR(req.ArgCBOR); err != nil {
			return nil, err
		}
	}
	rt.mu.Lock()
	if rt.running {
		rt.mu.Unlock()
		return nil, errkind.New(errkind.InvalidArgument, rt.def.Name, "run already in flight")
	}
	rt.running = true
	state := newRunningState()
	rt.state = state
	rt.result = make(chan runOutcome, 1)
	result := rt.result
	rt.mu.Unlock()

	go func() {
		data, err := rt.def.Run(rt.ctx, state, arg)
		close(state.outbox)
		result <- runOutcome{data: data, err: err}
	}()

	payload, err := wire.EncodePayload(wire.StartResp{})
	if err != nil {
		return nil, err
	}
	return &wire.Frame{Kind: wire.KindStartResp, Payload: payload}, nil
}

func (rt *Runtime) handleWait(f *wire.Frame) (*wire.Frame, error) {
	rt.mu.Lock()
	result := rt.result
	rt.mu.Unlock()
	if result == nil {
		return nil, errkind.New(errkind.InvalidArgument, rt.def.Name, "wait with no run in flight")
	}
	outcome := <-result
	rt.mu.Lock()
	rt.running = false
	rt.result = nil
	rt.mu.Unlock()
	if outcome.err != nil {
		return nil, errkind.Wrap(errkind.UserCallback, rt.def.Name, "run callback", outcome.err)
	}
	// Wait is a synchronous boundary: surface any gatestream call this
	// plugin fired and forgot during the run rather than report success
	// while one quietly failed.
	if err := rt.downstream.flush(); err != nil {
		return nil, err
	}
	dataCBOR, err := outcome.data.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	payload, err := wire.EncodePayload(wire.WaitResp{DataCBOR: dataCBOR})
	if err != nil {
		return nil, err
	}
	return &wire.Frame{Kind: wire.KindWaitResp, Payload: payload}, nil
}

func (rt *Runtime) handleSend(f *wire.Frame) (*wire.Frame, error) {
	var req wire.SendReq
	if err := wire.DecodePayload(f.Payload, &req); err != nil {
		return nil, err
	}
	data := arbdata.New()
	if err := data.UnmarshalCBOR(req.DataCBOR); err != nil {
		return nil, err
	}
	rt.mu.Lock()
	state := rt.state
	rt.mu.Unlock()
	if state == nil {
		return nil, errkind.New(errkind.InvalidArgument, rt.def.Name, "send with no run in flight")
	}
	state.inbox <- data
	payload, err := wire.EncodePayload(wire.SendResp{})
	if err != nil {
		return nil, err
	}
	return &wire.Frame{Kind: wire.KindSendResp, Payload: payload}, nil
}

func (rt *Runtime) handleRecv(f *wire.Frame) (*wire.Frame, error) {
	rt.mu.Lock()
	state := rt.state
	rt.mu.Unlock()
	if state == nil {
		return nil, errkind.New(errkind.Deadlock, rt.def.Name, "recv with no run in flight")
	}
	data, ok := <-state.outbox
	if !ok {
		return nil, errkind.New(errkind.Deadlock, rt.def.Name, "run returned with no pending message")
	}
	dataCBOR, err := data.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	payload, err := wire.EncodePayload(wire.RecvResp{DataCBOR: dataCBOR})
	if err != nil {
		return nil, err
	}
	return &wire.Frame{Kind: wire.KindRecvResp, Payload: payload}, nil
}

func (rt *Runtime) handleYield(f *wire.Frame) (*wire.Frame, error) {
	payload, err := wire.EncodePayload(wire.YieldResp{})
	if err != nil {
		return nil, err
	}
	return &wire.Frame{Kind: wire.KindYieldResp, Payload: payload}, nil
}
