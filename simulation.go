// Package qcsim is the host-facing facade: it composes the controller,
// config, telemetry, and reproduction subsystems behind the small surface
// an embedding host program actually needs (Start/Wait/Send/Recv/HostArb),
// the way the ariadne engine package composes its pipeline, rate limiter,
// and telemetry behind Engine.
package qcsim

import (
	"context"
	"time"

	"github.com/qcsim/qcsim/arbdata"
	"github.com/qcsim/qcsim/config"
	"github.com/qcsim/qcsim/internal/controller"
	"github.com/qcsim/qcsim/internal/events"
	"github.com/qcsim/qcsim/repro"
	"github.com/qcsim/qcsim/telemetry/logging"
	"github.com/qcsim/qcsim/telemetry/metrics"
)

// Snapshot is a reduced, stable view of one simulation's state for
// external observers (a status endpoint, a CLI --status flag).
type Snapshot struct {
	StartedAt time.Time         `json:"started_at"`
	Uptime    time.Duration     `json:"uptime"`
	Plugins   []PluginSnapshot  `json:"plugins"`
	Events    events.BusStats   `json:"events"`
}

// PluginSnapshot describes one pipeline stage's identity and current
// protocol state.
type PluginSnapshot struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	State string `json:"state"`
}

// Options configures a Simulation beyond what SimulationConfig carries:
// the plugin spawning mechanism and the telemetry sinks it should use.
type Options struct {
	Spawner        controller.Spawner
	Logger         *logging.Logger
	MetricsProvider metrics.Provider
}

// Simulation runs one configured pipeline end to end: spawn, accept,
// initialize, zero or more Start/Wait cycles, drop.
type Simulation struct {
	ctrl      *controller.Controller
	bus       events.Bus
	startedAt time.Time
}

// New builds a Simulation for cfg. A nil Spawner defaults to
// controller.ProcessSpawner{}.
func New(cfg config.SimulationConfig, opts Options) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	spawner := opts.Spawner
	if spawner == nil {
		spawner = controller.ProcessSpawner{}
	}
	bus := events.NewBus(opts.MetricsProvider)
	ctrl := controller.New(cfg, spawner, opts.Logger, bus)
	return &Simulation{ctrl: ctrl, bus: bus}, nil
}

// Open spawns every configured plugin, waits for each to connect, and runs
// the initialize phase. The pipeline is ready for Start once Open returns.
func (s *Simulation) Open(ctx context.Context) error {
	s.startedAt = time.Now()
	if err := s.ctrl.Spawn(ctx); err != nil {
		return err
	}
	if err := s.ctrl.Accept(ctx); err != nil {
		return err
	}
	return s.ctrl.Initialize(ctx)
}

// Start schedules one execution of the frontend's run callback with arg.
func (s *Simulation) Start(ctx context.Context, arg *arbdata.ArbData) error {
	payload, err := arg.MarshalCBOR()
	if err != nil {
		return err
	}
	return s.ctrl.Start(ctx, payload)
}

// Wait blocks for the most recently started run to finish and returns its
// result.
func (s *Simulation) Wait(ctx context.Context) (*arbdata.ArbData, error) {
	payload, err := s.ctrl.Wait(ctx)
	if err != nil {
		return nil, err
	}
	out := arbdata.New()
	if err := out.UnmarshalCBOR(payload); err != nil {
		return nil, err
	}
	return out, nil
}

// Send enqueues data for the frontend's run to receive via its
// RunningState.Recv.
func (s *Simulation) Send(ctx context.Context, data *arbdata.ArbData) error {
	payload, err := data.MarshalCBOR()
	if err != nil {
		return err
	}
	return s.ctrl.Send(ctx, payload)
}

// Recv returns the next message the frontend's run sent via
// RunningState.Send.
func (s *Simulation) Recv(ctx context.Context) (*arbdata.ArbData, error) {
	payload, err := s.ctrl.Recv(ctx)
	if err != nil {
		return nil, err
	}
	out := arbdata.New()
	if err := out.UnmarshalCBOR(payload); err != nil {
		return nil, err
	}
	return out, nil
}

// HostArb issues an arbitrary command to the named plugin's host_arb
// callback.
func (s *Simulation) HostArb(ctx context.Context, pluginName string, cmd *arbdata.ArbCmd) (*arbdata.ArbData, error) {
	payload, err := cmd.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	resp, err := s.ctrl.HostArb(ctx, pluginName, payload)
	if err != nil {
		return nil, err
	}
	out := arbdata.New()
	if err := out.UnmarshalCBOR(resp); err != nil {
		return nil, err
	}
	return out, nil
}

// Yield lets any buffered asynchronous traffic drain before the host
// issues a synchronous call that depends on it having settled.
func (s *Simulation) Yield(ctx context.Context) error {
	return s.ctrl.Yield(ctx)
}

// Close runs the drop phase across every plugin and releases resources.
func (s *Simulation) Close(ctx context.Context) error {
	return s.ctrl.Drop(ctx)
}

// Record returns the in-progress reproduction record for this run.
func (s *Simulation) Record() *repro.Record {
	return s.ctrl.Record()
}

// EventBus exposes the simulation's event stream for external observers.
func (s *Simulation) EventBus() events.Bus { return s.bus }

// Snapshot returns a point-in-time view of the simulation for status
// reporting.
func (s *Simulation) Snapshot() Snapshot {
	states := s.ctrl.PluginStates()
	plugins := make([]PluginSnapshot, len(states))
	for i, st := range states {
		plugins[i] = PluginSnapshot{Name: st.Name, Kind: st.Type, State: st.State}
	}
	return Snapshot{
		StartedAt: s.startedAt,
		Uptime:    time.Since(s.startedAt),
		Plugins:   plugins,
		Events:    s.bus.Stats(),
	}
}
