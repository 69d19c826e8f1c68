// Package plugin implements the plugin definition builder and callback
// table described for plugin authors: a ten-slot record of user-supplied
// callbacks, validated against the plugin's kind at build time, with the
// kind-appropriate defaults applied for every slot the author leaves
// unset.
package plugin

import (
	"sync"
	"time"

	"github.com/qcsim/qcsim/arbdata"
	"github.com/qcsim/qcsim/handle"
	"github.com/qcsim/qcsim/internal/errkind"
	"github.com/qcsim/qcsim/prng"
	"github.com/qcsim/qcsim/qubit"
	"github.com/qcsim/qcsim/quantum"
)

// Kind is a plugin's role in the pipeline.
type Kind int

const (
	Frontend Kind = iota
	Operator
	Backend
)

func (k Kind) String() string {
	switch k {
	case Frontend:
		return "frontend"
	case Operator:
		return "operator"
	case Backend:
		return "backend"
	default:
		return "unknown"
	}
}

// Downstream is the interface a callback uses to issue requests toward
// the backend. The plugin runtime supplies the concrete implementation;
// default callbacks (e.g. an operator forwarding allocate verbatim) use it
// directly.
type Downstream interface {
	Allocate(count uint32, cmds *arbdata.ArbCmdQueue) (*qubit.Set, error)
	Free(qubits *qubit.Set) error
	Gate(gate *quantum.Gate) (*quantum.MeasurementSet, error)
	// GateAsync forwards gate downstream without waiting for the answer:
	// it returns as soon as the request is on the wire. Whatever the
	// downstream peer eventually reports is delivered later, through the
	// issuing plugin's modify_measurement callback (an operator, which then
	// relays the result upstream) or its Context.Measurements (any other
	// kind), not through this call's (nonexistent) return value.
	GateAsync(gate *quantum.Gate) error
	Advance(cycles uint64) (uint64, error)
	UpstreamArb(cmd *arbdata.ArbCmd) (*arbdata.ArbData, error)
}

// Context is handed to every callback invocation: access to the
// downstream peer, this plugin's two PRNG streams, and its name for
// logging/error context.
type Context struct {
	Name       string
	Downstream Downstream
	Streams    *prng.PluginStreams
	// Handles is this plugin's own handle table, offered to callbacks that
	// need to stash a value (an ArbData built mid-callback, a Gate under
	// construction) behind a stable index rather than a Go reference —
	// the same indirection the protocol uses across its own boundary.
	Handles *handle.Registry
	// Measurements holds the latest measurement delivered out of band for
	// each qubit, such as one a default-forwarding operator answered empty
	// and only resolved later. Measurements a Gate call returns directly
	// are not recorded here, and an operator's table stays empty because
	// it relays what it receives upstream instead. A callback that needs a
	// gate's actual result when the immediate return value is empty reads
	// it from here.
	Measurements *MeasurementTable
}

// MeasurementTable is the per-plugin sink for measurements delivered
// asynchronously, outside of the gate call that produced them. Put is
// called by the runtime as results arrive; callback code only ever reads.
type MeasurementTable struct {
	mu   sync.Mutex
	vals map[qubit.Ref]*quantum.Measurement
	subs map[qubit.Ref][]chan *quantum.Measurement
}

// NewMeasurementTable returns an empty table.
func NewMeasurementTable() *MeasurementTable {
	return &MeasurementTable{
		vals: make(map[qubit.Ref]*quantum.Measurement),
		subs: make(map[qubit.Ref][]chan *quantum.Measurement),
	}
}

// Put records m as the latest measurement for its qubit and wakes any
// Await calls blocked on it.
func (t *MeasurementTable) Put(m *quantum.Measurement) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vals[m.Qubit] = m
	for _, ch := range t.subs[m.Qubit] {
		ch <- m
	}
	delete(t.subs, m.Qubit)
}

// Get returns the latest measurement recorded for ref, if any.
func (t *MeasurementTable) Get(ref qubit.Ref) (*quantum.Measurement, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.vals[ref]
	return m, ok
}

// Await blocks until a measurement for ref has been recorded, returning
// immediately if one already has been.
func (t *MeasurementTable) Await(ref qubit.Ref) *quantum.Measurement {
	t.mu.Lock()
	if m, ok := t.vals[ref]; ok {
		t.mu.Unlock()
		return m
	}
	ch := make(chan *quantum.Measurement, 1)
	t.subs[ref] = append(t.subs[ref], ch)
	t.mu.Unlock()
	return <-ch
}

// RunningState is passed to a frontend's Run callback, giving it access to
// the host channel's Send/Recv mailbox.
type RunningState interface {
	Send(data *arbdata.ArbData)
	Recv() (*arbdata.ArbData, error)
}

type (
	InitializeFunc        func(ctx *Context, initCmds *arbdata.ArbCmdQueue) error
	DropFunc              func(ctx *Context) error
	RunFunc               func(ctx *Context, state RunningState, arg *arbdata.ArbData) (*arbdata.ArbData, error)
	AllocateFunc          func(ctx *Context, count uint32, cmds *arbdata.ArbCmdQueue) (*qubit.Set, error)
	FreeFunc              func(ctx *Context, qubits *qubit.Set) error
	GateFunc              func(ctx *Context, gate *quantum.Gate) (*quantum.MeasurementSet, error)
	ModifyMeasurementFunc func(ctx *Context, m *quantum.Measurement) (*quantum.Measurement, error)
	AdvanceFunc           func(ctx *Context, cycles uint64) (uint64, error)
	UpstreamArbFunc       func(ctx *Context, cmd *arbdata.ArbCmd) (*arbdata.ArbData, error)
	HostArbFunc           func(ctx *Context, cmd *arbdata.ArbCmd) (*arbdata.ArbData, error)
)

// Definition is the built plugin record: immutable metadata plus the
// resolved callback table.
type Definition struct {
	Kind    Kind
	Name    string
	Author  string
	Version string

	InitCmds        *arbdata.ArbCmdQueue
	AcceptTimeout   time.Duration
	ShutdownTimeout time.Duration

	Initialize        InitializeFunc
	Drop              DropFunc
	Run               RunFunc
	Allocate          AllocateFunc
	Free              FreeFunc
	Gate              GateFunc
	ModifyMeasurement ModifyMeasurementFunc
	Advance           AdvanceFunc
	UpstreamArb       UpstreamArbFunc
	HostArb           HostArbFunc
}

// slot identifies one of the ten callback table entries for applicability
// checks.
type slot int

const (
	slotInitialize slot = iota
	slotDrop
	slotRun
	slotAllocate
	slotFree
	slotGate
	slotModifyMeasurement
	slotAdvance
	slotUpstreamArb
	slotHostArb
)

func applicable(k Kind, s slot) bool {
	switch s {
	case slotInitialize, slotDrop, slotHostArb:
		return true
	case slotRun:
		return k == Frontend
	case slotAllocate, slotFree, slotAdvance, slotUpstreamArb, slotGate:
		return k == Operator || k == Backend
	case slotModifyMeasurement:
		return k == Operator
	default:
		return false
	}
}

const defaultTimeout = 5 * time.Second

// Builder accumulates callback assignments for one Definition.
type Builder struct {
	def *Definition
}

// NewBuilder starts a Definition for a plugin of the given kind and
// metadata, with every applicable slot set to its kind-appropriate
// default.
func NewBuilder(kind Kind, name, author, version string) *Builder {
	b := &Builder{def: &Definition{
		Kind:            kind,
		Name:            name,
		Author:          author,
		Version:         version,
		InitCmds:        arbdata.NewQueue(),
		AcceptTimeout:   defaultTimeout,
		ShutdownTimeout: defaultTimeout,
	}}
	b.applyDefaults()
	return b
}

func (b *Builder) applyDefaults() {
	d := b.def
	switch d.Kind {
	case Operator:
		d.Allocate = func(ctx *Context, count uint32, cmds *arbdata.ArbCmdQueue) (*qubit.Set, error) {
			return ctx.Downstream.Allocate(count, cmds)
		}
		d.Free = func(ctx *Context, qubits *qubit.Set) error {
			return ctx.Downstream.Free(qubits)
		}
		d.Advance = func(ctx *Context, cycles uint64) (uint64, error) {
			return ctx.Downstream.Advance(cycles)
		}
		d.UpstreamArb = func(ctx *Context, cmd *arbdata.ArbCmd) (*arbdata.ArbData, error) {
			return ctx.Downstream.UpstreamArb(cmd)
		}
		// The default gate forwards downstream and answers empty right
		// away; it does not wait for the downstream peer's own answer.
		// Whatever measurements that answer eventually carries go through
		// modify_measurement out of band and are relayed upstream, landing
		// in the upstream plugin's Context.Measurements — see
		// downstream.GateAsync's doc in internal/pluginrt.
		d.Gate = func(ctx *Context, gate *quantum.Gate) (*quantum.MeasurementSet, error) {
			if err := ctx.Downstream.GateAsync(gate); err != nil {
				return nil, err
			}
			return quantum.NewMeasurementSet(), nil
		}
		d.ModifyMeasurement = func(ctx *Context, m *quantum.Measurement) (*quantum.Measurement, error) {
			return m, nil
		}
	case Backend:
		d.Allocate = func(ctx *Context, count uint32, cmds *arbdata.ArbCmdQueue) (*qubit.Set, error) {
			return qubit.NewSet(), nil
		}
		d.Free = func(ctx *Context, qubits *qubit.Set) error { return nil }
		d.Advance = func(ctx *Context, cycles uint64) (uint64, error) { return cycles, nil }
		d.UpstreamArb = func(ctx *Context, cmd *arbdata.ArbCmd) (*arbdata.ArbData, error) {
			return arbdata.New(), nil
		}
	}
	d.Initialize = func(ctx *Context, initCmds *arbdata.ArbCmdQueue) error { return nil }
	d.Drop = func(ctx *Context) error { return nil }
	d.HostArb = func(ctx *Context, cmd *arbdata.ArbCmd) (*arbdata.ArbData, error) {
		return arbdata.New(), nil
	}
}

func kindMismatch(name string, s string) error {
	return errkind.New(errkind.TypeMismatch, name, "callback "+s+" is not applicable to this plugin kind")
}

func (b *Builder) SetInitialize(f InitializeFunc) (*Builder, error) {
	b.def.Initialize = f
	return b, nil
}

func (b *Builder) SetDrop(f DropFunc) (*Builder, error) {
	b.def.Drop = f
	return b, nil
}

func (b *Builder) SetRun(f RunFunc) (*Builder, error) {
	if !applicable(b.def.Kind, slotRun) {
		return b, kindMismatch(b.def.Name, "run")
	}
	b.def.Run = f
	return b, nil
}

func (b *Builder) SetAllocate(f AllocateFunc) (*Builder, error) {
	if !applicable(b.def.Kind, slotAllocate) {
		return b, kindMismatch(b.def.Name, "allocate")
	}
	b.def.Allocate = f
	return b, nil
}

func (b *Builder) SetFree(f FreeFunc) (*Builder, error) {
	if !applicable(b.def.Kind, slotFree) {
		return b, kindMismatch(b.def.Name, "free")
	}
	b.def.Free = f
	return b, nil
}

func (b *Builder) SetGate(f GateFunc) (*Builder, error) {
	if !applicable(b.def.Kind, slotGate) {
		return b, kindMismatch(b.def.Name, "gate")
	}
	b.def.Gate = f
	return b, nil
}

func (b *Builder) SetModifyMeasurement(f ModifyMeasurementFunc) (*Builder, error) {
	if !applicable(b.def.Kind, slotModifyMeasurement) {
		return b, kindMismatch(b.def.Name, "modify_measurement")
	}
	b.def.ModifyMeasurement = f
	return b, nil
}

func (b *Builder) SetAdvance(f AdvanceFunc) (*Builder, error) {
	if !applicable(b.def.Kind, slotAdvance) {
		return b, kindMismatch(b.def.Name, "advance")
	}
	b.def.Advance = f
	return b, nil
}

func (b *Builder) SetUpstreamArb(f UpstreamArbFunc) (*Builder, error) {
	if !applicable(b.def.Kind, slotUpstreamArb) {
		return b, kindMismatch(b.def.Name, "upstream_arb")
	}
	b.def.UpstreamArb = f
	return b, nil
}

func (b *Builder) SetHostArb(f HostArbFunc) (*Builder, error) {
	b.def.HostArb = f
	return b, nil
}

func (b *Builder) SetTimeouts(accept, shutdown time.Duration) *Builder {
	b.def.AcceptTimeout = accept
	b.def.ShutdownTimeout = shutdown
	return b
}

func (b *Builder) PushInitCmd(cmd *arbdata.ArbCmd) *Builder {
	b.def.InitCmds.Push(cmd)
	return b
}

// Build validates that a required slot (frontend's Run) is present and
// returns the finished Definition.
func (b *Builder) Build() (*Definition, error) {
	if b.def.Kind == Frontend && b.def.Run == nil {
		return nil, errkind.New(errkind.InvalidArgument, b.def.Name, "frontend plugin requires a run callback")
	}
	return b.def, nil
}
