// Command backend-null is a minimal backend plugin: it allocates
// sequential qubit references, treats every unitary as a no-op, and
// measures each qubit independently with a fair coin drawn from the
// plugin's downstream-synchronous PRNG stream.
package main

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/qcsim/qcsim/arbdata"
	"github.com/qcsim/qcsim/plugin"
	"github.com/qcsim/qcsim/qubit"
	"github.com/qcsim/qcsim/quantum"
	"github.com/qcsim/qcsim/runtime"
)

var nextRef uint64

func allocate(_ *plugin.Context, count uint32, _ *arbdata.ArbCmdQueue) (*qubit.Set, error) {
	out := qubit.NewSet()
	for i := uint32(0); i < count; i++ {
		ref := atomic.AddUint64(&nextRef, 1)
		out.Push(qubit.Ref(ref))
	}
	return out, nil
}

func free(_ *plugin.Context, _ *qubit.Set) error { return nil }

func gate(ctx *plugin.Context, g *quantum.Gate) (*quantum.MeasurementSet, error) {
	out := quantum.NewMeasurementSet()
	if g.Kind != quantum.KindMeasurement {
		return out, nil
	}
	for _, q := range g.Measured.Refs() {
		v := quantum.Zero
		if ctx.Streams.DownstreamSync.Float64() >= 0.5 {
			v = quantum.One
		}
		out.Put(quantum.NewMeasurement(q, v, nil))
	}
	return out, nil
}

func advance(_ *plugin.Context, cycles uint64) (uint64, error) { return cycles, nil }

func upstreamArb(_ *plugin.Context, _ *arbdata.ArbCmd) (*arbdata.ArbData, error) {
	return arbdata.New(), nil
}

func main() {
	b := plugin.NewBuilder(plugin.Backend, "backend-null", "qcsim", "0.1.0")
	if _, err := b.SetAllocate(allocate); err != nil {
		panic(err)
	}
	if _, err := b.SetFree(free); err != nil {
		panic(err)
	}
	if _, err := b.SetGate(gate); err != nil {
		panic(err)
	}
	if _, err := b.SetAdvance(advance); err != nil {
		panic(err)
	}
	if _, err := b.SetUpstreamArb(upstreamArb); err != nil {
		panic(err)
	}
	built, err := b.Build()
	if err != nil {
		panic(err)
	}
	if err := runtime.Run(built, os.Args[len(os.Args)-1]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
