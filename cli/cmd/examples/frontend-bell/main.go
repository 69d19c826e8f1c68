// Command frontend-bell is a frontend plugin that allocates two qubits,
// prepares a Bell pair, measures both, and returns the outcomes.
package main

import (
	"fmt"
	"math"
	"os"

	"github.com/qcsim/qcsim/arbdata"
	"github.com/qcsim/qcsim/plugin"
	"github.com/qcsim/qcsim/qubit"
	"github.com/qcsim/qcsim/quantum"
	"github.com/qcsim/qcsim/runtime"
)

func hadamard() (*quantum.Matrix, error) {
	c := 1 / math.Sqrt2
	return quantum.NewMatrix(2, []complex128{
		complex(c, 0), complex(c, 0),
		complex(c, 0), complex(-c, 0),
	})
}

func pauliX() (*quantum.Matrix, error) {
	return quantum.NewMatrix(2, []complex128{0, 1, 1, 0})
}

func run(ctx *plugin.Context, _ plugin.RunningState, _ *arbdata.ArbData) (*arbdata.ArbData, error) {
	qubits, err := ctx.Downstream.Allocate(2, arbdata.NewQueue())
	if err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}
	refs := qubits.Refs()
	q0, q1 := refs[0], refs[1]

	h, err := hadamard()
	if err != nil {
		return nil, err
	}
	hGate, err := quantum.NewUnitaryGate(h, qubit.NewSetFrom(q0), nil, nil)
	if err != nil {
		return nil, err
	}
	if _, err := ctx.Downstream.Gate(hGate); err != nil {
		return nil, fmt.Errorf("apply H: %w", err)
	}

	x, err := pauliX()
	if err != nil {
		return nil, err
	}
	cnot, err := quantum.NewUnitaryGate(x, qubit.NewSetFrom(q1), qubit.NewSetFrom(q0), nil)
	if err != nil {
		return nil, err
	}
	if _, err := ctx.Downstream.Gate(cnot); err != nil {
		return nil, fmt.Errorf("apply CNOT: %w", err)
	}

	measureGate, err := quantum.NewMeasurementGate(qubit.NewSetFrom(q0, q1), nil)
	if err != nil {
		return nil, err
	}
	measured, err := ctx.Downstream.Gate(measureGate)
	if err != nil {
		return nil, fmt.Errorf("measure: %w", err)
	}

	if err := ctx.Downstream.Free(qubits); err != nil {
		return nil, fmt.Errorf("free: %w", err)
	}

	out := map[string]any{}
	for _, q := range []qubit.Ref{q0, q1} {
		m, ok := measured.Get(q)
		if !ok {
			// An intervening default-forwarding operator (e.g.
			// operator-identity) answers Gate empty and delivers the
			// real outcome later; wait for it.
			m = ctx.Measurements.Await(q)
		}
		out[fmt.Sprintf("q%d", q)] = m.Value.String()
	}
	return arbdata.NewWithJSON(out, nil), nil
}

func main() {
	b := plugin.NewBuilder(plugin.Frontend, "frontend-bell", "qcsim", "0.1.0")
	if _, err := b.SetRun(run); err != nil {
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
