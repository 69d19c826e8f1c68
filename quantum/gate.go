package quantum

import (
	"fmt"

	"github.com/qcsim/qcsim/arbdata"
	"github.com/qcsim/qcsim/qubit"
)

// Kind distinguishes the three gate flavors a downstream plugin must
// dispatch on.
type Kind int

const (
	// KindUnitary is a matrix applied to target qubits, optionally
	// qualified by control qubits.
	KindUnitary Kind = iota
	// KindMeasurement collapses its measurement qubits in the Z basis.
	KindMeasurement
	// KindCustom is dispatched by name at the downstream peer.
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindUnitary:
		return "unitary"
	case KindMeasurement:
		return "measurement"
	case KindCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Gate is a single gatestream operation: a unitary, a measurement, or a
// custom named operation, built upstream and consumed downstream.
type Gate struct {
	Kind        Kind
	Name        string // non-empty iff Kind == KindCustom
	Targets     *qubit.Set
	Controls    *qubit.Set
	Measured    *qubit.Set
	Matrix      *Matrix // optional; present for KindUnitary
	Data        *arbdata.ArbData
}

// NewUnitaryGate validates that matrix dimension == 2^|targets| and that
// targets and controls are disjoint, then builds a unitary gate.
func NewUnitaryGate(matrix *Matrix, targets, controls *qubit.Set, data *arbdata.ArbData) (*Gate, error) {
	if targets == nil || targets.Size() == 0 {
		return nil, fmt.Errorf("unitary gate requires at least one target qubit")
	}
	if matrix == nil || matrix.Dim() != 1<<uint(targets.Size()) {
		return nil, fmt.Errorf("matrix dimension does not match 2^%d targets", targets.Size())
	}
	if controls != nil {
		for _, c := range controls.Refs() {
			if targets.Contains(c) {
				return nil, fmt.Errorf("qubit %d is both a target and a control", c)
			}
		}
	}
	if controls == nil {
		controls = qubit.NewSet()
	}
	if data == nil {
		data = arbdata.New()
	}
	return &Gate{Kind: KindUnitary, Targets: targets, Controls: controls, Matrix: matrix, Data: data}, nil
}

// NewMeasurementGate builds a gate whose measured qubits, once applied,
// form the keys of the returned MeasurementSet. No matrix is attached.
func NewMeasurementGate(measured *qubit.Set, data *arbdata.ArbData) (*Gate, error) {
	if measured == nil || measured.Size() == 0 {
		return nil, fmt.Errorf("measurement gate requires at least one measured qubit")
	}
	if data == nil {
		data = arbdata.New()
	}
	return &Gate{Kind: KindMeasurement, Measured: measured, Data: data}, nil
}

// NewCustomGate builds a named gate whose semantics are defined by the
// downstream plugin. name must be non-empty.
func NewCustomGate(name string, targets, controls, measured *qubit.Set, matrix *Matrix, data *arbdata.ArbData) (*Gate, error) {
	if name == "" {
		return nil, fmt.Errorf("custom gate requires a non-empty name")
	}
	if targets == nil {
		targets = qubit.NewSet()
	}
	if controls == nil {
		controls = qubit.NewSet()
	}
	if measured == nil {
		measured = qubit.NewSet()
	}
	if data == nil {
		data = arbdata.New()
	}
	return &Gate{Kind: KindCustom, Name: name, Targets: targets, Controls: controls, Measured: measured, Matrix: matrix, Data: data}, nil
}
