package quantum

import (
	"github.com/qcsim/qcsim/arbdata"
	"github.com/qcsim/qcsim/qubit"
)

// Value is a measurement outcome.
type Value int

const (
	Zero Value = iota
	One
	Undef
)

func (v Value) String() string {
	switch v {
	case Zero:
		return "0"
	case One:
		return "1"
	default:
		return "undef"
	}
}

// Measurement is a single qubit's measurement outcome, possibly annotated
// by an operator's modify_measurement callback.
type Measurement struct {
	Qubit qubit.Ref
	Value Value
	Data  *arbdata.ArbData
}

// NewMeasurement builds a Measurement, defaulting Data to an empty ArbData.
func NewMeasurement(q qubit.Ref, v Value, data *arbdata.ArbData) *Measurement {
	if data == nil {
		data = arbdata.New()
	}
	return &Measurement{Qubit: q, Value: v, Data: data}
}

// MeasurementSet maps each measured qubit to its outcome; each qubit
// appears at most once.
type MeasurementSet struct {
	byQubit map[qubit.Ref]*Measurement
	order   []qubit.Ref
}

// NewMeasurementSet returns an empty MeasurementSet.
func NewMeasurementSet() *MeasurementSet {
	return &MeasurementSet{byQubit: map[qubit.Ref]*Measurement{}}
}

// Put inserts or overwrites the measurement for m.Qubit.
func (s *MeasurementSet) Put(m *Measurement) {
	if _, exists := s.byQubit[m.Qubit]; !exists {
		s.order = append(s.order, m.Qubit)
	}
	s.byQubit[m.Qubit] = m
}

// Get returns the measurement for q, if present.
func (s *MeasurementSet) Get(q qubit.Ref) (*Measurement, bool) {
	m, ok := s.byQubit[q]
	return m, ok
}

// Len returns the number of measured qubits.
func (s *MeasurementSet) Len() int { return len(s.order) }

// Qubits returns the measured qubits in insertion order.
func (s *MeasurementSet) Qubits() []qubit.Ref {
	out := make([]qubit.Ref, len(s.order))
	copy(out, s.order)
	return out
}
