package quantum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcsim/qcsim/arbdata"
	"github.com/qcsim/qcsim/qubit"
)

func TestMatrixCBORRoundTrip(t *testing.T) {
	m, err := NewMatrix(2, []complex128{
		complex(1, 0.5), complex(0, -1),
		complex(0, 1), complex(1, -0.5),
	})
	require.NoError(t, err)

	b, err := m.MarshalCBOR()
	require.NoError(t, err)

	out := &Matrix{}
	require.NoError(t, out.UnmarshalCBOR(b))
	assert.True(t, m.ApproxEq(out, 1e-12, false))
}

func TestGateCBORRoundTripUnitary(t *testing.T) {
	matrix, err := NewMatrix(2, []complex128{0, 1, 1, 0})
	require.NoError(t, err)
	g, err := NewUnitaryGate(matrix, qubit.NewSetFrom(2), qubit.NewSetFrom(1), arbdata.NewWithJSON(map[string]any{"tag": "x"}, nil))
	require.NoError(t, err)

	b, err := g.MarshalCBOR()
	require.NoError(t, err)

	out := &Gate{}
	require.NoError(t, out.UnmarshalCBOR(b))

	assert.Equal(t, KindUnitary, out.Kind)
	assert.Equal(t, []qubit.Ref{2}, out.Targets.Refs())
	assert.Equal(t, []qubit.Ref{1}, out.Controls.Refs())
	require.NotNil(t, out.Matrix)
	assert.True(t, matrix.ApproxEq(out.Matrix, 1e-12, false))
	assert.Equal(t, "x", out.Data.Json()["tag"])
}

func TestGateCBORRoundTripCustomWithNoMatrix(t *testing.T) {
	g, err := NewCustomGate("swap_phase", qubit.NewSetFrom(1, 2), nil, nil, nil, nil)
	require.NoError(t, err)

	b, err := g.MarshalCBOR()
	require.NoError(t, err)

	out := &Gate{}
	require.NoError(t, out.UnmarshalCBOR(b))
	assert.Equal(t, KindCustom, out.Kind)
	assert.Equal(t, "swap_phase", out.Name)
	assert.Nil(t, out.Matrix, "a gate built with no matrix must decode with no matrix")
}

func TestMeasurementSetCBORRoundTripPreservesOrder(t *testing.T) {
	s := NewMeasurementSet()
	s.Put(NewMeasurement(3, One, nil))
	s.Put(NewMeasurement(1, Zero, arbdata.NewWithJSON(map[string]any{"confidence": 0.9}, nil)))

	b, err := s.MarshalCBOR()
	require.NoError(t, err)

	out := NewMeasurementSet()
	require.NoError(t, out.UnmarshalCBOR(b))

	require.Equal(t, []qubit.Ref{3, 1}, out.Qubits())
	m1, ok := out.Get(3)
	require.True(t, ok)
	assert.Equal(t, One, m1.Value)
	m2, ok := out.Get(1)
	require.True(t, ok)
	assert.Equal(t, Zero, m2.Value)
	assert.Equal(t, 0.9, m2.Data.Json()["confidence"])
}
