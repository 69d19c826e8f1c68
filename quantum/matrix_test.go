package quantum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatrixApproxEqReflexiveAndSymmetric(t *testing.T) {
	m, err := NewMatrix(2, []complex128{0, 1, 1, 0})
	require.NoError(t, err)
	other, err := NewMatrix(2, []complex128{0, 1, 1, 0})
	require.NoError(t, err)

	assert.True(t, m.ApproxEq(m, 1e-9, false), "a matrix must be approximately equal to itself")
	assert.True(t, m.ApproxEq(other, 1e-9, false))
	assert.True(t, other.ApproxEq(m, 1e-9, false), "approximate equality must be symmetric")
}

func TestMatrixApproxEqIgnoresGlobalPhase(t *testing.T) {
	base, err := NewMatrix(2, []complex128{1, 0, 0, 1})
	require.NoError(t, err)

	i := complex(0, 1)
	rotated, err := NewMatrix(2, []complex128{i, 0, 0, i})
	require.NoError(t, err)

	assert.False(t, base.ApproxEq(rotated, 1e-9, false), "a global phase difference must fail exact comparison")
	assert.True(t, base.ApproxEq(rotated, 1e-9, true), "a global phase difference must be tolerated when ignorePhase is set")
}

func TestMatrixAddControlsThenStripControlRoundTrips(t *testing.T) {
	x, err := NewMatrix(2, []complex128{0, 1, 1, 0})
	require.NoError(t, err)

	controlled := x.AddControls(2)
	assert.Equal(t, 8, controlled.Dim())

	stripped, removed, err := controlled.StripControl(1e-9, false)
	require.NoError(t, err)
	require.Len(t, removed, 2)
	assert.True(t, stripped.ApproxEq(x, 1e-9, false))
}

func TestMatrixAddControlsZeroIsNoop(t *testing.T) {
	x, err := NewMatrix(2, []complex128{0, 1, 1, 0})
	require.NoError(t, err)
	assert.Same(t, x, x.AddControls(0))
}

func TestMatrixNumQubits(t *testing.T) {
	m := Identity(8)
	assert.Equal(t, 3, m.NumQubits())
}

func TestMatrixDimensionValidation(t *testing.T) {
	_, err := NewMatrix(3, make([]complex128, 9))
	assert.Error(t, err, "a non-power-of-two dimension must be rejected")

	_, err = NewMatrix(2, make([]complex128, 3))
	assert.Error(t, err, "mismatched data length must be rejected")

	empty, err := NewMatrix(0, nil)
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}
