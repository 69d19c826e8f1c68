// Package quantum implements the value-model types that describe gates and
// their effects: Matrix, Gate, Measurement, and MeasurementSet. No quantum
// arithmetic is performed here beyond the matrix algebra needed to build
// and decompose controlled gates; state simulation itself is a backend
// plugin's concern and out of scope for this package.
package quantum

import (
	"fmt"
	"math"
	"math/bits"
	"sort"
)

// Matrix is a dense, complex, row-major matrix whose dimension is a power
// of two. It is immutable once constructed.
type Matrix struct {
	dim  int
	data []complex128 // row-major, len == dim*dim
}

// NewMatrix validates dim is a power of two (or the matrix is empty, for
// custom gates with no associated matrix) and that data has dim*dim
// elements, then returns an immutable Matrix.
func NewMatrix(dim int, data []complex128) (*Matrix, error) {
	if dim == 0 && len(data) == 0 {
		return &Matrix{}, nil
	}
	if dim < 2 || dim&(dim-1) != 0 {
		return nil, fmt.Errorf("matrix dimension %d is not a power of two", dim)
	}
	if len(data) != dim*dim {
		return nil, fmt.Errorf("matrix data length %d does not match dimension %d", len(data), dim)
	}
	cp := make([]complex128, len(data))
	copy(cp, data)
	return &Matrix{dim: dim, data: cp}, nil
}

// Identity returns the dim x dim identity matrix.
func Identity(dim int) *Matrix {
	m := &Matrix{dim: dim, data: make([]complex128, dim*dim)}
	for i := 0; i < dim; i++ {
		m.data[i*dim+i] = 1
	}
	return m
}

// Dim returns the matrix's row/column count.
func (m *Matrix) Dim() int { return m.dim }

// NumQubits returns log2(Dim()).
func (m *Matrix) NumQubits() int {
	if m.dim == 0 {
		return 0
	}
	return bits.Len(uint(m.dim)) - 1
}

// Empty reports whether the matrix carries no data (valid for custom gates).
func (m *Matrix) Empty() bool { return m.dim == 0 }

// At returns the element at (row, col).
func (m *Matrix) At(row, col int) complex128 {
	return m.data[row*m.dim+col]
}

func (m *Matrix) set(row, col int, v complex128) {
	m.data[row*m.dim+col] = v
}

// ApproxEq reports whether m and other are equal within RMS tolerance
// epsilon, optionally ignoring a global phase difference.
func (m *Matrix) ApproxEq(other *Matrix, epsilon float64, ignorePhase bool) bool {
	if m.dim != other.dim {
		return false
	}
	if m.dim == 0 {
		return true
	}
	phase := complex(1, 0)
	if ignorePhase {
		var inner complex128
		for i := range m.data {
			inner += cmplxConj(m.data[i]) * other.data[i]
		}
		if mag := cmplxAbs(inner); mag > 1e-12 {
			phase = inner / complex(mag, 0)
		}
	}
	var sumSq float64
	for i := range m.data {
		diff := phase*m.data[i] - other.data[i]
		sumSq += cmplxAbs(diff) * cmplxAbs(diff)
	}
	rms := math.Sqrt(sumSq / float64(len(m.data)))
	return rms <= epsilon
}

func (m *Matrix) isZero(epsilon float64) bool {
	var sumSq float64
	for _, v := range m.data {
		sumSq += cmplxAbs(v) * cmplxAbs(v)
	}
	rms := math.Sqrt(sumSq / float64(len(m.data)))
	return rms <= epsilon
}

// subBlock extracts the size x size block starting at (rowOff, colOff).
func (m *Matrix) subBlock(rowOff, colOff, size int) *Matrix {
	out := &Matrix{dim: size, data: make([]complex128, size*size)}
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			out.data[r*size+c] = m.At(rowOff+r, colOff+c)
		}
	}
	return out
}

// AddControls returns a new matrix of dimension m.Dim()*2^k obtained by
// block-diagonal construction: the new high-order k qubits act as
// controls, so the matrix is the identity everywhere except the bottom
// corner block (all control bits set), which is m.
func (m *Matrix) AddControls(k int) *Matrix {
	if k <= 0 {
		return m
	}
	newDim := m.dim << k
	out := Identity(newDim)
	base := newDim - m.dim
	for r := 0; r < m.dim; r++ {
		for c := 0; c < m.dim; c++ {
			out.set(base+r, base+c, m.At(r, c))
		}
	}
	return out
}

// StripControl greedily removes the maximal number of leading
// (highest-order) control qubits from m: a qubit is stripped when its
// "control = 0" block is approximately the identity (within epsilon, with
// optional global-phase tolerance) and its off-diagonal cross blocks are
// approximately zero. Stripping stops at the first qubit that does not
// qualify, or once a single target qubit remains. It returns the reduced
// matrix together with the sorted original qubit indices removed.
func (m *Matrix) StripControl(epsilon float64, ignorePhase bool) (*Matrix, []int, error) {
	if m.dim < 2 {
		return m, nil, nil
	}
	origQubits := m.NumQubits()
	cur := m
	removed := 0
	for cur.dim > 2 {
		half := cur.dim / 2
		topLeft := cur.subBlock(0, 0, half)
		topRight := cur.subBlock(0, half, half)
		botLeft := cur.subBlock(half, 0, half)
		botRight := cur.subBlock(half, half, half)

		if !topLeft.ApproxEq(Identity(half), epsilon, ignorePhase) {
			break
		}
		if !topRight.isZero(epsilon) || !botLeft.isZero(epsilon) {
			break
		}
		cur = botRight
		removed++
	}
	if removed == 0 {
		return m, nil, nil
	}
	indices := make([]int, removed)
	for i := 0; i < removed; i++ {
		indices[i] = origQubits - removed + i
	}
	sort.Ints(indices)
	return cur, indices, nil
}

func cmplxConj(c complex128) complex128 { return complex(real(c), -imag(c)) }
func cmplxAbs(c complex128) float64     { return math.Hypot(real(c), imag(c)) }
