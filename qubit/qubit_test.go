package qubit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetPushPopFIFOOrder(t *testing.T) {
	s := NewSet()
	assert.True(t, s.Push(1))
	assert.True(t, s.Push(2))
	assert.True(t, s.Push(3))
	assert.False(t, s.Push(2), "duplicate push must be rejected")
	assert.Equal(t, 3, s.Size())

	first, err := s.Pop()
	require.NoError(t, err)
	assert.Equal(t, Ref(1), first)

	second, err := s.Pop()
	require.NoError(t, err)
	assert.Equal(t, Ref(2), second)

	assert.Equal(t, []Ref{3}, s.Refs())
}

func TestSetPushRejectsZero(t *testing.T) {
	s := NewSet()
	assert.False(t, s.Push(0), "zero is reserved and must never be accepted")
}

func TestSetPopFromEmpty(t *testing.T) {
	s := NewSet()
	_, err := s.Pop()
	assert.Error(t, err)
}

func TestSetRemove(t *testing.T) {
	s := NewSetFrom(1, 2, 3)
	assert.True(t, s.Remove(2))
	assert.False(t, s.Remove(2), "second removal of the same ref must report not-found")
	assert.Equal(t, []Ref{1, 3}, s.Refs())
}

func TestSetCopyIsIndependent(t *testing.T) {
	s := NewSetFrom(1, 2)
	cp := s.Copy()
	cp.Push(3)
	assert.Equal(t, 2, s.Size())
	assert.Equal(t, 3, cp.Size())
}

func TestNewSetFromDropsDuplicatesPreservingOrder(t *testing.T) {
	s := NewSetFrom(5, 1, 5, 2)
	assert.Equal(t, []Ref{5, 1, 2}, s.Refs())
}
