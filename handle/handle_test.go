package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcsim/qcsim/internal/errkind"
)

func TestInsertIndicesAreMonotoneAndNeverZero(t *testing.T) {
	r := New()
	i1 := r.Insert(KindArbData, "a")
	i2 := r.Insert(KindArbData, "b")
	assert.NotZero(t, i1)
	assert.Greater(t, uint64(i2), uint64(i1))
}

func TestLookupReturnsTypeMismatchForWrongKind(t *testing.T) {
	r := New()
	idx := r.Insert(KindArbData, "payload")

	_, err := r.Lookup(idx, KindArbData)
	require.NoError(t, err)

	_, err = r.Lookup(idx, KindGate)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.TypeMismatch))
}

func TestLookupReservedAndUnknownIndices(t *testing.T) {
	r := New()
	_, err := r.Lookup(0, KindArbData)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.InvalidHandle))

	_, err = r.Lookup(999, KindArbData)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.InvalidHandle))
}

func TestTakeRemovesTheEntry(t *testing.T) {
	r := New()
	idx := r.Insert(KindQubitSet, 42)

	v, err := r.Take(idx, KindQubitSet)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = r.Lookup(idx, KindQubitSet)
	assert.Error(t, err, "a taken handle must no longer be live")
}

func TestDeleteRejectsDoubleDelete(t *testing.T) {
	r := New()
	idx := r.Insert(KindMatrix, nil)

	require.NoError(t, r.Delete(idx))
	err := r.Delete(idx)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.InvalidHandle))
}

func TestLeakCheckAndLiveIndices(t *testing.T) {
	r := New()
	assert.Equal(t, 0, r.LeakCheck())

	a := r.Insert(KindArbData, 1)
	b := r.Insert(KindArbData, 2)
	assert.Equal(t, 2, r.LeakCheck())
	assert.Equal(t, []Index{a, b}, r.LiveIndices())

	_ = r.Delete(a)
	assert.Equal(t, 1, r.LeakCheck())
	assert.Equal(t, []Index{b}, r.LiveIndices())
}
