package arbdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArbDataCBORRoundTrip(t *testing.T) {
	t.Run("structured_value_and_blobs_survive", func(t *testing.T) {
		a := NewWithJSON(map[string]any{"count": int64(3), "label": "bell"}, [][]byte{{1, 2, 3}, {}})
		b, err := a.MarshalCBOR()
		require.NoError(t, err)

		out := New()
		require.NoError(t, out.UnmarshalCBOR(b))

		assert.Equal(t, int64(3), out.Json()["count"])
		assert.Equal(t, "bell", out.Json()["label"])
		require.Equal(t, 2, out.BlobCount())
		blob, err := out.GetBlob(0)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, blob)
	})

	t.Run("empty_value_round_trips", func(t *testing.T) {
		a := New()
		b, err := a.MarshalCBOR()
		require.NoError(t, err)
		out := New()
		require.NoError(t, out.UnmarshalCBOR(b))
		assert.True(t, a.Equal(out))
	})
}

func TestArbDataEqual(t *testing.T) {
	a := NewWithJSON(map[string]any{"x": int64(1)}, nil)
	b := NewWithJSON(map[string]any{"x": int64(1)}, nil)
	c := NewWithJSON(map[string]any{"x": int64(2)}, nil)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestArbDataBlobIndexing(t *testing.T) {
	a := New()
	a.PushBlob([]byte("one"))
	a.PushBlob([]byte("two"))

	last, err := a.GetBlob(-1)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), last)

	require.NoError(t, a.InsertBlob(1, []byte("middle")))
	require.Equal(t, 3, a.BlobCount())
	mid, err := a.GetBlob(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("middle"), mid)

	popped, err := a.PopBlob()
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), popped)

	_, err = a.GetBlob(10)
	assert.Error(t, err)
}

func TestArbCmdIdentifierValidation(t *testing.T) {
	t.Run("accepts_alphanumeric_and_underscore", func(t *testing.T) {
		c, err := NewCmd("qcsim_ext", "do_thing_1", nil)
		require.NoError(t, err)
		assert.True(t, c.Is("qcsim_ext", "do_thing_1"))
		assert.False(t, c.Is("qcsim_ext", "other"))
	})

	t.Run("rejects_invalid_characters", func(t *testing.T) {
		_, err := NewCmd("bad.iface", "oper", nil)
		assert.Error(t, err)
		_, err = NewCmd("iface", "bad oper", nil)
		assert.Error(t, err)
	})
}

func TestArbCmdCBORRoundTrip(t *testing.T) {
	cmd, err := NewCmd("iface", "oper", NewWithJSON(map[string]any{"a": int64(1)}, [][]byte{{9}}))
	require.NoError(t, err)

	b, err := cmd.MarshalCBOR()
	require.NoError(t, err)

	out := &ArbCmd{Data: New()}
	require.NoError(t, out.UnmarshalCBOR(b))
	assert.Equal(t, "iface", out.Iface)
	assert.Equal(t, "oper", out.Oper)
	assert.Equal(t, int64(1), out.Data.Json()["a"])
}

func TestArbCmdQueueDestructiveMonotoneIteration(t *testing.T) {
	q := NewQueue()
	c1, _ := NewCmd("a", "one", nil)
	c2, _ := NewCmd("a", "two", nil)
	q.Push(c1)
	q.Push(c2)

	require.Equal(t, 2, q.Len())
	next, ok := q.Next()
	require.True(t, ok)
	assert.True(t, next.Is("a", "one"))
	assert.Equal(t, 1, q.Len())

	next, ok = q.Next()
	require.True(t, ok)
	assert.True(t, next.Is("a", "two"))

	_, ok = q.Next()
	assert.False(t, ok, "queue must report drained once every command has been consumed")
}

func TestArbCmdQueueCBORRoundTripResumesFromCursor(t *testing.T) {
	q := NewQueue()
	c1, _ := NewCmd("a", "one", nil)
	c2, _ := NewCmd("a", "two", nil)
	c3, _ := NewCmd("a", "three", nil)
	q.Push(c1)
	q.Push(c2)
	q.Push(c3)

	_, ok := q.Next()
	require.True(t, ok)

	b, err := q.MarshalCBOR()
	require.NoError(t, err)

	out := NewQueue()
	require.NoError(t, out.UnmarshalCBOR(b))

	require.Equal(t, 2, out.Len(), "only the undrained remainder should survive the wire")
	first, ok := out.Next()
	require.True(t, ok)
	assert.True(t, first.Is("a", "two"))
}
