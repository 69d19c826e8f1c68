package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseKindRoundTripsEveryKnownKind(t *testing.T) {
	for k := InvalidArgument; k <= IO; k++ {
		assert.Equal(t, k, ParseKind(k.String()), "kind %v must round-trip through its wire string", k)
	}
}

func TestParseKindDefaultsToIOForUnknownString(t *testing.T) {
	assert.Equal(t, IO, ParseKind("something_unrecognized"))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, IO, KindOf(errors.New("boom")))
}

func TestKindOfDirectError(t *testing.T) {
	err := New(Timeout, "plugin-a", "accept window exceeded")
	assert.Equal(t, Timeout, KindOf(err))
}

func TestKindOfWalksUnwrapChain(t *testing.T) {
	inner := New(UserCallback, "plugin-b", "gate callback failed")
	wrapped := fmt.Errorf("dispatch gate: %w", inner)
	assert.Equal(t, UserCallback, KindOf(wrapped))
}

func TestIsWalksWrappedCause(t *testing.T) {
	cause := New(Protocol, "", "bad frame")
	outer := Wrap(IO, "conn", "read failed", cause)
	assert.True(t, Is(outer, IO))
	assert.True(t, Is(outer, Protocol))
	assert.False(t, Is(outer, Timeout))
}

func TestErrorMessageFormatting(t *testing.T) {
	e := New(InvalidArgument, "qubit 0", "zero is reserved")
	assert.Contains(t, e.Error(), "invalid_argument")
	assert.Contains(t, e.Error(), "qubit 0")
	assert.Contains(t, e.Error(), "zero is reserved")
}
