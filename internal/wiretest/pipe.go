// Package wiretest provides an in-process fake transport for exercising
// the controller and plugin runtime without spawning real OS processes,
// the same role the retained httpmock table-driven server plays for the
// engine's HTTP-facing tests.
package wiretest

import (
	"net"

	"github.com/qcsim/qcsim/internal/wire"
)

// NewPair returns two ends of an in-process, in-memory Transport pipe.
// Writes on one side become readable on the other with no real I/O.
func NewPair() (a, b wire.Transport) {
	c1, c2 := net.Pipe()
	return wire.NewStreamTransport(c1), wire.NewStreamTransport(c2)
}
