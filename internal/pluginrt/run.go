package pluginrt

import (
	"fmt"
	"net"

	"github.com/qcsim/qcsim/internal/wire"
	"github.com/qcsim/qcsim/plugin"
)

// Run dials endpoint (the controller's per-plugin listen address, passed as
// a plugin process's sole command-line argument), performs the version
// handshake, and serves def's callbacks until the controller sends a drop
// request. It returns nil on a clean drop and non-zero-worthy errors
// otherwise, matching the exit-status contract a plugin executable must
// honor.
func Run(def *plugin.Definition, endpoint string) error {
	conn, err := net.Dial("unix", endpoint)
	if err != nil {
		return fmt.Errorf("dial controller endpoint %s: %w", endpoint, err)
	}
	t := wire.NewStreamTransport(conn)
	if err := wire.ExchangeHandshake(t); err != nil {
		return fmt.Errorf("handshake with controller: %w", err)
	}
	rt := NewRuntime(def, t)
	return rt.Serve()
}
