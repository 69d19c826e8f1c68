// Package runtime is the entrypoint a plugin process's main function
// calls once it has built its Definition: it drives the plugin through the
// wire protocol until the controller tells it to stop.
package runtime

import (
	"github.com/qcsim/qcsim/internal/pluginrt"
	"github.com/qcsim/qcsim/plugin"
)

// Run dials endpoint (conventionally os.Args[len(os.Args)-1], the
// controller's listen address passed as the plugin's command-line
// argument), serves def's callbacks, and returns once the controller has
// dropped the plugin or the connection has failed. A plugin's main should
// exit non-zero if Run returns a non-nil error.
func Run(def *plugin.Definition, endpoint string) error {
	return pluginrt.Run(def, endpoint)
}
