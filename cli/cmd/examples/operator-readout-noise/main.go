// Command operator-readout-noise is an operator plugin that otherwise
// relays every gatestream request through the builder's defaults, but
// overrides modify_measurement to flip each outcome with a small
// probability before it continues upstream — a stand-in for a noisy
// readout stage sitting between a frontend and its backend. It draws
// from the plugin's upstream-synchronous PRNG stream, kept separate from
// the default gate's downstream-synchronous one so the two don't race.
package main

import (
	"fmt"
	"os"

	"github.com/qcsim/qcsim/plugin"
	"github.com/qcsim/qcsim/quantum"
	"github.com/qcsim/qcsim/runtime"
)

// flipProbability is the chance modify_measurement reports the wrong
// outcome, simulating readout error on an otherwise ideal measurement.
const flipProbability = 0.02

func modifyMeasurement(ctx *plugin.Context, m *quantum.Measurement) (*quantum.Measurement, error) {
	if m.Value == quantum.Undef {
		return m, nil
	}
	if ctx.Streams.UpstreamSync.Float64() >= flipProbability {
		return m, nil
	}
	flipped := quantum.Zero
	if m.Value == quantum.Zero {
		flipped = quantum.One
	}
	return quantum.NewMeasurement(m.Qubit, flipped, m.Data), nil
}

func main() {
	b := plugin.NewBuilder(plugin.Operator, "operator-readout-noise", "qcsim", "0.1.0")
	if _, err := b.SetModifyMeasurement(modifyMeasurement); err != nil {
		panic(err)
	}
	built, err := b.Build()
	if err != nil {
		panic(err)
	}
	if err := runtime.Run(built, os.Args[len(os.Args)-1]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
