// Command operator-identity is an operator plugin that passes every
// gatestream request through to its downstream peer unchanged, using the
// builder's default callbacks. It exists to exercise the relay path of a
// multi-stage pipeline without adding any transformation of its own.
package main

import (
	"fmt"
	"os"

	"github.com/qcsim/qcsim/plugin"
	"github.com/qcsim/qcsim/runtime"
)

func main() {
	b := plugin.NewBuilder(plugin.Operator, "operator-identity", "qcsim", "0.1.0")
	built, err := b.Build()
	if err != nil {
		panic(err)
	}
	if err := runtime.Run(built, os.Args[len(os.Args)-1]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
