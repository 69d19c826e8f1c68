// Package pluginrt implements the local half of a plugin: the state
// machine that connects to its upstream peer, accepts commands, dispatches
// user callbacks, and proxies downstream requests.
package pluginrt

import "fmt"

// State is one node of the plugin runtime state machine.
type State int

const (
	Connecting State = iota
	Chained
	Initialized
	Serving
	Dropping
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Chained:
		return "chained"
	case Initialized:
		return "initialized"
	case Serving:
		return "serving"
	case Dropping:
		return "dropping"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var validTransitions = map[State][]State{
	Connecting:  {Chained, Failed},
	Chained:     {Initialized, Failed},
	Initialized: {Serving, Failed},
	Serving:     {Dropping, Failed},
	Dropping:    {Done, Failed},
	Done:        {},
	Failed:      {},
}

// Machine tracks one plugin's current state and last fatal error, if any.
type Machine struct {
	state    State
	lastErr  string
}

// NewMachine returns a Machine starting in Connecting.
func NewMachine() *Machine { return &Machine{state: Connecting} }

// State returns the current state.
func (m *Machine) State() State { return m.state }

// LastError returns the error string recorded at the Failed transition, if
// any.
func (m *Machine) LastError() string { return m.lastErr }

// Advance transitions the machine to next, rejecting moves not present in
// the state diagram.
func (m *Machine) Advance(next State) error {
	for _, allowed := range validTransitions[m.state] {
		if allowed == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid plugin state transition %s -> %s", m.state, next)
}

// Fail forces a transition to Failed from any non-terminal state and
// records msg as the last error.
func (m *Machine) Fail(msg string) {
	if m.state == Done || m.state == Failed {
		return
	}
	m.state = Failed
	m.lastErr = msg
}
