// Package handle implements the per-thread handle registry: a
// monotonically increasing, typed mapping from index to record. Each index
// owns its record outright; the registry keeps no reference counts. Indices are never reused within a registry's lifetime, which
// makes a leaked handle's origin easier to trace in a dump. A Registry is
// not safe for concurrent use — callers must confine one to its owning
// goroutine, matching the runtime's "handles are strictly thread-local"
// rule.
package handle

import (
	"fmt"
	"sort"

	"github.com/qcsim/qcsim/internal/errkind"
)

// Index identifies a handle within its owning Registry. Zero denotes
// error/null and is never issued by Insert.
type Index uint64

// Kind distinguishes the record variants a Registry can hold.
type Kind int

const (
	KindArbData Kind = iota
	KindArbCmd
	KindArbCmdQueue
	KindQubitSet
	KindMatrix
	KindGate
	KindMeasurement
	KindMeasurementSet
	KindPluginDefinition
	KindSimulation
)

func (k Kind) String() string {
	names := [...]string{
		"ArbData", "ArbCmd", "ArbCmdQueue", "QubitSet", "Matrix",
		"Gate", "Measurement", "MeasurementSet", "PluginDefinition", "Simulation",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "Unknown"
	}
	return names[k]
}

type entry struct {
	kind  Kind
	value any
}

// Registry is a per-thread handle table.
type Registry struct {
	next    Index
	entries map[Index]entry
}

// New returns an empty Registry. Index 0 is never issued.
func New() *Registry {
	return &Registry{next: 1, entries: map[Index]entry{}}
}

// Insert stores value under kind and returns its new index.
func (r *Registry) Insert(kind Kind, value any) Index {
	idx := r.next
	r.next++
	r.entries[idx] = entry{kind: kind, value: value}
	return idx
}

// Lookup returns the record at idx, failing if it does not exist or its
// kind does not match expected.
func (r *Registry) Lookup(idx Index, expected Kind) (any, error) {
	if idx == 0 {
		return nil, errkind.New(errkind.InvalidHandle, fmt.Sprintf("index=%d", idx), "handle index 0 is reserved")
	}
	e, ok := r.entries[idx]
	if !ok {
		return nil, errkind.New(errkind.InvalidHandle, fmt.Sprintf("index=%d", idx), "unknown or deleted handle")
	}
	if e.kind != expected {
		return nil, errkind.New(errkind.TypeMismatch, fmt.Sprintf("index=%d", idx), fmt.Sprintf("expected %s, got %s", expected, e.kind))
	}
	return e.value, nil
}

// Take removes and returns the record at idx, enforcing the same checks as
// Lookup.
func (r *Registry) Take(idx Index, expected Kind) (any, error) {
	v, err := r.Lookup(idx, expected)
	if err != nil {
		return nil, err
	}
	delete(r.entries, idx)
	return v, nil
}

// Delete removes idx regardless of kind, failing on double-delete or an
// unknown index.
func (r *Registry) Delete(idx Index) error {
	if idx == 0 {
		return errkind.New(errkind.InvalidHandle, fmt.Sprintf("index=%d", idx), "handle index 0 is reserved")
	}
	if _, ok := r.entries[idx]; !ok {
		return errkind.New(errkind.InvalidHandle, fmt.Sprintf("index=%d", idx), "double delete or unknown handle")
	}
	delete(r.entries, idx)
	return nil
}

// Dump renders a human-readable description of idx's record, for
// diagnostics.
func (r *Registry) Dump(idx Index) (string, error) {
	if idx == 0 {
		return "", errkind.New(errkind.InvalidHandle, fmt.Sprintf("index=%d", idx), "handle index 0 is reserved")
	}
	e, ok := r.entries[idx]
	if !ok {
		return "", errkind.New(errkind.InvalidHandle, fmt.Sprintf("index=%d", idx), "unknown or deleted handle")
	}
	return fmt.Sprintf("handle %d: kind=%s value=%+v", idx, e.kind, e.value), nil
}

// LeakCheck returns the number of handles still live in the registry.
func (r *Registry) LeakCheck() int { return len(r.entries) }

// LiveIndices returns the currently live indices in ascending order, for
// diagnostics and tests.
func (r *Registry) LiveIndices() []Index {
	out := make([]Index, 0, len(r.entries))
	for idx := range r.entries {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
