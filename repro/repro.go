// Package repro implements the reproduction record: a log of everything
// needed to re-execute a simulation deterministically (spawn descriptors,
// per-plugin init commands, every HostArb/Start/Send call, and the seed),
// plus the replay path (Replayer), which re-issues every logged call through
// a caller-supplied driver and reports each call whose response differs
// from the logged one. Replayer itself neither builds a simulation nor
// seeds PRNG streams; its driver does.
//
// The append-only log writer is adapted from the retained resource
// manager's checkpoint loop: a buffered channel drained by a single
// goroutine that batches writes on a ticker instead of flushing per call.
package repro

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/qcsim/qcsim/config"
)

// CallKind distinguishes the three host-observable call types that must be
// replayed in order.
type CallKind string

const (
	CallHostArb CallKind = "host_arb"
	CallStart   CallKind = "start"
	CallSend    CallKind = "send"
)

// CallRecord is one logged host-observable call and its observed result.
type CallRecord struct {
	ID       string    `json:"id"`
	Kind     CallKind  `json:"kind"`
	Plugin   string    `json:"plugin,omitempty"`
	ArgCBOR  []byte    `json:"arg_cbor,omitempty"`
	RespCBOR []byte    `json:"resp_cbor,omitempty"`
	At       time.Time `json:"at"`
}

// Record is a full reproduction document: enough to re-execute a
// simulation and compare its observable output against this one.
type Record struct {
	ID      string              `json:"id"`
	Seed    uint64              `json:"seed"`
	Plugins []config.PluginConfig `json:"plugins"`
	Calls   []CallRecord        `json:"calls"`
}

// NewRecord starts an empty, uniquely-identified Record for one simulation.
func NewRecord(seed uint64, plugins []config.PluginConfig) *Record {
	return &Record{ID: uuid.NewString(), Seed: seed, Plugins: plugins}
}

// Log appends a logger entry describing one call.
type Log struct {
	rec    *Record
	path   string
	ch     chan CallRecord
	done   chan struct{}
	closed bool
}

// NewLog starts a Log backed by rec, batching writes to path.
func NewLog(rec *Record, path string) *Log {
	l := &Log{rec: rec, path: path, ch: make(chan CallRecord, 1024), done: make(chan struct{})}
	go l.loop()
	return l
}

// Append enqueues c both into the in-memory record and the append-only
// on-disk log.
func (l *Log) Append(c CallRecord) {
	if c.At.IsZero() {
		c.At = time.Now()
	}
	l.rec.Calls = append(l.rec.Calls, c)
	if l.path == "" {
		return
	}
	select {
	case l.ch <- c:
	default:
		// backpressure: the in-memory record already has it; the on-disk
		// append-only log may lag, which is acceptable for diagnostics.
	}
}

func (l *Log) loop() {
	defer close(l.done)
	if l.path == "" {
		for range l.ch {
		}
		return
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		for range l.ch {
		}
		return
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	buf := make([]CallRecord, 0, 64)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		w := bufio.NewWriter(f)
		enc := json.NewEncoder(w)
		for _, c := range buf {
			_ = enc.Encode(c)
		}
		_ = w.Flush()
		_ = f.Close()
		buf = buf[:0]
	}
	for {
		select {
		case c, ok := <-l.ch:
			if !ok {
				flush()
				return
			}
			buf = append(buf, c)
			if len(buf) >= 64 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close stops the background writer and waits for it to drain.
func (l *Log) Close() {
	if l.closed {
		return
	}
	l.closed = true
	close(l.ch)
	<-l.done
}

// WriteFile serializes rec as a self-describing JSON document to path.
func WriteFile(rec *Record, path string) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal reproduction record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create reproduction directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadFile loads a reproduction record previously written by WriteFile.
func ReadFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reproduction record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse reproduction record: %w", err)
	}
	return &rec, nil
}

// Replayer drives a recorded Record's calls against a fresh simulation
// built from the same plugin descriptors and seed, in order, and checks
// that each call's result matches the original.
type Replayer struct {
	rec    *Record
	driver func(ctx context.Context, c CallRecord) ([]byte, error)
}

// NewReplayer builds a Replayer over rec. driver is supplied by the host
// façade: it re-issues one call against a newly constructed simulation and
// returns the observed response payload.
func NewReplayer(rec *Record, driver func(ctx context.Context, c CallRecord) ([]byte, error)) *Replayer {
	return &Replayer{rec: rec, driver: driver}
}

// Mismatch describes one call whose replayed result diverged from the log.
type Mismatch struct {
	Index int
	Call  CallRecord
	Got   []byte
}

// Run replays every logged call in order and returns the calls whose
// replayed response differs from the logged one. An empty result means
// the replay was byte-identical to the original run.
func (r *Replayer) Run(ctx context.Context) ([]Mismatch, error) {
	var mismatches []Mismatch
	for i, c := range r.rec.Calls {
		got, err := r.driver(ctx, c)
		if err != nil {
			return mismatches, fmt.Errorf("replay call %d (%s): %w", i, c.Kind, err)
		}
		if string(got) != string(c.RespCBOR) {
			mismatches = append(mismatches, Mismatch{Index: i, Call: c, Got: got})
		}
	}
	return mismatches, nil
}
