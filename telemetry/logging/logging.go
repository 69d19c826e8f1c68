// Package logging wraps the runtime's external logging-sink callback: a
// single function receiving (message, logger_name, severity, module,
// file, line, timestamp, pid, tid). It mirrors the teacher's correlated
// slog wrapper — attrs get trace/span ids injected from ctx — but targets
// an injected Sink instead of slog directly, and falls back to the
// standard library's log.Logger only when the host supplies no sink.
package logging

import (
	"context"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/qcsim/qcsim/telemetry/tracing"
)

// Severity levels accepted by a Sink.
type Severity string

const (
	Debug Severity = "debug"
	Info  Severity = "info"
	Warn  Severity = "warn"
	Error Severity = "error"
	Fatal Severity = "fatal"
)

// Record is one structured log event, matching the external sink
// interface's field list.
type Record struct {
	Message    string
	LoggerName string
	Severity   Severity
	Module     string
	File       string
	Line       int
	Timestamp  time.Time
	Pid        int
	Tid        int64
	Fields     Fields
}

// Sink receives one Record. The runtime never calls it concurrently with
// another API call on the same thread, but may call it from a dedicated
// logging goroutine.
type Sink func(Record)

// Fields is a builder for structured key/value attributes. Each method
// returns a new Fields value so the zero value (nil) is always safe to
// extend, matching the consuming-builder idiom used for ArbData and gates.
type Fields map[string]any

// F starts an empty Fields builder.
func F() Fields { return Fields{} }

// With returns a copy of f with key set to v.
func (f Fields) With(key string, v any) Fields {
	out := make(Fields, len(f)+1)
	for k, val := range f {
		out[k] = val
	}
	out[key] = v
	return out
}

// Logger dispatches Records to a Sink, tagging each with the owning
// module name.
type Logger struct {
	name string
	sink Sink
}

func defaultSink(r Record) {
	log.Printf("[%s] %-5s %s %v", r.LoggerName, r.Severity, r.Message, r.Module)
}

// New returns a Logger named name, dispatching to sink. A nil sink falls
// back to the standard library logger.
func New(name string, sink Sink) *Logger {
	if sink == nil {
		sink = defaultSink
	}
	return &Logger{name: name, sink: sink}
}

func (l *Logger) emit(ctx context.Context, sev Severity, msg string, fields Fields) {
	traceID, spanID := tracing.ExtractIDs(ctx)
	if traceID != "" {
		fields = fields.With("trace_id", traceID).With("span_id", spanID)
	}
	_, file, line, _ := runtime.Caller(2)
	l.sink(Record{
		Message:    msg,
		LoggerName: l.name,
		Severity:   sev,
		Module:     l.name,
		File:       file,
		Line:       line,
		Timestamp:  time.Now(),
		Pid:        os.Getpid(),
		Tid:        int64(os.Getpid()),
		Fields:     fields,
	})
}

// InfoCtx logs at Info severity, correlating trace/span ids from ctx.
func (l *Logger) InfoCtx(ctx context.Context, msg string, fields Fields) {
	l.emit(ctx, Info, msg, fields)
}

// ErrorCtx logs at Error severity, correlating trace/span ids from ctx.
func (l *Logger) ErrorCtx(ctx context.Context, msg string, fields Fields) {
	l.emit(ctx, Error, msg, fields)
}

// WarnCtx logs at Warn severity.
func (l *Logger) WarnCtx(ctx context.Context, msg string, fields Fields) {
	l.emit(ctx, Warn, msg, fields)
}
