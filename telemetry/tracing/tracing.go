// Package tracing wraps OpenTelemetry spans around the protocol-level
// calls the runtime makes: each gatestream request and each host-channel
// call gets a span from whichever process makes the call, in the role
// the teacher's adaptive tracer played for HTTP fetch spans — here
// backed by a real otel SDK tracer instead of a hand-rolled ID
// generator. Each plugin runs in its own OS process with its own
// Provider; spans are not propagated across the wire into a single
// cross-process trace.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/qcsim/qcsim"

// Provider wraps an otel TracerProvider configured for the runtime.
type Provider struct {
	tp *trace.TracerProvider
}

// NewProvider builds a Provider with the default (in-process, exporter-less)
// SDK span processor pipeline; a real deployment wires a real exporter.
func NewProvider(opts ...trace.TracerProviderOption) *Provider {
	return &Provider{tp: trace.NewTracerProvider(opts...)}
}

// Tracer returns the named tracer used for runtime spans.
func (p *Provider) Tracer() oteltrace.Tracer {
	return p.tp.Tracer(tracerName)
}

// Shutdown flushes and releases the provider's span processors.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// StartCall starts a span named for one protocol call (e.g. "gate",
// "allocate", "host_arb") tagged with the originating plugin's name.
func StartCall(ctx context.Context, tracer oteltrace.Tracer, call, pluginName string) (context.Context, oteltrace.Span) {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return tracer.Start(ctx, call, oteltrace.WithAttributes(
		attribute.String("qcsim.plugin", pluginName),
	))
}

// ExtractIDs returns the trace and span IDs carried on ctx, for log
// correlation; both are empty if ctx carries no recording span.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
