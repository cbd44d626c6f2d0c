package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/sovereign-gateway/scri/router"

// Tracer wraps a single span per routed request. It is kept separate
// from Sink because spans are OpenTelemetry's idiom while the
// provider+kind counters stay Prometheus; both are carried rather than
// collapsed into one.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer backed by the global OTel tracer provider.
// Wiring an SDK exporter (otlptracegrpc) is the cmd/gateway binary's job;
// Tracer itself only needs the package-level API.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(instrumentationName)}
}

// RequestAttrs identifies the request a span covers.
type RequestAttrs struct {
	Provider string
	Model    string
	Fallback bool
}

// StartRequest opens a span for one routed request, covering every
// candidate the router tries for it.
func (t *Tracer) StartRequest(ctx context.Context, attrs RequestAttrs) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "scri.chat",
		trace.WithAttributes(
			attribute.String("scri.provider", attrs.Provider),
			attribute.String("scri.model", attrs.Model),
			attribute.Bool("scri.fallback", attrs.Fallback),
		))
}

// EndRequest closes span with the request's outcome and attempt count.
func (t *Tracer) EndRequest(span trace.Span, status string, attemptCount int) {
	span.SetAttributes(
		attribute.String("scri.status", status),
		attribute.Int("scri.attempts", attemptCount),
	)
	span.End()
}
