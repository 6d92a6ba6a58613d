package observability

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TraceConfig configures NewTracer.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// SampleRatio is the fraction of traces recorded, in (0,1]. The zero
	// value (unset) samples everything, matching AlwaysSample.
	SampleRatio float64
}

// Tracer wraps a trace.Tracer plus the helper methods the dispatcher and
// admin API use to annotate tool invocations and HTTP requests. There is
// no configured exporter: this module carries otel/otel-sdk/otel-trace but
// not an OTLP exporter, so spans propagate trace/span IDs through context
// for correlation but are never shipped anywhere. Wiring a real exporter
// later only requires adding a span processor in NewTracer.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewTracer builds a Tracer and returns a shutdown func that flushes and
// releases the underlying TracerProvider.
func NewTracer(cfg TraceConfig) (*Tracer, func(context.Context) error) {
	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", nonEmpty(cfg.ServiceName, "toolgated")),
		attribute.String("service.version", nonEmpty(cfg.ServiceVersion, "dev")),
		attribute.String("deployment.environment", nonEmpty(cfg.Environment, "development")),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	)

	t := &Tracer{
		tracer:   provider.Tracer("github.com/haasonsaas/toolgated"),
		provider: provider,
	}
	return t, provider.Shutdown
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// StartToolExecution opens a span around one Dispatch call.
func (t *Tracer) StartToolExecution(ctx context.Context, registryID, action string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(
			attribute.String("toolgated.registry_id", registryID),
			attribute.String("toolgated.action", action),
		),
	)
}

// StartProviderCall opens a span around one connector round trip: the
// gateway's outbound WebSocket leg to a RemoteServer provider.
func (t *Tracer) StartProviderCall(ctx context.Context, registryID, endpoint, action string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "provider.call",
		trace.WithAttributes(
			attribute.String("toolgated.registry_id", registryID),
			attribute.String("toolgated.endpoint", endpoint),
			attribute.String("toolgated.action", action),
		),
	)
}

// StartHTTPRequest opens a span around one Admin API request.
func (t *Tracer) StartHTTPRequest(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		),
	)
}

// HTTPMiddleware wraps a handler so every request gets a span named after
// its method and URL path, closed with the response's status code. A nil
// Tracer makes this a no-op pass-through, so callers can wire it
// unconditionally.
func HTTPMiddleware(t *Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if t == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := t.StartHTTPRequest(r.Context(), r.Method, r.URL.Path)
			sw := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.status_code", sw.status))
			span.End()
		})
	}
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// RecordOutcome sets the span's status attributes from a dispatch-style
// success/error-kind result, then ends it.
func RecordOutcome(span trace.Span, success bool, errorKind string, errMsg string) {
	span.SetAttributes(attribute.Bool("toolgated.success", success))
	if !success {
		span.SetAttributes(
			attribute.String("toolgated.error_kind", errorKind),
			attribute.String("toolgated.error", errMsg),
		)
	}
	span.End()
}
