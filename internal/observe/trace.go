package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Finch tracer.
const tracerName = "github.com/finch-ai/finch"

// Tracer returns the package-level [trace.Tracer] for Finch. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartStageSpan starts a span for one stage of the query pipeline (plan,
// execute, compose) tagged with the owning user so a single query can be
// followed across LLM and tool calls. End the stage with [EndStageSpan] so
// failures carry error status.
func StartStageSpan(ctx context.Context, stage, userID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "finch.query."+stage,
		trace.WithAttributes(
			attribute.String("finch.stage", stage),
			attribute.String("finch.user_id", userID),
		),
	)
}

// EndStageSpan ends a pipeline stage span, recording err (when non-nil) and
// marking the span status accordingly.
func EndStageSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID extracts the trace ID from the OTel span context in ctx. The
// trace ID doubles as the correlation ID surfaced to API clients. Returns
// the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
