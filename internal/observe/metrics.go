// Package observe provides application-wide observability primitives for
// Finch: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Finch metrics.
const meterName = "github.com/finch-ai/finch"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per query stage ---

	// QueryDuration tracks end-to-end query handling latency.
	QueryDuration metric.Float64Histogram

	// PlanDuration tracks query planning latency, including any
	// corrective retries.
	PlanDuration metric.Float64Histogram

	// LLMDuration tracks a single LLM completion's latency.
	LLMDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool invocation latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// Queries counts user queries. Use with attributes:
	//   attribute.String("mode", "sync"|"stream"), attribute.String("status", ...)
	Queries metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// CacheRequests counts result cache lookups. Use with attribute:
	//   attribute.String("outcome", "hit"|"miss")
	CacheRequests metric.Int64Counter

	// PlannerRetries counts corrective re-prompts after unparseable plans.
	PlannerRetries metric.Int64Counter

	// LLMRequests counts LLM API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	LLMRequests metric.Int64Counter

	// SessionLogins counts broker login completions. Use with attribute:
	//   attribute.String("status", ...)
	SessionLogins metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of in-flight streaming responses.
	ActiveStreams metric.Int64UpDownCounter

	// ActiveSessions tracks the number of broker sessions in the ACTIVE state.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// tool and model latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.QueryDuration, err = m.Float64Histogram("finch.query.duration",
		metric.WithDescription("End-to-end query handling latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlanDuration, err = m.Float64Histogram("finch.plan.duration",
		metric.WithDescription("Query planning latency including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("finch.llm.duration",
		metric.WithDescription("Latency of a single LLM completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("finch.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Queries, err = m.Int64Counter("finch.queries",
		metric.WithDescription("Total user queries by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("finch.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.CacheRequests, err = m.Int64Counter("finch.cache.requests",
		metric.WithDescription("Total result cache lookups by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlannerRetries, err = m.Int64Counter("finch.planner.retries",
		metric.WithDescription("Total corrective re-prompts after unparseable plans."),
	); err != nil {
		return nil, err
	}
	if met.LLMRequests, err = m.Int64Counter("finch.llm.requests",
		metric.WithDescription("Total LLM API requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.SessionLogins, err = m.Int64Counter("finch.session.logins",
		metric.WithDescription("Total broker login completions by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("finch.active_streams",
		metric.WithDescription("Number of in-flight streaming responses."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("finch.active_sessions",
		metric.WithDescription("Number of broker sessions in the ACTIVE state."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("finch.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordQuery records a query counter increment with the standard attribute
// set.
func (m *Metrics) RecordQuery(ctx context.Context, mode, status string) {
	m.Queries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordCacheRequest records a cache lookup with its outcome ("hit" or
// "miss").
func (m *Metrics) RecordCacheRequest(ctx context.Context, outcome string) {
	m.CacheRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordLLMRequest records an LLM API call counter increment.
func (m *Metrics) RecordLLMRequest(ctx context.Context, provider, status string) {
	m.LLMRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}
