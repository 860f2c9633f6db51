// Package observe provides application-wide observability primitives for
// Zalanko: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Zalanko metrics.
const meterName = "github.com/moalsayed95/zalanko"

// Metrics holds all OpenTelemetry metric instruments for the relay.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ToolDuration tracks tool handler execution latency.
	ToolDuration metric.Float64Histogram

	// SearchDuration tracks catalog search latency (embedding + ANN query).
	SearchDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// FramesRelayed counts frames routed by the relay. Use with attributes:
	//   attribute.String("direction", "client"|"upstream"),
	//   attribute.String("type", ...)
	FramesRelayed metric.Int64Counter

	// FramesDropped counts frames the relay discarded. Use with attribute:
	//   attribute.String("reason", "interrupted"|"malformed"|"unrecognized"|...)
	FramesDropped metric.Int64Counter

	// Interrupts counts barge-in interrupts (user speech cutting off a
	// model turn).
	Interrupts metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live relay sessions.
	ActiveSessions metric.Int64UpDownCounter

	// InflightToolCalls tracks tool calls currently executing across all
	// sessions.
	InflightToolCalls metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// voice-interaction latencies: tool calls land between tens of milliseconds
// (cart mutations) and tens of seconds (image generation).
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
	if met.ToolDuration, err = m.Float64Histogram("zalanko.tool.duration",
		metric.WithDescription("Latency of tool handler execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SearchDuration, err = m.Float64Histogram("zalanko.search.duration",
		metric.WithDescription("Latency of catalog search queries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("zalanko.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesRelayed, err = m.Int64Counter("zalanko.relay.frames",
		metric.WithDescription("Total frames routed by direction and type."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("zalanko.relay.frames_dropped",
		metric.WithDescription("Total frames discarded by reason."),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("zalanko.relay.interrupts",
		metric.WithDescription("Total barge-in interrupts."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("zalanko.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("zalanko.active_sessions",
		metric.WithDescription("Number of live relay sessions."),
	); err != nil {
		return nil, err
	}
	if met.InflightToolCalls, err = m.Int64UpDownCounter("zalanko.inflight_tool_calls",
		metric.WithDescription("Tool calls currently executing across all sessions."),
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

// RecordFrame records one routed frame with the standard attribute set.
func (m *Metrics) RecordFrame(ctx context.Context, direction, frameType string) {
	m.FramesRelayed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("type", frameType),
		),
	)
}

// RecordDrop records one discarded frame with the given reason.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
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
