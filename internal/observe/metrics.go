// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, a Prometheus exporter bridge, and structured-log
// helpers.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/vocata-ai/vocata"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks chat and classifier completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks synthesis-plus-transcode latency.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks end-of-speech to first reply frame latency.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// BargeIns counts caller interruptions that cancelled an outbound send.
	BargeIns metric.Int64Counter

	// DiscardedSegments counts speech segments dropped below the minimum
	// floors.
	DiscardedSegments metric.Int64Counter

	// CacheLookups counts fixed-text cache lookups. Use with attributes:
	//   attribute.String("role", ...), attribute.String("tier", ...)
	CacheLookups metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live call sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("vocata.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("vocata.llm.duration",
		metric.WithDescription("Latency of chat and classifier completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("vocata.tts.duration",
		metric.WithDescription("Latency of synthesis plus transcode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("vocata.turn.duration",
		metric.WithDescription("End-of-speech to first reply frame latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("vocata.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("vocata.barge_ins",
		metric.WithDescription("Caller interruptions that cancelled an outbound send."),
	); err != nil {
		return nil, err
	}
	if met.DiscardedSegments, err = m.Int64Counter("vocata.segments.discarded",
		metric.WithDescription("Speech segments dropped below the minimum floors."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("vocata.cache.lookups",
		metric.WithDescription("Fixed-text cache lookups by role and serving tier."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("vocata.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("vocata.active_sessions",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vocata.http.request.duration",
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

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error with the standard attribute
// set.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordStage records a pipeline stage duration on the matching histogram.
func (m *Metrics) RecordStage(ctx context.Context, h metric.Float64Histogram, since time.Time) {
	if m == nil || h == nil {
		return
	}
	h.Record(ctx, time.Since(since).Seconds())
}

// RecordSTTStage records one transcription latency sample.
func (m *Metrics) RecordSTTStage(ctx context.Context, since time.Time) {
	if m == nil {
		return
	}
	m.RecordStage(ctx, m.STTDuration, since)
}

// RecordLLMStage records one chat or classifier completion latency sample.
func (m *Metrics) RecordLLMStage(ctx context.Context, since time.Time) {
	if m == nil {
		return
	}
	m.RecordStage(ctx, m.LLMDuration, since)
}

// RecordTTSStage records one synthesis-plus-transcode latency sample.
func (m *Metrics) RecordTTSStage(ctx context.Context, since time.Time) {
	if m == nil {
		return
	}
	m.RecordStage(ctx, m.TTSDuration, since)
}

// RecordTurn records the end-of-speech to first-reply-frame latency.
func (m *Metrics) RecordTurn(ctx context.Context, since time.Time) {
	if m == nil {
		return
	}
	m.RecordStage(ctx, m.TurnDuration, since)
}

// SessionStarted increments the live-session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded decrements the live-session gauge.
func (m *Metrics) SessionEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}

// RecordBargeIn counts one caller interruption.
func (m *Metrics) RecordBargeIn(ctx context.Context) {
	if m == nil {
		return
	}
	m.BargeIns.Add(ctx, 1)
}

// RecordDiscardedSegment counts one below-minimum segment.
func (m *Metrics) RecordDiscardedSegment(ctx context.Context) {
	if m == nil {
		return
	}
	m.DiscardedSegments.Add(ctx, 1)
}

// RecordCacheLookup counts one fixed-text cache lookup by serving tier
// ("memory", "store", "synthesized").
func (m *Metrics) RecordCacheLookup(ctx context.Context, role, tier string) {
	if m == nil {
		return
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("role", role),
			attribute.String("tier", tier),
		),
	)
}
