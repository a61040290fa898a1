package observe_test

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/vocata-ai/vocata/internal/observe"
)

// collect drains the reader into a fresh ResourceMetrics.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	return rm
}

// histogramCount sums datapoint counts for the named histogram; 0 when the
// instrument recorded nothing.
func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			h, ok := m.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("%s data is %T, want Histogram[float64]", name, m.Data)
			}
			var n uint64
			for _, dp := range h.DataPoints {
				n += dp.Count
			}
			return n
		}
	}
	return 0
}

// counterValue sums datapoint values for the named counter, restricted to an
// exact attribute set when attrs are given.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	want := attribute.NewSet(attrs...)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			s, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s data is %T, want Sum[int64]", name, m.Data)
			}
			var n int64
			for _, dp := range s.DataPoints {
				if len(attrs) == 0 || dp.Attributes.Equals(&want) {
					n += dp.Value
				}
			}
			return n
		}
	}
	return 0
}

func TestStageHelpersFeedTheirHistograms(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	met, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	since := time.Now().Add(-5 * time.Millisecond)
	met.RecordSTTStage(ctx, since)
	met.RecordLLMStage(ctx, since)
	met.RecordLLMStage(ctx, since)
	met.RecordTTSStage(ctx, since)
	met.RecordTurn(ctx, since)

	rm := collect(t, reader)
	for name, want := range map[string]uint64{
		"vocata.stt.duration":  1,
		"vocata.llm.duration":  2,
		"vocata.tts.duration":  1,
		"vocata.turn.duration": 1,
	} {
		if got := histogramCount(t, rm, name); got != want {
			t.Errorf("%s count = %d, want %d", name, got, want)
		}
	}
}

func TestProviderAndCacheCountersCarryAttributes(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	met, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	met.RecordProviderRequest(ctx, "stt", "transcribe", "ok")
	met.RecordProviderRequest(ctx, "stt", "transcribe", "error")
	met.RecordProviderError(ctx, "stt", "transcribe")
	met.RecordCacheLookup(ctx, "initial-greeting", "memory")
	met.RecordCacheLookup(ctx, "filler", "synthesized")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "vocata.provider.requests",
		observe.Attr("provider", "stt"), observe.Attr("kind", "transcribe"), observe.Attr("status", "ok"),
	); got != 1 {
		t.Errorf("ok requests = %d, want 1", got)
	}
	if got := counterValue(t, rm, "vocata.provider.errors",
		observe.Attr("provider", "stt"), observe.Attr("kind", "transcribe"),
	); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
	if got := counterValue(t, rm, "vocata.cache.lookups",
		observe.Attr("role", "initial-greeting"), observe.Attr("tier", "memory"),
	); got != 1 {
		t.Errorf("greeting memory lookups = %d, want 1", got)
	}
	if got := counterValue(t, rm, "vocata.cache.lookups",
		observe.Attr("role", "filler"), observe.Attr("tier", "synthesized"),
	); got != 1 {
		t.Errorf("filler synthesized lookups = %d, want 1", got)
	}
}

func TestNilMetricsRecordSafely(t *testing.T) {
	t.Parallel()

	var m *observe.Metrics
	ctx := context.Background()
	since := time.Now()

	m.RecordSTTStage(ctx, since)
	m.RecordLLMStage(ctx, since)
	m.RecordTTSStage(ctx, since)
	m.RecordTurn(ctx, since)
	m.RecordStage(ctx, nil, since)
	m.RecordProviderRequest(ctx, "stt", "transcribe", "ok")
	m.RecordProviderError(ctx, "stt", "transcribe")
	m.RecordCacheLookup(ctx, "filler", "memory")
	m.RecordBargeIn(ctx)
	m.RecordDiscardedSegment(ctx)
	m.SessionStarted(ctx)
	m.SessionEnded(ctx)
}
