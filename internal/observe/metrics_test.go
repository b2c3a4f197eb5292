package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the value of the data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordCompletion(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCompletion(ctx, "respond", 0.4, "")
	m.RecordCompletion(ctx, "respond", 1.2, "rate_limited")
	m.RecordCompletion(ctx, "analyze", 2.0, "analysis_parse_failure")

	rm := collect(t, reader)

	met := findMetric(rm, "speakingmate.completion.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration metric is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("histogram samples = %d, want 3", total)
	}

	if got := sumFor(t, rm, "speakingmate.completion.errors", "kind", "rate_limited"); got != 1 {
		t.Errorf("rate_limited errors = %d, want 1", got)
	}
}

func TestRecordMessage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordMessage(ctx, true)
	m.RecordMessage(ctx, true)
	m.RecordMessage(ctx, false)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "speakingmate.messages.appended", "role", "user"); got != 2 {
		t.Errorf("user messages = %d, want 2", got)
	}
	if got := sumFor(t, rm, "speakingmate.messages.appended", "role", "assistant"); got != 1 {
		t.Errorf("assistant messages = %d, want 1", got)
	}
}

func TestRecordCaptureError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCaptureError(ctx, "no_speech")
	rm := collect(t, reader)
	if got := sumFor(t, rm, "speakingmate.capture.errors", "kind", "no_speech"); got != 1 {
		t.Errorf("no_speech errors = %d, want 1", got)
	}
}

func TestActiveListenersGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveListeners.Add(ctx, 1)
	m.ActiveListeners.Add(ctx, 1)
	m.ActiveListeners.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "speakingmate.capture.active")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("metric is not a sum with data")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active listeners = %d, want 1", got)
	}
}
