// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, distributed tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] and served by [Handler].
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/speakingmate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// CompletionDuration tracks completion-service latency. Use with attribute:
	//   attribute.String("operation", "respond"|"suggest"|"grammar"|"analyze")
	CompletionDuration metric.Float64Histogram

	// CompletionErrors counts failed completion calls. Use with attributes:
	//   attribute.String("operation", ...), attribute.String("kind", ...)
	CompletionErrors metric.Int64Counter

	// MessagesAppended counts messages added to conversation logs. Use with
	// attribute: attribute.String("role", "user"|"assistant")
	MessagesAppended metric.Int64Counter

	// ReportsGenerated counts reports saved by batch generation.
	ReportsGenerated metric.Int64Counter

	// CaptureSessions counts speech capture sessions started.
	CaptureSessions metric.Int64Counter

	// CaptureErrors counts capture advisories. Use with attribute:
	//   attribute.String("kind", ...)
	CaptureErrors metric.Int64Counter

	// ActiveListeners tracks capture sessions currently listening.
	ActiveListeners metric.Int64UpDownCounter

	// PlaybackDuration tracks time from speak request to end of audio.
	PlaybackDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// round-trips to hosted language and speech models.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CompletionDuration, err = m.Float64Histogram("speakingmate.completion.duration",
		metric.WithDescription("Latency of completion-service calls by operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CompletionErrors, err = m.Int64Counter("speakingmate.completion.errors",
		metric.WithDescription("Failed completion-service calls by operation and kind."),
	); err != nil {
		return nil, err
	}
	if met.MessagesAppended, err = m.Int64Counter("speakingmate.messages.appended",
		metric.WithDescription("Messages appended to conversation logs by role."),
	); err != nil {
		return nil, err
	}
	if met.ReportsGenerated, err = m.Int64Counter("speakingmate.reports.generated",
		metric.WithDescription("Grammar reports saved by batch generation."),
	); err != nil {
		return nil, err
	}
	if met.CaptureSessions, err = m.Int64Counter("speakingmate.capture.sessions",
		metric.WithDescription("Speech capture sessions started."),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter("speakingmate.capture.errors",
		metric.WithDescription("Speech capture advisories by kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveListeners, err = m.Int64UpDownCounter("speakingmate.capture.active",
		metric.WithDescription("Capture sessions currently listening."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("speakingmate.playback.duration",
		metric.WithDescription("Duration of speech playback per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("speakingmate.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route pattern and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCompletion records the latency of one completion call and, when kind
// is non-empty, an error of that kind.
func (m *Metrics) RecordCompletion(ctx context.Context, operation string, seconds float64, kind string) {
	m.CompletionDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("operation", operation)),
	)
	if kind != "" {
		m.RecordCompletionError(ctx, operation, kind)
	}
}

// RecordCompletionError counts a completion failure without a latency sample.
func (m *Metrics) RecordCompletionError(ctx context.Context, operation, kind string) {
	m.CompletionErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("kind", kind),
		),
	)
}

// RecordMessage increments the appended-message counter for role.
func (m *Metrics) RecordMessage(ctx context.Context, isUser bool) {
	role := "assistant"
	if isUser {
		role = "user"
	}
	m.MessagesAppended.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordCaptureError increments the capture advisory counter for kind.
func (m *Metrics) RecordCaptureError(ctx context.Context, kind string) {
	m.CaptureErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
