package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider globally for the test.
// Tests calling it must not run in parallel.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestWithContact(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if got := ContactFrom(ctx); got != "" {
		t.Errorf("ContactFrom(background) = %q, want empty", got)
	}
	if got := WithContact(ctx, ""); got != ctx {
		t.Error("WithContact with empty id should return ctx unchanged")
	}
	if got := ContactFrom(WithContact(ctx, "mike")); got != "mike" {
		t.Errorf("ContactFrom = %q, want mike", got)
	}
}

func TestStartSpan_RecordsContact(t *testing.T) {
	exp := useTracer(t)

	ctx, span := StartSpan(WithContact(context.Background(), "donna"), "completion.respond")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan did not create a span with a trace id")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "completion.respond" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var found bool
	for _, a := range spans[0].Attributes {
		if a.Key == ContactKey && a.Value.AsString() == "donna" {
			found = true
		}
	}
	if !found {
		t.Errorf("span attributes %v missing contact", spans[0].Attributes)
	}
}

func TestCorrelationID(t *testing.T) {
	useTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "id")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 {
			t.Fatalf("correlation id %q: length %d, want 32", cid, len(cid))
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation id %s", cid)
		}
		seen[cid] = true
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)

	tests := []struct {
		name    string
		ctx     func() (context.Context, func())
		want    []string
		notWant []string
	}{
		{
			name:    "bare context",
			ctx:     func() (context.Context, func()) { return context.Background(), func() {} },
			notWant: []string{"trace_id", "contact"},
		},
		{
			name: "span and contact",
			ctx: func() (context.Context, func()) {
				ctx, span := StartSpan(WithContact(context.Background(), "harvey"), "op")
				return ctx, func() { span.End() }
			},
			want: []string{"trace_id=", "span_id=", "contact=harvey"},
		},
		{
			name: "contact only",
			ctx: func() (context.Context, func()) {
				return WithContact(context.Background(), "jessica"), func() {}
			},
			want:    []string{"contact=jessica"},
			notWant: []string{"trace_id"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			ctx, done := tt.ctx()
			defer done()

			Logger(ctx).Info("hello")
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q should not contain %q", out, w)
				}
			}
		})
	}
}
