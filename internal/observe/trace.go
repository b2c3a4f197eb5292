package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/speakingmate"

// ContactKey is the span attribute naming the conversation partner.
const ContactKey = attribute.Key("speakingmate.contact")

type contactKey struct{}

// WithContact returns ctx tagged with the contact a request is about. Spans
// started from it and loggers derived from it carry the id.
func WithContact(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, contactKey{}, id)
}

// ContactFrom returns the contact id set by [WithContact], or "".
func ContactFrom(ctx context.Context) string {
	id, _ := ctx.Value(contactKey{}).(string)
	return id
}

// Tracer returns the package-level [trace.Tracer] from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The contact tagged on ctx, if any, is
// recorded as [ContactKey]. The caller must end the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := ContactFrom(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(ContactKey.String(id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID is the trace id of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger with trace_id, span_id and contact added
// when ctx carries them.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := ContactFrom(ctx); id != "" {
		attrs = append(attrs, slog.String("contact", id))
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}
