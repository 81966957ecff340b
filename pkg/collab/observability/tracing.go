package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the collabgraph tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("collabgraph")

// StartResolveSpan starts a span for a conflict-resolution pass.
func StartResolveSpan(ctx context.Context, sessionID string, baseVersion int64, opCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "collab.resolve",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int64("base.version", baseVersion),
			attribute.Int("op.count", opCount),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartCommitSpan starts a span for a version-store commit.
func StartCommitSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "collab.commit",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartGenerationSpan starts a span for a serialized message-processing
// cycle, lock wait included.
func StartGenerationSpan(ctx context.Context, sessionID, authorID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "collab.generate",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("author.id", authorID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
