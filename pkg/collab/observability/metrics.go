package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records collaboration engine metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordResolve records a conflict-resolution pass with its outcome
	// ("applied", "merged", "conflict") and duration.
	RecordResolve(ctx context.Context, status string, duration time.Duration)

	// RecordCommit records a committed snapshot and its encoded size.
	RecordCommit(ctx context.Context, sizeBytes int64)

	// RecordBroadcastDrop records an event dropped to a full buffer.
	RecordBroadcastDrop(ctx context.Context, eventType string)

	// RecordLockWait records time spent queued behind a session lock.
	RecordLockWait(ctx context.Context, duration time.Duration)
}

// NoopMetrics is a MetricsRecorder that records nothing.
type NoopMetrics struct{}

// RecordResolve implements MetricsRecorder.
func (NoopMetrics) RecordResolve(context.Context, string, time.Duration) {}

// RecordCommit implements MetricsRecorder.
func (NoopMetrics) RecordCommit(context.Context, int64) {}

// RecordBroadcastDrop implements MetricsRecorder.
func (NoopMetrics) RecordBroadcastDrop(context.Context, string) {}

// RecordLockWait implements MetricsRecorder.
func (NoopMetrics) RecordLockWait(context.Context, time.Duration) {}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	resolves       metric.Int64Counter
	resolveLatency metric.Float64Histogram
	snapshotSize   metric.Int64Histogram
	broadcastDrops metric.Int64Counter
	lockWait       metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("collabgraph")

	resolves, err := meter.Int64Counter("collab.resolve.count",
		metric.WithDescription("Number of conflict-resolution passes"),
	)
	if err != nil {
		return nil, err
	}

	resolveLatency, err := meter.Float64Histogram("collab.resolve.latency_ms",
		metric.WithDescription("Conflict-resolution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	snapshotSize, err := meter.Int64Histogram("collab.snapshot.size_bytes",
		metric.WithDescription("Committed snapshot size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	broadcastDrops, err := meter.Int64Counter("collab.broadcast.drops",
		metric.WithDescription("Events dropped to full participant buffers"),
	)
	if err != nil {
		return nil, err
	}

	lockWait, err := meter.Float64Histogram("collab.lock.wait_ms",
		metric.WithDescription("Time spent queued behind a session lock in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		resolves:       resolves,
		resolveLatency: resolveLatency,
		snapshotSize:   snapshotSize,
		broadcastDrops: broadcastDrops,
		lockWait:       lockWait,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordResolve records a conflict-resolution pass.
func (m *otelMetrics) RecordResolve(ctx context.Context, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("status", status),
	}
	m.resolves.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.resolveLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordCommit records a committed snapshot.
func (m *otelMetrics) RecordCommit(ctx context.Context, sizeBytes int64) {
	m.snapshotSize.Record(ctx, sizeBytes)
}

// RecordBroadcastDrop records a dropped delivery.
func (m *otelMetrics) RecordBroadcastDrop(ctx context.Context, eventType string) {
	m.broadcastDrops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordLockWait records queue time behind a session lock.
func (m *otelMetrics) RecordLockWait(ctx context.Context, duration time.Duration) {
	m.lockWait.Record(ctx, float64(duration.Milliseconds()))
}
