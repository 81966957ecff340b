package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest installs a manual-reader meter provider and returns the
// reader plus a cleanup restoring the previous provider.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(original)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown meter provider: %v", err)
		}
	}
	return reader, cleanup
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestRecordResolve(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordResolve(ctx, "applied", 12*time.Millisecond)
	m.RecordResolve(ctx, "conflict", 4*time.Millisecond)

	rm := collectMetrics(t, reader)

	count := findMetric(rm, "collab.resolve.count")
	require.NotNil(t, count)
	sum, ok := count.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, sum.DataPoints, 2, "one datapoint per status")

	latency := findMetric(rm, "collab.resolve.latency_ms")
	require.NotNil(t, latency)
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.NotEmpty(t, hist.DataPoints)
}

func TestRecordCommit(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordCommit(context.Background(), 2048)

	rm := collectMetrics(t, reader)
	size := findMetric(rm, "collab.snapshot.size_bytes")
	require.NotNil(t, size)

	hist, ok := size.Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.NotEmpty(t, hist.DataPoints)
	assert.Greater(t, hist.DataPoints[0].Count, uint64(0))
}

func TestRecordBroadcastDrop(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordBroadcastDrop(context.Background(), "typing")

	rm := collectMetrics(t, reader)
	drops := findMetric(rm, "collab.broadcast.drops")
	require.NotNil(t, drops)

	sum, ok := drops.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.NotEmpty(t, sum.DataPoints)

	found := false
	for _, dp := range sum.DataPoints {
		for _, attr := range dp.Attributes.ToSlice() {
			if attr.Key == "event_type" && attr.Value.AsString() == "typing" {
				found = true
			}
		}
	}
	assert.True(t, found, "expected event_type attribute on drop counter")
}

func TestRecordLockWait(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordLockWait(context.Background(), 30*time.Millisecond)

	rm := collectMetrics(t, reader)
	wait := findMetric(rm, "collab.lock.wait_ms")
	require.NotNil(t, wait)
}

func TestNoopMetrics(t *testing.T) {
	ctx := context.Background()
	m := NoopMetrics{}

	assert.NotPanics(t, func() {
		m.RecordResolve(ctx, "applied", time.Millisecond)
		m.RecordCommit(ctx, 100)
		m.RecordBroadcastDrop(ctx, "typing")
		m.RecordLockWait(ctx, time.Millisecond)
	})
}
