package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/authapp/zitadel-sub007/pkg/observability"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func counterValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordPush(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := observability.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordPush(ctx, 20*time.Millisecond, 3, nil)
	metrics.RecordPush(ctx, 5*time.Millisecond, 0, errors.New("boom"))

	byName := collect(t, reader)
	assert.Equal(t, int64(2), counterValue(t, byName["eventstore.push.total"]))
	assert.Equal(t, int64(1), counterValue(t, byName["eventstore.push.errors"]))
	assert.Equal(t, int64(3), counterValue(t, byName["eventstore.events.appended"]))
}

func TestRecordProjectionMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := observability.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordProjectionError(ctx, "user_counts")
	metrics.RecordProjectionError(ctx, "user_counts")
	metrics.RecordProjectionLag(ctx, "user_counts", 250*time.Millisecond)

	byName := collect(t, reader)
	assert.Equal(t, int64(2), counterValue(t, byName["projection.errors"]))

	lag, ok := byName["projection.lag"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, lag.DataPoints, 1)
	assert.InDelta(t, 0.25, lag.DataPoints[0].Value, 0.001)
}

func TestTraceIDWithoutSpan(t *testing.T) {
	assert.Empty(t, observability.TraceID(context.Background()))
}
