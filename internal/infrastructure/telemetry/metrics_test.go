package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	mp, err := NewMeterProvider(context.Background(), MetricsConfig{}, nil)
	require.NoError(t, err)

	assert.False(t, mp.IsEnabled())
	assert.NotNil(t, mp.Meter(MeterName))
	assert.NoError(t, mp.ForceFlush(context.Background()))
	assert.NoError(t, mp.Shutdown(context.Background()))
}

func TestInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
	ctx := context.Background()

	in := NewInstruments(meter)
	counter := in.Counter(Instrument{Name: "syncs_total", Description: "syncs", Unit: "{sync}"})
	hist := in.Histogram(Instrument{Name: "latency", Unit: "s", Buckets: []float64{0.1, 1}})
	gauge := in.Gauge(Instrument{Name: "queue_depth", Description: "depth", Unit: "{item}"})
	require.NoError(t, in.Err())

	counter.Inc(ctx, AttrStore.String("test_store"))
	counter.Add(ctx, 2, AttrStore.String("test_store"))
	hist.RecordDuration(ctx, 500*time.Millisecond)
	hist.Record(ctx, 2)
	gauge.Record(ctx, 7)

	got := collect(t, reader)

	sum := got["syncs_total"].Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)

	h := got["latency"].Data.(metricdata.Histogram[float64])
	require.Len(t, h.DataPoints, 1)
	assert.Equal(t, uint64(2), h.DataPoints[0].Count)
	assert.Equal(t, []uint64{0, 1, 1}, h.DataPoints[0].BucketCounts)

	g := got["queue_depth"].Data.(metricdata.Gauge[int64])
	require.Len(t, g.DataPoints, 1)
	assert.Equal(t, int64(7), g.DataPoints[0].Value)
}

func TestInstruments_CollectsErrors(t *testing.T) {
	meter := sdkmetric.NewMeterProvider().Meter("test")
	in := NewInstruments(meter)

	in.Counter(Instrument{Name: "ok_total"})
	in.Histogram(Instrument{Name: "bad name!"})
	in.Gauge(Instrument{Name: ""})

	err := in.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad name!")
}
