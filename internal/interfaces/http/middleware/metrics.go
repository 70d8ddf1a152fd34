package middleware

import (
	"time"

	"github.com/entitlesync/engine/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var responseSizeBuckets = []float64{100, 500, 1000, 5000, 10000, 50000, 100000}

// HTTPMetrics records request count, latency, response size and in-flight
// requests per matched route. A nil meter, or one that cannot create the
// instruments, turns it into a pass-through.
func HTTPMetrics(meter metric.Meter) gin.HandlerFunc {
	if meter == nil {
		return passThrough
	}

	in := telemetry.NewInstruments(meter)
	requests := in.Counter(telemetry.Instrument{
		Name: "http_server_request_total", Description: "Sidecar API requests", Unit: "{request}",
	})
	latency := in.Histogram(telemetry.Instrument{
		Name: "http_server_request_duration_seconds", Description: "Sidecar API request latency", Unit: "s",
		Buckets: telemetry.HTTPDurationBuckets,
	})
	size := in.Histogram(telemetry.Instrument{
		Name: "http_server_response_size_bytes", Description: "Sidecar API response body size", Unit: "By",
		Buckets: responseSizeBuckets,
	})
	inFlight := in.UpDownCounter(telemetry.Instrument{
		Name: "http_server_active_requests", Description: "Sidecar API requests being served", Unit: "{request}",
	})
	if in.Err() != nil {
		return passThrough
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		started := time.Now()
		inFlight.Add(ctx, 1)
		defer inFlight.Add(ctx, -1)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		attrs := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(c.Request.Method),
			telemetry.AttrHTTPRoute.String(route),
		}
		requests.Inc(ctx, append(attrs, telemetry.AttrHTTPStatusCode.Int(c.Writer.Status()))...)
		latency.RecordDuration(ctx, time.Since(started), attrs...)
		if n := c.Writer.Size(); n > 0 {
			size.Record(ctx, float64(n), attrs...)
		}
	}
}

func passThrough(c *gin.Context) {
	c.Next()
}
