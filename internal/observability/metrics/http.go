package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetrics captures low-cardinality HTTP server metrics. The
// endpoint label is the route template, never the raw path, so callback
// URLs with provider names stay bounded.
type HTTPMetrics struct {
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func NewHTTPMetrics(cfg Config, provider metric.MeterProvider) (*HTTPMetrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "points-payment"
	}
	meter := provider.Meter(name + "/http")

	duration, err := meter.Float64Histogram("http.server.duration_ms")
	if err != nil {
		return nil, err
	}
	inFlight, err := meter.Int64UpDownCounter("http.server.in_flight")
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{duration: duration, inFlight: inFlight}, nil
}

// GinMiddleware records request duration and in-flight gauges per route.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx := c.Request.Context()
		routeAttrs := FilterAttributes(
			attribute.String("endpoint", route),
			attribute.String("method", c.Request.Method),
		)

		m.inFlight.Add(ctx, 1, metric.WithAttributes(routeAttrs...))
		start := time.Now()
		c.Next()
		m.inFlight.Add(ctx, -1, metric.WithAttributes(routeAttrs...))

		attrs := append(routeAttrs, attribute.String("status_code", strconv.Itoa(c.Writer.Status())))
		m.duration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
	}
}
