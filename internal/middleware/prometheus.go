package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ispilo-backend/pkg/metrics"
)

// PrometheusMiddleware records HTTP metrics per request
type PrometheusMiddleware struct {
	metrics *metrics.Metrics
}

// NewPrometheusMiddleware creates a new Prometheus middleware
func NewPrometheusMiddleware(m *metrics.Metrics) *PrometheusMiddleware {
	return &PrometheusMiddleware{metrics: m}
}

// Handler returns the Gin middleware handler
func (p *PrometheusMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p.metrics.IncrementHTTPRequestsInFlight()
		defer p.metrics.DecrementHTTPRequestsInFlight()

		start := time.Now()
		c.Next()

		p.metrics.RecordHTTPRequest(
			c.Request.Method,
			c.FullPath(),
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

// MetricsHandler exposes the Prometheus scrape endpoint
func MetricsHandler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
