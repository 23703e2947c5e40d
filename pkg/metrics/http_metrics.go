package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics shared by all REST surfaces
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"service", "method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "method", "path"})

	httpRequestsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "http_requests_in_flight",
		Help: "Current number of in-flight HTTP requests",
	}, []string{"service"})
)

// Metrics records request-level metrics for one service
type Metrics struct {
	service string
}

// NewMetrics creates a metrics recorder labelled with the service name
func NewMetrics(service string) *Metrics {
	return &Metrics{service: service}
}

// RecordHTTPRequest records one completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(m.service, method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(m.service, method, path).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	httpRequestsInFlight.WithLabelValues(m.service).Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	httpRequestsInFlight.WithLabelValues(m.service).Dec()
}
