// Package metrics exposes Prometheus counters for authentication outcomes and
// HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a dedicated registry so tests can build independent instances.
type Metrics struct {
	registry     *prometheus.Registry
	authEvents   *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carte",
			Name:      "auth_events_total",
			Help:      "Authentication outcomes and lock transitions.",
		}, []string{"event"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carte",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carte",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.authEvents,
		m.httpRequests,
		m.httpLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordAuthEvent counts one authentication event such as "success" or "lockout".
func (m *Metrics) RecordAuthEvent(event string) {
	m.authEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
