package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the gateway's operational counters on a private registry
// so the /metrics endpoint only exposes what the service itself records.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	throttled  prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "x402resolve",
			Subsystem: "gateway",
			Name:      "operations_total",
			Help:      "Escrow operations processed, by operation and result.",
		}, []string{"operation", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "x402resolve",
			Subsystem: "gateway",
			Name:      "operation_duration_seconds",
			Help:      "Escrow operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "x402resolve",
			Subsystem: "gateway",
			Name:      "requests_throttled_total",
			Help:      "HTTP requests rejected by the per-client rate limiter.",
		}),
	}
	registry.MustRegister(
		m.operations,
		m.latency,
		m.throttled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe records one completed operation with its outcome and latency.
func (m *Metrics) Observe(operation string, err error, started time.Time) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// Throttled records one request rejected before reaching a handler.
func (m *Metrics) Throttled() {
	if m == nil {
		return
	}
	m.throttled.Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
