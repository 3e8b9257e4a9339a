// Package metrics exposes Prometheus counters for collection, persistence,
// normalization and pricing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several instances can coexist in tests.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	adapterRequests *prometheus.CounterVec
	droppedItems    *prometheus.CounterVec
	rowsWritten     *prometheus.CounterVec
	batches         *prometheus.CounterVec
	normalized      *prometheus.CounterVec
	pricingDefaults *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates and registers the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		adapterRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalogsync",
			Name:      "adapter_requests_total",
			Help:      "Provider requests by supplier and outcome.",
		}, []string{"supplier", "outcome"}),
		droppedItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalogsync",
			Name:      "adapter_dropped_items_total",
			Help:      "Provider items dropped for lacking an external id.",
		}, []string{"supplier"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalogsync",
			Name:      "rows_written_total",
			Help:      "Raw record rows by supplier, write path and outcome.",
		}, []string{"supplier", "path", "outcome"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalogsync",
			Name:      "batches_total",
			Help:      "Finished collection batches by supplier and status.",
		}, []string{"supplier", "status"}),
		normalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalogsync",
			Name:      "normalized_records_total",
			Help:      "Normalization results by supplier and outcome.",
		}, []string{"supplier", "outcome"}),
		pricingDefaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalogsync",
			Name:      "pricing_default_total",
			Help:      "Prices computed with the default margin because no rule matched.",
		}, []string{"marketplace"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalogsync",
			Name:      "http_requests_total",
			Help:      "API requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "catalogsync",
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		m.adapterRequests,
		m.droppedItems,
		m.rowsWritten,
		m.batches,
		m.normalized,
		m.pricingDefaults,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) AdapterRequest(supplier, outcome string) {
	if m == nil {
		return
	}
	m.adapterRequests.WithLabelValues(supplier, outcome).Inc()
}

func (m *Metrics) DroppedItems(supplier string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.droppedItems.WithLabelValues(supplier).Add(float64(n))
}

func (m *Metrics) RowsWritten(supplier, path, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsWritten.WithLabelValues(supplier, path, outcome).Add(float64(n))
}

func (m *Metrics) BatchFinished(supplier, status string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(supplier, status).Inc()
}

func (m *Metrics) Normalized(supplier, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.normalized.WithLabelValues(supplier, outcome).Add(float64(n))
}

func (m *Metrics) PricingDefault(marketplace string) {
	if m == nil {
		return
	}
	m.pricingDefaults.WithLabelValues(marketplace).Inc()
}

// HTTPRequest records one served API request. route is the matched route
// template, never the raw path.
func (m *Metrics) HTTPRequest(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
