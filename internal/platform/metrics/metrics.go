package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the process. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ChangeRecordsTotal *prometheus.CounterVec
	AuditFailuresTotal *prometheus.CounterVec

	ImportRowsTotal     *prometheus.CounterVec
	ExportsTotal        *prometheus.CounterVec
	ExportCacheHits     *prometheus.CounterVec
	ExportCacheMisses   *prometheus.CounterVec
	OutboxDispatchTotal *prometheus.CounterVec
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contaerp_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contaerp_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		ChangeRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contaerp_change_records_total",
				Help: "Change records appended, by action",
			},
			[]string{"action"},
		),
		AuditFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contaerp_audit_failures_total",
				Help: "Audit problems swallowed on the write path, by reason",
			},
			[]string{"reason"},
		),
		ImportRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contaerp_import_rows_total",
				Help: "Imported rows, by entity and outcome",
			},
			[]string{"entity", "outcome"},
		),
		ExportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contaerp_exports_total",
				Help: "Exports served, by entity and format",
			},
			[]string{"entity", "format"},
		),
		ExportCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contaerp_export_cache_hits_total",
				Help: "Rendered exports served from cache",
			},
			[]string{"entity"},
		),
		ExportCacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contaerp_export_cache_misses_total",
				Help: "Rendered exports that had to be rendered",
			},
			[]string{"entity"},
		),
		OutboxDispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contaerp_outbox_dispatch_total",
				Help: "Outbox deliveries, by entity and outcome",
			},
			[]string{"entity", "outcome"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ChangeRecordsTotal,
		m.AuditFailuresTotal,
		m.ImportRowsTotal,
		m.ExportsTotal,
		m.ExportCacheHits,
		m.ExportCacheMisses,
		m.OutboxDispatchTotal,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ChangeRecorded(action string) {
	if m == nil {
		return
	}
	m.ChangeRecordsTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) AuditFailed(reason string) {
	if m == nil {
		return
	}
	m.AuditFailuresTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ImportRow(entity, outcome string) {
	if m == nil {
		return
	}
	m.ImportRowsTotal.WithLabelValues(entity, outcome).Inc()
}

func (m *Metrics) Exported(entity, format string) {
	if m == nil {
		return
	}
	m.ExportsTotal.WithLabelValues(entity, format).Inc()
}

func (m *Metrics) ExportCache(entity string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.ExportCacheHits.WithLabelValues(entity).Inc()
		return
	}
	m.ExportCacheMisses.WithLabelValues(entity).Inc()
}

func (m *Metrics) OutboxDispatched(entity, outcome string) {
	if m == nil {
		return
	}
	m.OutboxDispatchTotal.WithLabelValues(entity, outcome).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}
