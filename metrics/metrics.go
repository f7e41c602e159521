// Package metrics registers the platform's prometheus collectors. One
// registry per process, injected where needed; the HTTP layer exposes it at
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles every collector the platform reports.
type Metrics struct {
	Registry *prometheus.Registry

	EventsDispatched   *prometheus.CounterVec
	EventsFailed       *prometheus.CounterVec
	EventsDropped      prometheus.Counter
	EventsDeadLettered prometheus.Counter
	DeadLetterSize     prometheus.Gauge
	EventQueueDepth    prometheus.Gauge

	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter

	IngestRowsValid   *prometheus.CounterVec
	IngestRowsInvalid *prometheus.CounterVec

	TenantBypassUses prometheus.Counter

	KPIComputeSeconds *prometheus.HistogramVec
	StaleHolds        *prometheus.GaugeVec
}

// New builds a registry with all platform collectors plus the standard Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kpiops_events_dispatched_total",
			Help: "Events handed to handlers, by event type and handler class.",
		}, []string{"event_type", "class"}),
		EventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kpiops_events_failed_total",
			Help: "Handler invocations that returned an error or panicked.",
		}, []string{"event_type", "handler"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kpiops_events_dropped_total",
			Help: "Non-critical events evicted from a saturated async queue.",
		}),
		EventsDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kpiops_events_dead_lettered_total",
			Help: "Events moved to the dead-letter list after repeated failures.",
		}),
		DeadLetterSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kpiops_dead_letter_size",
			Help: "Current size of the in-memory dead-letter list.",
		}),
		EventQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kpiops_event_queue_depth",
			Help: "Current depth of the async dispatch queue.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kpiops_kpi_cache_hits_total",
			Help: "KPI cache lookups answered without recomputation.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kpiops_kpi_cache_misses_total",
			Help: "KPI cache lookups that fell through to the engine.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kpiops_kpi_cache_evictions_total",
			Help: "KPI cache entries evicted by size bound or invalidation.",
		}),
		IngestRowsValid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kpiops_ingest_rows_valid_total",
			Help: "Rows accepted by batch validation, by entity kind.",
		}, []string{"kind"}),
		IngestRowsInvalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kpiops_ingest_rows_invalid_total",
			Help: "Rows rejected by batch validation, by entity kind.",
		}, []string{"kind"}),
		TenantBypassUses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kpiops_tenant_bypass_total",
			Help: "Cross-tenant capability engagements by ADMIN/POWER_USER actors.",
		}),
		KPIComputeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kpiops_kpi_compute_seconds",
			Help:    "Wall time of uncached KPI computations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kpi"}),
		StaleHolds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kpiops_stale_holds",
			Help: "Active holds older than 30 days, by client.",
		}, []string{"client_id"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EventsDispatched, m.EventsFailed, m.EventsDropped,
		m.EventsDeadLettered, m.DeadLetterSize, m.EventQueueDepth,
		m.CacheHits, m.CacheMisses, m.CacheEvictions,
		m.IngestRowsValid, m.IngestRowsInvalid,
		m.TenantBypassUses, m.KPIComputeSeconds, m.StaleHolds,
	)
	return m
}
