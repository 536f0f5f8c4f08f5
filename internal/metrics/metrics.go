// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Registry owns every collector below; /metrics serves it.
	Registry *prometheus.Registry

	operations       *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	offlineFetches   *prometheus.CounterVec
	offlineInstalls  *prometheus.CounterVec
	changesPublished *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
	backupsWritten   prometheus.Counter
}

// New creates a dedicated registry so repeated construction in tests never
// trips duplicate registration.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spese_ledger_operations_total",
				Help: "Ledger operations by name and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		operationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spese_ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spese_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spese_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		offlineFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spese_offline_fetches_total",
				Help: "Offline handler responses by source (cache, network, error).",
			},
			[]string{"source"},
		),
		offlineInstalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spese_offline_installs_total",
				Help: "Offline worker installs by outcome.",
			},
			[]string{"outcome"},
		),
		changesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spese_changes_published_total",
				Help: "Change events published by outcome.",
			},
			[]string{"outcome"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spese_http_requests_total",
				Help: "HTTP requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		httpLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spese_http_request_duration_seconds",
				Help:    "Duration of HTTP requests by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		backupsWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "spese_backups_written_total",
				Help: "Snapshot backups written by the backup worker.",
			},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordOperation counts one ledger operation and observes its duration.
func (m *Metrics) RecordOperation(operation string, err error, d time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

func (m *Metrics) IncrOfflineFetch(source string) {
	m.offlineFetches.WithLabelValues(source).Inc()
}

func (m *Metrics) IncrOfflineInstall(outcome string) {
	m.offlineInstalls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrChangePublished(outcome string) {
	m.changesPublished.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest counts a served request and observes its duration.
func (m *Metrics) RecordHTTPRequest(method, route, status string, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpLatency.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) IncrBackupWritten() {
	m.backupsWritten.Inc()
}
