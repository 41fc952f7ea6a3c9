package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Query outcomes recorded by QueriesTotal
const (
	OutcomeOK               = "ok"
	OutcomeEmpty            = "empty"
	OutcomeInvalidQuery     = "invalid_query"
	OutcomeStoreUnavailable = "store_unavailable"
	OutcomeDataCorruption   = "data_corruption"
	OutcomeError            = "error"
)

// Metrics holds Prometheus metrics for the query engine.
type Metrics struct {
	// QueriesTotal counts handled queries by outcome.
	QueriesTotal *prometheus.CounterVec
	// QueryDuration tracks end-to-end query latency inside a worker.
	QueryDuration prometheus.Histogram
	// StageDuration tracks cursor, window, naive_window and hydrate latency.
	StageDuration *prometheus.HistogramVec
	// QueueWait tracks how long a request waits for a free worker.
	QueueWait prometheus.Histogram
	// PoolHandles reports the number of open store handles.
	PoolHandles prometheus.Gauge
	// CursorCacheLookups counts memoized cursor lookups by result (hit, miss).
	CursorCacheLookups *prometheus.CounterVec
	// PayloadCorruptions counts rows whose payload range failed to decode.
	PayloadCorruptions prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewMetricsWithRegistry creates metrics with a custom registry for testing.
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		QueriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditq_queries_total",
			Help: "Total number of audit event queries by outcome",
		}, []string{"outcome"}),

		QueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditq_query_duration_seconds",
			Help:    "Duration of audit event queries",
			Buckets: prometheus.DefBuckets,
		}),

		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auditq_query_stage_duration_seconds",
			Help:    "Duration of query stages",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"stage"}),

		QueueWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditq_queue_wait_seconds",
			Help:    "Time a query waits for a worker",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),

		PoolHandles: f.NewGauge(prometheus.GaugeOpts{
			Name: "auditq_pool_handles",
			Help: "Number of open metadata store handles",
		}),

		CursorCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditq_cursor_cache_lookups_total",
			Help: "Memoized cursor lookups by result",
		}, []string{"result"}),

		PayloadCorruptions: f.NewCounter(prometheus.CounterOpts{
			Name: "auditq_payload_corruptions_total",
			Help: "Total number of payload reads that failed the index/blob invariant",
		}),
	}
}
