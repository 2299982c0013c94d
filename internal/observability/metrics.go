package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sensor_enrich"

// Metrics holds the Prometheus counters, histograms, and gauges for the enrichment service.
type Metrics struct {
	MessagesReceived     prometheus.Counter
	MessagesAcked        prometheus.Counter
	MessagesRequeued     prometheus.Counter
	MessagesSkipped      *prometheus.CounterVec // labels: reason={no_coordinates,invalid_coordinates,no_admin_match}
	MessagesDeadLettered prometheus.Counter
	EnrichErrors         prometheus.Counter
	RecordsSunk          prometheus.Counter
	ProcessorRunning     prometheus.Gauge

	// Cache metrics.
	CacheLookups *prometheus.CounterVec // labels: cache={admin,postal_subset,postal_point}, result={hit,miss,expired}
	CacheEntries *prometheus.GaugeVec   // labels: cache

	// Boundary resolution metrics.
	BoundaryQueryDuration *prometheus.HistogramVec // labels: level
	BoundaryLookups       *prometheus.CounterVec   // labels: level, outcome
	PostalCandidates      prometheus.Histogram

	// Batch driver metrics.
	BatchSliceDuration prometheus.Histogram
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total messages delivered by the transport.",
		}),
		MessagesAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_acked_total",
			Help:      "Total messages acknowledged, including skipped ones.",
		}),
		MessagesRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_requeued_total",
			Help:      "Total messages negatively acknowledged for redelivery.",
		}),
		MessagesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_skipped_total",
			Help:      "Messages acknowledged without producing a record, by reason.",
		}, []string{"reason"}),
		MessagesDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dead_lettered_total",
			Help:      "Messages moved to the dead-letter sink after reaching the delivery cap.",
		}),
		EnrichErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrich_errors_total",
			Help:      "Total decode, enrichment, and sink failures.",
		}),
		RecordsSunk: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_sunk_total",
			Help:      "Total enriched records accepted by the sinks.",
		}),
		ProcessorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processor_running",
			Help:      "1 when the stream processor is active, 0 when shut down.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Enrichment cache lookups by cache instance and result.",
		}, []string{"cache", "result"}),
		CacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries currently held per cache instance, expired ones included until read.",
		}, []string{"cache"}),
		BoundaryQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "boundary_query_duration_seconds",
			Help:      "Spatial containment query duration by boundary level.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"level"}),
		BoundaryLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boundary_lookups_total",
			Help:      "Boundary lookups that reached the dataset, by level and outcome.",
		}, []string{"level", "outcome"}),
		PostalCandidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "postal_candidates_scanned",
			Help:      "Postal rows tested per point lookup.",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		BatchSliceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_slice_duration_seconds",
			Help:      "Duration of one batch slice enrich-and-sink cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesReceived,
		m.MessagesAcked,
		m.MessagesRequeued,
		m.MessagesSkipped,
		m.MessagesDeadLettered,
		m.EnrichErrors,
		m.RecordsSunk,
		m.ProcessorRunning,
		m.CacheLookups,
		m.CacheEntries,
		m.BoundaryQueryDuration,
		m.BoundaryLookups,
		m.PostalCandidates,
		m.BatchSliceDuration,
	}
}
