package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// telemetry core.
type Metrics struct {
	RecordsIngested prometheus.Counter
	RecordsSkipped  prometheus.Counter
	AnomaliesTagged *prometheus.CounterVec // labels: tag
	EventsEmitted   *prometheus.CounterVec // labels: type, severity
	IngestDuration  prometheus.Histogram
	IngestBatchSize prometheus.Histogram

	// Geocode batch metrics.
	GeocodeRequests *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache    *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeEnabled  prometheus.Gauge

	// Materialization metrics.
	RollupsWritten prometheus.Counter
	ScoresWritten  prometheus.Counter
	JobDuration    *prometheus.HistogramVec // labels: job={geocode,rollup,scores}
}

// NewMetrics creates and registers all metrics with the default Prometheus
// registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RecordsIngested,
		m.RecordsSkipped,
		m.AnomaliesTagged,
		m.EventsEmitted,
		m.IngestDuration,
		m.IngestBatchSize,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeEnabled,
		m.RollupsWritten,
		m.ScoresWritten,
		m.JobDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RecordsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roadpulse",
			Name:      "records_ingested_total",
			Help:      "Total canonical records accepted into storage.",
		}),
		RecordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roadpulse",
			Name:      "records_skipped_total",
			Help:      "Total payload items rejected during normalization.",
		}),
		AnomaliesTagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roadpulse",
			Name:      "anomalies_tagged_total",
			Help:      "Sanity-check anomalies detected during normalization, by tag.",
		}, []string{"tag"}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roadpulse",
			Name:      "events_emitted_total",
			Help:      "Road events derived from ingested records.",
		}, []string{"type", "severity"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "roadpulse",
			Name:      "ingest_duration_seconds",
			Help:      "Duration of one normalize-analyze-persist cycle.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		IngestBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "roadpulse",
			Name:      "ingest_batch_size",
			Help:      "Number of items per ingested envelope.",
			Buckets:   []float64{1, 5, 10, 20, 50, 100, 250, 500},
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roadpulse",
			Name:      "geocode_requests_total",
			Help:      "Reverse-geocode provider requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roadpulse",
			Name:      "geocode_cache_total",
			Help:      "Geocode cache lookups by result.",
		}, []string{"result"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roadpulse",
			Name:      "geocode_enabled",
			Help:      "1 when geocode enrichment is enabled, 0 otherwise.",
		}),
		RollupsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roadpulse",
			Name:      "rollups_written_total",
			Help:      "Hourly rollups materialized.",
		}),
		ScoresWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roadpulse",
			Name:      "scores_written_total",
			Help:      "Window scores materialized.",
		}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "roadpulse",
			Name:      "job_duration_seconds",
			Help:      "Duration of background jobs by job name.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
	}
}
