package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "surf_forecast"

// Metrics holds the Prometheus counters, histograms, and gauges for the forecast worker.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec // labels: outcome={success,error}
	RunDuration     prometheus.Histogram
	LastSuccessTime prometheus.Gauge
	PipelineRunning prometheus.Gauge

	RowsAssembled prometheus.Counter
	RowsUpserted  prometheus.Counter
	RowsPublished prometheus.Counter

	// Source metrics.
	SiteErrors          *prometheus.CounterVec   // labels: site, stage={wave,wind}
	SourceRequests      *prometheus.CounterVec   // labels: source, kind={wave,wind}, outcome={success,error}
	SourceAPIDuration   *prometheus.HistogramVec // labels: source, kind
	SourceCache         *prometheus.CounterVec   // labels: kind, result={hit,miss}
	SinkErrors          *prometheus.CounterVec   // labels: class={transient,permanent}
	SinkRequestDuration prometheus.Histogram
	PublishErrors       prometheus.Counter
}

// NewMetrics creates and registers all worker metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// Register adds every collector to reg. Used to build a registry for a Pushgateway push.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Forecast runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-score-upsert run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		LastSuccessTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run whose rows were acknowledged by the store.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while the scheduled loop is active, 0 otherwise.",
		}),
		RowsAssembled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_assembled_total",
			Help:      "Forecast rows built from source data.",
		}),
		RowsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_upserted_total",
			Help:      "Forecast rows acknowledged by the store.",
		}),
		RowsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_published_total",
			Help:      "Forecast rows published to Kafka.",
		}),
		SiteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "site_errors_total",
			Help:      "Per-site source failures.",
		}, []string{"site", "stage"}),
		SourceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Upstream observation requests by source, kind, and outcome.",
		}, []string{"source", "kind", "outcome"}),
		SourceAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_api_duration_seconds",
			Help:      "Upstream observation request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source", "kind"}),
		SourceCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_cache_total",
			Help:      "Observation cache lookups by kind and result.",
		}, []string{"kind", "result"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed bulk upserts by error class.",
		}, []string{"class"}),
		SinkRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_request_duration_seconds",
			Help:      "Bulk upsert duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed Kafka publications.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RunsTotal,
		m.RunDuration,
		m.LastSuccessTime,
		m.PipelineRunning,
		m.RowsAssembled,
		m.RowsUpserted,
		m.RowsPublished,
		m.SiteErrors,
		m.SourceRequests,
		m.SourceAPIDuration,
		m.SourceCache,
		m.SinkErrors,
		m.SinkRequestDuration,
		m.PublishErrors,
	}
}
