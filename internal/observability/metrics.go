package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sealevel"

// Metrics holds the Prometheus counters, histograms, and gauges for the QC
// pipeline and the forecast job.
type Metrics struct {
	ReadingsConsumed prometheus.Counter
	RecordsProduced  prometheus.Counter
	ParseErrors      prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Quality control metrics.
	Outliers   *prometheus.CounterVec // labels: station
	Exclusions *prometheus.CounterVec // labels: station
	Baselines  *prometheus.CounterVec // labels: method={median,mean,historical,none}

	// Forecast metrics.
	ForecastRuns     *prometheus.CounterVec // labels: status={ok,insufficient_data,model_fit_failed,processing_timeout}
	ForecastDuration prometheus.Histogram
	ModelCache       *prometheus.CounterVec // labels: result={hit,miss}
	CurrentRegime    *prometheus.GaugeVec   // labels: station; value is the regime index
}

func newMetrics(richOpts bool) *Metrics {
	help := func(s string) string {
		if richOpts {
			return s
		}
		return ""
	}
	buckets := func(b []float64) []float64 {
		if richOpts {
			return b
		}
		return nil
	}

	return &Metrics{
		ReadingsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_consumed_total",
			Help:      help("Total readings read from the source topic."),
		}),
		RecordsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_produced_total",
			Help:      help("Total QC records written to the sink topic."),
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      help("Total source messages that could not be parsed."),
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      help("1 when the pipeline is active, 0 when shut down."),
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      help("Number of messages per batch extracted from Kafka."),
			Buckets:   buckets([]float64{1, 5, 10, 20, 30, 40, 50, 75, 100}),
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      help("Duration of a complete batch extract-QC-load cycle."),
			Buckets:   buckets([]float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10}),
		}),
		Outliers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outliers_total",
			Help:      help("Readings flagged as outliers by station."),
		}, []string{"station"}),
		Exclusions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cross_station_exclusions_total",
			Help:      help("Reference readings excluded by cross-station validation."),
		}, []string{"station"}),
		Baselines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "baselines_total",
			Help:      help("Baselines computed by method."),
		}, []string{"method"}),
		ForecastRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_runs_total",
			Help:      help("Per-station forecast runs by status."),
		}, []string{"status"}),
		ForecastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forecast_duration_seconds",
			Help:      help("Duration of one station forecast including model fitting."),
			Buckets:   buckets([]float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}),
		}),
		ModelCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_cache_total",
			Help:      help("Fitted model cache lookups by result."),
		}, []string{"result"}),
		CurrentRegime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_regime",
			Help:      help("Most probable regime per station (0 calm, 1 moderate, 2 surge, 3 storm)."),
		}, []string{"station"}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)

	prometheus.MustRegister(
		m.ReadingsConsumed,
		m.RecordsProduced,
		m.ParseErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.Outliers,
		m.Exclusions,
		m.Baselines,
		m.ForecastRuns,
		m.ForecastDuration,
		m.ModelCache,
		m.CurrentRegime,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}
