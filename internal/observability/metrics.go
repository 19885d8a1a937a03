package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for a conversion run.
type Metrics struct {
	FilesDecoded      prometheus.Counter
	TimestepsAppended prometheus.Counter
	ChunksAppended    prometheus.Counter
	NegativeClamped   *prometheus.CounterVec // labels: variable
	PipelineRunning   prometheus.Gauge
	PipelineState     prometheus.Gauge // numeric pipeline.State

	DecodeDuration prometheus.Histogram
	AppendDuration prometheus.Histogram
	ChunkTimesteps prometheus.Histogram

	ObserverErrors prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FilesDecoded,
		m.TimestepsAppended,
		m.ChunksAppended,
		m.NegativeClamped,
		m.PipelineRunning,
		m.PipelineState,
		m.DecodeDuration,
		m.AppendDuration,
		m.ChunkTimesteps,
		m.ObserverErrors,
	)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FilesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridstream",
			Name:      "files_decoded_total",
			Help:      "Snapshot files decoded.",
		}),
		TimestepsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridstream",
			Name:      "timesteps_appended_total",
			Help:      "Output timesteps durably appended.",
		}),
		ChunksAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridstream",
			Name:      "chunks_appended_total",
			Help:      "Chunks durably appended.",
		}),
		NegativeClamped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridstream",
			Name:      "deaccum_negative_values_total",
			Help:      "Grid cells with a negative de-accumulated interval, by variable.",
		}, []string{"variable"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridstream",
			Name:      "pipeline_running",
			Help:      "1 while a conversion is running, 0 otherwise.",
		}),
		PipelineState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridstream",
			Name:      "pipeline_state",
			Help:      "Current stream controller state (0=idle 1=sequencing 2=loading 3=transforming 4=appending 5=done 6=failed).",
		}),
		DecodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gridstream",
			Name:      "decode_duration_seconds",
			Help:      "Duration of one snapshot decode.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		AppendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gridstream",
			Name:      "append_duration_seconds",
			Help:      "Duration of one chunk append, including sync.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ChunkTimesteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gridstream",
			Name:      "chunk_timesteps",
			Help:      "Timesteps per appended chunk.",
			Buckets:   []float64{1, 2, 3, 6, 12, 24, 48, 96},
		}),
		ObserverErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridstream",
			Name:      "observer_errors_total",
			Help:      "Failed chunk progress notifications.",
		}),
	}
}
