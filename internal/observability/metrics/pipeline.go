package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for meeting processing runs.
type PipelineMetrics struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	activeRuns    prometheus.Gauge
	queueDepth    prometheus.Gauge
	audioDuration prometheus.Histogram
}

// NewPipelineMetrics creates and registers new pipeline metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Total number of meeting processing runs",
		},
		[]string{"outcome"}, // outcome: success, failure
	)

	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Time spent in each processing stage",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
		},
		[]string{"stage"}, // stage: upload, diarization, transcription, report
	)

	m.stageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_errors_total",
			Help: "Total number of stage failures",
		},
		[]string{"stage"},
	)

	m.activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_active_runs",
			Help: "Current number of meetings being processed",
		},
	)

	m.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Current number of pending processing jobs",
		},
	)

	m.audioDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_audio_duration_seconds",
			Help:    "Duration of processed meeting recordings",
			Buckets: prometheus.ExponentialBuckets(60, 2, 8), // 1min to ~2h
		},
	)
}

func (m *PipelineMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.runsTotal,
		m.stageDuration,
		m.stageErrors,
		m.activeRuns,
		m.queueDepth,
		m.audioDuration,
	}
}

// Describe implements the Collector interface
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.getCollectors() {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.getCollectors() {
		collector.Collect(ch)
	}
}

// RecordRun records the outcome of a processing run.
func (m *PipelineMetrics) RecordRun(outcome string) {
	m.runsTotal.WithLabelValues(outcome).Inc()
}

// RecordStageDuration records the time spent in a stage.
func (m *PipelineMetrics) RecordStageDuration(stage string, seconds float64) {
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordStageError records a stage failure.
func (m *PipelineMetrics) RecordStageError(stage string) {
	m.stageErrors.WithLabelValues(stage).Inc()
}

// RunStarted increments the active run gauge.
func (m *PipelineMetrics) RunStarted() { m.activeRuns.Inc() }

// RunFinished decrements the active run gauge.
func (m *PipelineMetrics) RunFinished() { m.activeRuns.Dec() }

// SetQueueDepth updates the pending job gauge.
func (m *PipelineMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// RecordAudioDuration records the length of a processed recording.
func (m *PipelineMetrics) RecordAudioDuration(seconds float64) {
	m.audioDuration.Observe(seconds)
}
