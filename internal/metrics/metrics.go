// Package metrics exposes pipeline metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/satriahrh/voicenote-relay/internal/pipeline"
)

const namespace = "voicenote_relay"

// Metrics contains all Prometheus metrics of the relay
type Metrics struct {
	// Intake
	NotesReceived    *prometheus.CounterVec
	NotesDuplicate   prometheus.Counter
	FetchFailures    prometheus.Counter
	PipelinesRunning prometheus.Gauge

	// Pipeline
	PipelinesFinished *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	StageErrors       *prometheus.CounterVec
	PipelineDuration  prometheus.Histogram

	factory promauto.Factory
}

var _ pipeline.Recorder = (*Metrics)(nil)

// New creates and registers all metrics on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		NotesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_notes_received_total",
			Help:      "Voice notes delivered by listeners",
		}, []string{"listener"}),
		NotesDuplicate: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_notes_duplicate_total",
			Help:      "Voice notes dropped because they were already accepted",
		}),
		FetchFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Voice notes whose payload could not be retrieved",
		}),
		PipelinesRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipelines_running",
			Help:      "Pipelines currently in flight",
		}),
		PipelinesFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipelines_finished_total",
			Help:      "Finished pipelines by terminal state, failed stage and outcome",
		}, []string{"state", "failed_stage", "outcome"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent per pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~41s
		}, []string{"stage"}),
		StageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Stage failures by stage",
		}, []string{"stage"}),
		PipelineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end pipeline duration",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
		}),
		factory: f,
	}
}

// Admission is implemented by the bounded transcription engine
type Admission interface {
	InFlight() int64
	Waiting() int64
}

// ObserveAdmission exports the engine's permit usage
func (m *Metrics) ObserveAdmission(a Admission) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "transcriptions_in_flight",
		Help:      "Transcriptions holding an admission permit",
	}, func() float64 { return float64(a.InFlight()) })
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "transcriptions_waiting",
		Help:      "Transcriptions waiting for an admission permit",
	}, func() float64 { return float64(a.Waiting()) })
}

// StageCompleted implements pipeline.Recorder
func (m *Metrics) StageCompleted(stage pipeline.Stage, d time.Duration, err error) {
	m.StageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	if err != nil {
		m.StageErrors.WithLabelValues(string(stage)).Inc()
	}
}

// PipelineFinished implements pipeline.Recorder
func (m *Metrics) PipelineFinished(inst *pipeline.Instance) {
	m.PipelinesFinished.WithLabelValues(string(inst.State), string(inst.FailedStage), string(inst.Outcome)).Inc()
	if d := inst.Duration(); d > 0 {
		m.PipelineDuration.Observe(d.Seconds())
	}
}

// NoteReceived counts a note delivered by listener
func (m *Metrics) NoteReceived(listener string) {
	m.NotesReceived.WithLabelValues(listener).Inc()
}

// NoteDuplicate counts a dropped duplicate
func (m *Metrics) NoteDuplicate() {
	m.NotesDuplicate.Inc()
}

// FetchFailed counts a payload retrieval failure
func (m *Metrics) FetchFailed() {
	m.FetchFailures.Inc()
}

// PipelineStarted increments the running gauge
func (m *Metrics) PipelineStarted() {
	m.PipelinesRunning.Inc()
}

// PipelineDone decrements the running gauge
func (m *Metrics) PipelineDone() {
	m.PipelinesRunning.Dec()
}
