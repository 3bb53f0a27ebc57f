// Package metrics holds the Prometheus collectors of the media pipeline.
//
// All methods are safe on a nil *Recorder, so components can run without
// metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "diarymedia"

// Enrichment attempt outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
	OutcomeExhausted = "exhausted"
	OutcomeCanceled  = "canceled"
	OutcomeError     = "error"
)

// Recorder groups the collectors.
type Recorder struct {
	ingested          *prometheus.CounterVec
	rejected          *prometheus.CounterVec
	attempts          *prometheus.CounterVec
	transcribeLatency prometheus.Histogram
	queueLag          prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_ingested_total",
			Help:      "Media files accepted by ingestion, by kind.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_rejected_total",
			Help:      "Uploads refused or failed during ingestion, by reason.",
		}, []string{"reason"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_attempts_total",
			Help:      "Transcription attempts, by outcome.",
		}, []string{"outcome"}),
		transcribeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Wall time of transcription engine calls.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		queueLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enrichment_queue_lag_seconds",
			Help:      "Age of the oldest due enrichment job.",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.ingested, r.rejected, r.attempts, r.transcribeLatency, r.queueLag)
	}
	return r
}

func (r *Recorder) Ingested(kind string) {
	if r == nil {
		return
	}
	r.ingested.WithLabelValues(kind).Inc()
}

func (r *Recorder) Rejected(reason string) {
	if r == nil {
		return
	}
	r.rejected.WithLabelValues(reason).Inc()
}

func (r *Recorder) Attempt(outcome string) {
	if r == nil {
		return
	}
	r.attempts.WithLabelValues(outcome).Inc()
}

func (r *Recorder) TranscriptionLatency(d time.Duration) {
	if r == nil {
		return
	}
	r.transcribeLatency.Observe(d.Seconds())
}

func (r *Recorder) QueueLag(d time.Duration) {
	if r == nil {
		return
	}
	r.queueLag.Set(d.Seconds())
}
