package businessflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineRunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "adguard",
			Subsystem: "pipeline",
			Name:      "runs_started_total",
			Help:      "Number of compliance pipeline runs started",
		},
	)

	pipelineRunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "adguard",
			Subsystem: "pipeline",
			Name:      "runs_finished_total",
			Help:      "Number of pipelines finalized, by final verdict",
		},
		[]string{"verdict"},
	)

	pipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "adguard",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 180, 600, 1200},
		},
		[]string{"stage"},
	)

	pipelinePollAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "adguard",
			Subsystem: "pipeline",
			Name:      "poll_attempts",
			Help:      "Call status requests per poll loop, by outcome",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"outcome"},
	)

	pipelineFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "adguard",
			Subsystem: "pipeline",
			Name:      "fallbacks_total",
			Help:      "Pipelines resolved through a fallback verdict, by reason",
		},
		[]string{"reason"},
	)
)

func observeStage(stage pipelineStage, start time.Time) {
	pipelineStageDuration.WithLabelValues(stage.String()).Observe(time.Since(start).Seconds())
}
