package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(stageOutcomes, stageDuration) }

var (
	stageOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_outcomes_total",
			Help: "Stage outcomes: ok, cached, degraded, failed, skipped.",
		},
		[]string{"stage", "outcome"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Wall-clock duration of executed stages.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"stage"},
	)
)

func ObserveStage(stage, outcome string, d time.Duration) {
	stageOutcomes.WithLabelValues(norm(stage), norm(outcome)).Inc()
	if d > 0 {
		stageDuration.WithLabelValues(norm(stage)).Observe(d.Seconds())
	}
}
