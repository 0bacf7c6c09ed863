package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(jobsProcessedTotal, jobDuration, queueRejections) }

var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_jobs_processed_total",
			Help: "Total number of generation jobs that reached a terminal status.",
		},
		[]string{"status", "mode"}, // 'completed', 'failed', 'cancelled'
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generation_job_duration_seconds",
			Help:    "Time from job start to terminal status.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"status"},
	)

	queueRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_queue_rejections_total",
			Help: "Dispatches refused because the worker queue was full; the poller picks these up.",
		},
	)
)

func IncJob(status, mode string) {
	jobsProcessedTotal.WithLabelValues(norm(status), norm(mode)).Inc()
}

func ObserveJobDuration(status string, d time.Duration) {
	jobDuration.WithLabelValues(norm(status)).Observe(d.Seconds())
}

func IncQueueRejected() { queueRejections.Inc() }
