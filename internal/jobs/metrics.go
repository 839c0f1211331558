package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tombolo"

var (
	jobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "enqueued_total",
			Help:      "Total jobs enqueued",
		},
		[]string{"type", "priority"},
	)

	jobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Total job attempts by terminal outcome of the attempt",
		},
		[]string{"type", "outcome"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "execute_duration_seconds",
			Help:      "Time to execute one job attempt",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"type"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "queue_depth",
			Help:      "Number of job IDs waiting per priority queue",
		},
		[]string{"priority"},
	)

	dlqDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "dlq_depth",
			Help:      "Number of entries in the dead letter queue",
		},
	)
)

func recordEnqueued(jobType, priority string) {
	jobsEnqueued.WithLabelValues(jobType, priority).Inc()
}

func recordFinished(jobType, outcome string) {
	jobsFinished.WithLabelValues(jobType, outcome).Inc()
}

func recordDuration(jobType string, d time.Duration) {
	jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

// RecordQueueDepths updates queue depth gauges.
func RecordQueueDepths(stats *QueueStats, dlq *DLQStats) {
	queueDepth.WithLabelValues("high").Set(float64(stats.High))
	queueDepth.WithLabelValues("normal").Set(float64(stats.Normal))
	queueDepth.WithLabelValues("low").Set(float64(stats.Low))
	dlqDepth.Set(float64(dlq.Count))
}
