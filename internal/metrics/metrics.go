package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "draftcommander_jobs_submitted_total",
		Help: "Total number of listing jobs submitted",
	})

	JobsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "draftcommander_jobs_published_total",
		Help: "Total number of jobs that ended with a live listing",
	})

	JobsDraftedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "draftcommander_jobs_drafted_total",
		Help: "Total number of jobs that ended as unpublished drafts",
	})

	JobsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "draftcommander_jobs_failed_total",
		Help: "Total number of jobs that failed",
	})

	JobsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "draftcommander_jobs_cancelled_total",
		Help: "Total number of jobs cancelled by an operator",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "draftcommander_stage_duration_seconds",
		Help:    "Time taken per pipeline stage in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "draftcommander_queue_depth",
		Help: "Current number of pending jobs",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "draftcommander_active_workers",
		Help: "Current number of active workers",
	})
)
