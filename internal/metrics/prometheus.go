package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts terminal wipe jobs by method and outcome.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sayonara_jobs_total",
			Help: "Total number of wipe jobs that reached a terminal state",
		},
		[]string{"method", "outcome"},
	)

	// BytesWrittenTotal counts bytes written by overwrite passes.
	BytesWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sayonara_bytes_written_total",
			Help: "Total bytes written by overwrite passes",
		},
	)

	// PassDuration tracks the duration of a single overwrite pass in seconds.
	PassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sayonara_pass_duration_seconds",
			Help:    "Duration of overwrite passes in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16), // 1s to ~9h
		},
		[]string{"method"},
	)

	// ActiveJobs tracks jobs that hold a device lock.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sayonara_active_jobs",
			Help: "Number of non-terminal wipe jobs",
		},
	)

	// VerificationFailures counts read-backs that found unexpected data.
	VerificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sayonara_verification_failures_total",
			Help: "Total number of failed post-wipe verifications",
		},
	)

	// AnchorSubmissions counts ledger submissions by result.
	AnchorSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sayonara_anchor_submissions_total",
			Help: "Total number of certificate hashes submitted to the ledger",
		},
		[]string{"result"},
	)

	// AnchorWorkersActive tracks anchor pool workers currently processing an item.
	AnchorWorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sayonara_anchor_workers_active",
			Help: "Number of anchor worker goroutines currently busy",
		},
	)
)
