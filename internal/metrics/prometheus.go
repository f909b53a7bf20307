// Package metrics exposes Prometheus collectors for fingerprint computation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FingerprintsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videohash_fingerprints_total",
		Help: "Total number of fingerprint computations, by outcome",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "videohash_stage_duration_seconds",
		Help:    "Duration of each fingerprint pipeline stage",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"stage"})

	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "videohash_frames_sampled_total",
		Help: "Total number of frames sampled across all videos",
	})

	FramesReplacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "videohash_frames_replaced_total",
		Help: "Frames that failed to decode and were replaced by a black frame",
	})

	ActiveComputations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "videohash_active_computations",
		Help: "Number of fingerprints currently being computed",
	})

	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videohash_jobs_total",
		Help: "Queue jobs handled by the worker, by status",
	}, []string{"status"})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videohash_retry_total",
		Help: "Total number of queue job retries",
	}, []string{"attempt"})
)
