// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trellis_api_request_duration_seconds",
			Help:    "Total time taken for requests in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 15, 20, 25, 30, 40, 50, 75, 100, 150, 200, 350, 400, 500, 600},
		},
		[]string{"endpoint"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trellis_api_stage_duration_seconds",
			Help:    "Time spent per generation stage in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 15, 20, 25, 30, 40, 50, 75, 100, 150, 200},
		},
		[]string{"stage"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trellis_api_stage_failures_total",
			Help: "Stage failures, split by whether the failure aborted the pipeline",
		},
		[]string{"stage", "fatal"},
	)

	ArtifactBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trellis_api_artifact_bytes_total",
			Help: "Total artifact bytes delivered to clients",
		},
		[]string{"artifact"},
	)

	InflightGenerations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trellis_api_inflight_generations",
			Help: "Generation requests currently being served",
		},
	)

	ModelQueueWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trellis_api_model_queue_wait_seconds",
			Help:    "Time spent waiting for the exclusive model slot",
			Buckets: []float64{.01, .1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trellis_api_error_count",
			Help: "Error count",
		},
		[]string{"endpoint", "from"},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trellis_api_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)
)
