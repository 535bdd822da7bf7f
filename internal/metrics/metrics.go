// Package metrics registers the framescribe Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framescribe_runs_total",
		Help: "Total number of runs, by source and status",
	}, []string{"source", "status"})

	FramesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framescribe_frames_processed_total",
		Help: "Total number of frames turned into content, by processing type",
	}, []string{"processing_type"})

	FrameFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framescribe_frame_failures_total",
		Help: "Total number of frames the inference engine failed on",
	}, []string{"processing_type"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "framescribe_stage_duration_seconds",
		Help:    "Duration of pipeline stages",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"stage"})

	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framescribe_active_runs",
		Help: "Number of runs currently in progress",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framescribe_active_workers",
		Help: "Number of inference calls currently in flight",
	})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
