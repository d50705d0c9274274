package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricBatchesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scenescape",
		Subsystem: "tracker",
		Name:      "batches_dropped_total",
		Help:      "The total number of detection batches dropped, by reason and pipeline stage.",
	}, []string{"scene", "category", "reason", "stage"})

	metricBatchesFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scenescape",
		Subsystem: "tracker",
		Name:      "batches_finalized_total",
		Help:      "The total number of detection batches that completed the pipeline.",
	}, []string{"scene", "category"})

	metricPipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:                   "scenescape",
		Subsystem:                   "tracker",
		Name:                        "pipeline_duration_seconds",
		Help:                        "End-to-end latency from receive to publish per batch.",
		NativeHistogramBucketFactor: 1.1,
	}, []string{"scene", "category"})

	metricStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:                   "scenescape",
		Subsystem:                   "tracker",
		Name:                        "stage_duration_seconds",
		Help:                        "Time spent in each pipeline stage for finalized batches.",
		NativeHistogramBucketFactor: 1.1,
	}, []string{"stage"})
)
