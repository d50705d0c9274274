package tracker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scenescape",
		Subsystem: "tracker",
		Name:      "active_workers",
		Help:      "Number of live per-scope worker goroutines.",
	})
	metricChunksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scenescape",
		Subsystem: "tracker",
		Name:      "chunks_dispatched_total",
		Help:      "Chunks successfully enqueued onto a worker queue.",
	}, []string{"scene", "category"})
	metricTracksPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scenescape",
		Subsystem: "tracker",
		Name:      "tracks_published_total",
		Help:      "Individual tracks contained in published track sets.",
	}, []string{"scene", "category"})
	metricTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace:                       "scenescape",
		Subsystem:                       "tracker",
		Name:                            "tick_duration_seconds",
		Help:                            "Time spent in one scheduler tick.",
		Buckets:                         prometheus.DefBuckets,
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	})
)
