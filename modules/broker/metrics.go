package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scenescape",
		Subsystem: "tracker",
		Name:      "broker_connected",
		Help:      "1 when the broker session is established, 0 otherwise.",
	})
	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scenescape",
		Subsystem: "tracker",
		Name:      "broker_reconnects_total",
		Help:      "Total number of broker connection attempts after the first.",
	})
	metricMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scenescape",
		Subsystem: "tracker",
		Name:      "broker_messages_received_total",
		Help:      "Total messages received on subscribed topics.",
	})
	metricMessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scenescape",
		Subsystem: "tracker",
		Name:      "broker_messages_published_total",
		Help:      "Total messages successfully published.",
	})
	metricPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scenescape",
		Subsystem: "tracker",
		Name:      "broker_publish_failures_total",
		Help:      "Total messages that were accepted for publishing but failed.",
	})
)
