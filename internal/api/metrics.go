package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons a message was not delivered, used as metric label values.
const (
	dropSlowClient = "slow_client"
	dropQueueFull  = "queue_full"
	dropPublish    = "publish_failed"
)

type metrics struct {
	connections prometheus.Gauge
	dropped     *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)

	return &metrics{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "etrivia",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		dropped: newDropped(f, "ws"),
	}
}

func newPublisherMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		dropped: newDropped(promauto.With(reg), "pubsub"),
	}
}

func newDropped(f promauto.Factory, subsystem string) *prometheus.CounterVec {
	return f.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etrivia",
		Subsystem: subsystem,
		Name:      "dropped_messages_total",
		Help:      "Messages not delivered, by reason.",
	}, []string{"reason"})
}
