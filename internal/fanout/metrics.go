package fanout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	consumersGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camhub",
		Subsystem: "fanout",
		Name:      "consumers",
		Help:      "Number of consumers attached to a camera",
	}, []string{"camera"})

	frameDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camhub",
		Subsystem: "fanout",
		Name:      "frames_dropped_total",
		Help:      "Frames a consumer did not receive, by consumer kind",
	}, []string{"camera", "kind"})

	consumersDetached = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camhub",
		Subsystem: "fanout",
		Name:      "consumers_detached_total",
		Help:      "Consumers removed from a camera, by reason",
	}, []string{"camera", "reason"})
)
