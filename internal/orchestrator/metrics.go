package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camhub",
		Subsystem: "orchestrator",
		Name:      "sessions",
		Help:      "Camera sessions known to the registry, including fatal ones",
	})

	startsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camhub",
		Subsystem: "orchestrator",
		Name:      "start_requests_total",
		Help:      "Start requests by result",
	}, []string{"result"})

	fatalTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camhub",
		Subsystem: "orchestrator",
		Name:      "fatal_alerts_total",
		Help:      "Cameras that gave up reconnecting",
	})
)
