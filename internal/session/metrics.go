package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camhub",
		Subsystem: "session",
		Name:      "up",
		Help:      "Whether the camera is delivering frames (1) or not (0)",
	}, []string{"camera"})

	framesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camhub",
		Subsystem: "session",
		Name:      "frames_processed_total",
		Help:      "Frames read, analysed and dispatched",
	}, []string{"camera"})

	motionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camhub",
		Subsystem: "session",
		Name:      "motion_events_total",
		Help:      "Transitions from no motion to motion",
	}, []string{"camera"})

	connectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camhub",
		Subsystem: "session",
		Name:      "connect_failures_total",
		Help:      "Failed connect attempts by error class",
	}, []string{"camera", "class"})

	pipelinePanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camhub",
		Subsystem: "session",
		Name:      "pipeline_panics_total",
		Help:      "Recovered panics in the capture pipeline",
	}, []string{"camera"})
)
