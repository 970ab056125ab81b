package streaming

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection gauges.
	webrtcActivePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camhub",
		Subsystem: "webrtc",
		Name:      "active_peers",
		Help:      "Number of currently active WebRTC peer connections",
	})

	broadcastClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camhub",
		Subsystem: "broadcast",
		Name:      "clients",
		Help:      "Connected broadcast listeners per camera",
	}, []string{"camera"})

	// Per-transport delivery counters.
	framesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camhub",
		Subsystem: "streaming",
		Name:      "frames_sent_total",
		Help:      "Frames handed to a transport",
	}, []string{"camera", "transport"})

	bytesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camhub",
		Subsystem: "streaming",
		Name:      "bytes_sent_total",
		Help:      "Encoded frame bytes handed to a transport",
	}, []string{"camera", "transport"})

	// Frames skipped for one broadcast listener whose send buffer was full.
	broadcastSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camhub",
		Subsystem: "broadcast",
		Name:      "listener_skipped_total",
		Help:      "Frames skipped for slow broadcast listeners",
	}, []string{"camera"})

	jpegEncodes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camhub",
		Subsystem: "streaming",
		Name:      "jpeg_encodes_total",
		Help:      "Frames encoded to JPEG",
	})

	jpegCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camhub",
		Subsystem: "streaming",
		Name:      "jpeg_cache_hits_total",
		Help:      "Encodes served from the per-camera cache",
	})
)

// SetActivePeers sets the current number of active peers.
func SetActivePeers(count int) {
	webrtcActivePeers.Set(float64(count))
}

func recordSent(cameraID, transport string, n int) {
	framesSent.WithLabelValues(cameraID, transport).Inc()
	bytesSent.WithLabelValues(cameraID, transport).Add(float64(n))
}
