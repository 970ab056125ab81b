package fanout

import (
	"sync"
	"time"

	"github.com/smazurov/camhub/internal/frame"
)

// handle is the hub's side of one attached consumer: a bounded ring with
// overwrite-oldest semantics drained by a single delivery goroutine.
type handle struct {
	consumer    Consumer
	maxFailures int
	attachedAt  time.Time

	mu       sync.Mutex
	cond     *sync.Cond
	ring     []*frame.Frame
	head     int
	size     int
	closed   bool
	lastSeq  uint64
	failures int

	delivered uint64
	dropped   uint64

	done chan struct{}
}

func newHandle(c Consumer, depth, maxFailures int) *handle {
	h := &handle{
		consumer:    c,
		maxFailures: maxFailures,
		attachedAt:  time.Now(),
		ring:        make([]*frame.Frame, depth),
		done:        make(chan struct{}),
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// offer enqueues f without blocking. When the ring is full the oldest pending
// frame is discarded and counted as a failure. It reports whether the
// consumer has now exceeded its failure budget.
func (h *handle) offer(f *frame.Frame) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || f.Seq <= h.lastSeq {
		return false
	}
	h.lastSeq = f.Seq

	if h.size == len(h.ring) {
		h.ring[h.head] = nil
		h.head = (h.head + 1) % len(h.ring)
		h.size--
		h.dropped++
		h.failures++
		frameDrops.WithLabelValues(f.CameraID, h.consumer.Kind).Inc()
	}
	h.ring[(h.head+h.size)%len(h.ring)] = f
	h.size++
	h.cond.Signal()

	return h.failures >= h.maxFailures
}

// next blocks until a frame is pending or the handle is closed.
func (h *handle) next() (*frame.Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for h.size == 0 && !h.closed {
		h.cond.Wait()
	}
	if h.closed {
		return nil, false
	}
	f := h.ring[h.head]
	h.ring[h.head] = nil
	h.head = (h.head + 1) % len(h.ring)
	h.size--
	return f, true
}

// record applies a sink outcome and reports whether the failure budget is spent.
func (h *handle) record(f *frame.Frame, out Outcome) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch out {
	case Accepted:
		h.failures = 0
		h.delivered++
	case Busy:
		h.failures++
		h.dropped++
		frameDrops.WithLabelValues(f.CameraID, h.consumer.Kind).Inc()
	}
	return h.failures >= h.maxFailures
}

// close wakes the delivery goroutine and discards pending frames.
// It reports whether this call performed the close.
func (h *handle) close() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	for i := range h.ring {
		h.ring[i] = nil
	}
	h.size = 0
	h.cond.Broadcast()
	return true
}

func (h *handle) stats() ConsumerStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return ConsumerStats{
		ID:                  h.consumer.ID,
		Kind:                h.consumer.Kind,
		QueueDepth:          len(h.ring),
		Pending:             h.size,
		Delivered:           h.delivered,
		Dropped:             h.dropped,
		ConsecutiveFailures: h.failures,
		LastSeq:             h.lastSeq,
		AttachedAt:          h.attachedAt,
	}
}

// ConsumerStats is a point-in-time view of one consumer.
type ConsumerStats struct {
	ID                  string    `json:"id"`
	Kind                string    `json:"kind"`
	QueueDepth          int       `json:"queue_depth"`
	Pending             int       `json:"pending"`
	Delivered           uint64    `json:"delivered"`
	Dropped             uint64    `json:"dropped"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSeq             uint64    `json:"last_seq"`
	AttachedAt          time.Time `json:"attached_at"`
}
