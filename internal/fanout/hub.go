// Package fanout distributes processed frames of one camera to any number of
// independently failing consumers.
package fanout

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smazurov/camhub/internal/frame"
)

// Hub defaults.
const (
	DefaultQueueDepth  = 2
	DefaultMaxFailures = 30
	sinkCloseTimeout   = 2 * time.Second
)

// Options configures a Hub.
type Options struct {
	// QueueDepth is the default per-consumer ring size.
	QueueDepth int
	// MaxFailures is the number of consecutive frames a consumer may fail to
	// take (busy answers or ring overwrites) before it is detached.
	MaxFailures int
	// OnDrop is called, outside the hub lock, whenever a consumer leaves.
	OnDrop func(cameraID string, stats ConsumerStats, reason DropReason)
}

// Hub holds the consumers of one camera. The consumer set is guarded by a
// mutex that is never held while talking to a sink.
type Hub struct {
	cameraID string
	opts     Options
	logger   *slog.Logger

	mu        sync.Mutex
	consumers map[string]*handle
	closed    bool

	dispatched atomic.Uint64
}

// NewHub creates a hub for one camera.
func NewHub(cameraID string, opts Options, logger *slog.Logger) *Hub {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cameraID:  cameraID,
		opts:      opts,
		logger:    logger.With("camera_id", cameraID),
		consumers: make(map[string]*handle),
	}
}

// Attach registers a consumer and starts its delivery goroutine. A consumer
// with an id that is already attached replaces the previous handle.
func (h *Hub) Attach(c Consumer) error {
	if c.ID == "" || c.Sink == nil {
		return ErrInvalidConsumer
	}
	depth := c.QueueDepth
	if depth <= 0 {
		depth = h.opts.QueueDepth
	}
	nh := newHandle(c, depth, h.opts.MaxFailures)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	old := h.consumers[c.ID]
	h.consumers[c.ID] = nh
	count := len(h.consumers)
	h.mu.Unlock()

	go h.deliver(nh)
	consumersGauge.WithLabelValues(h.cameraID).Set(float64(count))

	if old != nil {
		h.release(old, ReasonReplaced, old.consumer.Sink != c.Sink)
	}
	h.logger.Debug("Consumer attached", "consumer_id", c.ID, "kind", c.Kind, "queue_depth", depth, "consumers", count)
	return nil
}

// Detach removes a consumer. Unknown ids are ignored.
func (h *Hub) Detach(id string) {
	h.mu.Lock()
	hd, ok := h.consumers[id]
	if ok {
		delete(h.consumers, id)
	}
	count := len(h.consumers)
	h.mu.Unlock()

	if !ok {
		return
	}
	consumersGauge.WithLabelValues(h.cameraID).Set(float64(count))
	h.release(hd, ReasonDetached, true)
}

// Dispatch offers f to every attached consumer and returns without waiting
// for delivery. Frames must be dispatched in increasing sequence order.
func (h *Hub) Dispatch(f *frame.Frame) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	targets := make([]*handle, 0, len(h.consumers))
	for _, hd := range h.consumers {
		targets = append(targets, hd)
	}
	h.mu.Unlock()

	h.dispatched.Add(1)
	for _, hd := range targets {
		if hd.offer(f) {
			h.drop(hd, ReasonOverflow)
		}
	}
}

// Close detaches every consumer and waits briefly for their delivery
// goroutines to finish. Attach fails afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	all := make([]*handle, 0, len(h.consumers))
	for id, hd := range h.consumers {
		all = append(all, hd)
		delete(h.consumers, id)
	}
	h.mu.Unlock()

	defer h.forgetSeries()
	for _, hd := range all {
		h.release(hd, ReasonShutdown, true)
	}

	deadline := time.After(sinkCloseTimeout)
	for _, hd := range all {
		select {
		case <-hd.done:
		case <-deadline:
			h.logger.Warn("Consumer did not stop in time", "consumer_id", hd.consumer.ID)
			return
		}
	}
}

// forgetSeries removes this camera's metric series so that cameras which
// come and go do not accumulate label sets.
func (h *Hub) forgetSeries() {
	labels := prometheus.Labels{"camera": h.cameraID}
	consumersGauge.DeletePartialMatch(labels)
	frameDrops.DeletePartialMatch(labels)
	consumersDetached.DeletePartialMatch(labels)
}

// Len returns the number of attached consumers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.consumers)
}

// Dispatched returns the number of frames passed to Dispatch.
func (h *Hub) Dispatched() uint64 {
	return h.dispatched.Load()
}

// Consumers returns stats for every attached consumer, sorted by id.
func (h *Hub) Consumers() []ConsumerStats {
	h.mu.Lock()
	handles := make([]*handle, 0, len(h.consumers))
	for _, hd := range h.consumers {
		handles = append(handles, hd)
	}
	h.mu.Unlock()

	out := make([]ConsumerStats, 0, len(handles))
	for _, hd := range handles {
		out = append(out, hd.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// deliver drains one consumer's ring until it is closed.
func (h *Hub) deliver(hd *handle) {
	defer close(hd.done)
	for {
		f, ok := hd.next()
		if !ok {
			return
		}
		out := h.accept(hd, f)
		if out == Closed {
			h.drop(hd, ReasonClosed)
			return
		}
		if hd.record(f, out) {
			h.drop(hd, ReasonBusy)
			return
		}
	}
}

// accept calls the sink, converting a panic into Closed.
func (h *Hub) accept(hd *handle, f *frame.Frame) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Sink panicked", "consumer_id", hd.consumer.ID, "panic", r)
			out = Closed
		}
	}()
	return hd.consumer.Sink.Accept(f)
}

// drop detaches a consumer after a delivery failure, if it is still the
// registered handle for its id.
func (h *Hub) drop(hd *handle, reason DropReason) {
	h.mu.Lock()
	current, ok := h.consumers[hd.consumer.ID]
	if ok && current == hd {
		delete(h.consumers, hd.consumer.ID)
	}
	count := len(h.consumers)
	closed := h.closed
	h.mu.Unlock()

	if !ok || current != hd {
		return
	}
	if !closed {
		consumersGauge.WithLabelValues(h.cameraID).Set(float64(count))
	}
	err := fmt.Errorf("%w: %s", ErrConsumerDelivery, reason)
	h.logger.Warn("Dropping consumer", "consumer_id", hd.consumer.ID, "kind", hd.consumer.Kind, "error", err)
	h.release(hd, reason, true)
}

// release closes a handle that is no longer in the consumer set.
func (h *Hub) release(hd *handle, reason DropReason, closeSink bool) {
	if !hd.close() {
		return
	}
	if closeSink {
		go func() {
			if err := hd.consumer.Sink.Close(); err != nil {
				h.logger.Debug("Sink close failed", "consumer_id", hd.consumer.ID, "error", err)
			}
		}()
	}
	consumersDetached.WithLabelValues(h.cameraID, string(reason)).Inc()
	if h.opts.OnDrop != nil {
		h.opts.OnDrop(h.cameraID, hd.stats(), reason)
	}
	h.logger.Debug("Consumer released", "consumer_id", hd.consumer.ID, "reason", reason)
}
