package fanout

import (
	"errors"

	"github.com/smazurov/camhub/internal/frame"
)

// Outcome is a sink's answer to one frame.
type Outcome int

const (
	// Accepted means the frame was handed to the transport.
	Accepted Outcome = iota
	// Busy means the transport could not take the frame now; it is dropped.
	Busy
	// Closed means the transport is gone; the consumer is detached.
	Closed
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Busy:
		return "busy"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink delivers frames for one attached viewer. Accept may block; the hub
// calls it from the consumer's own goroutine. Close must be idempotent and
// should unblock a pending Accept.
type Sink interface {
	Accept(f *frame.Frame) Outcome
	Close() error
}

// Consumer describes one attachment request.
type Consumer struct {
	ID   string
	Kind string // "webrtc", "broadcast", ...
	Sink Sink
	// QueueDepth bounds pending frames; zero uses the hub default.
	QueueDepth int
}

// DropReason explains why a consumer left the hub.
type DropReason string

// Drop reasons.
const (
	ReasonDetached DropReason = "detached"
	ReasonReplaced DropReason = "replaced"
	ReasonClosed   DropReason = "sink_closed"
	ReasonBusy     DropReason = "busy"
	ReasonOverflow DropReason = "overflow"
	ReasonShutdown DropReason = "shutdown"
)

// Delivery reports whether the reason is a delivery failure rather than a
// deliberate detach.
func (r DropReason) Delivery() bool {
	return r == ReasonClosed || r == ReasonBusy || r == ReasonOverflow
}

var (
	// ErrConsumerDelivery marks a consumer dropped for failing to take frames.
	ErrConsumerDelivery = errors.New("consumer delivery failed")
	// ErrHubClosed is returned by Attach after Close.
	ErrHubClosed = errors.New("hub closed")
	// ErrInvalidConsumer is returned for a consumer without id or sink.
	ErrInvalidConsumer = errors.New("consumer requires id and sink")
)
