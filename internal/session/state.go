package session

import "time"

// State is the lifecycle state of a camera session.
type State string

// Session states.
const (
	StateInactive   State = "inactive"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateRetrying   State = "error-retrying"
	StateFatal      State = "error-fatal" // Terminal until an operator restarts the camera
	StateStopped    State = "stopped"
)

// Live reports whether a session in this state is still running its loop.
func (s State) Live() bool {
	switch s {
	case StateConnecting, StateActive, StateRetrying:
		return true
	default:
		return false
	}
}

// Transition describes one state change. Self-transitions are reported for
// every failed retry so observers can count attempts.
type Transition struct {
	CameraID string
	From     State
	To       State
	// Err is the failure that caused the transition, if any.
	Err error
	// RetryIn is the backoff before the next attempt (retrying only).
	RetryIn time.Duration
	// Failures is the consecutive failure count after the transition.
	Failures int
	At       time.Time
}

// Status is a read-only snapshot of a session.
type Status struct {
	CameraID            string        `json:"camera_id"`
	State               State         `json:"state"`
	FramesProcessed     uint64        `json:"frames_processed"`
	MotionEvents        uint64        `json:"motion_events"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastSeq             uint64        `json:"last_seq"`
	LastFrameAt         time.Time     `json:"last_frame_at,omitzero"`
	StartedAt           time.Time     `json:"started_at"`
	ActiveSince         time.Time     `json:"active_since,omitzero"`
	Uptime              time.Duration `json:"uptime"`
	Consumers           int           `json:"consumers"`
	LastError           string        `json:"last_error,omitempty"`
}
