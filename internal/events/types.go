package events

import "github.com/smazurov/camhub/internal/frame"

// Event type constants for kelindar/event.
const (
	TypeCameraStateChanged uint32 = iota + 1
	TypeMotionDetected
	TypeCameraFatal
	TypeConsumerDropped
	TypeCameraCreated
	TypeCameraUpdated
	TypeCameraDeleted
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CameraStateChangedEvent is published on every session state transition,
// including repeated error-retrying transitions.
type CameraStateChangedEvent struct {
	CameraID  string `json:"camera_id" example:"front-door" doc:"Camera identifier"`
	From      string `json:"from" example:"connecting" doc:"Previous state"`
	To        string `json:"to" example:"active" doc:"New state"`
	Error     string `json:"error,omitempty" doc:"Failure that caused the transition"`
	RetryInMS int64  `json:"retry_in_ms,omitempty" example:"2000" doc:"Backoff before the next attempt"`
	Failures  int    `json:"failures" example:"0" doc:"Consecutive connect failures"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraStateChangedEvent.
func (e CameraStateChangedEvent) Type() uint32 { return TypeCameraStateChanged }

// MotionDetectedEvent is published when a camera goes from no motion to motion.
type MotionDetectedEvent struct {
	CameraID  string         `json:"camera_id" example:"front-door" doc:"Camera identifier"`
	Seq       uint64         `json:"seq" example:"1234" doc:"Sequence number of the frame"`
	Regions   []frame.Region `json:"regions" doc:"Bounding boxes of the motion areas"`
	Timestamp string         `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Capture timestamp"`
}

// Type returns the event type identifier for MotionDetectedEvent.
func (e MotionDetectedEvent) Type() uint32 { return TypeMotionDetected }

// CameraFatalEvent is the single alert raised when a camera stops retrying.
type CameraFatalEvent struct {
	CameraID  string `json:"camera_id" example:"front-door" doc:"Camera identifier"`
	Failures  int    `json:"failures" example:"10" doc:"Consecutive connect failures"`
	Error     string `json:"error" doc:"Last connect error"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraFatalEvent.
func (e CameraFatalEvent) Type() uint32 { return TypeCameraFatal }

// ConsumerDroppedEvent is published when a consumer leaves a camera's hub.
type ConsumerDroppedEvent struct {
	CameraID   string `json:"camera_id" example:"front-door" doc:"Camera identifier"`
	ConsumerID string `json:"consumer_id" doc:"Consumer identifier"`
	Kind       string `json:"kind" example:"webrtc" doc:"Consumer transport"`
	Reason     string `json:"reason" example:"overflow" doc:"Why the consumer left"`
	Delivered  uint64 `json:"delivered" doc:"Frames delivered while attached"`
	Dropped    uint64 `json:"dropped" doc:"Frames skipped while attached"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ConsumerDroppedEvent.
func (e ConsumerDroppedEvent) Type() uint32 { return TypeConsumerDropped }

// CameraInfo is the part of a camera descriptor carried by CRUD events.
type CameraInfo struct {
	ID      string `json:"id" example:"front-door" doc:"Camera identifier"`
	Name    string `json:"name" example:"Front door" doc:"Display name"`
	Address string `json:"address" example:"rtsp://10.0.0.5/stream1" doc:"Source address"`
	Enabled bool   `json:"enabled" doc:"Whether the camera starts automatically"`
}

// CameraCreatedEvent represents a camera added to the registry.
type CameraCreatedEvent struct {
	Camera    CameraInfo `json:"camera" doc:"Created camera"`
	Timestamp string     `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraCreatedEvent.
func (e CameraCreatedEvent) Type() uint32 { return TypeCameraCreated }

// CameraUpdatedEvent represents a changed camera descriptor.
type CameraUpdatedEvent struct {
	Camera    CameraInfo `json:"camera" doc:"Updated camera"`
	Timestamp string     `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraUpdatedEvent.
func (e CameraUpdatedEvent) Type() uint32 { return TypeCameraUpdated }

// CameraDeletedEvent represents a camera removed from the registry.
type CameraDeletedEvent struct {
	CameraID  string `json:"camera_id" example:"front-door" doc:"Deleted camera identifier"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraDeletedEvent.
func (e CameraDeletedEvent) Type() uint32 { return TypeCameraDeleted }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
