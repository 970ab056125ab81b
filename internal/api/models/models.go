package models

import (
	"time"

	"github.com/smazurov/camhub/internal/eventlog"
	"github.com/smazurov/camhub/internal/fanout"
	"github.com/smazurov/camhub/internal/session"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
	Cameras int    `json:"cameras" example:"3" doc:"Number of camera sessions in the registry"`
}

type HealthResponse struct {
	Body HealthData
}

// Camera models
type MotionData struct {
	Threshold    int     `json:"threshold,omitempty" minimum:"0" maximum:"255" example:"25" doc:"Per-pixel difference threshold"`
	MinArea      int     `json:"min_area,omitempty" minimum:"0" example:"500" doc:"Smallest region reported as motion, in pixels"`
	BlurSize     int     `json:"blur_size,omitempty" minimum:"0" example:"21" doc:"Box blur kernel size, odd"`
	LearningRate float64 `json:"learning_rate,omitempty" minimum:"0" maximum:"1" example:"0.05" doc:"Background adaptation rate"`
	Overlay      bool    `json:"overlay,omitempty" doc:"Draw motion boxes into viewer frames"`
}

type CameraData struct {
	ID          string     `json:"id" example:"front-door" doc:"Camera identifier"`
	Name        string     `json:"name" example:"Front door" doc:"Display name"`
	Address     string     `json:"address" example:"rtsp://10.0.0.5/stream1" doc:"Source address"`
	Enabled     bool       `json:"enabled" doc:"Start automatically"`
	Width       int        `json:"width,omitempty" example:"640" doc:"Decoded frame width"`
	Height      int        `json:"height,omitempty" example:"480" doc:"Decoded frame height"`
	FPS         int        `json:"fps,omitempty" example:"15" doc:"Decoded frame rate"`
	Motion      MotionData `json:"motion" doc:"Motion detector settings"`
	Location    string     `json:"location,omitempty" example:"porch" doc:"Where the camera is mounted"`
	Description string     `json:"description,omitempty" doc:"Free-form notes"`
	CreatedAt   time.Time  `json:"created_at" doc:"When the camera was added"`
	UpdatedAt   time.Time  `json:"updated_at" doc:"When the camera was last changed"`
	State       string     `json:"state" example:"active" doc:"Session state, inactive when no session exists"`
}

type CameraResponse struct {
	Body CameraData
}

type CameraListData struct {
	Cameras []CameraData `json:"cameras" doc:"Configured cameras"`
	Count   int          `json:"count" example:"2" doc:"Number of cameras"`
}

type CameraListResponse struct {
	Body CameraListData
}

type CameraRequestData struct {
	ID          string      `json:"id,omitempty" pattern:"^[a-zA-Z0-9_-]+$" maxLength:"64" example:"front-door" doc:"Camera identifier, generated when empty"`
	Name        string      `json:"name" minLength:"1" example:"Front door" doc:"Display name"`
	Address     string      `json:"address" minLength:"1" example:"rtsp://10.0.0.5/stream1" doc:"Source address"`
	Enabled     *bool       `json:"enabled,omitempty" doc:"Start automatically, defaults to true"`
	Width       int         `json:"width,omitempty" example:"640" doc:"Decoded frame width"`
	Height      int         `json:"height,omitempty" example:"480" doc:"Decoded frame height"`
	FPS         int         `json:"fps,omitempty" example:"15" doc:"Decoded frame rate"`
	Motion      *MotionData `json:"motion,omitempty" doc:"Motion detector settings"`
	Location    string      `json:"location,omitempty" doc:"Where the camera is mounted"`
	Description string      `json:"description,omitempty" doc:"Free-form notes"`
}

type CameraRequest struct {
	Body CameraRequestData
}

type CameraUpdateData struct {
	Name        *string     `json:"name,omitempty" minLength:"1" doc:"Display name"`
	Address     *string     `json:"address,omitempty" minLength:"1" doc:"Source address"`
	Enabled     *bool       `json:"enabled,omitempty" doc:"Start automatically"`
	Width       *int        `json:"width,omitempty" doc:"Decoded frame width"`
	Height      *int        `json:"height,omitempty" doc:"Decoded frame height"`
	FPS         *int        `json:"fps,omitempty" doc:"Decoded frame rate"`
	Motion      *MotionData `json:"motion,omitempty" doc:"Motion detector settings, replaced as a whole"`
	Location    *string     `json:"location,omitempty" doc:"Where the camera is mounted"`
	Description *string     `json:"description,omitempty" doc:"Free-form notes"`
}

type CameraUpdateRequest struct {
	CameraID string `path:"camera_id" example:"front-door" doc:"Camera identifier"`
	Body     CameraUpdateData
}

// Session models
type SessionStatusResponse struct {
	Body session.Status
}

type SessionSummary struct {
	CameraID  string `json:"camera_id" example:"front-door" doc:"Camera identifier"`
	State     string `json:"state" example:"active" doc:"Session state"`
	Consumers int    `json:"consumers" example:"2" doc:"Attached viewers"`
}

type SessionListData struct {
	Sessions []SessionSummary `json:"sessions" doc:"Sessions ordered by camera id"`
	Count    int              `json:"count" example:"1" doc:"Number of sessions"`
}

type SessionListResponse struct {
	Body SessionListData
}

type SessionActionData struct {
	CameraID string `json:"camera_id" example:"front-door" doc:"Camera identifier"`
	Action   string `json:"action" example:"start" doc:"Action performed"`
	Message  string `json:"message" doc:"Operation result message"`
}

type SessionActionResponse struct {
	Body SessionActionData
}

type ConsumerListData struct {
	CameraID  string                 `json:"camera_id" example:"front-door" doc:"Camera identifier"`
	Consumers []fanout.ConsumerStats `json:"consumers" doc:"Attached viewers"`
	Listeners int                    `json:"broadcast_listeners" doc:"WebSocket listeners behind the broadcast consumer"`
}

type ConsumerListResponse struct {
	Body ConsumerListData
}

// FrameResponse carries a JPEG snapshot.
type FrameResponse struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Seq          string `header:"X-Frame-Seq"`
	Motion       string `header:"X-Motion"`
	Body         []byte
}

// Event history models
type EventHistoryData struct {
	CameraID string           `json:"camera_id" example:"front-door" doc:"Camera identifier"`
	Events   []eventlog.Entry `json:"events" doc:"Recorded events, newest first"`
}

type EventHistoryResponse struct {
	Body EventHistoryData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"a1b2c3d4" doc:"Unique build identifier"`
	GoVersion string `json:"go_version" example:"go1.21.0" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Compiler used"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// ReloadResponse is the response for the camera file reload operation
type ReloadResponse struct {
	Body struct {
		Message string   `json:"message" doc:"Operation result message"`
		Created []string `json:"created" doc:"Cameras added by the reload"`
		Updated []string `json:"updated" doc:"Cameras changed by the reload"`
		Deleted []string `json:"deleted" doc:"Cameras removed by the reload"`
	}
}

// Connection test models
type CameraTestData struct {
	CameraID  string `json:"camera_id" example:"front-door" doc:"Camera identifier"`
	Success   bool   `json:"success" doc:"Whether a frame was decoded"`
	Width     int    `json:"width,omitempty" example:"640" doc:"Decoded frame width"`
	Height    int    `json:"height,omitempty" example:"480" doc:"Decoded frame height"`
	ElapsedMS int64  `json:"elapsed_ms" example:"820" doc:"Time until the first frame or the failure"`
	Error     string `json:"error,omitempty" doc:"Why the connection test failed"`
	State     string `json:"state" example:"inactive" doc:"Current session state"`
}

type CameraTestResponse struct {
	Body CameraTestData
}

// Go2RTCImportRequest carries the contents of a go2rtc.yaml file.
type Go2RTCImportRequest struct {
	Body struct {
		Config   string `json:"config" minLength:"1" doc:"go2rtc YAML configuration"`
		Unique   *bool  `json:"unique,omitempty" doc:"Keep one stream per host and channel, preferring HD (default true)"`
		Disabled bool   `json:"disabled,omitempty" doc:"Import cameras without starting them"`
	}
}

type Go2RTCImportData struct {
	Total    int      `json:"total" example:"3" doc:"RTSP streams found"`
	Imported []string `json:"imported" doc:"Cameras created"`
	Skipped  []string `json:"skipped" doc:"Cameras that already existed or were invalid"`
}

type Go2RTCImportResponse struct {
	Body Go2RTCImportData
}
