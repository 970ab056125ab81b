package streaming

import (
	"encoding/base64"
	"time"

	"github.com/smazurov/camhub/internal/frame"
)

// MessageTypeFrame tags frame messages.
const MessageTypeFrame = "frame"

// FrameMessage describes one frame pushed to a viewer. Broadcast listeners
// get the JPEG inline as base64; data channel peers get it as the binary
// messages that follow, Bytes long in total.
type FrameMessage struct {
	Type           string         `json:"type"`
	CameraID       string         `json:"camera_id"`
	Seq            uint64         `json:"seq"`
	Timestamp      time.Time      `json:"timestamp"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	MotionDetected bool           `json:"motion_detected"`
	MotionAreas    []frame.Region `json:"motion_areas"`
	Frame          string         `json:"frame,omitempty"`
	Bytes          int            `json:"bytes,omitempty"`
}

// NewFrameMessage builds the metadata for f without a payload.
func NewFrameMessage(f *frame.Frame) FrameMessage {
	areas := f.Regions
	if areas == nil {
		areas = []frame.Region{}
	}
	return FrameMessage{
		Type:           MessageTypeFrame,
		CameraID:       f.CameraID,
		Seq:            f.Seq,
		Timestamp:      f.Captured.UTC(),
		Width:          f.Width,
		Height:         f.Height,
		MotionDetected: f.Motion,
		MotionAreas:    areas,
	}
}

// WithJPEG returns a copy carrying jpeg inline.
func (m FrameMessage) WithJPEG(jpeg []byte) FrameMessage {
	m.Frame = base64.StdEncoding.EncodeToString(jpeg)
	return m
}
