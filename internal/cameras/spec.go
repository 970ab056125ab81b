package cameras

import (
	"time"

	"github.com/smazurov/camhub/internal/motion"
	"github.com/smazurov/camhub/internal/source"
)

// Descriptor defaults.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
	DefaultFPS    = 30
)

// Descriptor is the persistent configuration of one camera.
// Sessions take a copy at start and never modify it.
type Descriptor struct {
	// ID is the stable unique identifier, used in URLs and as the session key
	ID string `toml:"id" json:"id"`

	// Name is a human-readable name; defaults to the ID
	Name string `toml:"name" json:"name"`

	// Address is the stream URL: rtsp://, rtsp+tcp://, http(s)://, test:// or a file path
	Address string `toml:"address" json:"address"`

	// Enabled cameras are started at boot and after reloads
	Enabled bool `toml:"enabled" json:"enabled"`

	Width  int `toml:"width,omitempty" json:"width,omitempty"`
	Height int `toml:"height,omitempty" json:"height,omitempty"`
	FPS    int `toml:"fps,omitempty" json:"fps,omitempty"`

	Motion MotionSettings `toml:"motion" json:"motion"`

	Location    string `toml:"location,omitempty" json:"location,omitempty"`
	Description string `toml:"description,omitempty" json:"description,omitempty"`

	CreatedAt time.Time `toml:"created_at" json:"created_at"`
	UpdatedAt time.Time `toml:"updated_at" json:"updated_at"`
}

// MotionSettings holds the per-camera detector parameters. Zero values use
// the detector defaults.
type MotionSettings struct {
	Threshold    int     `toml:"threshold,omitempty" json:"threshold,omitempty"`
	MinArea      int     `toml:"min_area,omitempty" json:"min_area,omitempty"`
	BlurSize     int     `toml:"blur_size,omitempty" json:"blur_size,omitempty"`
	LearningRate float64 `toml:"learning_rate,omitempty" json:"learning_rate,omitempty"`
	// Overlay draws motion boxes into the frames sent to viewers
	Overlay bool `toml:"overlay" json:"overlay"`
}

// Target returns the source target with defaults applied.
func (d Descriptor) Target() source.Target {
	t := source.Target{Address: d.Address, Width: d.Width, Height: d.Height, FPS: d.FPS}
	if t.Width <= 0 {
		t.Width = DefaultWidth
	}
	if t.Height <= 0 {
		t.Height = DefaultHeight
	}
	if t.FPS <= 0 {
		t.FPS = DefaultFPS
	}
	return t
}

// MotionParams converts the settings into detector parameters.
func (d Descriptor) MotionParams() motion.Params {
	return motion.Params{
		Threshold:    d.Motion.Threshold,
		MinArea:      d.Motion.MinArea,
		BlurSize:     d.Motion.BlurSize,
		LearningRate: d.Motion.LearningRate,
	}
}

// SameRuntime reports whether two descriptors would produce identical
// sessions. Metadata such as name and timestamps is ignored.
func (d Descriptor) SameRuntime(o Descriptor) bool {
	return d.ID == o.ID &&
		d.Address == o.Address &&
		d.Target() == o.Target() &&
		d.Motion == o.Motion
}
