package streaming

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"sync"
	"time"

	"github.com/smazurov/camhub/internal/frame"
)

// DefaultJPEGQuality is used when an encoder is created with quality 0.
const DefaultJPEGQuality = 80

// JPEGEncoder encodes processed frames and remembers the last result per
// camera, so every transport viewing the same frame shares one encode.
type JPEGEncoder struct {
	quality int

	mu   sync.Mutex
	last map[string]encoded
}

type encoded struct {
	seq      uint64
	captured time.Time
	data     []byte
}

// NewJPEGEncoder creates an encoder. quality is clamped to 1..100.
func NewJPEGEncoder(quality int) *JPEGEncoder {
	switch {
	case quality <= 0:
		quality = DefaultJPEGQuality
	case quality > 100:
		quality = 100
	}
	return &JPEGEncoder{quality: quality, last: make(map[string]encoded)}
}

// Encode returns the JPEG bytes for f. The returned slice is shared and must
// not be modified.
func (e *JPEGEncoder) Encode(f *frame.Frame) ([]byte, error) {
	e.mu.Lock()
	// Sequence numbers restart with each session, so the capture time is
	// part of the key
	if c, ok := e.last[f.CameraID]; ok && c.seq == f.Seq && c.captured.Equal(f.Captured) {
		e.mu.Unlock()
		jpegCacheHits.Inc()
		return c.data, nil
	}
	e.mu.Unlock()

	if !f.Valid() {
		return nil, fmt.Errorf("invalid frame %dx%d with %d bytes", f.Width, f.Height, len(f.Pix))
	}
	var buf bytes.Buffer
	buf.Grow(f.Width * f.Height / 4)
	if err := jpeg.Encode(&buf, f.Image(), &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	data := buf.Bytes()
	jpegEncodes.Inc()

	e.mu.Lock()
	e.last[f.CameraID] = encoded{seq: f.Seq, captured: f.Captured, data: data}
	e.mu.Unlock()
	return data, nil
}
