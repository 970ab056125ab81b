// Package motion implements a per-camera background-subtraction motion detector.
package motion

import (
	"errors"
	"fmt"
	"math"

	"github.com/smazurov/camhub/internal/frame"
)

// Defaults used when a parameter is left at its zero value.
const (
	DefaultThreshold    = 25
	DefaultMinArea      = 500
	DefaultBlurSize     = 21
	DefaultLearningRate = 0.05
)

// fixedShift is the number of fractional bits of the background model.
const fixedShift = 16

// ErrInvalidFrame is returned when a raw buffer does not match its geometry.
var ErrInvalidFrame = errors.New("invalid frame buffer")

// Params configures a Detector.
type Params struct {
	// Threshold is the blurred difference (0-255) above which a pixel is foreground.
	Threshold int
	// MinArea is the smallest connected region, in pixels, reported as motion.
	MinArea int
	// BlurSize is the box blur kernel edge. Even values are rounded up; 1 disables blur.
	BlurSize int
	// LearningRate is the EMA weight of the newest frame in the background model.
	LearningRate float64
}

// DefaultParams returns the detector defaults.
func DefaultParams() Params {
	return Params{
		Threshold:    DefaultThreshold,
		MinArea:      DefaultMinArea,
		BlurSize:     DefaultBlurSize,
		LearningRate: DefaultLearningRate,
	}
}

func (p Params) normalized() Params {
	if p.Threshold <= 0 {
		p.Threshold = DefaultThreshold
	}
	if p.Threshold > 254 {
		p.Threshold = 254
	}
	if p.MinArea <= 0 {
		p.MinArea = DefaultMinArea
	}
	if p.BlurSize <= 0 {
		p.BlurSize = DefaultBlurSize
	}
	if p.BlurSize%2 == 0 {
		p.BlurSize++
	}
	if p.LearningRate <= 0 || p.LearningRate > 1 || math.IsNaN(p.LearningRate) {
		p.LearningRate = DefaultLearningRate
	}
	return p
}

// Result is the outcome of processing one frame.
type Result struct {
	Motion  bool
	Regions []frame.Region
}

// Detector keeps a rolling background model for one camera.
// It is not safe for concurrent use; each session owns its own instance.
type Detector struct {
	params Params
	alpha  int64

	width, height int
	seeded        bool
	background    []int64

	gray    []uint8
	diff    []uint8
	scratch []uint8
	blurred []uint8
	labels  []int32
	stack   []int32
}

// NewDetector creates a detector. Zero-valued params fall back to defaults.
func NewDetector(params Params) *Detector {
	p := params.normalized()
	return &Detector{
		params: p,
		alpha:  int64(math.Round(p.LearningRate * (1 << fixedShift))),
	}
}

// Params returns the effective parameters.
func (d *Detector) Params() Params {
	return d.params
}

// Reset discards the background model. The next frame reseeds it.
func (d *Detector) Reset() {
	d.seeded = false
}

// Process runs detection against the current background and then folds the
// frame into the model. The first frame after a reset or a geometry change
// seeds the model and never reports motion.
func (d *Detector) Process(raw frame.Raw) (Result, error) {
	if !raw.Valid() {
		return Result{}, fmt.Errorf("%w: %dx%d %s with %d bytes", ErrInvalidFrame, raw.Width, raw.Height, raw.Format, len(raw.Pix))
	}
	if raw.Width != d.width || raw.Height != d.height {
		d.resize(raw.Width, raw.Height)
	}

	luminance(raw, d.gray)

	if !d.seeded {
		for i, g := range d.gray {
			d.background[i] = int64(g) << fixedShift
		}
		d.seeded = true
		return Result{}, nil
	}

	const half = int64(1) << (fixedShift - 1)
	for i, g := range d.gray {
		bg := d.background[i]
		v := int(g) - int((bg+half)>>fixedShift)
		if v < 0 {
			v = -v
		}
		d.diff[i] = uint8(v)
		d.background[i] = bg + (((int64(g) << fixedShift) - bg) * d.alpha >> fixedShift)
	}

	boxBlur(d.diff, d.scratch, d.blurred, d.width, d.height, d.params.BlurSize)

	regions := d.regions()
	return Result{Motion: len(regions) > 0, Regions: regions}, nil
}

func (d *Detector) resize(w, h int) {
	n := w * h
	d.width, d.height = w, h
	d.seeded = false
	d.background = make([]int64, n)
	d.gray = make([]uint8, n)
	d.diff = make([]uint8, n)
	d.scratch = make([]uint8, n)
	d.blurred = make([]uint8, n)
	d.labels = make([]int32, n)
	d.stack = make([]int32, 0, 1024)
}

// luminance writes integer BT.601 luma into dst.
func luminance(raw frame.Raw, dst []uint8) {
	switch raw.Format {
	case frame.FormatGray:
		copy(dst, raw.Pix)
	case frame.FormatRGB24:
		for i, j := 0, 0; j < len(dst); i, j = i+3, j+1 {
			r, g, b := uint32(raw.Pix[i]), uint32(raw.Pix[i+1]), uint32(raw.Pix[i+2])
			dst[j] = uint8((77*r + 150*g + 29*b) >> 8)
		}
	}
}

// regions labels 8-connected foreground pixels of the blurred difference and
// returns the bounding boxes of components with at least MinArea pixels, in
// scan order of their first pixel.
func (d *Detector) regions() []frame.Region {
	threshold := uint8(d.params.Threshold)
	w, h := d.width, d.height
	for i := range d.labels {
		d.labels[i] = 0
	}

	var out []frame.Region
	var next int32
	for start, v := range d.blurred {
		if v <= threshold || d.labels[start] != 0 {
			continue
		}
		next++
		d.labels[start] = next
		d.stack = append(d.stack[:0], int32(start))

		minX, minY := w, h
		maxX, maxY := -1, -1
		area := 0
		for len(d.stack) > 0 {
			p := int(d.stack[len(d.stack)-1])
			d.stack = d.stack[:len(d.stack)-1]
			x, y := p%w, p/w
			area++
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)

			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if (dx == 0 && dy == 0) || nx < 0 || nx >= w {
						continue
					}
					q := ny*w + nx
					if d.labels[q] == 0 && d.blurred[q] > threshold {
						d.labels[q] = next
						d.stack = append(d.stack, int32(q))
					}
				}
			}
		}

		if area >= d.params.MinArea {
			out = append(out, frame.Region{X: minX, Y: minY, W: maxX - minX + 1, H: maxY - minY + 1, Area: area})
		}
	}
	return out
}
