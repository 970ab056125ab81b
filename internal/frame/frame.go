// Package frame defines the decoded image types that flow from a source
// through motion detection into the fan-out hub.
package frame

import (
	"image"
	"image/color"
	"time"
)

// Format identifies the pixel layout of a buffer.
type Format uint8

const (
	// FormatGray is one byte of luminance per pixel.
	FormatGray Format = iota + 1
	// FormatRGB24 is packed 8-bit red, green, blue.
	FormatRGB24
)

// BytesPerPixel returns the pixel stride for the format.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatGray:
		return 1
	case FormatRGB24:
		return 3
	default:
		return 0
	}
}

func (f Format) String() string {
	switch f {
	case FormatGray:
		return "gray"
	case FormatRGB24:
		return "rgb24"
	default:
		return "unknown"
	}
}

// Raw is a decoded image as produced by a source, before any processing.
type Raw struct {
	Pix      []byte
	Width    int
	Height   int
	Format   Format
	Captured time.Time
}

// Valid reports whether the buffer length matches the declared geometry.
func (r Raw) Valid() bool {
	bpp := r.Format.BytesPerPixel()
	return bpp > 0 && r.Width > 0 && r.Height > 0 && len(r.Pix) == r.Width*r.Height*bpp
}

// Region is the bounding box of one connected motion area.
type Region struct {
	X    int `json:"x"`
	Y    int `json:"y"`
	W    int `json:"w"`
	H    int `json:"h"`
	Area int `json:"area"`
}

// Frame is an immutable processed snapshot shared read-only by every consumer
// of one dispatch. Seq increases strictly per camera.
type Frame struct {
	CameraID string
	Seq      uint64
	Raw
	Motion  bool
	Regions []Region
}

// Image returns a stdlib image view of the frame suitable for encoding.
// Gray frames share the pixel buffer; RGB frames are expanded into a new RGBA.
func (f *Frame) Image() image.Image {
	return ToImage(f.Raw)
}

// ToImage converts a raw buffer to an image.Image.
func ToImage(r Raw) image.Image {
	rect := image.Rect(0, 0, r.Width, r.Height)
	switch r.Format {
	case FormatGray:
		return &image.Gray{Pix: r.Pix, Stride: r.Width, Rect: rect}
	case FormatRGB24:
		img := image.NewRGBA(rect)
		for i, j := 0, 0; i+2 < len(r.Pix); i, j = i+3, j+4 {
			img.Pix[j] = r.Pix[i]
			img.Pix[j+1] = r.Pix[i+1]
			img.Pix[j+2] = r.Pix[i+2]
			img.Pix[j+3] = 0xff
		}
		return img
	default:
		return image.NewGray(rect)
	}
}

// RGB wraps a packed RGB24 buffer as a draw.Image.
type RGB struct {
	Pix    []byte
	Width  int
	Height int
}

// ColorModel implements image.Image.
func (p *RGB) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image.
func (p *RGB) Bounds() image.Rectangle { return image.Rect(0, 0, p.Width, p.Height) }

// At implements image.Image.
func (p *RGB) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= p.Width || y >= p.Height {
		return color.RGBA{}
	}
	i := (y*p.Width + x) * 3
	return color.RGBA{R: p.Pix[i], G: p.Pix[i+1], B: p.Pix[i+2], A: 0xff}
}

// Set implements draw.Image.
func (p *RGB) Set(x, y int, c color.Color) {
	if x < 0 || y < 0 || x >= p.Width || y >= p.Height {
		return
	}
	r, g, b, _ := c.RGBA()
	i := (y*p.Width + x) * 3
	p.Pix[i] = uint8(r >> 8)
	p.Pix[i+1] = uint8(g >> 8)
	p.Pix[i+2] = uint8(b >> 8)
}
