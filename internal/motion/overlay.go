package motion

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/smazurov/camhub/internal/frame"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Label is drawn above every region box.
const Label = "MOTION"

const boxThickness = 2

var (
	boxColorRGB  = color.RGBA{G: 255, A: 255}
	boxColorGray = color.Gray{Y: 255}
)

// Overlay returns a copy of raw with region boxes and labels drawn on it.
// The input buffer is never modified.
func Overlay(raw frame.Raw, regions []frame.Region) frame.Raw {
	out := raw
	out.Pix = make([]byte, len(raw.Pix))
	copy(out.Pix, raw.Pix)
	if len(regions) == 0 || !raw.Valid() {
		return out
	}

	var dst draw.Image
	var col color.Color
	switch raw.Format {
	case frame.FormatGray:
		dst = &image.Gray{Pix: out.Pix, Stride: out.Width, Rect: image.Rect(0, 0, out.Width, out.Height)}
		col = boxColorGray
	default:
		dst = &frame.RGB{Pix: out.Pix, Width: out.Width, Height: out.Height}
		col = boxColorRGB
	}

	for _, r := range regions {
		drawBox(dst, r, col)
		drawLabel(dst, r, col)
	}
	return out
}

func drawBox(dst draw.Image, r frame.Region, col color.Color) {
	x0, y0 := r.X, r.Y
	x1, y1 := r.X+r.W-1, r.Y+r.H-1
	for t := 0; t < boxThickness; t++ {
		for x := x0; x <= x1; x++ {
			dst.Set(x, y0+t, col)
			dst.Set(x, y1-t, col)
		}
		for y := y0; y <= y1; y++ {
			dst.Set(x0+t, y, col)
			dst.Set(x1-t, y, col)
		}
	}
}

func drawLabel(dst draw.Image, r frame.Region, col color.Color) {
	face := basicfont.Face7x13
	baseline := r.Y - 4
	if baseline < face.Ascent {
		baseline = r.Y + face.Ascent + boxThickness
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(r.X+boxThickness, baseline),
	}
	d.DrawString(Label)
}
