package frame

import (
	"image"
	"image/color"
	"testing"
)

func TestRawValid(t *testing.T) {
	tests := []struct {
		name string
		raw  Raw
		want bool
	}{
		{"gray ok", Raw{Pix: make([]byte, 4*3), Width: 4, Height: 3, Format: FormatGray}, true},
		{"rgb ok", Raw{Pix: make([]byte, 4*3*3), Width: 4, Height: 3, Format: FormatRGB24}, true},
		{"short buffer", Raw{Pix: make([]byte, 5), Width: 4, Height: 3, Format: FormatGray}, false},
		{"unknown format", Raw{Pix: make([]byte, 12), Width: 4, Height: 3}, false},
		{"zero size", Raw{Format: FormatGray}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.raw.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToImageRGB(t *testing.T) {
	raw := Raw{Pix: []byte{10, 20, 30, 40, 50, 60}, Width: 2, Height: 1, Format: FormatRGB24}
	img, ok := ToImage(raw).(*image.RGBA)
	if !ok {
		t.Fatalf("expected *image.RGBA")
	}
	got := img.RGBAAt(1, 0)
	if got != (color.RGBA{R: 40, G: 50, B: 60, A: 255}) {
		t.Errorf("unexpected pixel %v", got)
	}
}

func TestRGBSetAt(t *testing.T) {
	p := &RGB{Pix: make([]byte, 3*2*2), Width: 2, Height: 2}
	p.Set(1, 1, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	p.Set(5, 5, color.RGBA{R: 9}) // out of bounds is ignored

	if got := p.At(1, 1).(color.RGBA); got.R != 1 || got.G != 2 || got.B != 3 {
		t.Errorf("unexpected pixel %v", got)
	}
	if p.Pix[9] != 1 {
		t.Errorf("expected packed write at offset 9, got %v", p.Pix)
	}
}
