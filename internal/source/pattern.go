package source

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/smazurov/camhub/internal/frame"
)

// Pattern variants for test:// addresses.
const (
	PatternStatic = "static"
	PatternMoving = "moving"
)

// Pattern is an opener for synthetic test:// streams. "test://static" renders
// a fixed gradient; "test://moving" adds a square crossing the scene.
type Pattern struct {
	// Now is used for timestamps and pacing; nil means time.Now.
	Now func() time.Time
}

// Open implements Opener.
func (p Pattern) Open(ctx context.Context, target Target) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := url.Parse(target.Address)
	if err != nil || u.Scheme != "test" {
		return nil, fmt.Errorf("%w: %q is not a test pattern", ErrConnect, target.Address)
	}
	variant := u.Host
	if variant != PatternStatic && variant != PatternMoving {
		return nil, fmt.Errorf("%w: unknown pattern %q", ErrConnect, variant)
	}

	w, h, fps := target.Width, target.Height, target.FPS
	if w <= 0 || h <= 0 {
		w, h = 320, 240
	}
	if fps <= 0 {
		fps = 15
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &patternHandle{
		variant:  variant,
		width:    w,
		height:   h,
		interval: time.Second / time.Duration(fps),
		now:      now,
		closed:   make(chan struct{}),
	}, nil
}

type patternHandle struct {
	variant  string
	width    int
	height   int
	interval time.Duration
	now      func() time.Time

	n        int
	next     time.Time
	closed   chan struct{}
	closeMux sync.Once
}

// ReadFrame implements Handle, pacing frames at the configured rate.
func (h *patternHandle) ReadFrame(ctx context.Context, timeout time.Duration) (frame.Raw, error) {
	select {
	case <-h.closed:
		return frame.Raw{}, ErrStreamEnded
	default:
	}

	if !h.next.IsZero() {
		wait := h.next.Sub(h.now())
		late := wait > timeout
		if late {
			wait = timeout
		}
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return frame.Raw{}, ctx.Err()
			case <-h.closed:
				t.Stop()
				return frame.Raw{}, ErrStreamEnded
			}
		}
		if late {
			return frame.Raw{}, fmt.Errorf("%w: %s", ErrTimeout, timeout)
		}
	}
	h.next = h.now().Add(h.interval)

	raw := h.render()
	h.n++
	return raw, nil
}

func (h *patternHandle) render() frame.Raw {
	pix := make([]byte, h.width*h.height*3)
	for y := 0; y < h.height; y++ {
		for x := 0; x < h.width; x++ {
			i := (y*h.width + x) * 3
			pix[i] = byte(x * 255 / h.width)
			pix[i+1] = byte(y * 255 / h.height)
			pix[i+2] = 96
		}
	}
	if h.variant == PatternMoving {
		size := max(h.height/6, 4)
		span := max(h.width-size, 1)
		x0 := (h.n * 4) % span
		y0 := (h.height - size) / 2
		for y := y0; y < y0+size; y++ {
			for x := x0; x < x0+size; x++ {
				i := (y*h.width + x) * 3
				pix[i], pix[i+1], pix[i+2] = 255, 255, 255
			}
		}
	}
	return frame.Raw{Pix: pix, Width: h.width, Height: h.height, Format: frame.FormatRGB24, Captured: h.now()}
}

// Close implements Handle.
func (h *patternHandle) Close() error {
	h.closeMux.Do(func() { close(h.closed) })
	return nil
}
