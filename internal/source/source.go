// Package source adapts camera streams into decoded frames.
//
// An Opener turns a Target into a Handle; a Handle yields frames until it
// fails or is closed. Failures are classified with the ErrConnect, ErrTimeout
// and ErrStreamEnded sentinels so the session can drive its retry policy.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/camhub/internal/frame"
)

// Error classes returned by openers and handles. Match with errors.Is.
var (
	ErrConnect     = errors.New("source unreachable")
	ErrTimeout     = errors.New("no frame within deadline")
	ErrStreamEnded = errors.New("stream ended")
	ErrUnsupported = errors.New("unsupported source address")
)

// Target is what an opener needs to start decoding one camera.
type Target struct {
	Address string
	Width   int
	Height  int
	FPS     int
}

// Opener opens a camera stream.
type Opener interface {
	Open(ctx context.Context, target Target) (Handle, error)
}

// Handle is an open stream. ReadFrame blocks until a frame is decoded, the
// timeout elapses, the stream ends or ctx is cancelled. Close is idempotent.
type Handle interface {
	ReadFrame(ctx context.Context, timeout time.Duration) (frame.Raw, error)
	Close() error
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, target Target) (Handle, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, target Target) (Handle, error) {
	return f(ctx, target)
}

// Mux dispatches Open calls by address scheme. Addresses without a scheme
// are treated as "file".
type Mux struct {
	mu      sync.RWMutex
	openers map[string]Opener
}

// NewMux creates an empty scheme mux.
func NewMux() *Mux {
	return &Mux{openers: make(map[string]Opener)}
}

// Register binds an opener to one or more schemes.
func (m *Mux) Register(opener Opener, schemes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range schemes {
		m.openers[strings.ToLower(s)] = opener
	}
}

// Open implements Opener.
func (m *Mux) Open(ctx context.Context, target Target) (Handle, error) {
	scheme := Scheme(target.Address)
	m.mu.RLock()
	opener, ok := m.openers[scheme]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupported, scheme)
	}
	return opener.Open(ctx, target)
}

// Scheme returns the lower-cased scheme of an address, or "file".
func Scheme(address string) string {
	u, err := url.Parse(address)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return "file"
	}
	return strings.ToLower(u.Scheme)
}

// Retryable reports whether err belongs to the connection class that a
// session recovers from by reconnecting.
func Retryable(err error) bool {
	return errors.Is(err, ErrConnect) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrStreamEnded)
}
