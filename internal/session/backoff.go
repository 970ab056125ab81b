package session

import (
	"context"
	"time"
)

// maxShift bounds the exponent so the delay never overflows.
const maxShift = 30

// Backoff computes reconnect delays as Base * 2^failures, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before the next attempt after the given number of
// consecutive failures.
func (b Backoff) Delay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	if failures > maxShift {
		failures = maxShift
	}
	d := b.Base << failures
	if d <= 0 || (b.Max > 0 && d > b.Max) {
		return b.Max
	}
	return d
}

// sleep waits for d or until ctx is done. It reports whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
