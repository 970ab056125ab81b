package source

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/smazurov/camhub/internal/frame"
)

// DefaultProbeTimeout applies when Probe is given no timeout.
const DefaultProbeTimeout = 10 * time.Second

// Probe opens target, waits up to timeout for the first frame and closes
// the handle again. It returns that frame and how long it took to arrive.
func Probe(ctx context.Context, opener Opener, target Target, timeout time.Duration) (frame.Raw, time.Duration, error) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	handle, err := opener.Open(ctx, target)
	if err != nil {
		return frame.Raw{}, 0, fmt.Errorf("open %s: %w", redactAddress(target.Address), err)
	}
	defer func() { _ = handle.Close() }()

	raw, err := handle.ReadFrame(ctx, timeout)
	if err != nil {
		return frame.Raw{}, time.Since(start), fmt.Errorf("read frame: %w", err)
	}
	return raw, time.Since(start), nil
}

// redactAddress drops the password from an address so it can be reported.
func redactAddress(address string) string {
	u, err := url.Parse(address)
	if err != nil || u.User == nil {
		return address
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
