package ffmpeg

import (
	"fmt"
	"slices"
	"strings"
)

// BuildCaptureArgs returns the executable and its arguments for a capture job.
// Output is always scaled to the requested geometry and written as rawvideo to pipe:1.
func BuildCaptureArgs(p CaptureParams) (string, []string) {
	bin := p.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	logLevel := p.LogLevel
	if logLevel == "" {
		logLevel = "warning"
	}
	pixFmt := p.PixFmt
	if pixFmt == "" {
		pixFmt = "rgb24"
	}

	args := []string{"-hide_banner", "-nostdin", "-loglevel", "level+" + logLevel}

	address, transport := splitTransport(p.Address, p.Transport)
	if strings.HasPrefix(address, "rtsp://") || strings.HasPrefix(address, "rtsps://") {
		if transport != "" {
			args = append(args, "-rtsp_transport", transport)
		}
	}

	if slices.Contains(p.Options, OptionLowLatency) {
		args = append(args, "-fflags", "nobuffer", "-flags", "low_delay")
	}
	if slices.Contains(p.Options, OptionGeneratePTS) {
		args = append(args, "-fflags", "+genpts")
	}
	if slices.Contains(p.Options, OptionWallclockTimestamp) {
		args = append(args, "-use_wallclock_as_timestamps", "1")
	}
	if slices.Contains(p.Options, OptionIgnoreErrors) {
		args = append(args, "-err_detect", "ignore_err")
	}
	if slices.Contains(p.Options, OptionNativeRate) || isFile(address) {
		args = append(args, "-re")
	}

	args = append(args, "-i", address, "-an")

	filters := make([]string, 0, 2)
	if p.Width > 0 && p.Height > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:%d", p.Width, p.Height))
	}
	if p.FPS > 0 {
		filters = append(filters, fmt.Sprintf("fps=%d", p.FPS))
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}

	args = append(args, "-pix_fmt", pixFmt, "-f", "rawvideo", "pipe:1")
	return bin, args
}

// splitTransport turns "rtsp+tcp://host/path" into ("rtsp://host/path", "tcp").
// An explicit transport argument wins over the scheme suffix.
func splitTransport(address, transport string) (string, string) {
	for _, t := range []string{"tcp", "udp"} {
		prefix := "rtsp+" + t + "://"
		if strings.HasPrefix(address, prefix) {
			if transport == "" {
				transport = t
			}
			return "rtsp://" + strings.TrimPrefix(address, prefix), transport
		}
	}
	return address, transport
}

func isFile(address string) bool {
	return !strings.Contains(address, "://") || strings.HasPrefix(address, "file://")
}
