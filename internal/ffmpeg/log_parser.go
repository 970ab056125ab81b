package ffmpeg

import (
	"log/slog"
	"strings"
)

// ParseLogLevel splits an ffmpeg line produced with "-loglevel level+..." into
// its level and message. Lines look like "[error] msg" or
// "[rtsp @ 0x55d0] [error] msg"; a component prefix is kept in the message.
// Lines without a recognised level are reported as info.
func ParseLogLevel(line string) (level, msg string) {
	rest := line
	var component string
	if strings.HasPrefix(rest, "[") && strings.Contains(rest, " @ ") {
		if end := strings.Index(rest, "] "); end > 0 {
			component = rest[:end+2]
			rest = rest[end+2:]
		}
	}

	if !strings.HasPrefix(rest, "[") {
		return "info", line
	}
	end := strings.Index(rest, "] ")
	if end < 0 || !knownLevel(rest[1:end]) {
		return "info", line
	}
	return rest[1:end], component + rest[end+2:]
}

// SlogLevel maps an ffmpeg level name onto a slog level.
func SlogLevel(level string) slog.Level {
	switch level {
	case "panic", "fatal", "error":
		return slog.LevelError
	case "warning":
		return slog.LevelWarn
	case "verbose", "debug", "trace":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func knownLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}
