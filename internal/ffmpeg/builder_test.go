package ffmpeg

import (
	"slices"
	"strings"
	"testing"
)

func TestBuildCaptureArgs(t *testing.T) {
	tests := []struct {
		name     string
		params   CaptureParams
		contains []string
		absent   []string
	}{
		{
			name:     "rtsp over tcp scheme",
			params:   CaptureParams{Address: "rtsp+tcp://cam/stream", Width: 640, Height: 480, FPS: 15},
			contains: []string{"-rtsp_transport tcp", "-i rtsp://cam/stream", "-vf scale=640:480,fps=15", "-pix_fmt rgb24 -f rawvideo pipe:1"},
			absent:   []string{"-re"},
		},
		{
			name:     "explicit transport",
			params:   CaptureParams{Address: "rtsp://cam/stream", Transport: "udp"},
			contains: []string{"-rtsp_transport udp"},
			absent:   []string{"-vf"},
		},
		{
			name:     "file input reads at native rate",
			params:   CaptureParams{Address: "/tmp/clip.mp4", PixFmt: "gray"},
			contains: []string{"-re -i /tmp/clip.mp4", "-pix_fmt gray"},
		},
		{
			name:     "http has no transport flag",
			params:   CaptureParams{Address: "http://cam/mjpeg", Options: []OptionType{OptionLowLatency}},
			contains: []string{"-fflags nobuffer -flags low_delay", "-i http://cam/mjpeg"},
			absent:   []string{"-rtsp_transport"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bin, args := BuildCaptureArgs(tt.params)
			if bin != "ffmpeg" {
				t.Errorf("expected default binary, got %q", bin)
			}
			line := strings.Join(args, " ")
			for _, want := range tt.contains {
				if !strings.Contains(line, want) {
					t.Errorf("args %q missing %q", line, want)
				}
			}
			for _, bad := range tt.absent {
				if slices.Contains(args, bad) || strings.Contains(line, bad+" ") {
					t.Errorf("args %q should not contain %q", line, bad)
				}
			}
		})
	}
}

func TestFrameSize(t *testing.T) {
	if got := (CaptureParams{Width: 4, Height: 2}).FrameSize(); got != 24 {
		t.Errorf("rgb24 frame size = %d, want 24", got)
	}
	if got := (CaptureParams{Width: 4, Height: 2, PixFmt: "gray"}).FrameSize(); got != 8 {
		t.Errorf("gray frame size = %d, want 8", got)
	}
}
