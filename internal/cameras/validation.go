package cameras

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/smazurov/camhub/internal/source"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// supportedSchemes are the address schemes a session can open.
var supportedSchemes = map[string]bool{
	"rtsp":     true,
	"rtsp+tcp": true,
	"rtsp+udp": true,
	"rtsps":    true,
	"http":     true,
	"https":    true,
	"test":     true,
	"file":     true,
}

// Validate checks a descriptor before it is stored.
func Validate(d Descriptor) error {
	var problems []string

	if !idPattern.MatchString(d.ID) {
		problems = append(problems, fmt.Sprintf("invalid id %q", d.ID))
	}
	if strings.TrimSpace(d.Name) == "" {
		problems = append(problems, "name must not be empty")
	}
	if strings.TrimSpace(d.Address) == "" {
		problems = append(problems, "address must not be empty")
	} else if scheme := source.Scheme(d.Address); !supportedSchemes[scheme] {
		problems = append(problems, fmt.Sprintf("unsupported address scheme %q", scheme))
	}
	if d.Width < 0 || d.Height < 0 || d.FPS < 0 {
		problems = append(problems, "width, height and fps must be positive")
	}
	if (d.Width == 0) != (d.Height == 0) {
		problems = append(problems, "width and height must be set together")
	}
	if d.Width%2 != 0 || d.Height%2 != 0 {
		problems = append(problems, "width and height must be even")
	}
	if d.FPS > 60 {
		problems = append(problems, "fps must be at most 60")
	}

	m := d.Motion
	if m.Threshold < 0 || m.Threshold > 254 {
		problems = append(problems, "motion threshold must be within 0-254")
	}
	if m.MinArea < 0 {
		problems = append(problems, "motion min_area must not be negative")
	}
	if m.BlurSize < 0 || (m.BlurSize > 0 && m.BlurSize%2 == 0) {
		problems = append(problems, "motion blur_size must be odd")
	}
	if m.LearningRate < 0 || m.LearningRate > 1 {
		problems = append(problems, "motion learning_rate must be within (0, 1]")
	}

	if len(problems) > 0 {
		return NewCameraError(ErrCodeInvalidParams, strings.Join(problems, "; "), nil)
	}
	return nil
}
