package led

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const sysfsLEDPath = "/sys/class/leds"

// sysfs implements Controller using the Linux LED class interface
type sysfs struct {
	root string
	leds map[string]string // role -> sysfs name
}

func newSysfs(root string, leds map[string]string) *sysfs {
	return &sysfs{root: root, leds: leds}
}

// Set writes the trigger and brightness of the LED holding role.
func (s *sysfs) Set(role, pattern string) error {
	name, ok := s.leds[role]
	if !ok {
		return fmt.Errorf("LED role %q not supported on this board", role)
	}

	ledPath := filepath.Join(s.root, name)
	if _, err := os.Stat(ledPath); err != nil {
		return fmt.Errorf("LED %q not found at %s: %w", role, ledPath, err)
	}

	trigger, brightness := "none", "0"
	switch pattern {
	case PatternSolid:
		brightness = "1"
	case PatternBlink:
		trigger, brightness = "heartbeat", "1"
	case PatternOff:
	default:
		return fmt.Errorf("unknown LED pattern %q", pattern)
	}

	if err := os.WriteFile(filepath.Join(ledPath, "trigger"), []byte(trigger), 0o644); err != nil {
		return fmt.Errorf("failed to set LED trigger: %w", err)
	}
	if err := os.WriteFile(filepath.Join(ledPath, "brightness"), []byte(brightness), 0o644); err != nil {
		return fmt.Errorf("failed to set LED brightness: %w", err)
	}
	return nil
}

func (s *sysfs) Available() []string {
	roles := make([]string, 0, len(s.leds))
	for role := range s.leds {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
