package led

import (
	"log/slog"
	"os"
	"strings"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// boards maps a device tree model substring to the sysfs LED names that
// play each role.
var boards = []struct {
	model string
	leds  map[string]string
}{
	{"NanoPC-T6", map[string]string{RoleStatus: "sys_led", RoleActivity: "usr_led"}},
	{"Orange Pi", map[string]string{RoleStatus: "green_led", RoleActivity: "blue_led"}},
	{"Raspberry Pi", map[string]string{RoleStatus: "ACT"}},
}

// New creates a controller for the board camhub runs on, falling back to a
// no-op controller when the board is unknown.
func New(logger *slog.Logger) Controller {
	return newForModel(detectBoard(deviceTreeModelPath), sysfsLEDPath, logger)
}

func newForModel(model, root string, logger *slog.Logger) Controller {
	for _, b := range boards {
		if strings.Contains(model, b.model) {
			logger.Info("Detected board with LED support", "board_model", model)
			return newSysfs(root, b.leds)
		}
	}
	logger.Info("No LED support detected, using no-op controller", "board_model", model)
	return newNoop(logger)
}

// detectBoard reads the device tree model to identify the board.
func detectBoard(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	// Device tree strings are NUL terminated
	return strings.TrimRight(string(data), "\x00")
}
