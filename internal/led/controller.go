// Package led drives board LEDs from camera health. The status LED shows
// whether every camera is streaming; the activity LED flashes on motion.
package led

// LED roles understood by every controller.
const (
	RoleStatus   = "status"
	RoleActivity = "activity"
)

// LED patterns.
const (
	PatternSolid = "solid"
	PatternBlink = "blink"
	PatternOff   = "off"
)

// Controller abstracts LED hardware across boards.
type Controller interface {
	// Set switches the LED with the given role to pattern. Roles the board
	// does not have return an error.
	Set(role, pattern string) error

	// Available returns the roles this board has an LED for.
	Available() []string
}
