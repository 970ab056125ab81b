package led

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/smazurov/camhub/internal/events"
	"github.com/smazurov/camhub/internal/session"
)

// DefaultMotionHold is how long the activity LED stays on after motion.
const DefaultMotionHold = 2 * time.Second

// Subscriber is the part of the event bus the indicator needs.
type Subscriber interface {
	Subscribe(handler any) func()
}

// Indicator follows camera events and keeps the LEDs in line with them.
// The status LED is solid when every session is active, blinks while any
// session is connecting or failing, and is off when nothing runs.
type Indicator struct {
	controller Controller
	bus        Subscriber
	hold       time.Duration
	logger     *slog.Logger
	roles      []string

	mu      sync.Mutex
	states  map[string]session.State
	status  string
	motion  *time.Timer
	flashes uint64
	unsubs  []func()
	stopped bool
}

// NewIndicator creates an indicator. hold <= 0 uses DefaultMotionHold.
func NewIndicator(controller Controller, bus Subscriber, hold time.Duration, logger *slog.Logger) *Indicator {
	if hold <= 0 {
		hold = DefaultMotionHold
	}
	return &Indicator{
		controller: controller,
		bus:        bus,
		hold:       hold,
		logger:     logger,
		roles:      controller.Available(),
		states:     make(map[string]session.State),
	}
}

// Start subscribes to camera events and sets the initial pattern.
func (i *Indicator) Start() {
	i.mu.Lock()
	i.applyStatusLocked()
	i.mu.Unlock()

	i.unsubs = []func(){
		i.bus.Subscribe(func(e events.CameraStateChangedEvent) {
			i.setState(e.CameraID, session.State(e.To))
		}),
		i.bus.Subscribe(func(e events.CameraDeletedEvent) {
			i.setState(e.CameraID, session.StateStopped)
		}),
		i.bus.Subscribe(func(e events.MotionDetectedEvent) {
			i.flashActivity()
		}),
	}
	i.logger.Info("LED indicator started", "roles", i.roles)
}

// Stop unsubscribes and switches every LED off.
func (i *Indicator) Stop() {
	for _, unsub := range i.unsubs {
		unsub()
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.stopped = true
	if i.motion != nil {
		i.motion.Stop()
	}
	for _, role := range i.roles {
		i.set(role, PatternOff)
	}
	i.logger.Info("LED indicator stopped")
}

func (i *Indicator) setState(cameraID string, st session.State) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped {
		return
	}
	if st == session.StateStopped || st == session.StateInactive {
		delete(i.states, cameraID)
	} else {
		i.states[cameraID] = st
	}
	i.applyStatusLocked()
}

// statusPattern derives the status LED pattern from the session states.
func statusPattern(states map[string]session.State) string {
	if len(states) == 0 {
		return PatternOff
	}
	for _, st := range states {
		if st != session.StateActive {
			return PatternBlink
		}
	}
	return PatternSolid
}

func (i *Indicator) applyStatusLocked() {
	pattern := statusPattern(i.states)
	if pattern == i.status {
		return
	}
	i.status = pattern
	i.logger.Debug("Status LED changed", "pattern", pattern, "cameras", len(i.states))
	i.set(RoleStatus, pattern)
}

func (i *Indicator) flashActivity() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped || !slices.Contains(i.roles, RoleActivity) {
		return
	}
	if i.motion != nil && i.motion.Stop() {
		// still lit, just extend
		i.motion.Reset(i.hold)
		return
	}
	i.flashes++
	flash := i.flashes
	i.set(RoleActivity, PatternSolid)
	i.motion = time.AfterFunc(i.hold, func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		if !i.stopped && i.flashes == flash {
			i.set(RoleActivity, PatternOff)
		}
	})
}

func (i *Indicator) set(role, pattern string) {
	if !slices.Contains(i.roles, role) {
		return
	}
	if err := i.controller.Set(role, pattern); err != nil {
		i.logger.Warn("Failed to set LED", "role", role, "pattern", pattern, "error", err)
	}
}
