// Package control keeps running camera sessions in line with the stored
// camera descriptors. It reacts to descriptor events on the bus and drives
// the orchestrator registry.
package control

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/smazurov/camhub/internal/cameras"
	"github.com/smazurov/camhub/internal/events"
	"github.com/smazurov/camhub/internal/orchestrator"
)

// Cameras is the descriptor source.
type Cameras interface {
	Get(ctx context.Context, id string) (cameras.Descriptor, error)
	Enabled(ctx context.Context) []cameras.Descriptor
}

// Sessions is the part of the registry the supervisor drives.
type Sessions interface {
	Start(id string, desc cameras.Descriptor) error
	Stop(id string) error
	Descriptor(id string) (cameras.Descriptor, error)
	ListActive() []orchestrator.Summary
}

// Subscriber is the part of the event bus the supervisor needs.
type Subscriber interface {
	Subscribe(handler any) func()
}

// Action is what a reconcile did for one camera.
type Action string

// Reconcile actions.
const (
	ActionNone    Action = "none"
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
)

// Supervisor reconciles sessions against descriptors.
type Supervisor struct {
	cameras  Cameras
	sessions Sessions
	bus      Subscriber
	logger   *slog.Logger

	mu     sync.Mutex // serializes reconciles
	unsubs []func()
}

// NewSupervisor creates a supervisor. bus may be nil, in which case only
// explicit Sync and Reconcile calls have an effect.
func NewSupervisor(c Cameras, s Sessions, bus Subscriber, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cameras: c, sessions: s, bus: bus, logger: logger}
}

// Start autostarts enabled cameras and begins following descriptor events.
func (s *Supervisor) Start(ctx context.Context) {
	s.Sync(ctx)
	if s.bus == nil {
		return
	}
	s.unsubs = append(s.unsubs,
		s.bus.Subscribe(func(e events.CameraCreatedEvent) { s.Reconcile(context.Background(), e.Camera.ID) }),
		s.bus.Subscribe(func(e events.CameraUpdatedEvent) { s.Reconcile(context.Background(), e.Camera.ID) }),
		s.bus.Subscribe(func(e events.CameraDeletedEvent) { s.Reconcile(context.Background(), e.CameraID) }),
	)
	s.logger.Info("Camera supervisor started")
}

// Stop unsubscribes from the bus. Running sessions are left to the registry.
func (s *Supervisor) Stop() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.logger.Info("Camera supervisor stopped")
}

// Sync stops sessions whose camera is gone or disabled and starts every
// enabled camera that is not running.
func (s *Supervisor) Sync(ctx context.Context) {
	want := make(map[string]bool)
	for _, d := range s.cameras.Enabled(ctx) {
		want[d.ID] = true
	}
	for _, sum := range s.sessions.ListActive() {
		if !want[sum.CameraID] {
			s.Reconcile(ctx, sum.CameraID)
		}
	}
	started := 0
	for id := range want {
		if s.Reconcile(ctx, id) == ActionStart {
			started++
		}
	}
	s.logger.Info("Cameras synchronized", "enabled", len(want), "started", started)
}

// Reconcile brings the session for id in line with its descriptor.
func (s *Supervisor) Reconcile(ctx context.Context, id string) Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	desc, err := s.cameras.Get(ctx, id)
	wanted := err == nil && desc.Enabled
	running, runErr := s.sessions.Descriptor(id)
	isRunning := runErr == nil

	switch {
	case !wanted && !isRunning:
		return ActionNone
	case !wanted:
		s.stop(id)
		return ActionStop
	case !isRunning:
		if s.start(id, desc) {
			return ActionStart
		}
		return ActionNone
	case running.SameRuntime(desc):
		return ActionNone
	default:
		s.logger.Info("Camera settings changed, restarting session", "camera_id", id)
		s.stop(id)
		if s.start(id, desc) {
			return ActionRestart
		}
		return ActionStop
	}
}

func (s *Supervisor) start(id string, desc cameras.Descriptor) bool {
	err := s.sessions.Start(id, desc)
	switch {
	case err == nil:
		return true
	case errors.Is(err, orchestrator.ErrAlreadyActive):
		s.logger.Debug("Camera already running", "camera_id", id)
	default:
		s.logger.Warn("Failed to start camera", "camera_id", id, "error", err)
	}
	return false
}

func (s *Supervisor) stop(id string) {
	if err := s.sessions.Stop(id); err != nil && !errors.Is(err, orchestrator.ErrNotFound) {
		s.logger.Warn("Failed to stop camera", "camera_id", id, "error", err)
	}
}
