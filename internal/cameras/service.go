// Package cameras is the control plane for camera descriptors: validation,
// CRUD over a Store, hot reload from disk and go2rtc imports. Changes are
// announced on the event bus; it never touches running sessions itself.
package cameras

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smazurov/camhub/internal/events"
)

// Publisher is the part of the event bus the service needs.
type Publisher interface {
	Publish(ev events.Event)
}

// CreateParams contains parameters for creating a camera.
type CreateParams struct {
	ID          string // Optional, generated when empty
	Name        string
	Address     string
	Enabled     *bool // Optional, defaults to true
	Width       int
	Height      int
	FPS         int
	Motion      MotionSettings
	Location    string
	Description string
}

// UpdateParams contains the fields to change on an existing camera.
type UpdateParams struct {
	Name        *string
	Address     *string
	Enabled     *bool
	Width       *int
	Height      *int
	FPS         *int
	Motion      *MotionSettings
	Location    *string
	Description *string
}

// Changes lists the ids affected by a reload.
type Changes struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
	Deleted []string `json:"deleted"`
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Created) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0
}

// Service manages camera descriptors.
type Service struct {
	store  Store
	bus    Publisher
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex // serializes mutations and reloads
}

// NewService creates a service over an already loaded store. bus may be nil.
func NewService(store Store, bus Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, bus: bus, logger: logger, now: time.Now}
}

// List returns all cameras sorted by id.
func (s *Service) List(_ context.Context) []Descriptor {
	all := s.store.GetAllCameras()
	out := make([]Descriptor, 0, len(all))
	for _, d := range all {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Enabled returns the cameras that should be running, sorted by id.
func (s *Service) Enabled(ctx context.Context) []Descriptor {
	var out []Descriptor
	for _, d := range s.List(ctx) {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// Get returns one camera.
func (s *Service) Get(_ context.Context, id string) (Descriptor, error) {
	d, ok := s.store.GetCamera(id)
	if !ok {
		return Descriptor{}, NewCameraError(ErrCodeCameraNotFound, fmt.Sprintf("camera %s not found", id), nil)
	}
	return d, nil
}

// Create validates and stores a new camera.
func (s *Service) Create(_ context.Context, params CreateParams) (Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimSpace(params.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := s.store.GetCamera(id); exists {
		return Descriptor{}, NewCameraError(ErrCodeCameraExists, fmt.Sprintf("camera %s already exists", id), nil)
	}

	enabled := true
	if params.Enabled != nil {
		enabled = *params.Enabled
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		name = id
	}
	now := s.now().UTC()
	d := Descriptor{
		ID:          id,
		Name:        name,
		Address:     strings.TrimSpace(params.Address),
		Enabled:     enabled,
		Width:       params.Width,
		Height:      params.Height,
		FPS:         params.FPS,
		Motion:      params.Motion,
		Location:    params.Location,
		Description: params.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := Validate(d); err != nil {
		return Descriptor{}, err
	}
	if err := s.store.AddCamera(d); err != nil {
		return Descriptor{}, NewCameraError(ErrCodeConfigError, "failed to save camera", err)
	}

	s.logger.Info("Camera created", "camera_id", id, "address", redact(d.Address), "enabled", enabled)
	s.publish(events.CameraCreatedEvent{Camera: info(d), Timestamp: now.Format(time.RFC3339)})
	return d, nil
}

// Update applies params to an existing camera.
func (s *Service) Update(_ context.Context, id string, params UpdateParams) (Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.store.GetCamera(id)
	if !ok {
		return Descriptor{}, NewCameraError(ErrCodeCameraNotFound, fmt.Sprintf("camera %s not found", id), nil)
	}

	if params.Name != nil {
		d.Name = strings.TrimSpace(*params.Name)
	}
	if params.Address != nil {
		d.Address = strings.TrimSpace(*params.Address)
	}
	if params.Enabled != nil {
		d.Enabled = *params.Enabled
	}
	if params.Width != nil {
		d.Width = *params.Width
	}
	if params.Height != nil {
		d.Height = *params.Height
	}
	if params.FPS != nil {
		d.FPS = *params.FPS
	}
	if params.Motion != nil {
		d.Motion = *params.Motion
	}
	if params.Location != nil {
		d.Location = *params.Location
	}
	if params.Description != nil {
		d.Description = *params.Description
	}
	if err := Validate(d); err != nil {
		return Descriptor{}, err
	}

	now := s.now().UTC()
	d.UpdatedAt = now
	if err := s.store.UpdateCamera(id, d); err != nil {
		return Descriptor{}, NewCameraError(ErrCodeConfigError, "failed to save camera", err)
	}

	s.logger.Info("Camera updated", "camera_id", id)
	s.publish(events.CameraUpdatedEvent{Camera: info(d), Timestamp: now.Format(time.RFC3339)})
	return d, nil
}

// Delete removes a camera.
func (s *Service) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.store.GetCamera(id); !ok {
		return NewCameraError(ErrCodeCameraNotFound, fmt.Sprintf("camera %s not found", id), nil)
	}
	if err := s.store.RemoveCamera(id); err != nil {
		return NewCameraError(ErrCodeConfigError, "failed to save cameras", err)
	}

	s.logger.Info("Camera deleted", "camera_id", id)
	s.publish(events.CameraDeletedEvent{CameraID: id, Timestamp: s.now().UTC().Format(time.RFC3339)})
	return nil
}

// Import stores descriptors that do not exist yet and returns the ids
// created and skipped. Invalid descriptors are skipped with a warning.
func (s *Service) Import(ctx context.Context, descriptors []Descriptor) (created, skipped []string, err error) {
	for _, d := range descriptors {
		enabled := d.Enabled
		_, createErr := s.Create(ctx, CreateParams{
			ID:          d.ID,
			Name:        d.Name,
			Address:     d.Address,
			Enabled:     &enabled,
			Width:       d.Width,
			Height:      d.Height,
			FPS:         d.FPS,
			Motion:      d.Motion,
			Location:    d.Location,
			Description: d.Description,
		})
		switch {
		case createErr == nil:
			created = append(created, d.ID)
		case HasCode(createErr, ErrCodeCameraExists), HasCode(createErr, ErrCodeInvalidParams):
			s.logger.Warn("Skipping imported camera", "camera_id", d.ID, "error", createErr)
			skipped = append(skipped, d.ID)
		default:
			return created, skipped, createErr
		}
	}
	return created, skipped, nil
}

// Reload re-reads the store from disk and publishes an event for every
// camera that appeared, changed or disappeared.
func (s *Service) Reload() (Changes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.store.GetAllCameras()
	if err := s.store.Load(); err != nil {
		return Changes{}, NewCameraError(ErrCodeConfigError, "failed to reload cameras", err)
	}
	after := s.store.GetAllCameras()

	var ch Changes
	ts := s.now().UTC().Format(time.RFC3339)
	for _, id := range sortedKeys(after) {
		d := after[id]
		if err := Validate(d); err != nil {
			s.logger.Warn("Reloaded camera is invalid", "camera_id", id, "error", err)
		}
		old, existed := before[id]
		switch {
		case !existed:
			ch.Created = append(ch.Created, id)
			s.publish(events.CameraCreatedEvent{Camera: info(d), Timestamp: ts})
		case old != d:
			ch.Updated = append(ch.Updated, id)
			s.publish(events.CameraUpdatedEvent{Camera: info(d), Timestamp: ts})
		}
	}
	for _, id := range sortedKeys(before) {
		if _, still := after[id]; !still {
			ch.Deleted = append(ch.Deleted, id)
			s.publish(events.CameraDeletedEvent{CameraID: id, Timestamp: ts})
		}
	}

	if !ch.Empty() {
		s.logger.Info("Cameras reloaded", "created", len(ch.Created), "updated", len(ch.Updated), "deleted", len(ch.Deleted))
	}
	return ch, nil
}

func (s *Service) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

func info(d Descriptor) events.CameraInfo {
	return events.CameraInfo{ID: d.ID, Name: d.Name, Address: redact(d.Address), Enabled: d.Enabled}
}

func sortedKeys(m map[string]Descriptor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
