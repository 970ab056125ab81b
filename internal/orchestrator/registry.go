// Package orchestrator is the process-wide registry of camera sessions. It is
// the only place sessions are created or destroyed, so there is never more
// than one session per camera id.
package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/smazurov/camhub/internal/cameras"
	"github.com/smazurov/camhub/internal/events"
	"github.com/smazurov/camhub/internal/fanout"
	"github.com/smazurov/camhub/internal/frame"
	"github.com/smazurov/camhub/internal/session"
	"github.com/smazurov/camhub/internal/source"
)

// Publisher is the part of the event bus the registry needs.
type Publisher interface {
	Publish(ev events.Event)
}

// SessionDefaults are applied to every session the registry creates.
type SessionDefaults struct {
	ReadTimeout    time.Duration
	ConnectTimeout time.Duration
	Backoff        session.Backoff
	FatalThreshold int
	QueueDepth     int
	MaxFailures    int
}

// Options configures a Registry.
type Options struct {
	Opener   source.Opener
	Defaults SessionDefaults
	Bus      Publisher // optional
	Logger   *slog.Logger

	// Per-camera loggers, Logger when nil.
	SessionLogger *slog.Logger
	HubLogger     *slog.Logger
	MotionLogger  *slog.Logger
}

// Summary is one row of ListActive.
type Summary struct {
	CameraID  string        `json:"camera_id"`
	State     session.State `json:"state"`
	Consumers int           `json:"consumers"`
}

type entry struct {
	sess       *session.Session
	descriptor cameras.Descriptor
	stopping   bool
}

// exited reports whether the session loop has finished on its own, which
// only happens after a fatal failure.
func (e *entry) exited() bool {
	select {
	case <-e.sess.Done():
		return true
	default:
		return false
	}
}

// Registry owns all camera sessions.
type Registry struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty registry.
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SessionLogger == nil {
		opts.SessionLogger = logger
	}
	return &Registry{
		opts:    opts,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Start creates a session for id and returns without waiting for it to
// connect. It fails with ErrAlreadyActive if a session exists, including one
// that is still stopping. A fatal session is replaced.
func (r *Registry) Start(id string, desc cameras.Descriptor) error {
	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		if e.stopping || !e.exited() {
			r.mu.Unlock()
			startsTotal.WithLabelValues("already_active").Inc()
			return fmt.Errorf("%w: %s", ErrAlreadyActive, id)
		}
		r.logger.Info("Replacing failed camera session", "camera_id", id)
	}

	desc.ID = id
	sess := session.New(r.sessionConfig(desc), r.opts.Opener, r.opts.SessionLogger)
	r.entries[id] = &entry{sess: sess, descriptor: desc}
	sessionsGauge.Set(float64(len(r.entries)))
	r.mu.Unlock()

	sess.Start()
	startsTotal.WithLabelValues("started").Inc()
	r.logger.Info("Camera session registered", "camera_id", id)
	return nil
}

// Stop stops the session for id and blocks until its source is closed and
// every consumer is detached. A fatal session is cleared from the registry.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.stopping = true
	r.mu.Unlock()

	e.sess.Stop()

	r.mu.Lock()
	if r.entries[id] == e {
		delete(r.entries, id)
	}
	sessionsGauge.Set(float64(len(r.entries)))
	r.mu.Unlock()

	r.logger.Info("Camera session removed", "camera_id", id)
	return nil
}

// StopAll stops every session concurrently and waits for all of them.
func (r *Registry) StopAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Stop(id); err != nil && !errors.Is(err, ErrNotFound) {
				r.logger.Warn("Failed to stop camera", "camera_id", id, "error", err)
			}
		}()
	}
	wg.Wait()
}

// Status returns the session snapshot for id.
func (r *Registry) Status(id string) (session.Status, error) {
	e, err := r.lookup(id)
	if err != nil {
		return session.Status{}, err
	}
	return e.sess.Status(), nil
}

// ListActive returns every known session sorted by camera id.
func (r *Registry) ListActive() []Summary {
	r.mu.Lock()
	entries := make(map[string]*entry, len(r.entries))
	for id, e := range r.entries {
		entries[id] = e
	}
	r.mu.Unlock()

	out := make([]Summary, 0, len(entries))
	for id, e := range entries {
		st := e.sess.Status()
		out = append(out, Summary{CameraID: id, State: st.State, Consumers: st.Consumers})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

// Descriptor returns the descriptor a session was started with.
func (r *Registry) Descriptor(id string) (cameras.Descriptor, error) {
	e, err := r.lookup(id)
	if err != nil {
		return cameras.Descriptor{}, err
	}
	return e.descriptor, nil
}

// Attach adds a consumer to the camera's fan-out hub.
func (r *Registry) Attach(id string, c fanout.Consumer) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	return e.sess.Attach(c)
}

// Detach removes a consumer from the camera's fan-out hub.
func (r *Registry) Detach(id, consumerID string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.sess.Detach(consumerID)
	return nil
}

// Consumers lists the consumers attached to a camera.
func (r *Registry) Consumers(id string) ([]fanout.ConsumerStats, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.sess.Consumers(), nil
}

// Latest returns the most recent processed frame of a camera.
func (r *Registry) Latest(id string) (*frame.Frame, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	f := e.sess.Latest()
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFrame, id)
	}
	return f, nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.stopping {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

func (r *Registry) sessionConfig(desc cameras.Descriptor) session.Config {
	d := r.opts.Defaults
	return session.Config{
		CameraID:       desc.ID,
		Target:         desc.Target(),
		Motion:         desc.MotionParams(),
		Overlay:        desc.Motion.Overlay,
		ReadTimeout:    d.ReadTimeout,
		ConnectTimeout: d.ConnectTimeout,
		Backoff:        d.Backoff,
		FatalThreshold: d.FatalThreshold,
		Hub: fanout.Options{
			QueueDepth:  d.QueueDepth,
			MaxFailures: d.MaxFailures,
			OnDrop:      r.onDrop,
		},
		HubLogger:     r.opts.HubLogger,
		MotionLogger:  r.opts.MotionLogger,
		OnStateChange: r.onStateChange,
		OnMotion:      r.onMotion,
	}
}

func (r *Registry) onStateChange(t session.Transition) {
	ev := events.CameraStateChangedEvent{
		CameraID:  t.CameraID,
		From:      string(t.From),
		To:        string(t.To),
		RetryInMS: t.RetryIn.Milliseconds(),
		Failures:  t.Failures,
		Timestamp: t.At.UTC().Format(time.RFC3339),
	}
	if t.Err != nil {
		ev.Error = t.Err.Error()
	}
	r.publish(ev)

	if t.To == session.StateFatal {
		fatalTotal.Inc()
		r.publish(events.CameraFatalEvent{
			CameraID:  t.CameraID,
			Failures:  t.Failures,
			Error:     ev.Error,
			Timestamp: ev.Timestamp,
		})
	}
}

func (r *Registry) onMotion(f *frame.Frame) {
	r.publish(events.MotionDetectedEvent{
		CameraID:  f.CameraID,
		Seq:       f.Seq,
		Regions:   f.Regions,
		Timestamp: f.Captured.UTC().Format(time.RFC3339Nano),
	})
}

func (r *Registry) onDrop(cameraID string, st fanout.ConsumerStats, reason fanout.DropReason) {
	r.publish(events.ConsumerDroppedEvent{
		CameraID:   cameraID,
		ConsumerID: st.ID,
		Kind:       st.Kind,
		Reason:     string(reason),
		Delivered:  st.Delivered,
		Dropped:    st.Dropped,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *Registry) publish(ev events.Event) {
	if r.opts.Bus != nil {
		r.opts.Bus.Publish(ev)
	}
}
