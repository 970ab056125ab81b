// Package session runs the capture loop of one camera: connect, read, detect
// motion, stamp and dispatch, with exponential backoff between failed
// connects and a terminal fatal state after too many of them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/camhub/internal/fanout"
	"github.com/smazurov/camhub/internal/frame"
	"github.com/smazurov/camhub/internal/motion"
	"github.com/smazurov/camhub/internal/source"
)

// Defaults applied to zero Config fields.
const (
	DefaultReadTimeout    = 5 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultBackoffBase    = time.Second
	DefaultBackoffMax     = 30 * time.Second
	DefaultFatalThreshold = 10
)

// ErrPipelinePanic wraps a panic recovered from the capture pipeline.
var ErrPipelinePanic = errors.New("capture pipeline panic")

// Config is the per-camera session configuration. It is copied at creation
// and never mutated by the session.
type Config struct {
	CameraID string
	Target   source.Target
	Motion   motion.Params
	// Overlay draws motion boxes into dispatched frames.
	Overlay bool

	// ReadTimeout bounds each frame read once active.
	ReadTimeout time.Duration
	// ConnectTimeout bounds the first frame read of a connect attempt.
	ConnectTimeout time.Duration
	Backoff        Backoff
	// FatalThreshold is the number of consecutive failed connects after which
	// the session gives up.
	FatalThreshold int

	Hub fanout.Options
	// HubLogger and MotionLogger default to the session logger.
	HubLogger    *slog.Logger
	MotionLogger *slog.Logger

	OnStateChange func(Transition)
	OnMotion      func(*frame.Frame)
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = DefaultBackoffBase
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = DefaultBackoffMax
	}
	if c.FatalThreshold <= 0 {
		c.FatalThreshold = DefaultFatalThreshold
	}
	return c
}

// Session owns one camera's source handle, motion detector and fan-out hub.
type Session struct {
	cfg      Config
	opener   source.Opener
	hub      *fanout.Hub
	detector *motion.Detector
	logger   *slog.Logger
	motionLg *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool

	mu          sync.RWMutex
	state       State
	lastErr     error
	latest      *frame.Frame
	startedAt   time.Time
	activeSince time.Time

	seq         atomic.Uint64
	frames      atomic.Uint64
	motions     atomic.Uint64
	failures    atomic.Int64
	lastFrameAt atomic.Int64

	// Owned by the loop goroutine.
	handle     source.Handle
	lastMotion bool
}

// New creates an inactive session. Call Start to run it.
func New(cfg Config, opener source.Opener, logger *slog.Logger) *Session {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("camera_id", cfg.CameraID)
	hubLogger, motionLogger := logger, logger
	if cfg.HubLogger != nil {
		hubLogger = cfg.HubLogger.With("camera_id", cfg.CameraID)
	}
	if cfg.MotionLogger != nil {
		motionLogger = cfg.MotionLogger.With("camera_id", cfg.CameraID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:      cfg,
		opener:   opener,
		hub:      fanout.NewHub(cfg.CameraID, cfg.Hub, hubLogger),
		detector: motion.NewDetector(cfg.Motion),
		logger:   logger,
		motionLg: motionLogger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    StateInactive,
	}
}

// Start moves the session to connecting, launches the capture loop and
// returns without waiting for the source. Only the first call has an effect.
func (s *Session) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.logger.Info("Camera session starting", "address", s.cfg.Target.Address)
	s.transition(StateConnecting, nil, 0)
	go s.run()
}

// Stop cancels the loop and blocks until the source handle is closed and
// every consumer is detached. It is safe to call more than once and on a
// session that has already exited.
func (s *Session) Stop() {
	s.cancel()
	if !s.started.CompareAndSwap(false, true) {
		<-s.done
		return
	}
	// Never started: release what New allocated.
	s.hub.Close()
	s.setState(StateStopped, nil)
	close(s.done)
}

// Done is closed when the loop has exited and released its resources.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// CameraID returns the camera this session captures.
func (s *Session) CameraID() string {
	return s.cfg.CameraID
}

// Config returns the session configuration as applied.
func (s *Session) Config() Config {
	return s.cfg
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Latest returns the most recent processed frame, or nil.
func (s *Session) Latest() *frame.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Attach adds a consumer to this camera's hub.
func (s *Session) Attach(c fanout.Consumer) error {
	return s.hub.Attach(c)
}

// Detach removes a consumer from this camera's hub.
func (s *Session) Detach(consumerID string) {
	s.hub.Detach(consumerID)
}

// Consumers lists the attached consumers.
func (s *Session) Consumers() []fanout.ConsumerStats {
	return s.hub.Consumers()
}

// Status returns a snapshot of the session counters.
func (s *Session) Status() Status {
	s.mu.RLock()
	st := Status{
		CameraID:    s.cfg.CameraID,
		State:       s.state,
		StartedAt:   s.startedAt,
		ActiveSince: s.activeSince,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	st.FramesProcessed = s.frames.Load()
	st.MotionEvents = s.motions.Load()
	st.ConsecutiveFailures = int(s.failures.Load())
	st.LastSeq = s.seq.Load()
	if ns := s.lastFrameAt.Load(); ns > 0 {
		st.LastFrameAt = time.Unix(0, ns)
	}
	if st.State == StateActive && !st.ActiveSince.IsZero() {
		st.Uptime = time.Since(st.ActiveSince)
	}
	st.Consumers = s.hub.Len()
	return st
}

func (s *Session) run() {
	defer close(s.done)
	defer s.release()

	for s.ctx.Err() == nil {
		if s.State() == StateActive {
			if err := s.safely(s.step); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.closeHandle()
				s.logger.Warn("Frame read failed, reconnecting", "error", err)
				s.transition(StateConnecting, err, 0)
			}
			continue
		}

		first, err := s.connect()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			n := int(s.failures.Add(1))
			connectFailures.WithLabelValues(s.cfg.CameraID, errorClass(err)).Inc()
			if n >= s.cfg.FatalThreshold {
				s.logger.Error("Camera failed permanently", "failures", n, "error", err)
				s.transition(StateFatal, err, 0)
				return
			}
			delay := s.cfg.Backoff.Delay(n)
			s.logger.Warn("Connect failed", "failures", n, "retry_in", delay, "error", err)
			s.transition(StateRetrying, err, delay)
			if !sleep(s.ctx, delay) {
				return
			}
			continue
		}

		s.failures.Store(0)
		s.transition(StateActive, nil, 0)
		if err := s.safely(func() error { return s.process(first) }); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.closeHandle()
			s.transition(StateConnecting, err, 0)
		}
	}
}

// connect opens the source and waits for its first frame.
func (s *Session) connect() (raw frame.Raw, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = s.recovered(r)
		}
		if err != nil {
			s.closeHandle()
		}
	}()

	h, err := s.opener.Open(s.ctx, s.cfg.Target)
	if err != nil {
		return frame.Raw{}, err
	}
	s.handle = h
	return h.ReadFrame(s.ctx, s.cfg.ConnectTimeout)
}

func (s *Session) step() error {
	raw, err := s.handle.ReadFrame(s.ctx, s.cfg.ReadTimeout)
	if err != nil {
		return err
	}
	return s.process(raw)
}

// process runs one raw frame through detection and hands it to the hub.
func (s *Session) process(raw frame.Raw) error {
	res, err := s.detector.Process(raw)
	if err != nil {
		return fmt.Errorf("motion: %w", err)
	}
	if raw.Captured.IsZero() {
		raw.Captured = time.Now()
	}
	out := raw
	if s.cfg.Overlay && res.Motion {
		out = motion.Overlay(raw, res.Regions)
	}

	f := &frame.Frame{
		CameraID: s.cfg.CameraID,
		Seq:      s.seq.Add(1),
		Raw:      out,
		Motion:   res.Motion,
		Regions:  res.Regions,
	}

	s.frames.Add(1)
	s.lastFrameAt.Store(f.Captured.UnixNano())
	framesProcessed.WithLabelValues(s.cfg.CameraID).Inc()

	rising := res.Motion && !s.lastMotion
	s.lastMotion = res.Motion
	if rising {
		s.motions.Add(1)
		motionEvents.WithLabelValues(s.cfg.CameraID).Inc()
		s.motionLg.Debug("Motion detected", "seq", f.Seq, "regions", len(f.Regions))
	}

	s.mu.Lock()
	s.latest = f
	s.mu.Unlock()

	s.hub.Dispatch(f)

	if rising && s.cfg.OnMotion != nil {
		s.cfg.OnMotion(f)
	}
	return nil
}

// safely runs fn, converting a panic into an error.
func (s *Session) safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = s.recovered(r)
		}
	}()
	return fn()
}

func (s *Session) recovered(r any) error {
	pipelinePanics.WithLabelValues(s.cfg.CameraID).Inc()
	err := fmt.Errorf("%w: %v", ErrPipelinePanic, r)
	s.logger.Error("Recovered from pipeline panic", "error", err)
	return err
}

func (s *Session) closeHandle() {
	if s.handle == nil {
		return
	}
	if err := s.handle.Close(); err != nil {
		s.logger.Debug("Source close failed", "error", err)
	}
	s.handle = nil
}

// release frees the source and the hub when the loop exits.
func (s *Session) release() {
	s.closeHandle()
	s.hub.Close()
	if s.State() != StateFatal {
		s.transition(StateStopped, nil, 0)
	}
	sessionUp.DeleteLabelValues(s.cfg.CameraID)
	s.logger.Info("Camera session stopped", "state", s.State(), "frames", s.frames.Load())
}

func (s *Session) setState(to State, err error) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.state
	s.state = to
	if err != nil {
		s.lastErr = err
	}
	switch to {
	case StateActive:
		s.activeSince = time.Now()
		s.lastErr = nil
	case StateConnecting, StateRetrying, StateFatal, StateStopped:
		s.activeSince = time.Time{}
	}
	return from
}

func (s *Session) transition(to State, err error, retryIn time.Duration) {
	from := s.setState(to, err)
	if to == StateActive {
		sessionUp.WithLabelValues(s.cfg.CameraID).Set(1)
	} else if from == StateActive {
		sessionUp.WithLabelValues(s.cfg.CameraID).Set(0)
	}
	if s.cfg.OnStateChange == nil {
		return
	}
	s.cfg.OnStateChange(Transition{
		CameraID: s.cfg.CameraID,
		From:     from,
		To:       to,
		Err:      err,
		RetryIn:  retryIn,
		Failures: int(s.failures.Load()),
		At:       time.Now(),
	})
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, source.ErrConnect):
		return "connect"
	case errors.Is(err, source.ErrTimeout):
		return "timeout"
	case errors.Is(err, source.ErrStreamEnded):
		return "stream_ended"
	case errors.Is(err, ErrPipelinePanic):
		return "panic"
	default:
		return "other"
	}
}
