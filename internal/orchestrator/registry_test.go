package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/camhub/internal/cameras"
	"github.com/smazurov/camhub/internal/events"
	"github.com/smazurov/camhub/internal/fanout"
	"github.com/smazurov/camhub/internal/frame"
	"github.com/smazurov/camhub/internal/session"
	"github.com/smazurov/camhub/internal/source"
)

// countingOpener wraps the pattern source and tracks open handles.
type countingOpener struct {
	inner source.Opener
	open  atomic.Int32
	total atomic.Int32
}

func (c *countingOpener) Open(ctx context.Context, t source.Target) (source.Handle, error) {
	h, err := c.inner.Open(ctx, t)
	if err != nil {
		return nil, err
	}
	c.open.Add(1)
	c.total.Add(1)
	return &countedHandle{Handle: h, owner: c}, nil
}

type countedHandle struct {
	source.Handle
	owner *countingOpener
	once  sync.Once
}

func (h *countedHandle) Close() error {
	h.once.Do(func() { h.owner.open.Add(-1) })
	return h.Handle.Close()
}

type busRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *busRecorder) Publish(ev events.Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}

func (b *busRecorder) count(match func(events.Event) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ev := range b.events {
		if match(ev) {
			n++
		}
	}
	return n
}

type nopSink struct{ closed atomic.Bool }

func (s *nopSink) Accept(*frame.Frame) fanout.Outcome { return fanout.Accepted }
func (s *nopSink) Close() error                       { s.closed.Store(true); return nil }

func newTestRegistry(t *testing.T) (*Registry, *countingOpener, *busRecorder) {
	t.Helper()
	opener := &countingOpener{inner: source.Pattern{}}
	bus := &busRecorder{}
	r := New(Options{
		Opener: opener,
		Defaults: SessionDefaults{
			ReadTimeout:    time.Second,
			ConnectTimeout: time.Second,
			Backoff:        session.Backoff{Base: time.Millisecond, Max: 10 * time.Millisecond},
			FatalThreshold: 3,
		},
		Bus:    bus,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(r.StopAll)
	return r, opener, bus
}

func testCamera(address string) cameras.Descriptor {
	return cameras.Descriptor{Name: "test", Address: address, Enabled: true, Width: 64, Height: 48, FPS: 30}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stateOf(r *Registry, id string) session.State {
	st, err := r.Status(id)
	if err != nil {
		return ""
	}
	return st.State
}

func TestRegistry_StartTwiceIsAlreadyActive(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	if err := r.Start("cam1", testCamera("test://static")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := r.Start("cam1", testCamera("test://moving")); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("expected ErrAlreadyActive, got %v", err)
	}

	desc, err := r.Descriptor("cam1")
	if err != nil {
		t.Fatal(err)
	}
	if desc.Address != "test://static" || desc.ID != "cam1" {
		t.Errorf("second start must not replace the descriptor, got %+v", desc)
	}
}

func TestRegistry_StopReleasesEverything(t *testing.T) {
	r, opener, bus := newTestRegistry(t)

	if err := r.Start("cam1", testCamera("test://static")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "active", func() bool { return stateOf(r, "cam1") == session.StateActive })

	sinks := []*nopSink{{}, {}}
	for i, s := range sinks {
		if err := r.Attach("cam1", fanout.Consumer{ID: string(rune('a' + i)), Kind: "test", Sink: s}); err != nil {
			t.Fatal(err)
		}
	}
	st, _ := r.Status("cam1")
	if st.Consumers != 2 {
		t.Fatalf("expected 2 consumers, got %d", st.Consumers)
	}

	if err := r.Stop("cam1"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if n := opener.open.Load(); n != 0 {
		t.Errorf("expected all handles closed, %d still open", n)
	}
	if _, err := r.Status("cam1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after stop, got %v", err)
	}
	for _, s := range sinks {
		waitFor(t, "sink closed", s.closed.Load)
	}
	if err := r.Stop("cam1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second stop, got %v", err)
	}
	waitFor(t, "consumer drop events", func() bool {
		return bus.count(func(ev events.Event) bool { _, ok := ev.(events.ConsumerDroppedEvent); return ok }) == 2
	})
}

func TestRegistry_StopUnknown(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	if err := r.Stop("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := r.Detach("ghost", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.Latest("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_ListActiveSorted(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := r.Start(id, testCamera("test://static")); err != nil {
			t.Fatal(err)
		}
	}

	list := r.ListActive()
	if len(list) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(list))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, s := range list {
		if s.CameraID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], s.CameraID)
		}
		if !s.State.Live() {
			t.Errorf("%s: expected live state, got %s", s.CameraID, s.State)
		}
	}

	r.StopAll()
	if n := len(r.ListActive()); n != 0 {
		t.Errorf("expected empty registry after StopAll, got %d", n)
	}
}

func TestRegistry_LiveImmediatelyAfterStart(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	for i := 0; i < 50; i++ {
		if err := r.Start("cam1", testCamera("test://static")); err != nil {
			t.Fatal(err)
		}
		st, err := r.Status("cam1")
		if err != nil {
			t.Fatalf("Status after Start: %v", err)
		}
		if !st.State.Live() {
			t.Fatalf("run %d: state after Start = %s, want a live state", i, st.State)
		}
		if err := r.Stop("cam1"); err != nil {
			t.Fatal(err)
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRegistry_SessionAndHubLoggers(t *testing.T) {
	var registryOut, sessionOut, hubOut syncBuffer
	debug := &slog.HandlerOptions{Level: slog.LevelDebug}
	r := New(Options{
		Opener:        source.Pattern{},
		Logger:        slog.New(slog.NewTextHandler(&registryOut, debug)),
		SessionLogger: slog.New(slog.NewTextHandler(&sessionOut, debug)),
		HubLogger:     slog.New(slog.NewTextHandler(&hubOut, debug)),
	})
	t.Cleanup(r.StopAll)

	if err := r.Start("cam1", testCamera("test://static")); err != nil {
		t.Fatal(err)
	}
	if err := r.Attach("cam1", fanout.Consumer{ID: "viewer", Kind: "test", Sink: &nopSink{}}); err != nil {
		t.Fatal(err)
	}
	if err := r.Stop("cam1"); err != nil {
		t.Fatal(err)
	}

	if got := sessionOut.String(); !strings.Contains(got, "Camera session starting") || !strings.Contains(got, "camera_id=cam1") {
		t.Errorf("session logger missing lifecycle logs: %q", got)
	}
	if strings.Contains(registryOut.String(), "Camera session starting") {
		t.Error("session lifecycle logged through the registry logger")
	}
	if got := hubOut.String(); !strings.Contains(got, "Consumer released") {
		t.Errorf("hub logger missing consumer logs: %q", got)
	}
}

func TestRegistry_LatestAndDetach(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	if err := r.Start("cam1", testCamera("test://moving")); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "first frame", func() bool {
		_, err := r.Latest("cam1")
		return err == nil
	})
	f, _ := r.Latest("cam1")
	if f.Width != 64 || f.Height != 48 || f.CameraID != "cam1" {
		t.Errorf("unexpected frame %dx%d for %s", f.Width, f.Height, f.CameraID)
	}

	sink := &nopSink{}
	if err := r.Attach("cam1", fanout.Consumer{ID: "v", Sink: sink}); err != nil {
		t.Fatal(err)
	}
	if err := r.Detach("cam1", "v"); err != nil {
		t.Fatal(err)
	}
	consumers, err := r.Consumers("cam1")
	if err != nil {
		t.Fatal(err)
	}
	if len(consumers) != 0 {
		t.Errorf("expected no consumers after detach, got %d", len(consumers))
	}
	if err := r.Detach("cam1", "never-attached"); err != nil {
		t.Errorf("detaching an unknown consumer should succeed, got %v", err)
	}
}

func TestRegistry_FatalTombstone(t *testing.T) {
	r, _, bus := newTestRegistry(t)

	if err := r.Start("cam1", testCamera("test://no-such-pattern")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "fatal", func() bool { return stateOf(r, "cam1") == session.StateFatal })

	isFatal := func(ev events.Event) bool { _, ok := ev.(events.CameraFatalEvent); return ok }
	if n := bus.count(isFatal); n != 1 {
		t.Errorf("expected exactly one fatal alert, got %d", n)
	}
	st, _ := r.Status("cam1")
	if st.ConsecutiveFailures != 3 {
		t.Errorf("expected 3 failures, got %d", st.ConsecutiveFailures)
	}
	if len(r.ListActive()) != 1 {
		t.Error("fatal session should stay listed")
	}

	// Operator action: start again with a working address.
	if err := r.Start("cam1", testCamera("test://static")); err != nil {
		t.Fatalf("restart after fatal failed: %v", err)
	}
	waitFor(t, "active after restart", func() bool { return stateOf(r, "cam1") == session.StateActive })
	if n := bus.count(isFatal); n != 1 {
		t.Errorf("restart must not raise another alert, got %d", n)
	}
}

func TestRegistry_StopClearsTombstone(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	if err := r.Start("cam1", testCamera("test://broken")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "fatal", func() bool { return stateOf(r, "cam1") == session.StateFatal })

	if err := r.Stop("cam1"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := r.Status("cam1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_IndependentCameras(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	if err := r.Start("bad", testCamera("test://broken")); err != nil {
		t.Fatal(err)
	}
	if err := r.Start("good", testCamera("test://static")); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "good streaming", func() bool {
		st, err := r.Status("good")
		return err == nil && st.FramesProcessed >= 5
	})
	waitFor(t, "bad fatal", func() bool { return stateOf(r, "bad") == session.StateFatal })
	if stateOf(r, "good") != session.StateActive {
		t.Errorf("healthy camera affected by failing one: %s", stateOf(r, "good"))
	}
}

func TestRegistry_StateEventsPublished(t *testing.T) {
	r, _, bus := newTestRegistry(t)
	if err := r.Start("cam1", testCamera("test://static")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "active", func() bool { return stateOf(r, "cam1") == session.StateActive })
	if err := r.Stop("cam1"); err != nil {
		t.Fatal(err)
	}

	isState := func(to string) func(events.Event) bool {
		return func(ev events.Event) bool {
			e, ok := ev.(events.CameraStateChangedEvent)
			return ok && e.To == to
		}
	}
	for _, to := range []string{"connecting", "active", "stopped"} {
		if bus.count(isState(to)) != 1 {
			t.Errorf("expected one %s event", to)
		}
	}
}
