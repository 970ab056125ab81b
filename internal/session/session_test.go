package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/camhub/internal/fanout"
	"github.com/smazurov/camhub/internal/frame"
	"github.com/smazurov/camhub/internal/motion"
	"github.com/smazurov/camhub/internal/source"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	testW = 64
	testH = 48
)

func grayFrame(v uint8) frame.Raw {
	pix := make([]byte, testW*testH)
	for i := range pix {
		pix[i] = v
	}
	return frame.Raw{Pix: pix, Width: testW, Height: testH, Format: frame.FormatGray}
}

func blockFrame(bg, fg uint8) frame.Raw {
	raw := grayFrame(bg)
	for y := 10; y < 30; y++ {
		for x := 20; x < 40; x++ {
			raw.Pix[y*testW+x] = fg
		}
	}
	return raw
}

// read is one scripted ReadFrame result.
type read struct {
	raw   frame.Raw
	err   error
	panic bool
}

func ok(raw frame.Raw) read { return read{raw: raw} }
func fail(err error) read   { return read{err: err} }

// attempt scripts one Open call. After its reads run out the handle blocks
// until closed or cancelled, unless endless is set.
type attempt struct {
	openErr error
	reads   []read
	endless bool
}

type fakeSource struct {
	mu       sync.Mutex
	attempts []attempt
	opens    int
	handles  []*fakeHandle
}

func (f *fakeSource) Open(_ context.Context, _ source.Target) (source.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.opens
	f.opens++
	if idx >= len(f.attempts) {
		return nil, fmt.Errorf("%w: nothing listening", source.ErrConnect)
	}
	a := f.attempts[idx]
	if a.openErr != nil {
		return nil, a.openErr
	}
	h := &fakeHandle{reads: a.reads, endless: a.endless, closed: make(chan struct{})}
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeSource) handle(i int) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.handles) {
		return nil
	}
	return f.handles[i]
}

type fakeHandle struct {
	mu      sync.Mutex
	reads   []read
	pos     int
	endless bool

	closed     chan struct{}
	closeOnce  sync.Once
	closeCalls atomic.Int32
}

func (h *fakeHandle) ReadFrame(ctx context.Context, _ time.Duration) (frame.Raw, error) {
	h.mu.Lock()
	if h.pos < len(h.reads) {
		r := h.reads[h.pos]
		h.pos++
		h.mu.Unlock()
		if r.panic {
			panic("decoder exploded")
		}
		return r.raw, r.err
	}
	h.mu.Unlock()

	if h.endless {
		select {
		case <-time.After(time.Millisecond):
			return grayFrame(80), nil
		case <-h.closed:
			return frame.Raw{}, source.ErrStreamEnded
		case <-ctx.Done():
			return frame.Raw{}, ctx.Err()
		}
	}
	select {
	case <-h.closed:
		return frame.Raw{}, source.ErrStreamEnded
	case <-ctx.Done():
		return frame.Raw{}, ctx.Err()
	}
}

func (h *fakeHandle) Close() error {
	h.closeCalls.Add(1)
	h.closeOnce.Do(func() { close(h.closed) })
	return nil
}

type recorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *recorder) record(t Transition) {
	r.mu.Lock()
	r.transitions = append(r.transitions, t)
	r.mu.Unlock()
}

func (r *recorder) all() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.transitions...)
}

func (r *recorder) states() []State {
	var out []State
	for _, t := range r.all() {
		out = append(out, t.To)
	}
	return out
}

type seqSink struct {
	mu     sync.Mutex
	seqs   []uint64
	closed atomic.Bool
}

func (s *seqSink) Accept(f *frame.Frame) fanout.Outcome {
	s.mu.Lock()
	s.seqs = append(s.seqs, f.Seq)
	s.mu.Unlock()
	return fanout.Accepted
}

func (s *seqSink) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *seqSink) received() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.seqs...)
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

func testConfig(rec *recorder) Config {
	return Config{
		CameraID:       "cam1",
		Target:         source.Target{Address: "test://static", Width: testW, Height: testH, FPS: 30},
		Motion:         motion.Params{Threshold: 25, MinArea: 100, BlurSize: 1, LearningRate: 0.05},
		ReadTimeout:    time.Second,
		ConnectTimeout: time.Second,
		Backoff:        Backoff{Base: time.Millisecond, Max: time.Second},
		FatalThreshold: 10,
		Hub:            fanout.Options{QueueDepth: 64},
		OnStateChange:  rec.record,
	}
}

func TestSession_TimeoutsThenActive(t *testing.T) {
	timeout := fmt.Errorf("%w: first frame", source.ErrTimeout)
	src := &fakeSource{attempts: []attempt{
		{reads: []read{fail(timeout)}},
		{reads: []read{fail(timeout)}},
		{reads: []read{fail(timeout)}},
		{reads: []read{ok(grayFrame(50))}},
	}}
	rec := &recorder{}
	s := New(testConfig(rec), src, newTestLogger())
	s.Start()
	defer s.Stop()

	waitFor(t, "active", func() bool { return len(rec.all()) >= 5 })

	want := []State{StateConnecting, StateRetrying, StateRetrying, StateRetrying, StateActive}
	got := rec.all()
	if len(got) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), rec.states())
	}
	for i, tr := range got {
		if tr.To != want[i] {
			t.Fatalf("transition %d: expected %s, got %s (trace %v)", i, want[i], tr.To, rec.states())
		}
	}
	if got[0].From != StateInactive {
		t.Errorf("expected first transition from inactive, got %s", got[0].From)
	}
	for i := 2; i <= 3; i++ {
		if got[i].RetryIn <= got[i-1].RetryIn {
			t.Errorf("backoff not increasing: %v then %v", got[i-1].RetryIn, got[i].RetryIn)
		}
	}
	for i := 1; i <= 3; i++ {
		if !errors.Is(got[i].Err, source.ErrTimeout) {
			t.Errorf("transition %d: expected timeout error, got %v", i, got[i].Err)
		}
	}

	st := s.Status()
	if st.ConsecutiveFailures != 0 {
		t.Errorf("expected failures reset, got %d", st.ConsecutiveFailures)
	}
	if st.FramesProcessed != 1 {
		t.Errorf("expected 1 frame processed, got %d", st.FramesProcessed)
	}
	for i := 0; i < 3; i++ {
		if h := src.handle(i); h.closeCalls.Load() != 1 {
			t.Errorf("handle %d closed %d times", i, h.closeCalls.Load())
		}
	}
}

func TestSession_FatalAfterThreshold(t *testing.T) {
	src := &fakeSource{}
	rec := &recorder{}
	cfg := testConfig(rec)
	cfg.FatalThreshold = 3
	s := New(cfg, src, newTestLogger())
	s.Start()

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not exit after fatal threshold")
	}

	want := []State{StateConnecting, StateRetrying, StateRetrying, StateFatal}
	states := rec.states()
	if len(states) != len(want) {
		t.Fatalf("expected trace %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("expected trace %v, got %v", want, states)
		}
	}

	time.Sleep(20 * time.Millisecond)
	if n := src.openCount(); n != 3 {
		t.Errorf("expected exactly 3 connect attempts, got %d", n)
	}
	st := s.Status()
	if st.State != StateFatal {
		t.Errorf("expected %s, got %s", StateFatal, st.State)
	}
	if st.ConsecutiveFailures != 3 {
		t.Errorf("expected 3 failures, got %d", st.ConsecutiveFailures)
	}
	if st.LastError == "" {
		t.Error("expected last error to be recorded")
	}

	s.Stop()
	if s.State() != StateFatal {
		t.Errorf("stop must not overwrite fatal state, got %s", s.State())
	}
}

func TestSession_StopDuringBackoff(t *testing.T) {
	src := &fakeSource{}
	rec := &recorder{}
	cfg := testConfig(rec)
	cfg.Backoff = Backoff{Base: time.Hour, Max: time.Hour}
	s := New(cfg, src, newTestLogger())
	s.Start()

	waitFor(t, "retrying", func() bool { return s.State() == StateRetrying })

	start := time.Now()
	s.Stop()
	if took := time.Since(start); took > time.Second {
		t.Fatalf("stop waited out the backoff: %v", took)
	}
	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
	if n := src.openCount(); n != 1 {
		t.Errorf("expected one connect attempt, got %d", n)
	}
}

func TestSession_StopReleasesEverything(t *testing.T) {
	src := &fakeSource{attempts: []attempt{{endless: true}}}
	rec := &recorder{}
	s := New(testConfig(rec), src, newTestLogger())
	sink := &seqSink{}
	if err := s.Attach(fanout.Consumer{ID: "viewer", Kind: "test", Sink: sink}); err != nil {
		t.Fatal(err)
	}
	s.Start()

	waitFor(t, "frames", func() bool { return len(sink.received()) >= 5 })
	s.Stop()

	h := src.handle(0)
	if h.closeCalls.Load() == 0 {
		t.Error("source handle was not closed")
	}
	st := s.Status()
	if st.Consumers != 0 {
		t.Errorf("expected zero consumers, got %d", st.Consumers)
	}
	if st.State != StateStopped {
		t.Errorf("expected stopped, got %s", st.State)
	}
	waitFor(t, "sink closed", sink.closed.Load)
	if err := s.Attach(fanout.Consumer{ID: "late", Sink: &seqSink{}}); !errors.Is(err, fanout.ErrHubClosed) {
		t.Errorf("expected attach after stop to fail, got %v", err)
	}
}

func TestSession_SequenceAcrossReconnect(t *testing.T) {
	src := &fakeSource{attempts: []attempt{
		{reads: []read{ok(grayFrame(50)), ok(grayFrame(50)), ok(grayFrame(50)), fail(source.ErrStreamEnded)}},
		{reads: []read{ok(grayFrame(50)), ok(grayFrame(50))}},
	}}
	rec := &recorder{}
	s := New(testConfig(rec), src, newTestLogger())
	sink := &seqSink{}
	if err := s.Attach(fanout.Consumer{ID: "viewer", Sink: sink}); err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	waitFor(t, "five frames", func() bool { return len(sink.received()) == 5 })
	for i, seq := range sink.received() {
		if seq != uint64(i+1) {
			t.Fatalf("expected contiguous sequence, got %v", sink.received())
		}
	}
	if latest := s.Latest(); latest == nil || latest.Seq != 5 {
		t.Errorf("expected latest frame seq 5, got %+v", latest)
	}

	want := []State{StateConnecting, StateActive, StateConnecting, StateActive}
	states := rec.states()
	if len(states) != len(want) {
		t.Fatalf("expected trace %v, got %v", want, states)
	}
	if src.openCount() != 2 {
		t.Errorf("expected immediate reconnect, got %d opens", src.openCount())
	}
}

func TestSession_PanicTreatedAsReadFailure(t *testing.T) {
	src := &fakeSource{attempts: []attempt{
		{reads: []read{ok(grayFrame(50)), {panic: true}}},
		{reads: []read{ok(grayFrame(50))}},
	}}
	rec := &recorder{}
	s := New(testConfig(rec), src, newTestLogger())
	s.Start()
	defer s.Stop()

	waitFor(t, "recovery", func() bool { return s.Status().FramesProcessed == 2 })

	var sawPanic bool
	for _, tr := range rec.all() {
		if tr.To == StateConnecting && errors.Is(tr.Err, ErrPipelinePanic) {
			sawPanic = true
		}
	}
	if !sawPanic {
		t.Errorf("expected a reconnect caused by the panic, trace %v", rec.states())
	}
	if src.handle(0).closeCalls.Load() != 1 {
		t.Error("panicking handle was not closed")
	}
	if st := s.Status(); st.FramesProcessed != 2 {
		t.Errorf("expected 2 frames processed, got %d", st.FramesProcessed)
	}
}

func TestSession_MotionEventsCountRisingEdges(t *testing.T) {
	var script []read
	for i := 0; i < 3; i++ {
		script = append(script, ok(grayFrame(50)))
	}
	script = append(script, ok(blockFrame(50, 250)), ok(blockFrame(50, 250)))
	for i := 0; i < 10; i++ {
		script = append(script, ok(grayFrame(50)))
	}
	script = append(script, ok(blockFrame(50, 250)), ok(blockFrame(50, 250)))
	for i := 0; i < 8; i++ {
		script = append(script, ok(grayFrame(50)))
	}

	var motions atomic.Int32
	var motionSeqs []uint64
	var mu sync.Mutex
	rec := &recorder{}
	cfg := testConfig(rec)
	cfg.OnMotion = func(f *frame.Frame) {
		motions.Add(1)
		mu.Lock()
		motionSeqs = append(motionSeqs, f.Seq)
		mu.Unlock()
	}
	src := &fakeSource{attempts: []attempt{{reads: script}}}
	s := New(cfg, src, newTestLogger())
	s.Start()
	defer s.Stop()

	waitFor(t, "script processed", func() bool { return s.Status().FramesProcessed == uint64(len(script)) })

	st := s.Status()
	if st.MotionEvents != 2 {
		t.Errorf("expected 2 motion events, got %d", st.MotionEvents)
	}
	if motions.Load() != 2 {
		t.Errorf("expected 2 motion callbacks, got %d", motions.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(motionSeqs) == 2 && (motionSeqs[0] != 4 || motionSeqs[1] != 16) {
		t.Errorf("expected motion at frames 4 and 16, got %v", motionSeqs)
	}
	if latest := s.Latest(); latest == nil || latest.Motion {
		t.Errorf("expected latest frame without motion, got %+v", latest)
	}
}

func TestSession_OverlayLeavesSourceUntouched(t *testing.T) {
	moving := blockFrame(50, 250)
	original := append([]byte(nil), moving.Pix...)
	rec := &recorder{}
	cfg := testConfig(rec)
	cfg.Overlay = true
	src := &fakeSource{attempts: []attempt{{reads: []read{ok(grayFrame(50)), ok(moving)}}}}
	s := New(cfg, src, newTestLogger())
	s.Start()
	defer s.Stop()

	waitFor(t, "motion frame", func() bool {
		f := s.Latest()
		return f != nil && f.Seq == 2
	})
	f := s.Latest()
	if !f.Motion {
		t.Fatal("expected motion on second frame")
	}
	for i := range original {
		if moving.Pix[i] != original[i] {
			t.Fatal("overlay mutated the source buffer")
		}
	}
	if &f.Pix[0] == &moving.Pix[0] {
		t.Error("expected overlay to produce a new buffer")
	}
}

func TestSession_StopBeforeStart(t *testing.T) {
	s := New(testConfig(&recorder{}), &fakeSource{}, newTestLogger())
	s.Stop()
	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed")
	}
	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
	s.Start()
	s.Stop()
}

func TestSession_ConnectingAsSoonAsStarted(t *testing.T) {
	for i := 0; i < 50; i++ {
		rec := &recorder{}
		src := &fakeSource{attempts: []attempt{{reads: []read{ok(grayFrame(80))}}}}
		s := New(testConfig(rec), src, newTestLogger())
		s.Start()
		if st := s.Status().State; !st.Live() {
			s.Stop()
			t.Fatalf("run %d: state after Start = %s, want a live state", i, st)
		}
		s.Stop()
		if got := rec.states(); len(got) == 0 || got[0] != StateConnecting {
			t.Fatalf("run %d: first transition = %v, want connecting", i, got)
		}
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second}
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{100, 30 * time.Second},
		{-1, time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("failures=%d", tt.failures), func(t *testing.T) {
			if got := b.Delay(tt.failures); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.failures, got, tt.want)
			}
		})
	}
}

func TestState_Live(t *testing.T) {
	for _, s := range []State{StateConnecting, StateActive, StateRetrying} {
		if !s.Live() {
			t.Errorf("%s should be live", s)
		}
	}
	for _, s := range []State{StateInactive, StateFatal, StateStopped} {
		if s.Live() {
			t.Errorf("%s should not be live", s)
		}
	}
}
