package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/camhub/internal/ffmpeg"
	"github.com/smazurov/camhub/internal/frame"
)

// FFmpegConfig configures the ffmpeg-backed opener.
type FFmpegConfig struct {
	Binary          string
	Transport       string
	LogLevel        string
	Options         []ffmpeg.OptionType
	GracefulTimeout time.Duration
	Logger          *slog.Logger
}

// FFmpeg decodes network streams by running ffmpeg as a subprocess that
// writes rgb24 rawvideo to stdout.
type FFmpeg struct {
	cfg FFmpegConfig
}

// NewFFmpeg creates an ffmpeg opener.
func NewFFmpeg(cfg FFmpegConfig) *FFmpeg {
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FFmpeg{cfg: cfg}
}

// Open implements Opener. The process is started here; reachability problems
// surface as ErrConnect from the first ReadFrame, when ffmpeg exits before
// producing a frame.
func (f *FFmpeg) Open(ctx context.Context, target Target) (Handle, error) {
	if target.Width <= 0 || target.Height <= 0 {
		return nil, fmt.Errorf("%w: target geometry %dx%d", ErrConnect, target.Width, target.Height)
	}
	params := ffmpeg.CaptureParams{
		Binary:    f.cfg.Binary,
		Address:   target.Address,
		Transport: f.cfg.Transport,
		Width:     target.Width,
		Height:    target.Height,
		FPS:       target.FPS,
		LogLevel:  f.cfg.LogLevel,
		Options:   f.cfg.Options,
	}
	bin, args := ffmpeg.BuildCaptureArgs(params)

	cmd := exec.Command(bin, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", ErrConnect, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %w", ErrConnect, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %w", ErrConnect, bin, err)
	}

	logger := f.cfg.Logger.With("address", target.Address, "pid", cmd.Process.Pid)
	logger.Debug("ffmpeg capture started", "args", args)

	raw := frame.Raw{Width: target.Width, Height: target.Height, Format: frame.FormatRGB24}
	return startHandle(cmd, stdout, stderr, raw, params.FrameSize(), f.cfg.GracefulTimeout, logger), nil
}

// startHandle wraps a started ffmpeg process whose stdout carries frames of
// frameLen bytes.
func startHandle(cmd *exec.Cmd, stdout, stderr io.Reader, raw frame.Raw, frameLen int, grace time.Duration, logger *slog.Logger) *ffmpegHandle {
	h := &ffmpegHandle{
		cmd:      cmd,
		logger:   logger,
		grace:    grace,
		frames:   make(chan readResult, 1),
		stop:     make(chan struct{}),
		exited:   make(chan struct{}),
		logsDone: make(chan struct{}),
		raw:      raw,
		frameLen: frameLen,
	}
	go h.logStderr(stderr)
	go h.readLoop(stdout)
	return h
}

type readResult struct {
	raw frame.Raw
	err error
}

type ffmpegHandle struct {
	cmd      *exec.Cmd
	logger   *slog.Logger
	grace    time.Duration
	frames   chan readResult
	stop     chan struct{}
	exited   chan struct{}
	logsDone chan struct{}
	raw      frame.Raw
	frameLen int

	lastErrMu sync.Mutex
	lastErr   string

	closeOnce sync.Once
}

// ReadFrame implements Handle.
func (h *ffmpegHandle) ReadFrame(ctx context.Context, timeout time.Duration) (frame.Raw, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res, ok := <-h.frames:
		if !ok {
			return frame.Raw{}, ErrStreamEnded
		}
		return res.raw, res.err
	case <-timer.C:
		return frame.Raw{}, fmt.Errorf("%w: %s", ErrTimeout, timeout)
	case <-ctx.Done():
		return frame.Raw{}, ctx.Err()
	}
}

// Close implements Handle. It sends SIGTERM to the process group and kills
// it if it has not exited within the grace period.
func (h *ffmpegHandle) Close() error {
	h.closeOnce.Do(func() {
		close(h.stop)
		pgid := h.cmd.Process.Pid
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
		select {
		case <-h.exited:
		case <-time.After(h.grace):
			h.logger.Warn("ffmpeg did not exit in time, killing")
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
			<-h.exited
		}
		h.logger.Debug("ffmpeg capture stopped")
	})
	return nil
}

// readLoop slices stdout into fixed-size frames. It owns the process: once
// reading stops it waits for ffmpeg to exit.
func (h *ffmpegHandle) readLoop(stdout io.Reader) {
	defer close(h.exited)
	defer h.reap()
	defer close(h.frames)
	r := bufio.NewReaderSize(stdout, h.frameLen)
	got := 0
	for {
		buf := make([]byte, h.frameLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			// The reason is usually the last stderr line.
			select {
			case <-h.logsDone:
			case <-time.After(time.Second):
			}
			h.deliver(readResult{err: h.classify(err, got)})
			return
		}
		got++
		raw := h.raw
		raw.Pix = buf
		raw.Captured = time.Now()
		if !h.deliver(readResult{raw: raw}) {
			// Drain so a terminating ffmpeg is never stuck on a full pipe.
			_, _ = io.Copy(io.Discard, r)
			return
		}
	}
}

// reap runs after every pipe read has finished, as exec.Cmd.Wait requires.
func (h *ffmpegHandle) reap() {
	<-h.logsDone
	if h.cmd == nil {
		return
	}
	if err := h.cmd.Wait(); err != nil {
		h.logger.Debug("ffmpeg exited", "error", err)
	}
}

func (h *ffmpegHandle) deliver(res readResult) bool {
	select {
	case h.frames <- res:
		return true
	case <-h.stop:
		return false
	}
}

// classify maps a stdout read error onto the source error classes. A stream
// that ends before its first frame never connected.
func (h *ffmpegHandle) classify(err error, frames int) error {
	h.lastErrMu.Lock()
	detail := h.lastErr
	h.lastErrMu.Unlock()
	if detail == "" {
		detail = err.Error()
	}
	if frames == 0 {
		return fmt.Errorf("%w: %s", ErrConnect, detail)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s", ErrStreamEnded, detail)
	}
	return fmt.Errorf("%w: %w", ErrStreamEnded, err)
}

func (h *ffmpegHandle) logStderr(stderr io.Reader) {
	defer close(h.logsDone)
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		level, msg := ffmpeg.ParseLogLevel(scanner.Text())
		lvl := ffmpeg.SlogLevel(level)
		if lvl >= slog.LevelError {
			h.lastErrMu.Lock()
			h.lastErr = msg
			h.lastErrMu.Unlock()
		}
		h.logger.Log(context.Background(), lvl, msg, "source", "ffmpeg")
	}
}
