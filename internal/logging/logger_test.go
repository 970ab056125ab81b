package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestModuleLevelOverride(t *testing.T) {
	// Reset state
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	isInitialized = false
	mutex.Unlock()

	// Initialize with global info level, but session module at debug
	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"session": "debug",
			"api":     "warn",
		},
	})

	tests := []struct {
		module      string
		wantDebug   bool
		wantInfo    bool
		wantWarn    bool
		description string
	}{
		{"session", true, true, true, "session module should log debug (override to debug)"},
		{"api", false, false, true, "api module should only log warn (override to warn)"},
		{"other", false, true, true, "other module should log info (global default)"},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			logger := GetLogger(tt.module)

			// Get the handler from the logger to test Enabled
			// We need to check if the handler accepts different levels
			handler := logger.Handler()

			gotDebug := handler.Enabled(context.Background(), slog.LevelDebug)
			gotInfo := handler.Enabled(context.Background(), slog.LevelInfo)
			gotWarn := handler.Enabled(context.Background(), slog.LevelWarn)

			if gotDebug != tt.wantDebug {
				t.Errorf("module %q: Debug enabled = %v, want %v", tt.module, gotDebug, tt.wantDebug)
			}
			if gotInfo != tt.wantInfo {
				t.Errorf("module %q: Info enabled = %v, want %v", tt.module, gotInfo, tt.wantInfo)
			}
			if gotWarn != tt.wantWarn {
				t.Errorf("module %q: Warn enabled = %v, want %v", tt.module, gotWarn, tt.wantWarn)
			}
		})
	}
}

func TestModuleLevelActualOutput(t *testing.T) {
	// Reset state
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	isInitialized = false
	mutex.Unlock()

	// Create a buffer to capture output
	var buf bytes.Buffer

	// Create a custom handler that writes to our buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(handler).With("module", "test")

	// Log at different levels
	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	output := buf.String()

	if !strings.Contains(output, "debug message") {
		t.Error("Debug message not found in output")
	}
	if !strings.Contains(output, "info message") {
		t.Error("Info message not found in output")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("Warn message not found in output")
	}
}

func TestModuleLevelWithMultiHandler(t *testing.T) {
	// Reset state
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	isInitialized = false
	mutex.Unlock()

	// Initialize with debug level for webrtc module
	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"webrtc": "debug",
		},
	})

	logger := GetLogger("webrtc")
	handler := logger.Handler()

	// Verify the handler accepts debug level
	if !handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("webrtc module handler should accept Debug level")
	}

	// Regardless of handler type, debug should be enabled
	if !handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Errorf("Debug should be enabled for webrtc module, handler type: %T", handler)
	}
}

func TestDebugLogsActuallyWritten(t *testing.T) {
	// Create a buffer to capture output
	var buf bytes.Buffer

	// Create handler with debug level
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(handler).With("module", "webrtc")

	// Write debug log
	logger.Debug("test debug message", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "test debug message") {
		t.Errorf("Debug message not written. Output: %s", output)
	}
	if !strings.Contains(output, "level=DEBUG") {
		t.Errorf("Debug level not in output. Output: %s", output)
	}
}

func TestMultiHandlerDebugOutput(t *testing.T) {
	var buf bytes.Buffer

	// Create two handlers - one with debug, one with info
	debugHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	multi := NewMultiHandler(debugHandler, infoHandler)
	logger := slog.New(multi).With("module", "test")

	// Write debug log - should appear once (from debugHandler)
	logger.Debug("debug only message")

	output := buf.String()
	if !strings.Contains(output, "debug only message") {
		t.Errorf("Debug message not written via MultiHandler. Output: %s", output)
	}

	// Count occurrences - should be 1 (only debugHandler writes it)
	count := strings.Count(output, "debug only message")
	if count != 1 {
		t.Errorf("Expected 1 debug message, got %d. Output: %s", count, output)
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	moduleOutputs = make(map[string]*output)
	isInitialized = false
	globalConfig = Config{}
	mutex.Unlock()

	// Fetched at package init time by some camhub module, before main runs Initialize.
	loggerBefore := GetLogger("webrtc")
	handlerBefore := loggerBefore.Handler()
	if handlerBefore.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger created before Initialize should default to info")
	}

	Initialize(Config{
		Level:  "info",
		Format: "json",
		Modules: map[string]string{
			"webrtc": "debug",
		},
	})

	if loggerAfter := GetLogger("webrtc"); loggerBefore != loggerAfter {
		t.Error("Logger should be cached - same pointer before and after Initialize")
	}
	if !handlerBefore.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("early logger should follow the module level set by Initialize")
	}

	mutex.RLock()
	out := moduleOutputs["webrtc"]
	mutex.RUnlock()
	if out == nil {
		t.Fatal("no output registered for webrtc")
	}
	if _, isMulti := out.chain.Load().h.(*MultiHandler); !isMulti {
		if _, isBuffer := out.chain.Load().h.(*BufferHandler); !isBuffer {
			t.Errorf("unexpected chain %T after Initialize", out.chain.Load().h)
		}
	}
}

func TestSwapHandlerFollowsNewChain(t *testing.T) {
	var first, second bytes.Buffer
	out := newOutput(slog.NewTextHandler(&first, nil))
	logger := slog.New(out.handler()).With("module", "fanout").WithGroup("hub").With("camera_id", "front")

	logger.Info("before swap")
	out.set(slog.NewJSONHandler(&second, nil))
	logger.Info("after swap", "consumers", 2)

	if !strings.Contains(first.String(), "before swap") || strings.Contains(first.String(), "after swap") {
		t.Errorf("first chain got %q", first.String())
	}
	got := second.String()
	for _, want := range []string{`"msg":"after swap"`, `"module":"fanout"`, `"hub":{"camera_id":"front","consumers":2}`} {
		if !strings.Contains(got, want) {
			t.Errorf("second chain output %s missing %s", got, want)
		}
	}
}

func TestParseLevelValues(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		isNil bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input)
			if tt.isNil {
				if got != nil {
					t.Errorf("parseLevel(%q) = %v, want nil", tt.input, *got)
				}
			} else {
				if got == nil {
					t.Errorf("parseLevel(%q) = nil, want %v", tt.input, tt.want)
				} else if *got != tt.want {
					t.Errorf("parseLevel(%q) = %v, want %v", tt.input, *got, tt.want)
				}
			}
		})
	}
}

func TestBufferHandlerCapturesEntries(t *testing.T) {
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	moduleOutputs = make(map[string]*output)
	isInitialized = false
	mutex.Unlock()

	Initialize(Config{Level: "debug", Format: "text"})

	var mu sync.Mutex
	var seen []LogEntry
	SetLogCallback(func(e LogEntry) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	})
	defer SetLogCallback(nil)

	logger := GetLogger("session").With("camera_id", "front")
	logger.WithGroup("retry").Warn("Connect failed", "attempt", 3, "error", errors.New("refused"))

	entries := GetBuffer().ReadAll()
	if len(entries) == 0 {
		t.Fatal("expected the buffer to hold the entry")
	}
	got := entries[len(entries)-1]
	if got.Module != "session" || got.Level != "warn" || got.Message != "Connect failed" {
		t.Errorf("unexpected entry %+v", got)
	}
	if got.Attributes["camera_id"] != "front" {
		t.Errorf("camera_id = %v, want front", got.Attributes["camera_id"])
	}
	if got.Attributes["retry.error"] != "refused" {
		t.Errorf("grouped error attr = %v, want refused", got.Attributes["retry.error"])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || seen[len(seen)-1].Message != "Connect failed" {
		t.Errorf("callback did not receive the entry: %+v", seen)
	}
}

func TestRingBufferWraps(t *testing.T) {
	rb := NewRingBuffer(3)
	for i, msg := range []string{"a", "b", "c", "d", "e"} {
		rb.Write(LogEntry{Message: msg, Timestamp: time.Unix(int64(i), 0)})
	}
	if rb.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", rb.Count())
	}
	all := rb.ReadAll()
	for i, want := range []string{"c", "d", "e"} {
		if all[i].Message != want {
			t.Errorf("entry %d = %s, want %s", i, all[i].Message, want)
		}
		if wantSeq := uint64(i + 3); all[i].Seq != wantSeq {
			t.Errorf("entry %d seq = %d, want %d", i, all[i].Seq, wantSeq)
		}
	}
}

func TestFormatLogLine(t *testing.T) {
	entry := LogEntry{
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:      "info",
		Module:     "orchestrator",
		Message:    "Camera session registered",
		Attributes: map[string]any{"camera_id": "front", "attempt": 2},
	}
	want := "2026-01-02T03:04:05Z [INFO] [orchestrator] Camera session registered attempt=2 camera_id=front"
	if got := FormatLogLine(entry); got != want {
		t.Errorf("FormatLogLine() = %q, want %q", got, want)
	}
}
