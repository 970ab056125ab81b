package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/camhub/internal/api/models"
	"github.com/smazurov/camhub/internal/cameras"
	"github.com/smazurov/camhub/internal/cameras/store"
	"github.com/smazurov/camhub/internal/eventlog"
	"github.com/smazurov/camhub/internal/events"
	"github.com/smazurov/camhub/internal/orchestrator"
	"github.com/smazurov/camhub/internal/session"
	"github.com/smazurov/camhub/internal/source"
	"github.com/smazurov/camhub/internal/streaming"
)

const (
	testUser = "admin"
	testPass = "secret"
)

type testEnv struct {
	server   *httptest.Server
	cameras  *cameras.Service
	registry *orchestrator.Registry
	history  *eventlog.Log
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	bus := events.New()

	svc := cameras.NewService(store.NewTOML(filepath.Join(dir, "cameras.toml")), bus, discardLogger())
	registry := orchestrator.New(orchestrator.Options{
		Opener: source.Pattern{},
		Defaults: orchestrator.SessionDefaults{
			ReadTimeout:    time.Second,
			ConnectTimeout: time.Second,
			Backoff:        session.Backoff{Base: time.Millisecond, Max: 10 * time.Millisecond},
			FatalThreshold: 3,
		},
		Bus:    bus,
		Logger: discardLogger(),
	})
	t.Cleanup(registry.StopAll)

	history, err := eventlog.Open(filepath.Join(dir, "events.db"), discardLogger())
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	t.Cleanup(func() { _ = history.Close() })

	encoder := streaming.NewJPEGEncoder(streaming.DefaultJPEGQuality)
	srv := NewServer(&Options{
		AuthUsername: testUser,
		AuthPassword: testPass,
		Cameras:      svc,
		Sessions:     registry,
		EventBus:     bus,
		Encoder:      encoder,
		Opener:       source.Pattern{},
		ProbeTimeout: 2 * time.Second,
		History:      history,
		Broadcaster:  streaming.NewBroadcaster(registry, encoder, discardLogger()),
	})
	ts := httptest.NewServer(srv.GetMux())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, cameras: svc, registry: registry, history: history}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(testUser, testPass)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d: %s", resp.StatusCode, want, body)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func createCamera(t *testing.T, e *testEnv, id, address string) {
	t.Helper()
	enabled := false
	resp := e.do(t, http.MethodPost, "/api/cameras", models.CameraRequestData{
		ID:      id,
		Name:    "Camera " + id,
		Address: address,
		Enabled: &enabled,
		Width:   64,
		Height:  48,
		FPS:     30,
	})
	expectStatus(t, resp, http.StatusCreated)
}

func TestCheckCredentials(t *testing.T) {
	basic := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name      string
		header    string
		query     string
		wantOK    bool
		wantError string
	}{
		{"valid header", "Basic " + basic("admin:secret"), "", true, ""},
		{"valid query", "", basic("admin:secret"), true, ""},
		{"header wins over query", "Basic " + basic("admin:wrong"), basic("admin:secret"), false, "Invalid credentials"},
		{"missing", "", "", false, "Authentication required"},
		{"bearer", "Bearer token", "", false, "Invalid authentication type"},
		{"not base64", "Basic !!!", "", false, "Invalid credentials format"},
		{"no colon", "Basic " + basic("admin"), "", false, "Invalid credentials format"},
		{"wrong password", "Basic " + basic("admin:nope"), "", false, "Invalid credentials"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := checkCredentials(tt.header, tt.query, testUser, testPass)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if msg != tt.wantError {
				t.Errorf("msg = %q, want %q", msg, tt.wantError)
			}
		})
	}
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		path string
		auth string
		want int
	}{
		{"health is public", "/api/health", "", http.StatusOK},
		{"version is public", "/api/version", "", http.StatusOK},
		{"cameras need auth", "/api/cameras", "", http.StatusUnauthorized},
		{"query auth", "/api/cameras?auth=" + base64.StdEncoding.EncodeToString([]byte("admin:secret")), "", http.StatusOK},
		{"header auth", "/api/cameras", "admin:secret", http.StatusOK},
		{"websocket needs auth", "/ws/cameras/front", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, e.server.URL+tt.path, nil)
			if user, pass, ok := strings.Cut(tt.auth, ":"); ok {
				req.SetBasicAuth(user, pass)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestCameraCRUD(t *testing.T) {
	e := newTestEnv(t)
	createCamera(t, e, "front", "test://static")

	t.Run("duplicate id conflicts", func(t *testing.T) {
		resp := e.do(t, http.MethodPost, "/api/cameras", models.CameraRequestData{
			ID: "front", Name: "again", Address: "test://static",
		})
		expectStatus(t, resp, http.StatusConflict)
	})

	t.Run("unsupported scheme is rejected", func(t *testing.T) {
		resp := e.do(t, http.MethodPost, "/api/cameras", models.CameraRequestData{
			ID: "bad", Name: "bad", Address: "ftp://10.0.0.1/cam",
		})
		expectStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("list", func(t *testing.T) {
		resp := e.do(t, http.MethodGet, "/api/cameras", nil)
		expectStatus(t, resp, http.StatusOK)
		list := decode[models.CameraListData](t, resp)
		if list.Count != 1 || list.Cameras[0].ID != "front" {
			t.Fatalf("list = %+v", list)
		}
		if list.Cameras[0].State != string(session.StateInactive) {
			t.Errorf("state = %q, want inactive", list.Cameras[0].State)
		}
	})

	t.Run("update", func(t *testing.T) {
		name := "Front porch"
		resp := e.do(t, http.MethodPatch, "/api/cameras/front", models.CameraUpdateData{Name: &name})
		expectStatus(t, resp, http.StatusOK)
		got := decode[models.CameraData](t, resp)
		if got.Name != name || got.Address != "test://static" {
			t.Fatalf("updated camera = %+v", got)
		}
	})

	t.Run("update unknown", func(t *testing.T) {
		name := "x"
		resp := e.do(t, http.MethodPatch, "/api/cameras/ghost", models.CameraUpdateData{Name: &name})
		expectStatus(t, resp, http.StatusNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		expectStatus(t, e.do(t, http.MethodDelete, "/api/cameras/front", nil), http.StatusNoContent)
		expectStatus(t, e.do(t, http.MethodGet, "/api/cameras/front", nil), http.StatusNotFound)
		expectStatus(t, e.do(t, http.MethodDelete, "/api/cameras/front", nil), http.StatusNotFound)
	})
}

func TestCameraConnectionTest(t *testing.T) {
	e := newTestEnv(t)
	createCamera(t, e, "front", "test://static")
	createCamera(t, e, "broken", "test://unknown")

	resp := e.do(t, http.MethodPost, "/api/cameras/front/test", nil)
	expectStatus(t, resp, http.StatusOK)
	got := decode[models.CameraTestData](t, resp)
	if !got.Success || got.Width != 64 || got.Height != 48 || got.Error != "" {
		t.Errorf("test result = %+v", got)
	}
	if got.State != string(session.StateInactive) {
		t.Errorf("connection test must not start a session, state = %s", got.State)
	}
	if _, err := e.registry.Status("front"); err == nil {
		t.Error("connection test registered a session")
	}

	resp = e.do(t, http.MethodPost, "/api/cameras/broken/test", nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[models.CameraTestData](t, resp); got.Success || got.Error == "" {
		t.Errorf("broken camera result = %+v", got)
	}

	expectStatus(t, e.do(t, http.MethodPost, "/api/cameras/ghost/test", nil), http.StatusNotFound)
}

func TestImportGo2RTC(t *testing.T) {
	e := newTestEnv(t)
	createCamera(t, e, "garage", "test://static")

	const config = `
streams:
  porch_HD: rtsp://10.0.0.5:554/cam/realmonitor?channel=1&subtype=0
  porch_sd: rtsp://10.0.0.5:554/cam/realmonitor?channel=1&subtype=1
  garage: rtsp://10.0.0.7/Streaming/Channels/101
  webcam: ffmpeg:device?video=0
`
	body := map[string]any{"config": config, "disabled": true}

	resp := e.do(t, http.MethodPost, "/api/cameras/import/go2rtc", body)
	expectStatus(t, resp, http.StatusOK)
	got := decode[models.Go2RTCImportData](t, resp)
	if got.Total != 2 {
		t.Errorf("total = %d, want 2 unique streams", got.Total)
	}
	if len(got.Imported) != 1 || got.Imported[0] != "porch_HD" {
		t.Errorf("imported = %v, want [porch_HD]", got.Imported)
	}
	if len(got.Skipped) != 1 || got.Skipped[0] != "garage" {
		t.Errorf("skipped = %v, want [garage]", got.Skipped)
	}

	d, err := e.cameras.Get(context.Background(), "porch_HD")
	if err != nil {
		t.Fatalf("imported camera missing: %v", err)
	}
	if d.Enabled {
		t.Error("disabled import created an enabled camera")
	}

	bad := map[string]any{"config": "streams: [unclosed"}
	expectStatus(t, e.do(t, http.MethodPost, "/api/cameras/import/go2rtc", bad), http.StatusBadRequest)
}

func TestSessionLifecycle(t *testing.T) {
	e := newTestEnv(t)
	createCamera(t, e, "front", "test://moving")

	expectStatus(t, e.do(t, http.MethodPost, "/api/cameras/ghost/start", nil), http.StatusNotFound)
	expectStatus(t, e.do(t, http.MethodPost, "/api/cameras/front/stop", nil), http.StatusNotFound)

	expectStatus(t, e.do(t, http.MethodPost, "/api/cameras/front/start", nil), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodPost, "/api/cameras/front/start", nil), http.StatusConflict)

	waitFor(t, "session to become active", func() bool {
		st, err := e.registry.Status("front")
		return err == nil && st.State == session.StateActive
	})

	resp := e.do(t, http.MethodGet, "/api/cameras/front/status", nil)
	expectStatus(t, resp, http.StatusOK)
	if st := decode[session.Status](t, resp); st.State != session.StateActive {
		t.Errorf("status state = %q, want active", st.State)
	}

	resp = e.do(t, http.MethodGet, "/api/sessions", nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[models.SessionListData](t, resp); list.Count != 1 || list.Sessions[0].CameraID != "front" {
		t.Fatalf("sessions = %+v", list)
	}

	resp = e.do(t, http.MethodGet, "/api/cameras/front/consumers", nil)
	expectStatus(t, resp, http.StatusOK)
	if c := decode[models.ConsumerListData](t, resp); len(c.Consumers) != 0 || c.Listeners != 0 {
		t.Errorf("consumers = %+v, want none", c)
	}

	expectStatus(t, e.do(t, http.MethodPost, "/api/cameras/front/stop", nil), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodGet, "/api/cameras/front/status", nil), http.StatusNotFound)
}

func TestLatestFrame(t *testing.T) {
	e := newTestEnv(t)
	createCamera(t, e, "front", "test://static")

	expectStatus(t, e.do(t, http.MethodGet, "/api/cameras/front/frame", nil), http.StatusNotFound)
	expectStatus(t, e.do(t, http.MethodPost, "/api/cameras/front/start", nil), http.StatusOK)

	waitFor(t, "first frame", func() bool {
		_, err := e.registry.Latest("front")
		return err == nil
	})

	resp := e.do(t, http.MethodGet, "/api/cameras/front/frame", nil)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if resp.Header.Get("X-Frame-Seq") == "" {
		t.Error("missing X-Frame-Seq header")
	}
	img, err := jpeg.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("frame size = %dx%d, want 64x48", b.Dx(), b.Dy())
	}
}

func TestEventHistory(t *testing.T) {
	e := newTestEnv(t)
	createCamera(t, e, "front", "test://static")

	now := time.Now()
	for i, msg := range []string{"first", "second", "third"} {
		_, err := e.history.Record(context.Background(), eventlog.Entry{
			CameraID:  "front",
			Kind:      eventlog.KindState,
			Message:   msg,
			Timestamp: now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	resp := e.do(t, http.MethodGet, "/api/cameras/front/events?limit=2", nil)
	expectStatus(t, resp, http.StatusOK)
	data := decode[models.EventHistoryData](t, resp)
	if len(data.Events) != 2 || data.Events[0].Message != "third" || data.Events[1].Message != "second" {
		t.Fatalf("events = %+v", data.Events)
	}

	expectStatus(t, e.do(t, http.MethodGet, "/api/cameras/ghost/events", nil), http.StatusNotFound)
}

func TestViewerFallback(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/cameras/front", nil)
	expectStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "<title>camhub</title>") {
		t.Error("viewer page not served")
	}

	expectStatus(t, e.do(t, http.MethodGet, "/api/nothing-here", nil), http.StatusNotFound)
}
