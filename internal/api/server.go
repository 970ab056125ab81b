package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/camhub/internal/api/models"
	"github.com/smazurov/camhub/internal/cameras"
	"github.com/smazurov/camhub/internal/eventlog"
	"github.com/smazurov/camhub/internal/events"
	"github.com/smazurov/camhub/internal/fanout"
	"github.com/smazurov/camhub/internal/frame"
	"github.com/smazurov/camhub/internal/logging"
	"github.com/smazurov/camhub/internal/orchestrator"
	"github.com/smazurov/camhub/internal/session"
	"github.com/smazurov/camhub/internal/source"
	"github.com/smazurov/camhub/internal/streaming"
	"github.com/smazurov/camhub/internal/version"
	"github.com/smazurov/camhub/ui"
)

const authRealm = `Basic realm="camhub"`

// CameraService is the camera descriptor control plane.
type CameraService interface {
	List(ctx context.Context) []cameras.Descriptor
	Get(ctx context.Context, id string) (cameras.Descriptor, error)
	Create(ctx context.Context, params cameras.CreateParams) (cameras.Descriptor, error)
	Update(ctx context.Context, id string, params cameras.UpdateParams) (cameras.Descriptor, error)
	Delete(ctx context.Context, id string) error
	Import(ctx context.Context, descriptors []cameras.Descriptor) (created, skipped []string, err error)
	Reload() (cameras.Changes, error)
}

// Sessions is the orchestrator registry.
type Sessions interface {
	Start(id string, desc cameras.Descriptor) error
	Stop(id string) error
	Status(id string) (session.Status, error)
	ListActive() []orchestrator.Summary
	Consumers(id string) ([]fanout.ConsumerStats, error)
	Latest(id string) (*frame.Frame, error)
}

// EventHistory serves recorded camera events.
type EventHistory interface {
	List(ctx context.Context, cameraID string, limit int) ([]eventlog.Entry, error)
}

// Options configures the API server.
type Options struct {
	AuthUsername string
	AuthPassword string

	Cameras  CameraService
	Sessions Sessions
	EventBus *events.Bus
	Encoder  *streaming.JPEGEncoder

	Opener       source.Opener // Optional, enables camera connection tests
	ProbeTimeout time.Duration

	History     EventHistory             // Optional event history
	WebRTC      *streaming.WebRTCManager // Optional WebRTC signaling
	Broadcaster *streaming.Broadcaster   // Optional WebSocket broadcast

	// MetricsInterval is the period of the /api/metrics session snapshots
	MetricsInterval time.Duration

	PrometheusHandler http.Handler // Optional Prometheus metrics handler
}

// Server is the camhub HTTP API.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	cameras    CameraService
	sessions   Sessions
	eventBus   *events.Bus
	encoder    *streaming.JPEGEncoder
	logger     *slog.Logger
}

// checkCredentials validates an Authorization header, falling back to a
// base64 "user:pass" auth query parameter for EventSource and WebSocket
// clients that cannot set headers. It returns an error message on failure.
func checkCredentials(authHeader, queryAuth, username, password string) (string, bool) {
	var encoded string
	switch {
	case authHeader != "":
		const prefix = "Basic "
		if !strings.HasPrefix(authHeader, prefix) {
			return "Invalid authentication type", false
		}
		encoded = authHeader[len(prefix):]
	case queryAuth != "":
		encoded = queryAuth
	default:
		return "Authentication required", false
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "Invalid credentials format", false
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "Invalid credentials format", false
	}
	if user != username || pass != password {
		return "Invalid credentials", false
	}
	return "", true
}

// basicAuthMiddleware creates middleware for HTTP basic authentication
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		// Skip auth for operations without security requirements
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		if msg, ok := checkCredentials(ctx.Header("Authorization"), ctx.Query("auth"), username, password); !ok {
			ctx.SetHeader("WWW-Authenticate", authRealm)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg)
			return
		}
		next(ctx)
	}
}

// requireAuth protects plain handlers mounted outside huma.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	username, password := s.options.AuthUsername, s.options.AuthPassword
	if username == "" || password == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if msg, ok := checkCredentials(r.Header.Get("Authorization"), r.URL.Query().Get("auth"), username, password); !ok {
			w.Header().Set("WWW-Authenticate", authRealm)
			http.Error(w, msg, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewServer creates a new API server with Huma v2 using Go 1.22+ native routing
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("camhub API", version.String())
	config.Info.Description = "Camera stream orchestration: sessions, motion detection and live viewers"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	if opts.MetricsInterval <= 0 {
		opts.MetricsInterval = 2 * time.Second
	}
	encoder := opts.Encoder
	if encoder == nil {
		encoder = streaming.NewJPEGEncoder(streaming.DefaultJPEGQuality)
	}

	server := &Server{
		api:      api,
		mux:      mux,
		options:  opts,
		cameras:  opts.Cameras,
		sessions: opts.Sessions,
		eventBus: opts.EventBus,
		encoder:  encoder,
		logger:   logging.GetLogger("api"),
	}

	// CORS first, then request logging, then auth
	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	// Prometheus scrapes without auth
	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()

	if opts.Broadcaster != nil {
		mux.Handle("GET /ws/cameras/{id}", server.requireAuth(opts.Broadcaster))
	}

	viewer := ui.Handler()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api") || strings.HasPrefix(r.URL.Path, "/ws") {
			http.NotFound(w, r)
			return
		}
		viewer.ServeHTTP(w, r)
	})

	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start starts the HTTP server on the specified address
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting camhub API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down, waiting up to ctx for in-flight requests.
// Long-lived SSE and WebSocket connections are cut when ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	// Health check endpoint - no auth required
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // Empty security = no auth required
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
				Cameras: len(s.sessions.ListActive()),
			},
		}, nil
	})

	// Version endpoint - no auth required
	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.VersionResponse, error) {
		versionInfo := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   versionInfo.Version,
				GitCommit: versionInfo.GitCommit,
				BuildDate: versionInfo.BuildDate,
				BuildID:   versionInfo.BuildID,
				GoVersion: versionInfo.GoVersion,
				Compiler:  versionInfo.Compiler,
				Platform:  versionInfo.Platform,
			},
		}, nil
	})

	s.registerCameraRoutes()
	s.registerSessionRoutes()
	s.registerSSERoutes()
	s.registerLogRoutes()
	s.registerMetricsRoutes()

	if s.options.WebRTC != nil {
		streaming.RegisterWebRTCAPI(s.api, s.options.WebRTC)
	}
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
