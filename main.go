package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smazurov/camhub/cmd"
	"github.com/smazurov/camhub/internal/api"
	"github.com/smazurov/camhub/internal/cameras"
	"github.com/smazurov/camhub/internal/cameras/store"
	"github.com/smazurov/camhub/internal/config"
	"github.com/smazurov/camhub/internal/control"
	"github.com/smazurov/camhub/internal/eventlog"
	"github.com/smazurov/camhub/internal/events"
	"github.com/smazurov/camhub/internal/ffmpeg"
	"github.com/smazurov/camhub/internal/led"
	"github.com/smazurov/camhub/internal/logging"
	"github.com/smazurov/camhub/internal/orchestrator"
	"github.com/smazurov/camhub/internal/session"
	"github.com/smazurov/camhub/internal/source"
	"github.com/smazurov/camhub/internal/streaming"
	"github.com/smazurov/camhub/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Camera settings
	CamerasFile          string `help:"Camera definitions file" default:"cameras.toml" toml:"cameras.config_file" env:"CAMERAS_CONFIG_FILE"`
	CamerasWatch         bool   `help:"Reload cameras when the file changes" default:"true" toml:"cameras.watch" env:"CAMERAS_WATCH"`
	CamerasWatchDebounce string `help:"Delay before reloading a changed camera file" default:"500ms" toml:"cameras.watch_debounce" env:"CAMERAS_WATCH_DEBOUNCE"`

	// Session settings
	SessionReadTimeout    string `help:"Time to wait for a frame before reconnecting" default:"5s" toml:"session.read_timeout" env:"SESSION_READ_TIMEOUT"`
	SessionConnectTimeout string `help:"Time allowed to open a source" default:"10s" toml:"session.connect_timeout" env:"SESSION_CONNECT_TIMEOUT"`
	SessionBackoffBase    string `help:"First reconnect delay" default:"1s" toml:"session.backoff_base" env:"SESSION_BACKOFF_BASE"`
	SessionBackoffMax     string `help:"Longest reconnect delay" default:"30s" toml:"session.backoff_max" env:"SESSION_BACKOFF_MAX"`
	SessionFatalThreshold int    `help:"Consecutive failures before a camera gives up" default:"10" toml:"session.fatal_threshold" env:"SESSION_FATAL_THRESHOLD"`
	SessionQueueDepth     int    `help:"Frames queued per viewer" default:"2" toml:"session.queue_depth" env:"SESSION_QUEUE_DEPTH"`
	SessionMaxFailures    int    `help:"Failed deliveries before a viewer is dropped" default:"30" toml:"session.max_failures" env:"SESSION_MAX_FAILURES"`

	// FFmpeg settings
	FFmpegBinary    string `help:"ffmpeg executable" default:"ffmpeg" toml:"ffmpeg.binary" env:"FFMPEG_BINARY"`
	FFmpegTransport string `help:"RTSP transport (tcp, udp)" default:"tcp" toml:"ffmpeg.transport" env:"FFMPEG_TRANSPORT"`
	FFmpegLogLevel  string `help:"ffmpeg log level" default:"error" toml:"ffmpeg.log_level" env:"FFMPEG_LOG_LEVEL"`

	// Streaming settings
	StreamingJPEGQuality   int    `help:"JPEG quality of viewer frames" default:"80" toml:"streaming.jpeg_quality" env:"STREAMING_JPEG_QUALITY"`
	StreamingICEServers    string `help:"Comma separated STUN/TURN urls" default:"" toml:"streaming.ice_servers" env:"STREAMING_ICE_SERVERS"`
	StreamingGatherTimeout string `help:"ICE gathering limit for WebRTC answers" default:"5s" toml:"streaming.gather_timeout" env:"STREAMING_GATHER_TIMEOUT"`

	// Event history settings
	EventsEnabled   bool   `help:"Record camera events" default:"true" toml:"events.enabled" env:"EVENTS_ENABLED"`
	EventsDatabase  string `help:"Event history database" default:"camhub.db" toml:"events.database" env:"EVENTS_DATABASE"`
	EventsRetention string `help:"How long events are kept" default:"168h" toml:"events.retention" env:"EVENTS_RETENTION"`

	// Observability settings
	MetricsInterval   string `help:"Session snapshot period of /api/metrics" default:"2s" toml:"metrics.interval" env:"METRICS_INTERVAL"`
	PrometheusEnabled bool   `help:"Serve Prometheus metrics on /metrics" default:"true" toml:"metrics.prometheus_enabled" env:"METRICS_PROMETHEUS_ENABLED"`

	// Features settings
	FeaturesLEDControl bool   `help:"Show camera health on board LEDs" default:"false" toml:"features.led_control_enabled" env:"FEATURES_LED_CONTROL"`
	FeaturesLEDHold    string `help:"How long the activity LED stays on after motion" default:"2s" toml:"features.led_motion_hold" env:"FEATURES_LED_MOTION_HOLD"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel        string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat       string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingAPI          string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP         string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingOrchestrator string `help:"Registry logging level" default:"info" toml:"logging.orchestrator" env:"LOGGING_ORCHESTRATOR"`
	LoggingSession      string `help:"Camera session logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingFanout       string `help:"Fan-out hub logging level" default:"info" toml:"logging.fanout" env:"LOGGING_FANOUT"`
	LoggingMotion       string `help:"Motion detection logging level" default:"info" toml:"logging.motion" env:"LOGGING_MOTION"`
	LoggingSource       string `help:"Frame source logging level" default:"info" toml:"logging.source" env:"LOGGING_SOURCE"`
	LoggingCameras      string `help:"Camera store logging level" default:"info" toml:"logging.cameras" env:"LOGGING_CAMERAS"`
	LoggingWebRTC       string `help:"WebRTC logging level" default:"info" toml:"logging.webrtc" env:"LOGGING_WEBRTC"`
	LoggingBroadcast    string `help:"Broadcast logging level" default:"info" toml:"logging.broadcast" env:"LOGGING_BROADCAST"`
	LoggingEventlog     string `help:"Event history logging level" default:"info" toml:"logging.eventlog" env:"LOGGING_EVENTLOG"`
	LoggingLED          string `help:"LED indicator logging level" default:"info" toml:"logging.led" env:"LOGGING_LED"`
}

// duration parses a configured duration, keeping fallback on bad input.
func duration(logger *slog.Logger, name, value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("Invalid duration, using default", "option", name, "value", value, "default", fallback)
		return fallback
	}
	return d
}

func iceServers(urls string) []webrtc.ICEServer {
	var out []webrtc.ICEServer
	for _, u := range strings.Split(urls, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, webrtc.ICEServer{URLs: []string{u}})
		}
	}
	return out
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"api":          opts.LoggingAPI,
				"http":         opts.LoggingHTTP,
				"orchestrator": opts.LoggingOrchestrator,
				"session":      opts.LoggingSession,
				"fanout":       opts.LoggingFanout,
				"motion":       opts.LoggingMotion,
				"source":       opts.LoggingSource,
				"cameras":      opts.LoggingCameras,
				"webrtc":       opts.LoggingWebRTC,
				"broadcast":    opts.LoggingBroadcast,
				"eventlog":     opts.LoggingEventlog,
				"led":          opts.LoggingLED,
			},
		})
		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Seq:        entry.Seq,
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		cameraStore := store.NewTOML(opts.CamerasFile)
		if loadErr := cameraStore.Load(); loadErr != nil {
			logger.Error("Failed to load cameras", "path", opts.CamerasFile, "error", loadErr)
			os.Exit(1)
		}
		cameraService := cameras.NewService(cameraStore, eventBus, logging.GetLogger("cameras"))

		sourceLogger := logging.GetLogger("source")
		opener := source.NewMux()
		opener.Register(source.NewFFmpeg(source.FFmpegConfig{
			Binary:    opts.FFmpegBinary,
			Transport: opts.FFmpegTransport,
			LogLevel:  opts.FFmpegLogLevel,
			Options:   []ffmpeg.OptionType{ffmpeg.OptionLowLatency},
			Logger:    sourceLogger,
		}), "rtsp", "rtsp+tcp", "rtsp+udp", "rtsps", "http", "https", "file")
		opener.Register(source.Pattern{}, "test")

		registry := orchestrator.New(orchestrator.Options{
			Opener: opener,
			Defaults: orchestrator.SessionDefaults{
				ReadTimeout:    duration(logger, "session.read_timeout", opts.SessionReadTimeout, session.DefaultReadTimeout),
				ConnectTimeout: duration(logger, "session.connect_timeout", opts.SessionConnectTimeout, session.DefaultConnectTimeout),
				Backoff: session.Backoff{
					Base: duration(logger, "session.backoff_base", opts.SessionBackoffBase, session.DefaultBackoffBase),
					Max:  duration(logger, "session.backoff_max", opts.SessionBackoffMax, session.DefaultBackoffMax),
				},
				FatalThreshold: opts.SessionFatalThreshold,
				QueueDepth:     opts.SessionQueueDepth,
				MaxFailures:    opts.SessionMaxFailures,
			},
			Bus:           eventBus,
			Logger:        logging.GetLogger("orchestrator"),
			SessionLogger: logging.GetLogger("session"),
			HubLogger:     logging.GetLogger("fanout"),
			MotionLogger:  logging.GetLogger("motion"),
		})

		supervisor := control.NewSupervisor(cameraService, registry, eventBus, logging.GetLogger("cameras"))

		var watcher *config.Watcher[cameras.Changes]
		if opts.CamerasWatch {
			debounce := duration(logger, "cameras.watch_debounce", opts.CamerasWatchDebounce, 500*time.Millisecond)
			watcher = control.WatchDescriptors(cameraStore.Path(), cameraService, debounce, logging.GetLogger("cameras"))
		}

		var history *eventlog.Log
		if opts.EventsEnabled {
			var openErr error
			history, openErr = eventlog.Open(opts.EventsDatabase, logging.GetLogger("eventlog"))
			if openErr != nil {
				logger.Error("Failed to open event history", "path", opts.EventsDatabase, "error", openErr)
				os.Exit(1)
			}
			history.Subscribe(eventBus)
		}

		var indicator *led.Indicator
		if opts.FeaturesLEDControl {
			ledLogger := logging.GetLogger("led")
			hold := duration(logger, "features.led_motion_hold", opts.FeaturesLEDHold, led.DefaultMotionHold)
			indicator = led.NewIndicator(led.New(ledLogger), eventBus, hold, ledLogger)
		}

		encoder := streaming.NewJPEGEncoder(opts.StreamingJPEGQuality)
		webrtcManager := streaming.NewWebRTCManager(registry, encoder, streaming.WebRTCConfig{
			ICEServers:    iceServers(opts.StreamingICEServers),
			GatherTimeout: duration(logger, "streaming.gather_timeout", opts.StreamingGatherTimeout, streaming.DefaultGatherTimeout),
		}, logging.GetLogger("webrtc"))
		broadcaster := streaming.NewBroadcaster(registry, encoder, logging.GetLogger("broadcast"))

		apiOpts := &api.Options{
			AuthUsername:    opts.AuthUsername,
			AuthPassword:    opts.AuthPassword,
			Cameras:         cameraService,
			Sessions:        registry,
			EventBus:        eventBus,
			Encoder:         encoder,
			Opener:          opener,
			ProbeTimeout:    duration(logger, "session.connect_timeout", opts.SessionConnectTimeout, session.DefaultConnectTimeout),
			WebRTC:          webrtcManager,
			Broadcaster:     broadcaster,
			MetricsInterval: duration(logger, "metrics.interval", opts.MetricsInterval, 2*time.Second),
		}
		if history != nil {
			apiOpts.History = history
		}
		if opts.PrometheusEnabled {
			apiOpts.PrometheusHandler = promhttp.Handler()
		}
		server := api.NewServer(apiOpts)

		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			logger.Info("Starting camhub", "version", version.String(), "cameras", len(cameraService.List(ctx)))

			if indicator != nil {
				indicator.Start()
			}
			supervisor.Start(ctx)
			if watcher != nil {
				if startErr := watcher.Start(); startErr != nil {
					logger.Warn("Failed to watch camera file", "path", cameraStore.Path(), "error", startErr)
				}
			}
			if history != nil {
				retention := duration(logger, "events.retention", opts.EventsRetention, 7*24*time.Hour)
				go history.RunRetention(ctx, time.Hour, retention)
			}

			if _, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
				logger.Debug("sd_notify failed", "error", notifyErr)
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			// No restarts while sessions are torn down
			supervisor.Stop()
			if watcher != nil {
				if stopErr := watcher.Stop(); stopErr != nil {
					logger.Warn("Error stopping camera file watcher", "error", stopErr)
				}
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if stopErr := server.Stop(shutdownCtx); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			webrtcManager.Stop()
			broadcaster.Stop()
			registry.StopAll()
			cancel()

			if indicator != nil {
				indicator.Stop()
			}
			if history != nil {
				if closeErr := history.Close(); closeErr != nil {
					logger.Warn("Error closing event history", "error", closeErr)
				}
			}
		})
	})

	cli.Root().Use = "camhub"
	cli.Root().Short = "Camera stream orchestrator"
	cli.Root().Version = version.Long()

	cli.Root().AddCommand(cmd.CreateImportGo2RTCCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())

	// Run the CLI
	cli.Run()
}
