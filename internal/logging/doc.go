// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// The logging system uses Go's slog package with automatic output routing:
//   - Logs to systemd journal when available (Linux systems with journald)
//   - Logs to stdout when a terminal, pipe, or file is connected
//   - Logs to both when both are available
//
// Every record is also kept in an in-memory ring buffer ([GetBuffer]) and
// handed to the callback registered with [SetLogCallback], which the API
// uses to stream logs over SSE.
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",      // Global log level: debug, info, warn, error
//		Format: "text",      // Output format: text or json
//		Modules: map[string]string{
//			"session": "debug",  // Per-module overrides
//			"api":     "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("mymodule")
//	logger.Info("Starting up", "port", 8080)
//	logger.Debug("Details", "config", cfg)
//	logger.Warn("Something unusual", "error", err)
//	logger.Error("Failed", "error", err)
//
// Add contextual attributes:
//
//	logger := logging.GetLogger("session").With("camera_id", id)
//	logger.Info("Session started")  // Includes camera_id in all logs
//
// # Log Levels
//
//	debug - Verbose debugging information
//	info  - General operational messages
//	warn  - Warning conditions
//	error - Error conditions
//
// # Output Destinations
//
// The system automatically detects available outputs:
//
//	Journal available + stdout available → MultiHandler (both)
//	Journal available only              → JournalHandler
//	Stdout available only               → TextHandler or JSONHandler
//
// Journal availability is checked via [github.com/coreos/go-systemd/v22/journal.Enabled].
//
// # Viewing Logs
//
// When running as a systemd service or on a system with journald:
//
//	journalctl -t camhub              # All camhub logs
//	journalctl -t camhub -f           # Follow live
//	journalctl -t camhub --since "5m" # Last 5 minutes
//	journalctl -t camhub -p err       # Errors only
//
// Filter by structured fields:
//
//	journalctl -t camhub MODULE=session
//	journalctl -t camhub CAMERA_ID=front
//
// # Configuration
//
// Log levels can be set globally or per-module. Module-specific levels
// override the global level for that module only. In config.toml each
// module has its own key next to the global level:
//
//	[logging]
//	level = "info"
//	format = "text"
//	orchestrator = "debug"
//	api = "warn"
//	webrtc = "error"
package logging
