package control

import (
	"log/slog"
	"time"

	"github.com/smazurov/camhub/internal/cameras"
	"github.com/smazurov/camhub/internal/config"
)

// Reloader re-reads camera descriptors from disk.
type Reloader interface {
	Reload() (cameras.Changes, error)
}

// WatchDescriptors reloads the descriptor file whenever it changes on disk.
// The reload publishes descriptor events, which a running Supervisor turns
// into session starts, stops and restarts. The watcher is not started.
func WatchDescriptors(path string, r Reloader, debounce time.Duration, logger *slog.Logger) *config.Watcher[cameras.Changes] {
	loader := func(string) (cameras.Changes, error) {
		return r.Reload()
	}
	opts := []config.WatcherOption[cameras.Changes]{
		config.WithErrorHandler[cameras.Changes](func(err error) {
			logger.Warn("Camera file reload failed, keeping current cameras", "path", path, "error", err)
		}),
	}
	if debounce > 0 {
		opts = append(opts, config.WithDebounce[cameras.Changes](debounce))
	}

	w := config.NewConfigWatcher(path, loader, logger, opts...)
	w.OnReload(func(ch cameras.Changes) {
		if ch.Empty() {
			logger.Debug("Camera file touched without changes", "path", path)
			return
		}
		logger.Info("Camera file changed",
			"created", ch.Created,
			"updated", ch.Updated,
			"deleted", ch.Deleted)
	})
	return w
}
