// Package eventlog keeps a sqlite history of camera events: motion onsets,
// fatal alerts and session state changes.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/camhub/internal/events"
	"github.com/smazurov/camhub/internal/frame"
	_ "modernc.org/sqlite"
)

// Entry kinds.
const (
	KindMotion = "motion"
	KindFatal  = "fatal"
	KindState  = "state"
)

// Limits for List.
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Entry is one recorded event.
type Entry struct {
	ID        int64          `json:"id" doc:"Row id"`
	CameraID  string         `json:"camera_id" example:"front-door" doc:"Camera identifier"`
	Kind      string         `json:"kind" example:"motion" enum:"motion,fatal,state" doc:"Event kind"`
	Message   string         `json:"message" doc:"Short description"`
	Regions   []frame.Region `json:"regions,omitempty" doc:"Motion areas, for motion entries"`
	Timestamp time.Time      `json:"timestamp" doc:"When the event happened"`
}

// Subscriber is the part of the event bus the log listens on.
type Subscriber interface {
	Subscribe(handler any) func()
}

// Log is the event history store.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
	unsubs []func()
}

// Open opens or creates the database at path and runs migrations. Use
// ":memory:" for a throwaway log.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	// A :memory: database lives only as long as its connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	l := &Log{db: db, logger: logger}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS camera_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			camera_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			regions TEXT,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_camera_events_camera_time ON camera_events(camera_id, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_camera_events_time ON camera_events(timestamp DESC)`,
	}
	for _, m := range migrations {
		if _, err := l.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close unsubscribes from the bus and closes the database.
func (l *Log) Close() error {
	for _, unsub := range l.unsubs {
		unsub()
	}
	l.unsubs = nil
	return l.db.Close()
}

// Record stores e and returns its row id.
func (l *Log) Record(ctx context.Context, e Entry) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	var regions any
	if len(e.Regions) > 0 {
		data, err := json.Marshal(e.Regions)
		if err != nil {
			return 0, fmt.Errorf("failed to encode regions: %w", err)
		}
		regions = string(data)
	}
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO camera_events (camera_id, kind, message, regions, timestamp) VALUES (?, ?, ?, ?, ?)`,
		e.CameraID, e.Kind, e.Message, regions, e.Timestamp.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to record event: %w", err)
	}
	return res.LastInsertId()
}

// List returns the newest entries for cameraID, newest first. A limit of
// zero uses DefaultLimit; larger limits are capped at MaxLimit.
func (l *Log) List(ctx context.Context, cameraID string, limit int) ([]Entry, error) {
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, camera_id, kind, message, regions, timestamp FROM camera_events
		WHERE camera_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		cameraID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			regions sql.NullString
			nanos   int64
		)
		if err := rows.Scan(&e.ID, &e.CameraID, &e.Kind, &e.Message, &regions, &nanos); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if regions.Valid && regions.String != "" {
			if err := json.Unmarshal([]byte(regions.String), &e.Regions); err != nil {
				return nil, fmt.Errorf("failed to decode regions of event %d: %w", e.ID, err)
			}
		}
		e.Timestamp = time.Unix(0, nanos).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than before and returns how many were removed.
func (l *Log) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM camera_events WHERE timestamp < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return res.RowsAffected()
}

// RunRetention prunes entries older than keep every interval until ctx ends.
func (l *Log) RunRetention(ctx context.Context, interval, keep time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.Prune(ctx, time.Now().Add(-keep))
			if err != nil {
				l.logger.Warn("Event log prune failed", "error", err)
				continue
			}
			if n > 0 {
				l.logger.Debug("Pruned event log", "removed", n)
			}
		}
	}
}

// Subscribe records motion onsets, fatal alerts and state changes published
// on bus until Close.
func (l *Log) Subscribe(bus Subscriber) {
	l.unsubs = append(l.unsubs,
		bus.Subscribe(func(e events.MotionDetectedEvent) {
			l.store(Entry{
				CameraID:  e.CameraID,
				Kind:      KindMotion,
				Message:   fmt.Sprintf("motion in %d area(s) at frame %d", len(e.Regions), e.Seq),
				Regions:   e.Regions,
				Timestamp: parseTimestamp(e.Timestamp),
			})
		}),
		bus.Subscribe(func(e events.CameraFatalEvent) {
			l.store(Entry{
				CameraID:  e.CameraID,
				Kind:      KindFatal,
				Message:   fmt.Sprintf("gave up after %d failures: %s", e.Failures, e.Error),
				Timestamp: parseTimestamp(e.Timestamp),
			})
		}),
		bus.Subscribe(func(e events.CameraStateChangedEvent) {
			msg := e.From + " -> " + e.To
			if e.Error != "" {
				msg += ": " + e.Error
			}
			l.store(Entry{
				CameraID:  e.CameraID,
				Kind:      KindState,
				Message:   msg,
				Timestamp: parseTimestamp(e.Timestamp),
			})
		}),
	)
}

func (l *Log) store(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := l.Record(ctx, e); err != nil {
		l.logger.Warn("Failed to record camera event", "camera_id", e.CameraID, "kind", e.Kind, "error", err)
	}
}

func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Now()
}
