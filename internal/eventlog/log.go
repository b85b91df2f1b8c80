// Package eventlog keeps a SQLite-backed diagnostic timeline of what the
// controller did: key events, speech requests, interrupts, rig commands.
// With retention mode "ephemeral" every call is a no-op, so callers never
// need to branch on whether logging is enabled.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/voxpod/voxpod/internal/config"
)

// Event kinds recorded in the timeline.
const (
	KindKey       = "key"
	KindSpeech    = "speech"
	KindInterrupt = "interrupt"
	KindRig       = "rig"
)

// Entry is one recorded timeline row.
type Entry struct {
	ID        int64
	RunID     string
	Kind      string
	Detail    string
	Status    int
	CreatedAt time.Time
}

// Log wraps the SQLite timeline. One Log covers one daemon run, identified
// by a fresh UUID.
type Log struct {
	db    *sql.DB
	cfg   config.EventLogConfig
	log   *slog.Logger
	runID string
	clock func() time.Time
}

// Open initializes the event log according to config and registers the
// current run.
func Open(ctx context.Context, cfg config.EventLogConfig, log *slog.Logger) (*Log, error) {
	l := &Log{
		cfg:   cfg,
		log:   log.With(slog.String("component", "eventlog")),
		runID: uuid.NewString(),
		clock: time.Now,
	}
	if cfg.RetentionMode == "ephemeral" {
		return l, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	l.db = db

	if err := l.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := l.beginRun(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := l.Prune(ctx); err != nil {
		l.log.Warn("event log prune on start failed", slog.String("error", err.Error()))
	}
	return l, nil
}

func (l *Log) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    detail TEXT,
    status INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_run_created ON events(run_id, created_at);
`
	_, err := l.db.ExecContext(ctx, ddl)
	return err
}

func (l *Log) beginRun(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, started_at) VALUES(?, ?)`,
		l.runID, l.clock().UTC())
	return err
}

// RunID identifies this daemon run in the timeline.
func (l *Log) RunID() string { return l.runID }

// Close releases the database.
func (l *Log) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record appends one entry. Failures are logged, not returned: diagnostics
// must never break the control path.
func (l *Log) Record(ctx context.Context, kind, detail string, status int) {
	if l.db == nil {
		return
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events(run_id, kind, detail, status, created_at) VALUES(?, ?, ?, ?, ?)`,
		l.runID, kind, detail, status, l.clock().UTC())
	if err != nil {
		l.log.Warn("event log write failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()))
	}
}

// List retrieves up to limit entries of the current run, oldest first.
func (l *Log) List(ctx context.Context, limit int) ([]Entry, error) {
	if l.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, run_id, kind, detail, status, created_at
		 FROM events WHERE run_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		l.runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Kind, &e.Detail, &e.Status, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune applies retention: drop runs older than the configured horizon and
// cap the number of kept runs.
func (l *Log) Prune(ctx context.Context) error {
	if l.db == nil {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if l.cfg.RetentionDays > 0 {
		cutoff := l.clock().Add(-time.Duration(l.cfg.RetentionDays) * 24 * time.Hour).UTC()
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if l.cfg.MaxRuns > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, l.cfg.MaxRuns); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE run_id NOT IN (SELECT run_id FROM runs)`); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
