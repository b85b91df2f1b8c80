package eventlog

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxpod/voxpod/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeralIsNoOp(t *testing.T) {
	ctx := context.Background()
	l, err := Open(ctx, config.EventLogConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	l.Record(ctx, KindKey, "tap 5", 0)
	entries, err := l.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if entries != nil {
		t.Fatalf("ephemeral log returned entries: %v", entries)
	}
}

func TestRecordAndList(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventLogConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	l, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	ctx := context.Background()
	l.Record(ctx, KindKey, "tap 5", 0)
	l.Record(ctx, KindSpeech, "frequency is 145.500", 0)
	l.Record(ctx, KindInterrupt, "", 0)

	entries, err := l.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Kind != KindKey || entries[0].Detail != "tap 5" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[0].RunID != l.RunID() {
		t.Fatalf("entry run id %q, want %q", entries[0].RunID, l.RunID())
	}
}

func TestPruneByAgeAndRunCount(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventLogConfig{
		Path:          filepath.Join(tmp, "events.db"),
		RetentionMode: "persistent",
		RetentionDays: 1,
		MaxRuns:       1,
	}
	l, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	ctx := context.Background()

	// Backdate this run and its entries past the retention horizon.
	l.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	l.Record(ctx, KindKey, "old", 0)

	l.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := l.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	// The run row from Open carries the real wall clock, so only the
	// backdated entry is in scope for the age rule.
	entries, err := l.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected backdated entries pruned, got %v", entries)
	}
}
