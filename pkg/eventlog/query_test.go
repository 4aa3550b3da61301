package eventlog_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"asyncbuild/pkg/eventlog"
	"asyncbuild/pkg/protocol"
)

// setupLog writes a small lifecycle history for two operations.
func setupLog(t *testing.T) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "nested", "events.db")
	w, err := eventlog.OpenWriter(dbPath)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer func() { _ = w.Close() }()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []protocol.Event{
		{Kind: protocol.EventStarted, OperationID: "op_a", Command: "build", State: protocol.StateRunning, Time: base},
		{Kind: protocol.EventStarted, OperationID: "op_b", Command: "test", State: protocol.StateRunning, Time: base.Add(time.Second)},
		{Kind: protocol.EventProgress, OperationID: "op_a", Command: "build", State: protocol.StateRunning, Message: "cargo build", Time: base.Add(2 * time.Second)},
		{Kind: protocol.EventCompleted, OperationID: "op_a", Command: "build", State: protocol.StateCompleted, Time: base.Add(3 * time.Second)},
	}
	for _, ev := range events {
		if err := w.Send(context.Background(), ev); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	return dbPath
}

func TestReader_QueryAllNewestFirst(t *testing.T) {
	r, err := eventlog.NewReader(setupLog(t))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer func() { _ = r.Close() }()

	events, err := r.Query(context.Background(), eventlog.QueryOpts{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[0].Kind != "completed" || events[0].OperationID != "op_a" {
		t.Errorf("expected newest event first, got %+v", events[0])
	}
	want := time.Date(2026, 3, 1, 12, 0, 3, 0, time.UTC)
	if !events[0].CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", events[0].CreatedAt, want)
	}
}

func TestReader_Filters(t *testing.T) {
	r, err := eventlog.NewReader(setupLog(t))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer func() { _ = r.Close() }()
	ctx := context.Background()

	byOp, err := r.Query(ctx, eventlog.QueryOpts{OperationID: "op_a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byOp) != 3 {
		t.Errorf("expected 3 events for op_a, got %d", len(byOp))
	}

	started, err := r.Query(ctx, eventlog.QueryOpts{Kind: "started"})
	if err != nil {
		t.Fatal(err)
	}
	if len(started) != 2 {
		t.Errorf("expected 2 started events, got %d", len(started))
	}

	after := time.Date(2026, 3, 1, 12, 0, 2, 0, time.UTC)
	recent, err := r.Query(ctx, eventlog.QueryOpts{After: &after})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Errorf("expected 2 events at or after %v, got %d", after, len(recent))
	}

	limited, err := r.Query(ctx, eventlog.QueryOpts{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 event with limit, got %d", len(limited))
	}

	none, err := r.Query(ctx, eventlog.QueryOpts{OperationID: "op_missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("expected no events, got %d", len(none))
	}
}

func TestReader_MissingDatabase(t *testing.T) {
	if _, err := eventlog.NewReader(filepath.Join(t.TempDir(), "absent.db")); err == nil {
		t.Fatal("expected error for missing database")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	dbPath := setupLog(t)

	r, err := eventlog.NewReader(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("first close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}

	w, err := eventlog.OpenWriter(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	_ = w.Close()
	if err := w.Close(); err != nil {
		t.Errorf("second writer close: %v", err)
	}
	if err := w.Send(context.Background(), protocol.Event{Kind: protocol.EventStarted}); err == nil {
		t.Error("expected send after close to fail")
	}
}

func TestDefaultDBPath(t *testing.T) {
	if p := eventlog.DefaultDBPath(); p != "" && filepath.Base(p) != "events.db" {
		t.Errorf("unexpected default path %q", p)
	}
}
