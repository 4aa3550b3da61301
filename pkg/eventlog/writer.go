package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"asyncbuild/pkg/protocol"
)

// Writer appends lifecycle events to the log. It satisfies notify.Sender so
// it can be subscribed to the notifier like any other subscriber.
type Writer struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenWriter opens (creating if needed) the event database at dbPath and
// applies the schema.
func OpenWriter(dbPath string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Writer{db: db}, nil
}

// Send appends ev.
func (w *Writer) Send(ctx context.Context, ev protocol.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db == nil {
		return fmt.Errorf("event log closed")
	}
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO events (kind, operation_id, command, state, message, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(ev.Kind), ev.OperationID, ev.Command, string(ev.State), ev.Message, ev.Time.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Close releases the database. Safe to call multiple times.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db == nil {
		return nil
	}
	err := w.db.Close()
	w.db = nil
	return err
}
