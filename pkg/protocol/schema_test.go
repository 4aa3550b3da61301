package protocol_test

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"asyncbuild/pkg/protocol"
)

func TestSchemaExecsCleanly(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("exec schema DDL: %v", err)
	}
	// Idempotent: a second exec must not fail.
	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("re-exec schema DDL: %v", err)
	}

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'events'").Scan(&name)
	if err != nil {
		t.Fatalf("events table not found: %v", err)
	}
}

func TestSchemaDefaultsCreatedAt(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("exec schema DDL: %v", err)
	}
	_, err = db.Exec(`INSERT INTO events (kind, operation_id, command, state) VALUES ('started', 'op_1', 'build', 'running')`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	var createdAt string
	if err := db.QueryRow(`SELECT created_at FROM events WHERE operation_id = 'op_1'`).Scan(&createdAt); err != nil {
		t.Fatalf("select: %v", err)
	}
	if createdAt == "" {
		t.Error("expected created_at default to be populated")
	}
}
