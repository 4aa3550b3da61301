package protocol

// SchemaDDL defines the SQLite schema for the optional event log.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Operation lifecycle events: append-only audit trail
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    kind TEXT NOT NULL,
    operation_id TEXT NOT NULL,
    command TEXT NOT NULL,
    state TEXT NOT NULL,
    message TEXT,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_events_operation ON events(operation_id);
`
