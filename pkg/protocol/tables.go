package protocol

// EventRow represents a row in the events SQLite table written by the
// optional event log.
type EventRow struct {
	ID          int64  `json:"id"`
	Kind        string `json:"kind"`
	OperationID string `json:"operation_id"`
	Command     string `json:"command"`
	State       string `json:"state"`
	Message     string `json:"message"`
	CreatedAt   string `json:"created_at"`
}
