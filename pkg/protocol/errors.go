package protocol

import (
	"errors"
	"fmt"
)

// ErrNoOperationIDs is returned by wait when called with an empty id list.
var ErrNoOperationIDs = errors.New("operation_ids cannot be empty: provide at least one operation ID")

// ToolDisabledError is returned when a tool is disabled by server
// configuration. Its text always contains "tool_disabled".
type ToolDisabledError struct {
	Tool string
}

func (e *ToolDisabledError) Error() string {
	return fmt.Sprintf("tool_disabled: tool %q is disabled by server configuration", e.Tool)
}

// OperationNotFoundError represents a lookup of an unknown or evicted
// operation id.
type OperationNotFoundError struct {
	ID string
}

func (e *OperationNotFoundError) Error() string {
	return fmt.Sprintf("operation %s not found", e.ID)
}

// DuplicateOperationError is returned when a caller-proposed operation id
// has been used before.
type DuplicateOperationError struct {
	ID string
}

func (e *DuplicateOperationError) Error() string {
	return fmt.Sprintf("operation id %s already used", e.ID)
}

// TransitionError represents an illegal lifecycle transition.
type TransitionError struct {
	ID   string
	From OperationState
	To   OperationState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("operation %s: illegal transition %s -> %s", e.ID, e.From, e.To)
}

// WorkerError represents a failure of the worker session itself, as opposed
// to a command that ran and exited non-zero.
type WorkerError struct {
	WorkerID string
	Dir      string
	Reason   string // human-readable failure reason (e.g., "session exited")
	Err      error
}

func (e *WorkerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker %s (%s): %s: %v", e.WorkerID, e.Dir, e.Reason, e.Err)
	}
	return fmt.Sprintf("worker %s (%s): %s", e.WorkerID, e.Dir, e.Reason)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// UnknownToolError is returned for a tool name the server does not provide.
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Tool)
}
