package protocol

import (
	"fmt"
	"strings"
	"time"
)

// OperationState is the lifecycle state of a background operation.
type OperationState string

// Operation state constants. Pending and Running are the only non-terminal
// states.
const (
	StatePending   OperationState = "pending"
	StateRunning   OperationState = "running"
	StateCompleted OperationState = "completed"
	StateFailed    OperationState = "failed"
	StateTimedOut  OperationState = "timed_out"
	StateCancelled OperationState = "cancelled"
)

// Terminal reports whether s is a final state.
func (s OperationState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateCancelled:
		return true
	default:
		return false
	}
}

// Mode is the effective execution mode of one tool invocation.
type Mode string

// Execution modes.
const (
	ModeSync       Mode = "sync"
	ModeBackground Mode = "background"
)

// EventKind classifies a notification about an operation.
type EventKind string

// Event kinds, in the order they are emitted for one operation.
const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
)

// Rank orders event kinds within one operation's event stream.
func (k EventKind) Rank() int {
	switch k {
	case EventStarted:
		return 1
	case EventProgress:
		return 2
	case EventCompleted:
		return 3
	default:
		return 0
	}
}

// Event is a lifecycle notification delivered to subscribers.
type Event struct {
	Kind        EventKind      `json:"kind"`
	OperationID string         `json:"operation_id"`
	Command     string         `json:"command"`
	State       OperationState `json:"state"`
	Message     string         `json:"message,omitempty"`
	Output      string         `json:"output,omitempty"` // only on completed events
	Time        time.Time      `json:"time"`

	// ProgressToken is the transport correlation token supplied by the
	// caller that started the operation, if any.
	ProgressToken any `json:"-"`
}

// Title returns a display title for a tool name ("build" -> "Build").
func Title(tool string) string {
	if tool == "" {
		return ""
	}
	return strings.ToUpper(tool[:1]) + tool[1:]
}

// FormatCommandLine renders argv as a single space-separated string for
// descriptions and logs.
func FormatCommandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return fmt.Sprintf("%s %s", name, strings.Join(args, " "))
}
