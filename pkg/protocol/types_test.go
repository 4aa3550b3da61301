package protocol_test

import (
	"errors"
	"testing"

	"asyncbuild/pkg/protocol"
)

func TestOperationStateTerminal(t *testing.T) {
	tests := []struct {
		state    protocol.OperationState
		terminal bool
	}{
		{protocol.StatePending, false},
		{protocol.StateRunning, false},
		{protocol.StateCompleted, true},
		{protocol.StateFailed, true},
		{protocol.StateTimedOut, true},
		{protocol.StateCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestEventKindRankOrder(t *testing.T) {
	if !(protocol.EventStarted.Rank() < protocol.EventProgress.Rank() &&
		protocol.EventProgress.Rank() < protocol.EventCompleted.Rank()) {
		t.Error("expected started < progress < completed")
	}
	if protocol.EventKind("bogus").Rank() != 0 {
		t.Error("expected unknown kind to rank 0")
	}
}

func TestTitle(t *testing.T) {
	if got := protocol.Title("build"); got != "Build" {
		t.Errorf("Title(build) = %q", got)
	}
	if got := protocol.Title(""); got != "" {
		t.Errorf("Title(\"\") = %q", got)
	}
}

func TestDecodeWaitRequest(t *testing.T) {
	t.Run("plural ids accepted", func(t *testing.T) {
		req, err := protocol.DecodeWaitRequest([]byte(`{"operation_ids":["op_a","op_b"]}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(req.OperationIDs) != 2 || req.OperationIDs[0] != "op_a" {
			t.Errorf("unexpected ids %v", req.OperationIDs)
		}
	})

	t.Run("timeout field rejected", func(t *testing.T) {
		_, err := protocol.DecodeWaitRequest([]byte(`{"operation_ids":["op_a"],"timeout_secs":30}`))
		if err == nil {
			t.Fatal("expected unknown field timeout_secs to be rejected")
		}
	})

	t.Run("singular id rejected", func(t *testing.T) {
		_, err := protocol.DecodeWaitRequest([]byte(`{"operation_id":"op_a"}`))
		if err == nil {
			t.Fatal("expected singular operation_id to be rejected")
		}
	})

	t.Run("empty list rejected", func(t *testing.T) {
		_, err := protocol.DecodeWaitRequest([]byte(`{"operation_ids":[]}`))
		if !errors.Is(err, protocol.ErrNoOperationIDs) {
			t.Fatalf("expected ErrNoOperationIDs, got %v", err)
		}
	})
}

func TestDecodeArguments_ToolRequest(t *testing.T) {
	var req protocol.ToolRequest
	err := protocol.DecodeArguments(map[string]any{
		"working_directory":         "/src/app",
		"args":                      []any{"--release"},
		"enable_async_notification": true,
	}, &req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.WorkingDirectory != "/src/app" || len(req.Args) != 1 {
		t.Errorf("unexpected request %+v", req)
	}
	if req.EnableAsyncNotification == nil || !*req.EnableAsyncNotification {
		t.Error("expected async flag to be set")
	}

	var absent protocol.ToolRequest
	if err := protocol.DecodeArguments(map[string]any{"working_directory": "/x"}, &absent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if absent.EnableAsyncNotification != nil {
		t.Error("expected absent async flag to stay nil")
	}
}
