package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"asyncbuild/pkg/notify"
	"asyncbuild/pkg/protocol"
)

// progressMethod is the MCP notification carrying operation lifecycle events.
const progressMethod = "notifications/progress"

// notificationSink is the part of *server.MCPServer the progress sender needs.
type notificationSink interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// ProgressSender delivers lifecycle events to one MCP client session as
// progress notifications. Only calls that carried a progress token are
// reported. Progress counts the phase (1 started, 2 running, 3 finished)
// out of 3; the final notification's message is the full formatted result.
type ProgressSender struct {
	sink      notificationSink
	sessionID string
}

var _ notify.Sender = (*ProgressSender)(nil)

// NewProgressSender binds a sender to sessionID.
func NewProgressSender(sink notificationSink, sessionID string) *ProgressSender {
	return &ProgressSender{sink: sink, sessionID: sessionID}
}

// Send implements notify.Sender. Events without a progress token are
// dropped. A session that has gone away is reported as
// notify.ErrDisconnected.
func (p *ProgressSender) Send(ctx context.Context, ev protocol.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.ProgressToken == nil {
		return nil
	}
	err := p.sink.SendNotificationToSpecificClient(p.sessionID, progressMethod, progressParams(ev))
	if errors.Is(err, server.ErrSessionNotFound) {
		return fmt.Errorf("session %s: %w", p.sessionID, notify.ErrDisconnected)
	}
	return err
}

func progressParams(ev protocol.Event) map[string]any {
	message := ev.Message
	if ev.Kind == protocol.EventCompleted && ev.Output != "" {
		message = ev.Output
	}
	return map[string]any{
		"progressToken": ev.ProgressToken,
		"progress":      ev.Kind.Rank(),
		"total":         protocol.EventCompleted.Rank(),
		"message":       message,
		"operationId":   ev.OperationID,
		"state":         string(ev.State),
	}
}
