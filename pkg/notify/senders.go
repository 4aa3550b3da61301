package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"asyncbuild/pkg/protocol"
)

// LogSender writes every event to a structured logger.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender returns a sender that logs events at info level.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{log: logger.Named("events")}
}

// Send logs ev.
func (s *LogSender) Send(_ context.Context, ev protocol.Event) error {
	s.log.Info("operation event",
		zap.String("kind", string(ev.Kind)),
		zap.String("operation_id", ev.OperationID),
		zap.String("command", ev.Command),
		zap.String("state", string(ev.State)),
		zap.String("message", ev.Message))
	return nil
}

// ChannelSender forwards events onto a channel, blocking until the reader
// takes the event or the delivery context ends.
type ChannelSender struct {
	mu     sync.RWMutex
	ch     chan protocol.Event
	closed bool
}

// NewChannelSender creates a sender with the given buffer size.
func NewChannelSender(buffer int) *ChannelSender {
	return &ChannelSender{ch: make(chan protocol.Event, buffer)}
}

// Events returns the receive side.
func (s *ChannelSender) Events() <-chan protocol.Event { return s.ch }

// Send delivers ev or returns ErrDisconnected once Close has been called.
func (s *ChannelSender) Send(ctx context.Context, ev protocol.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrDisconnected
	}
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the sender disconnected and closes the channel. Safe to call
// more than once.
func (s *ChannelSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// NopSender discards every event.
type NopSender struct{}

// Send does nothing.
func (NopSender) Send(context.Context, protocol.Event) error { return nil }
