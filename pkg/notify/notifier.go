// Package notify fans operation lifecycle events out to subscribers: the
// sender bound to the session that started an operation plus any global
// subscribers. Per operation, events are delivered in order (started, then
// progress, then completed) and each phase at most once. Delivery failures
// are classified as CallbackError, logged, and never propagate into the
// operation's own outcome.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"asyncbuild/pkg/protocol"
)

// Sender delivers one event to one subscriber. Implementations must honour
// ctx cancellation.
type Sender interface {
	Send(ctx context.Context, ev protocol.Event) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, ev protocol.Event) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, ev protocol.Event) error { return f(ctx, ev) }

// Config holds notifier tunables.
type Config struct {
	DeliveryTimeout time.Duration // per-subscriber delivery deadline (default 5s)
}

func (c Config) withDefaults() Config {
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 5 * time.Second
	}
	return c
}

type subscriber struct {
	name   string
	sender Sender
}

// Notifier routes events to subscribers. Safe for concurrent use.
type Notifier struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	global   []subscriber
	sessions map[string]Sender
	phase    map[string]protocol.EventKind // last accepted kind per operation

	nowFunc func() time.Time
}

// New creates a Notifier with no subscribers.
func New(cfg Config, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		cfg:      cfg.withDefaults(),
		log:      logger.Named("notify"),
		sessions: make(map[string]Sender),
		phase:    make(map[string]protocol.EventKind),
		nowFunc:  time.Now,
	}
}

// Subscribe adds a global subscriber that receives every event.
func (n *Notifier) Subscribe(name string, s Sender) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.global = append(n.global, subscriber{name: name, sender: s})
}

// BindSession registers the sender for a session, replacing any previous one.
func (n *Notifier) BindSession(sessionID string, s Sender) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sessions[sessionID] = s
}

// UnbindSession removes a session's sender. Events for operations started
// by that session still reach global subscribers.
func (n *Notifier) UnbindSession(sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.sessions, sessionID)
}

// Forget drops sequencing state for an operation.
func (n *Notifier) Forget(operationID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.phase, operationID)
}

// Publish delivers ev to the session's sender (if bound) and every global
// subscriber. Events that would break per-operation ordering or repeat a
// one-shot phase are dropped. Returns the classified delivery failures,
// which have already been logged.
func (n *Notifier) Publish(ctx context.Context, sessionID string, ev protocol.Event) []*CallbackError {
	if ev.Time.IsZero() {
		ev.Time = n.nowFunc()
	}

	n.mu.Lock()
	if !n.acceptLocked(ev) {
		n.mu.Unlock()
		n.log.Debug("dropped out-of-order event",
			zap.String("operation_id", ev.OperationID),
			zap.String("kind", string(ev.Kind)))
		return nil
	}
	targets := make([]subscriber, 0, len(n.global)+1)
	if s, ok := n.sessions[sessionID]; ok && sessionID != "" {
		targets = append(targets, subscriber{name: "session:" + sessionID, sender: s})
	}
	targets = append(targets, n.global...)
	n.mu.Unlock()

	var failures []*CallbackError
	for _, t := range targets {
		if cbErr := n.deliver(ctx, t, ev); cbErr != nil {
			failures = append(failures, cbErr)
		}
	}
	return failures
}

func (n *Notifier) acceptLocked(ev protocol.Event) bool {
	rank := ev.Kind.Rank()
	if rank == 0 {
		return false
	}
	last := n.phase[ev.OperationID].Rank()
	switch {
	case ev.Kind == protocol.EventProgress && last == rank:
		// Progress may repeat.
	case rank <= last:
		return false
	}
	n.phase[ev.OperationID] = ev.Kind
	return true
}

func (n *Notifier) deliver(ctx context.Context, t subscriber, ev protocol.Event) *CallbackError {
	dctx, cancel := context.WithTimeout(ctx, n.cfg.DeliveryTimeout)
	defer cancel()

	cbErr := Classify(t.sender.Send(dctx, ev))
	if cbErr == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("subscriber", t.name),
		zap.String("operation_id", ev.OperationID),
		zap.String("kind", string(ev.Kind)),
		zap.String("code", cbErr.Code()),
		zap.Bool("recoverable", cbErr.IsRecoverable()),
	}
	if detail, ok := cbErr.Detail(); ok {
		fields = append(fields, zap.String("detail", detail))
	}
	if ce := n.log.Check(cbErr.Severity().Level(), "notification delivery failed"); ce != nil {
		ce.Write(fields...)
	}
	return cbErr
}
