// Package hints produces advisory text that steers callers away from
// premature waits and tight status polling. Nothing here changes what an
// operation does.
package hints

import (
	"fmt"
	"sync"
	"time"
)

// Config holds hint thresholds.
type Config struct {
	MinWaitGap          time.Duration // a first wait sooner than this after start earns a hint (default 10s)
	StatusPollThreshold int           // status calls per operation before the polling hint (default 3)
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{MinWaitGap: 10 * time.Second, StatusPollThreshold: 3}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinWaitGap <= 0 {
		c.MinWaitGap = d.MinWaitGap
	}
	if c.StatusPollThreshold <= 0 {
		c.StatusPollThreshold = d.StatusPollThreshold
	}
	return c
}

// Preview returns the guidance block attached to every background reply.
func Preview(operationID, command string) string {
	return fmt.Sprintf(`

### BACKGROUND OPERATION: %[2]s (ID: %[1]s)
1. The %[2]s is running in the background and has not finished yet.
2. Useful next steps:
 - Continue with work that does not depend on this %[2]s.
 - Start any other operations you need now, then wait for all of their IDs in one call.
 - If you cannot proceed without the result, call wait with operation_ids=['%[1]s'].
3. Tips:
 - Use status for a non-blocking check and avoid tight polling loops.
 - Always pass explicit operation IDs. An empty list is rejected.
 - A completion notification is sent when progress notifications are enabled.
`, operationID, command)
}

// Engine tracks per-operation observations. Safe for concurrent use.
type Engine struct {
	cfg Config

	mu     sync.Mutex
	waited map[string]struct{}
	polls  map[string]int

	nowFunc func() time.Time
}

// New creates an Engine.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg.withDefaults(),
		waited:  make(map[string]struct{}),
		polls:   make(map[string]int),
		nowFunc: time.Now,
	}
}

// ObserveWait records a wait on id for an operation that started at
// startedAt. Only the first wait per operation is judged: when it comes
// sooner than MinWaitGap the returned hint names the gap and the
// efficiency (gap as a share of MinWaitGap). Otherwise it returns "".
func (e *Engine) ObserveWait(id string, startedAt time.Time) string {
	e.mu.Lock()
	_, seen := e.waited[id]
	e.waited[id] = struct{}{}
	e.mu.Unlock()

	if seen || startedAt.IsZero() {
		return ""
	}
	gap := e.nowFunc().Sub(startedAt)
	if gap >= e.cfg.MinWaitGap {
		return ""
	}
	if gap < 0 {
		gap = 0
	}
	efficiency := gap.Seconds() / e.cfg.MinWaitGap.Seconds() * 100
	return fmt.Sprintf("CONCURRENCY HINT: You waited for '%s' after only %.1fs (efficiency: %.0f%%). "+
		"Do other work while operations run in the background and wait only when you need the result.",
		id, gap.Seconds(), efficiency)
}

// ObserveStatus counts a status call on id and returns the polling hint
// once the count reaches StatusPollThreshold, else "".
func (e *Engine) ObserveStatus(id string) string {
	e.mu.Lock()
	e.polls[id]++
	count := e.polls[id]
	e.mu.Unlock()

	if count < e.cfg.StatusPollThreshold {
		return ""
	}
	return fmt.Sprintf("STATUS POLLING DETECTED: You've called status %d times for operation '%s'. "+
		"Instead of polling, call wait with operation_ids=['%s'] and enable_async_notification=true on new operations.",
		count, id, id)
}

// Forget drops all observations for id. Called when the operation is
// evicted from the registry.
func (e *Engine) Forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.waited, id)
	delete(e.polls, id)
}
