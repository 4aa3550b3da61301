// Package dispatcher is the façade every tool invocation passes through. It
// composes the registry, worker pool, notifier, hint engine and toolchain
// catalog: it gates disabled tools, resolves the execution mode, runs
// synchronous calls inline and background calls as tracked goroutines that
// report into the registry and notifier.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"asyncbuild/pkg/hints"
	"asyncbuild/pkg/notify"
	"asyncbuild/pkg/pool"
	"asyncbuild/pkg/protocol"
	"asyncbuild/pkg/registry"
	"asyncbuild/pkg/toolchain"
)

// ErrClosed is returned for calls made after Close.
var ErrClosed = errors.New("dispatcher is closed")

// --- Config ---

// Config holds Dispatcher configuration.
type Config struct {
	Synchronous     bool          // process-wide synchronous mode; background is never used
	DisabledTools   []string      // tool names rejected before any side effect
	CommandTimeout  time.Duration // execution deadline for one command (default 300s)
	WaitTimeout     time.Duration // observation timeout of the wait tool (0 = each operation's own)
	ShutdownTimeout time.Duration // how long Close lets background work finish (default 10s)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.CommandTimeout == 0 {
		out.CommandTimeout = 300 * time.Second
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = 10 * time.Second
	}
	return out
}

// Deps are the shared components the dispatcher wires together. They are
// owned by the caller, which shuts them down after Close.
type Deps struct {
	Registry *registry.Registry
	Pool     *pool.Pool
	Notifier *notify.Notifier
	Hints    *hints.Engine
	Catalog  *toolchain.Catalog
	Logger   *zap.Logger
}

// --- Dispatcher ---

// Dispatcher routes tool calls. Safe for concurrent use.
type Dispatcher struct {
	cfg      Config
	log      *zap.Logger
	reg      *registry.Registry
	pool     *pool.Pool
	notifier *notify.Notifier
	hints    *hints.Engine
	catalog  *toolchain.Catalog
	disabled map[string]struct{}

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // in-flight background operations
	closed  bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Dispatcher and hooks registry eviction into the hint
// engine and notifier.
func New(cfg Config, deps Deps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	disabled := make(map[string]struct{}, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = struct{}{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		cfg:        cfg.withDefaults(),
		log:        logger.Named("dispatcher"),
		reg:        deps.Registry,
		pool:       deps.Pool,
		notifier:   deps.Notifier,
		hints:      deps.Hints,
		catalog:    deps.Catalog,
		disabled:   disabled,
		baseCtx:    ctx,
		baseCancel: cancel,
		cancels:    make(map[string]context.CancelFunc),
	}
	d.reg.OnEvict(func(id string) {
		d.hints.Forget(id)
		d.notifier.Forget(id)
	})
	return d
}

// Enabled reports whether name passes the gate.
func (d *Dispatcher) Enabled(name string) bool {
	_, off := d.disabled[name]
	return !off
}

// Tools lists every enabled tool name, sorted.
func (d *Dispatcher) Tools() []string {
	all := append(d.catalog.ToolNames(),
		protocol.ToolSleep, protocol.ToolStatus, protocol.ToolWait, protocol.ToolCancel, protocol.ToolStats)
	out := make([]string, 0, len(all))
	for _, name := range all {
		if d.Enabled(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Catalog returns the toolchain catalog.
func (d *Dispatcher) Catalog() *toolchain.Catalog { return d.catalog }

func (d *Dispatcher) gate(name string) error {
	if !d.Enabled(name) {
		d.log.Info("rejected disabled tool", zap.String("tool", name))
		return &protocol.ToolDisabledError{Tool: name}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return nil
}

// ResolveMode computes the effective execution mode. A synchronous process
// always runs synchronously; otherwise only an explicit true per-call flag
// selects background execution.
func ResolveMode(processSynchronous bool, perCall *bool) protocol.Mode {
	if processSynchronous || perCall == nil || !*perCall {
		return protocol.ModeSync
	}
	return protocol.ModeBackground
}

// Close stops accepting calls and waits for background operations, up to
// ShutdownTimeout, after which they are cancelled. Safe to call more than
// once.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		inflight := len(d.cancels)
		d.mu.Unlock()

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(d.cfg.ShutdownTimeout):
			d.log.Warn("shutdown timeout, cancelling background operations", zap.Int("inflight", inflight))
			d.baseCancel()
			<-done
		}
		d.baseCancel()
	})
}

// Cancel requests cancellation of a running background operation.
func (d *Dispatcher) Cancel(id string) (Reply, error) {
	if err := d.gate(protocol.ToolCancel); err != nil {
		return Reply{}, err
	}
	d.mu.Lock()
	cancel, ok := d.cancels[id]
	d.mu.Unlock()

	if !ok {
		snap, err := d.reg.Status(id)
		if err != nil {
			return Reply{}, err
		}
		return Reply{
			Text:        fmt.Sprintf("Operation '%s' is already %s; nothing to cancel.", id, snap.State),
			OperationID: id,
			State:       snap.State,
		}, nil
	}
	cancel()
	d.log.Info("cancellation requested", zap.String("operation_id", id))
	return Reply{
		Text:        fmt.Sprintf("Cancellation requested for operation '%s'. Use wait to observe its final state.", id),
		OperationID: id,
		State:       protocol.StateRunning,
	}, nil
}

// Stats reports registry and pool statistics.
func (d *Dispatcher) Stats() (Reply, error) {
	if err := d.gate(protocol.ToolStats); err != nil {
		return Reply{}, err
	}
	text := formatStats(d.reg.Stats(), d.pool.Stats())
	if active := d.reg.List(registry.Active); len(active) > 0 {
		text += "\n\n" + formatActive(active, time.Now())
	}
	return Reply{Text: text}, nil
}
