// Package registry is the authoritative record of background operations:
// identity, lifecycle state, timestamps and results. It provides lookup,
// linearizable state transitions, blocking wait with a broadcast on
// termination, and a retention sweep that evicts only terminal operations.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"asyncbuild/pkg/protocol"
)

// --- Config ---

// Config holds tunables for the registry. Immutable after New.
type Config struct {
	DefaultTimeout  time.Duration // observation timeout for wait when none is given (default 300s)
	CleanupInterval time.Duration // period of the automatic sweep (default 30s)
	MaxHistorySize  int           // terminal records kept before the oldest are evicted (default 1000)
	AutoCleanup     bool          // run the sweep on a ticker
	Retention       time.Duration // evict terminal records older than this; 0 = size-based only
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:  300 * time.Second,
		CleanupInterval: 30 * time.Second,
		MaxHistorySize:  1000,
		AutoCleanup:     true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.MaxHistorySize <= 0 {
		c.MaxHistorySize = d.MaxHistorySize
	}
	return c
}

// --- Types ---

// Spec describes an operation at registration time.
type Spec struct {
	Command          string
	Description      string
	WorkingDirectory string
	Timeout          time.Duration // observation timeout; 0 = Config.DefaultTimeout

	// ID is a caller-proposed id. Empty means mint one. A proposed id that
	// was ever proposed before, or that has the form of a minted id, is
	// rejected.
	ID string
}

// Outcome is the terminal result reported by the owning task.
type Outcome struct {
	State    protocol.OperationState
	ExitCode int
	Output   string
	Summary  string
}

// Snapshot is a point-in-time copy of an operation record.
type Snapshot struct {
	ID               string
	Command          string
	Description      string
	WorkingDirectory string
	State            protocol.OperationState
	CreatedAt        time.Time
	StartedAt        time.Time // zero until running
	EndedAt          time.Time // zero until terminal
	Timeout          time.Duration
	ExitCode         int
	Output           string
	Summary          string
}

// Duration returns how long the operation ran, or has been running as of
// now when not yet terminal.
func (s Snapshot) Duration(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.EndedAt.IsZero() {
		return now.Sub(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// WaitOutcome is the per-id result of Wait.
type WaitOutcome struct {
	ID       string
	Snapshot Snapshot // zero when NotFound
	TimedOut bool     // observation ended before the operation terminated
	NotFound bool
}

type operation struct {
	snap Snapshot
	done chan struct{} // closed exactly once, on the terminal transition
}

// allowedTransitions is the lifecycle table. Terminal states have no exits.
var allowedTransitions = map[protocol.OperationState]map[protocol.OperationState]struct{}{ //nolint:gochecknoglobals
	protocol.StatePending: {
		protocol.StateRunning: {},
	},
	protocol.StateRunning: {
		protocol.StateCompleted: {},
		protocol.StateFailed:    {},
		protocol.StateTimedOut:  {},
		protocol.StateCancelled: {},
	},
	protocol.StateCompleted: {},
	protocol.StateFailed:    {},
	protocol.StateTimedOut:  {},
	protocol.StateCancelled: {},
}

// ValidateTransition reports whether from -> to is a legal lifecycle step.
func ValidateTransition(id string, from, to protocol.OperationState) error {
	if _, ok := allowedTransitions[from][to]; !ok {
		return &protocol.TransitionError{ID: id, From: from, To: to}
	}
	return nil
}

// --- Registry ---

// Registry tracks operations. Safe for concurrent use.
type Registry struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	ops      map[string]*operation
	proposed map[string]struct{} // every caller-proposed id; minted ids are never proposable
	onEvict  []func(id string)

	nowFunc func() time.Time

	stopCh       chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// New creates a registry and, when cfg.AutoCleanup is set, starts the
// periodic sweep. Call Shutdown to stop it.
func New(cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		cfg:      cfg.withDefaults(),
		log:      logger.Named("registry"),
		ops:      make(map[string]*operation),
		proposed: make(map[string]struct{}),
		nowFunc:  time.Now,
		stopCh:   make(chan struct{}),
	}
	if r.cfg.AutoCleanup {
		r.wg.Add(1)
		go r.sweepLoop()
	}
	return r
}

// Config returns the effective configuration.
func (r *Registry) Config() Config { return r.cfg }

// OnEvict registers fn to be called with the id of every evicted operation.
// Hooks run outside the registry lock.
func (r *Registry) OnEvict(fn func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = append(r.onEvict, fn)
}

// Register inserts a new Pending operation and returns its id.
func (r *Registry) Register(spec Spec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := spec.ID
	if id == "" {
		id = r.mintLocked()
	} else {
		if mintedForm(id) {
			return "", fmt.Errorf("registry: proposed id %s has the form of a generated id", id)
		}
		if _, dup := r.proposed[id]; dup {
			return "", &protocol.DuplicateOperationError{ID: id}
		}
		r.proposed[id] = struct{}{}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}
	r.ops[id] = &operation{
		snap: Snapshot{
			ID:               id,
			Command:          spec.Command,
			Description:      spec.Description,
			WorkingDirectory: spec.WorkingDirectory,
			State:            protocol.StatePending,
			CreatedAt:        r.nowFunc(),
			Timeout:          timeout,
		},
		done: make(chan struct{}),
	}
	r.log.Debug("operation registered", zap.String("id", id), zap.String("command", spec.Command))
	return id, nil
}

// RegisterWithID is Register with a caller-proposed id. An id that was
// proposed before, even for an evicted operation, fails with
// *protocol.DuplicateOperationError.
func (r *Registry) RegisterWithID(id string, spec Spec) (string, error) {
	if id == "" {
		return "", fmt.Errorf("registry: proposed id must not be empty")
	}
	spec.ID = id
	return r.Register(spec)
}

func (r *Registry) mintLocked() string {
	for {
		id := protocol.OperationIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		if _, live := r.ops[id]; !live {
			return id
		}
	}
}

// mintedForm reports whether id looks like one mintLocked produces.
func mintedForm(id string) bool {
	suffix, ok := strings.CutPrefix(id, protocol.OperationIDPrefix)
	if !ok || len(suffix) != mintedSuffixLen {
		return false
	}
	for _, c := range suffix {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

const mintedSuffixLen = 16

// MarkRunning moves a Pending operation to Running.
func (r *Registry) MarkRunning(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, err := r.transitionLocked(id, protocol.StateRunning)
	if err != nil {
		return err
	}
	op.snap.StartedAt = r.nowFunc()
	return nil
}

// MarkTerminal records the terminal outcome of a Running operation and wakes
// every waiter. The outcome state must be terminal.
func (r *Registry) MarkTerminal(id string, out Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !out.State.Terminal() {
		cur := protocol.OperationState("")
		if op, ok := r.ops[id]; ok {
			cur = op.snap.State
		}
		err := &protocol.TransitionError{ID: id, From: cur, To: out.State}
		r.log.Error("non-terminal outcome reported", zap.Error(err))
		return err
	}
	op, err := r.transitionLocked(id, out.State)
	if err != nil {
		return err
	}
	op.snap.EndedAt = r.nowFunc()
	op.snap.ExitCode = out.ExitCode
	op.snap.Output = out.Output
	op.snap.Summary = out.Summary
	close(op.done)
	r.log.Info("operation finished",
		zap.String("id", id),
		zap.String("state", string(out.State)),
		zap.Duration("duration", op.snap.EndedAt.Sub(op.snap.StartedAt)))
	return nil
}

func (r *Registry) transitionLocked(id string, to protocol.OperationState) (*operation, error) {
	op, ok := r.ops[id]
	if !ok {
		err := &protocol.OperationNotFoundError{ID: id}
		r.log.Error("transition on unknown operation", zap.String("to", string(to)), zap.Error(err))
		return nil, err
	}
	if err := ValidateTransition(id, op.snap.State, to); err != nil {
		r.log.Error("rejected transition", zap.Error(err))
		return nil, err
	}
	op.snap.State = to
	return op, nil
}

// Status returns a snapshot without blocking on the operation.
func (r *Registry) Status(id string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return Snapshot{}, &protocol.OperationNotFoundError{ID: id}
	}
	return op.snap, nil
}

// Filter selects snapshots in List.
type Filter func(Snapshot) bool

// Active matches operations that have not terminated.
func Active(s Snapshot) bool { return !s.State.Terminal() }

// Finished matches terminal operations.
func Finished(s Snapshot) bool { return s.State.Terminal() }

// List returns snapshots of tracked operations matching every filter,
// ordered by creation.
func (r *Registry) List(filters ...Filter) []Snapshot {
	r.mu.Lock()
	out := make([]Snapshot, 0, len(r.ops))
next:
	for _, op := range r.ops {
		for _, f := range filters {
			if !f(op.snap) {
				continue next
			}
		}
		out = append(out, op.snap)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Wait blocks until every listed operation is terminal, the observation
// timeout elapses, or ctx is done, whichever comes first for each id. The
// ids are observed concurrently; outcomes are returned in request order.
// A timeout of 0 uses each operation's own timeout. Wait never changes an
// operation's state.
func (r *Registry) Wait(ctx context.Context, ids []string, timeout time.Duration) ([]WaitOutcome, error) {
	if len(ids) == 0 {
		return nil, protocol.ErrNoOperationIDs
	}

	outcomes := make([]WaitOutcome, len(ids))
	var eg errgroup.Group
	for i, id := range ids {
		eg.Go(func() error {
			outcomes[i] = r.waitOne(ctx, id, timeout)
			return nil
		})
	}
	_ = eg.Wait()
	return outcomes, nil
}

func (r *Registry) waitOne(ctx context.Context, id string, timeout time.Duration) WaitOutcome {
	r.mu.Lock()
	op, ok := r.ops[id]
	if !ok {
		r.mu.Unlock()
		return WaitOutcome{ID: id, NotFound: true}
	}
	done := op.done
	if timeout <= 0 {
		timeout = op.snap.Timeout
	}
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	timedOut := false
	select {
	case <-done:
	case <-timer.C:
		timedOut = true
	case <-ctx.Done():
		timedOut = true
	}

	snap, err := r.Status(id)
	if err != nil {
		// Evicted between termination and the snapshot read.
		return WaitOutcome{ID: id, NotFound: true}
	}
	return WaitOutcome{ID: id, Snapshot: snap, TimedOut: timedOut && !snap.State.Terminal()}
}

// --- Sweep ---

// Sweep evicts terminal operations older than the retention period and
// then, while more than MaxHistorySize terminal records remain, the oldest
// ones. Non-terminal operations are never evicted. Returns the number of
// evicted records.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	now := r.nowFunc()

	var terminal []*operation
	for _, op := range r.ops {
		if op.snap.State.Terminal() {
			terminal = append(terminal, op)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].snap.EndedAt.Before(terminal[j].snap.EndedAt)
	})

	var evicted []string
	for _, op := range terminal {
		expired := r.cfg.Retention > 0 && now.Sub(op.snap.EndedAt) > r.cfg.Retention
		overflow := len(terminal)-len(evicted) > r.cfg.MaxHistorySize
		if !expired && !overflow {
			continue
		}
		delete(r.ops, op.snap.ID)
		evicted = append(evicted, op.snap.ID)
	}
	hooks := append([]func(string){}, r.onEvict...)
	r.mu.Unlock()

	for _, id := range evicted {
		for _, fn := range hooks {
			fn(id)
		}
	}
	if len(evicted) > 0 {
		r.log.Debug("swept operations", zap.Int("evicted", len(evicted)))
	}
	return len(evicted)
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Shutdown stops the periodic sweep. Safe to call more than once.
func (r *Registry) Shutdown() {
	r.shutdownOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
		r.log.Debug("registry shut down")
	})
}
