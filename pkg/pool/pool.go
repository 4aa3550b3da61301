// Package pool manages reusable shell-session workers keyed by working
// directory. A checkout returns an idle pooled worker, spawns a new one while
// the key is under capacity, or, after a bounded wait for capacity, hands out
// a transient single-use worker. A worker is never held by two callers.
package pool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"asyncbuild/pkg/protocol"
)

// ErrClosed is returned by Checkout after Shutdown.
var ErrClosed = errors.New("worker pool is shut down")

// --- Config ---

// Config holds pool tunables.
type Config struct {
	CapacityPerKey int           // pooled workers per working directory (default 2)
	CheckoutWait   time.Duration // wait for capacity before going transient (default 2s)
	IdleTimeout    time.Duration // idle workers older than this are closed (default 30m)
	ReapInterval   time.Duration // idle reaper period (default 1m)
	SpawnTimeout   time.Duration // session ready deadline (default 5s)
	PingAfter      time.Duration // idle workers older than this are pinged before reuse (default 1m)
	Shell          string        // session program (default bash, falling back to sh)
	DisableWatch   bool          // skip fsnotify directory watching
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CapacityPerKey: 2,
		CheckoutWait:   2 * time.Second,
		IdleTimeout:    30 * time.Minute,
		ReapInterval:   time.Minute,
		SpawnTimeout:   5 * time.Second,
		PingAfter:      time.Minute,
		Shell:          "bash",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CapacityPerKey <= 0 {
		c.CapacityPerKey = d.CapacityPerKey
	}
	if c.CheckoutWait <= 0 {
		c.CheckoutWait = d.CheckoutWait
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = d.ReapInterval
	}
	if c.SpawnTimeout <= 0 {
		c.SpawnTimeout = d.SpawnTimeout
	}
	if c.PingAfter <= 0 {
		c.PingAfter = d.PingAfter
	}
	if c.Shell == "" {
		c.Shell = d.Shell
	}
	if _, err := exec.LookPath(c.Shell); err != nil {
		c.Shell = "sh"
	}
	return c
}

// --- Types ---

type keyPool struct {
	dir  string
	sem  *semaphore.Weighted // one unit per checked-out pooled worker
	idle []*Worker
	gone bool // directory removed; idle workers retired, check-ins discarded
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Keys      int
	Idle      int
	InUse     int
	Spawned   int64
	Reused    int64
	Transient int64
	Retired   int64
}

// Pool owns all workers. Safe for concurrent use.
type Pool struct {
	cfg Config
	log *zap.Logger

	mu     sync.Mutex
	keys   map[string]*keyPool
	inUse  map[*Worker]struct{}
	stats  Stats
	closed bool

	watcher *fsnotify.Watcher

	nowFunc   func() time.Time
	spawnFunc func(dir string) (*Worker, error)

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a pool and starts its reaper and directory watcher.
func New(cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		cfg:     cfg.withDefaults(),
		log:     logger.Named("pool"),
		keys:    make(map[string]*keyPool),
		inUse:   make(map[*Worker]struct{}),
		nowFunc: time.Now,
		stopCh:  make(chan struct{}),
	}
	p.spawnFunc = func(dir string) (*Worker, error) {
		return spawnSession(p.cfg.Shell, dir, p.cfg.SpawnTimeout)
	}

	if !p.cfg.DisableWatch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			p.log.Warn("directory watching disabled", zap.Error(err))
		} else {
			p.watcher = w
			p.wg.Add(1)
			go p.watchLoop()
		}
	}

	p.wg.Add(1)
	go p.reapLoop()
	return p
}

// --- Checkout / Checkin ---

// Checkout returns a worker for dir that is exclusively the caller's until
// Checkin. It blocks at most CheckoutWait for pooled capacity, then returns
// a transient worker instead.
func (p *Pool) Checkout(ctx context.Context, dir string) (*Worker, error) {
	dir, err := resolveDir(dir)
	if err != nil {
		return nil, err
	}
	kp, err := p.keyFor(dir)
	if err != nil {
		return nil, err
	}

	if !kp.sem.TryAcquire(1) {
		wctx, cancel := context.WithTimeout(ctx, p.cfg.CheckoutWait)
		err := kp.sem.Acquire(wctx, 1)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.mu.Lock()
			p.stats.Transient++
			p.mu.Unlock()
			p.log.Debug("pool at capacity, using transient worker", zap.String("dir", dir))
			return newTransientWorker(dir), nil
		}
	}

	if w := p.popIdle(kp); w != nil {
		if p.healthy(ctx, w) {
			return w, nil
		}
	}

	w, err := p.spawnFunc(dir)
	if err != nil {
		kp.sem.Release(1)
		return nil, err
	}
	w.kp = kp

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		kp.sem.Release(1)
		go w.close()
		return nil, ErrClosed
	}
	w.inUse = true
	p.inUse[w] = struct{}{}
	p.stats.Spawned++
	p.log.Debug("spawned worker", zap.String("worker", w.ID), zap.String("dir", dir))
	return w, nil
}

// popIdle takes the most recently used healthy idle worker, closing any
// dead ones it finds on the way.
func (p *Pool) popIdle(kp *keyPool) *Worker {
	p.mu.Lock()
	var dead []*Worker
	var found *Worker
	for len(kp.idle) > 0 {
		w := kp.idle[len(kp.idle)-1]
		kp.idle = kp.idle[:len(kp.idle)-1]
		if w.Dead() {
			dead = append(dead, w)
			continue
		}
		w.inUse = true
		p.inUse[w] = struct{}{}
		p.stats.Reused++
		found = w
		break
	}
	p.stats.Retired += int64(len(dead))
	p.mu.Unlock()

	for _, w := range dead {
		w.close()
	}
	return found
}

// healthy pings w when it has been idle longer than PingAfter. A worker
// that fails the ping is closed; the caller keeps the capacity slot.
func (p *Pool) healthy(ctx context.Context, w *Worker) bool {
	p.mu.Lock()
	idleFor := p.nowFunc().Sub(w.lastUsed)
	p.mu.Unlock()
	if idleFor <= p.cfg.PingAfter {
		return true
	}

	pctx, cancel := context.WithTimeout(ctx, p.cfg.SpawnTimeout)
	err := w.ping(pctx)
	cancel()
	if err == nil {
		return true
	}

	p.log.Info("idle worker failed ping, replacing", zap.String("worker", w.ID), zap.Error(err))
	w.markDead()
	p.mu.Lock()
	delete(p.inUse, w)
	p.stats.Retired++
	p.stats.Reused--
	p.mu.Unlock()
	w.close()
	return false
}

// Checkin returns w to the pool. Transient and dead workers are discarded.
func (p *Pool) Checkin(w *Worker) {
	if w == nil || w.transient {
		return
	}

	p.mu.Lock()
	delete(p.inUse, w)
	w.inUse = false
	discard := p.closed || w.kp.gone || w.Dead()
	if !discard {
		w.lastUsed = p.nowFunc()
		w.kp.idle = append(w.kp.idle, w)
	} else {
		p.stats.Retired++
	}
	p.mu.Unlock()

	w.kp.sem.Release(1)
	if discard {
		w.close()
	}
}

// Execute runs c on w. Session-level failures return *protocol.WorkerError
// and leave w dead; the caller must still Checkin.
func (p *Pool) Execute(ctx context.Context, w *Worker, c Command) (ExecResult, error) {
	if w.transient {
		return w.runTransient(ctx, c)
	}
	res, err := w.run(ctx, c)
	if err != nil {
		p.log.Warn("worker failed", zap.String("worker", w.ID), zap.String("dir", w.Dir), zap.Error(err))
	}
	return res, err
}

// Run checks out a worker for dir, executes c and checks the worker back in.
func (p *Pool) Run(ctx context.Context, dir string, c Command) (ExecResult, error) {
	w, err := p.Checkout(ctx, dir)
	if err != nil {
		return ExecResult{}, err
	}
	defer p.Checkin(w)
	return p.Execute(ctx, w, c)
}

// --- Maintenance ---

// Health reports w's current state.
func (p *Pool) Health(w *Worker) Health {
	if w.Dead() {
		return HealthDead
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.inUse || w.transient {
		return HealthInUse
	}
	return HealthIdle
}

// Stats returns counters and current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Keys = len(p.keys)
	s.InUse = len(p.inUse)
	for _, kp := range p.keys {
		s.Idle += len(kp.idle)
	}
	return s
}

// Reap closes idle workers past IdleTimeout and any whose session exited.
func (p *Pool) Reap() int {
	now := p.nowFunc()
	var expired []*Worker

	p.mu.Lock()
	for _, kp := range p.keys {
		kept := kp.idle[:0]
		for _, w := range kp.idle {
			if w.Dead() || now.Sub(w.lastUsed) > p.cfg.IdleTimeout {
				expired = append(expired, w)
				continue
			}
			kept = append(kept, w)
		}
		kp.idle = kept
	}
	p.stats.Retired += int64(len(expired))
	p.mu.Unlock()

	for _, w := range expired {
		w.close()
	}
	if len(expired) > 0 {
		p.log.Debug("reaped idle workers", zap.Int("count", len(expired)))
	}
	return len(expired)
}

func (p *Pool) reapLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Reap()
		}
	}
}

// Shutdown closes every idle worker and stops background loops. Workers
// still checked out are closed when they are checked in. Idempotent.
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		var idle []*Worker
		for _, kp := range p.keys {
			idle = append(idle, kp.idle...)
			kp.idle = nil
		}
		p.mu.Unlock()

		close(p.stopCh)
		if p.watcher != nil {
			_ = p.watcher.Close()
		}

		var eg errgroup.Group
		for _, w := range idle {
			eg.Go(func() error {
				w.close()
				return nil
			})
		}
		_ = eg.Wait()
		p.wg.Wait()
		p.log.Debug("pool shut down", zap.Int("closed", len(idle)))
	})
}

func (p *Pool) keyFor(dir string) (*keyPool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	kp, ok := p.keys[dir]
	if !ok {
		kp = &keyPool{dir: dir, sem: semaphore.NewWeighted(int64(p.cfg.CapacityPerKey))}
		p.keys[dir] = kp
		p.watchLocked(dir)
	} else if kp.gone {
		kp.gone = false
		p.watchLocked(dir)
	}
	return kp, nil
}

func resolveDir(dir string) (string, error) {
	if dir == "" {
		return "", &protocol.WorkerError{WorkerID: "-", Dir: dir, Reason: "working directory is required"}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", &protocol.WorkerError{WorkerID: "-", Dir: dir, Reason: "resolve working directory", Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", &protocol.WorkerError{WorkerID: "-", Dir: abs, Reason: "working directory unavailable", Err: err}
	}
	if !info.IsDir() {
		return "", &protocol.WorkerError{WorkerID: "-", Dir: abs, Reason: fmt.Sprintf("%s is not a directory", abs)}
	}
	return filepath.Clean(abs), nil
}
