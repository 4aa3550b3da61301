package pool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"asyncbuild/pkg/protocol"
)

// Health is the lifecycle state of a worker.
type Health string

// Worker health values.
const (
	HealthIdle  Health = "idle"
	HealthInUse Health = "in_use"
	HealthDead  Health = "dead"
)

// Command is one external program invocation.
type Command struct {
	Name string
	Args []string
	Env  []string // extra KEY=VALUE pairs
}

// String renders the command line.
func (c Command) String() string { return protocol.FormatCommandLine(c.Name, c.Args) }

// ExecResult is the captured outcome of a command. A non-zero exit code is a
// normal result, not an error.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Output   string // merged: stdout when non-empty, else stderr
	Duration time.Duration
}

// Success reports a zero exit code.
func (r ExecResult) Success() bool { return r.ExitCode == 0 }

// MergeOutput applies the merge rule: stdout when it has any content,
// otherwise stderr.
func MergeOutput(stdout, stderr string) string {
	if strings.TrimSpace(stdout) != "" {
		return stdout
	}
	return stderr
}

// Worker executes commands for one working directory. Pooled workers keep a
// long-lived shell session; transient workers run each command as a fresh
// process and are discarded after one use.
type Worker struct {
	ID        string
	Dir       string
	transient bool

	kp       *keyPool
	inUse    bool      // guarded by Pool.mu
	lastUsed time.Time // guarded by Pool.mu
	dead     atomic.Bool

	// session state, pooled workers only
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	lines     chan string
	exited    chan struct{}
	closeOnce sync.Once
}

// Transient reports whether the worker is single-use.
func (w *Worker) Transient() bool { return w.transient }

// Dead reports whether the worker's session has failed.
func (w *Worker) Dead() bool {
	if w.dead.Load() {
		return true
	}
	if w.exited == nil {
		return false
	}
	select {
	case <-w.exited:
		return true
	default:
		return false
	}
}

func newTransientWorker(dir string) *Worker {
	return &Worker{ID: "t-" + uuid.NewString()[:8], Dir: dir, transient: true}
}

// sessionHome is the shell's own working directory. Commands cd into the
// worker's dir in a subshell, so an idle session holds no reference to it
// and removing the directory is seen by the watcher.
const sessionHome = "/"

// spawnSession starts a shell session for dir and waits for its ready line.
func spawnSession(shell, dir string, timeout time.Duration) (*Worker, error) {
	w := &Worker{
		ID:     "w-" + uuid.NewString()[:8],
		Dir:    dir,
		lines:  make(chan string, 16),
		exited: make(chan struct{}),
	}

	//nolint:gosec // shell program comes from server configuration
	cmd := exec.Command(shell)
	cmd.Dir = sessionHome
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &protocol.WorkerError{WorkerID: w.ID, Dir: dir, Reason: "stdin pipe", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &protocol.WorkerError{WorkerID: w.ID, Dir: dir, Reason: "stdout pipe", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &protocol.WorkerError{WorkerID: w.ID, Dir: dir, Reason: "spawn session", Err: err}
	}
	w.cmd = cmd
	w.stdin = stdin
	go w.readLoop(stdout)

	ready := "__asyncbuild_ready_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := fmt.Fprintf(stdin, "echo %s\n", ready); err != nil {
		w.kill()
		return nil, &protocol.WorkerError{WorkerID: w.ID, Dir: dir, Reason: "write ready probe", Err: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.kill()
				return nil, &protocol.WorkerError{WorkerID: w.ID, Dir: dir, Reason: "session exited before ready"}
			}
			if line == ready {
				return w, nil
			}
		case <-timer.C:
			w.kill()
			return nil, &protocol.WorkerError{WorkerID: w.ID, Dir: dir, Reason: fmt.Sprintf("session not ready after %v", timeout)}
		}
	}
}

// readLoop forwards session stdout lines and reaps the process at EOF.
func (w *Worker) readLoop(stdout io.Reader) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		w.lines <- sc.Text()
	}
	_ = w.cmd.Wait()
	close(w.exited)
	close(w.lines)
}

// run executes c inside the session. Command stdout and stderr are
// redirected to temp files so they stay separate; a sentinel line carries
// the exit status back over the session's stdout.
func (w *Worker) run(ctx context.Context, c Command) (ExecResult, error) {
	if w.Dead() {
		return ExecResult{}, &protocol.WorkerError{WorkerID: w.ID, Dir: w.Dir, Reason: "session is dead"}
	}

	outFile, errFile, cleanup, err := captureFiles()
	if err != nil {
		return ExecResult{}, &protocol.WorkerError{WorkerID: w.ID, Dir: w.Dir, Reason: "create capture files", Err: err}
	}
	defer cleanup()

	sentinel := "__asyncbuild_done_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	script := fmt.Sprintf("( cd %s && exec %s ) >%s 2>%s </dev/null; echo \"%s $?\"\n",
		shellQuote(w.Dir), shellCommand(c), shellQuote(outFile), shellQuote(errFile), sentinel)

	start := time.Now()
	if _, err := io.WriteString(w.stdin, script); err != nil {
		w.markDead()
		return ExecResult{}, &protocol.WorkerError{WorkerID: w.ID, Dir: w.Dir, Reason: "write command", Err: err}
	}

	exitCode, err := w.awaitSentinel(ctx, sentinel)
	res := ExecResult{Duration: time.Since(start)}
	res.Stdout = readCapture(outFile)
	res.Stderr = readCapture(errFile)
	res.Output = MergeOutput(res.Stdout, res.Stderr)
	if err != nil {
		return res, err
	}
	res.ExitCode = exitCode
	return res, nil
}

func (w *Worker) awaitSentinel(ctx context.Context, sentinel string) (int, error) {
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.markDead()
				return 0, &protocol.WorkerError{WorkerID: w.ID, Dir: w.Dir, Reason: "session exited mid-command"}
			}
			rest, found := strings.CutPrefix(line, sentinel+" ")
			if !found {
				continue
			}
			code, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				w.markDead()
				return 0, &protocol.WorkerError{WorkerID: w.ID, Dir: w.Dir, Reason: "malformed exit status", Err: err}
			}
			return code, nil
		case <-ctx.Done():
			// The session is mid-command; it cannot be reused.
			w.markDead()
			w.kill()
			return 0, fmt.Errorf("worker %s: %w", w.ID, ctx.Err())
		}
	}
}

func (w *Worker) markDead() { w.dead.Store(true) }

// ping checks that a long-idle session still answers.
func (w *Worker) ping(ctx context.Context) error {
	if w.Dead() {
		return &protocol.WorkerError{WorkerID: w.ID, Dir: w.Dir, Reason: "session is dead"}
	}
	sentinel := "__asyncbuild_ping_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := fmt.Fprintf(w.stdin, "echo \"%s 0\"\n", sentinel); err != nil {
		w.markDead()
		return &protocol.WorkerError{WorkerID: w.ID, Dir: w.Dir, Reason: "write ping", Err: err}
	}
	_, err := w.awaitSentinel(ctx, sentinel)
	return err
}

// runTransient executes c as a standalone process in the worker's dir.
func (w *Worker) runTransient(ctx context.Context, c Command) (ExecResult, error) {
	//nolint:gosec // argv comes from the toolchain catalog
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = w.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL) }
	cmd.WaitDelay = 3 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := ExecResult{
		Duration: time.Since(start),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		res.Output = MergeOutput(res.Stdout, res.Stderr)
		return res, fmt.Errorf("worker %s: %w", w.ID, ctx.Err())
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case errors.Is(err, exec.ErrNotFound):
		res.ExitCode = 127
		res.Stderr = fmt.Sprintf("%s: command not found\n", c.Name)
	default:
		return res, &protocol.WorkerError{WorkerID: w.ID, Dir: w.Dir, Reason: "run command", Err: err}
	}
	res.Output = MergeOutput(res.Stdout, res.Stderr)
	return res, nil
}

// close ends the session: a polite exit first, then SIGKILL to the process
// group. Safe to call more than once and on transient workers.
func (w *Worker) close() {
	if w.transient || w.cmd == nil {
		return
	}
	w.closeOnce.Do(func() {
		w.markDead()
		_, _ = io.WriteString(w.stdin, "exit\n")
		_ = w.stdin.Close()
		select {
		case <-w.exited:
		case <-time.After(2 * time.Second):
			w.kill()
		}
		w.drain()
	})
}

func (w *Worker) kill() {
	if w.cmd == nil || w.cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-w.cmd.Process.Pid, syscall.SIGKILL)
	w.drain()
}

// drain discards remaining output until the reader goroutine has reaped
// the process.
func (w *Worker) drain() {
	for range w.lines { //nolint:revive // discard
	}
}

func captureFiles() (outPath, errPath string, cleanup func(), err error) {
	out, err := os.CreateTemp("", "asyncbuild-*.stdout")
	if err != nil {
		return "", "", nil, err
	}
	_ = out.Close()
	errF, err := os.CreateTemp("", "asyncbuild-*.stderr")
	if err != nil {
		_ = os.Remove(out.Name())
		return "", "", nil, err
	}
	_ = errF.Close()
	return out.Name(), errF.Name(), func() {
		_ = os.Remove(out.Name())
		_ = os.Remove(errF.Name())
	}, nil
}

func readCapture(path string) string {
	data, err := os.ReadFile(path) //nolint:gosec // path created by captureFiles
	if err != nil {
		return ""
	}
	return string(data)
}
