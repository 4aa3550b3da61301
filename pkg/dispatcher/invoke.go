package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"asyncbuild/pkg/hints"
	"asyncbuild/pkg/pool"
	"asyncbuild/pkg/protocol"
	"asyncbuild/pkg/registry"
	"asyncbuild/pkg/toolchain"
)

// Call is one tool invocation.
type Call struct {
	Tool                    string
	SessionID               string
	WorkingDirectory        string
	Args                    []string
	EnableAsyncNotification *bool

	// Sleep tool only.
	Duration    time.Duration
	OperationID string

	// ProgressToken is echoed on notifications for a background operation.
	ProgressToken any
}

// Reply is the text answer to a call plus its machine-readable facts.
type Reply struct {
	Text        string
	OperationID string // set for background calls
	Mode        protocol.Mode
	State       protocol.OperationState
	IsError     bool // the command ran (or could not run) and failed
}

// job executes the work behind one call.
type job func(ctx context.Context) (pool.ExecResult, error)

type prepared struct {
	run         job
	description string
	quick       bool
}

// Invoke runs a build-tool or sleep call, synchronously or in the
// background according to ResolveMode. Quick commands always run
// synchronously.
func (d *Dispatcher) Invoke(ctx context.Context, call Call) (Reply, error) {
	if err := d.gate(call.Tool); err != nil {
		return Reply{}, err
	}

	p, failure, err := d.prepare(call)
	if err != nil {
		return Reply{}, err
	}
	if failure != nil {
		return *failure, nil
	}

	mode := ResolveMode(d.cfg.Synchronous, call.EnableAsyncNotification)
	if p.quick {
		mode = protocol.ModeSync
	}
	if mode == protocol.ModeSync {
		return d.runSync(ctx, call, p), nil
	}
	return d.startBackground(call, p)
}

// prepare resolves a call into a job. A non-nil failure reply means the
// call is answered without running anything (e.g. a missing optional tool).
func (d *Dispatcher) prepare(call Call) (prepared, *Reply, error) {
	if call.Tool == protocol.ToolSleep {
		if call.Duration < 0 {
			return prepared{}, nil, fmt.Errorf("duration_ms must not be negative")
		}
		return prepared{
			run:         sleepJob(call.Duration),
			description: fmt.Sprintf("sleep %dms", call.Duration.Milliseconds()),
		}, nil, nil
	}
	if call.OperationID != "" {
		return prepared{}, nil, fmt.Errorf("operation_id may only be proposed for %s", protocol.ToolSleep)
	}
	if call.WorkingDirectory == "" {
		return prepared{}, nil, fmt.Errorf("working_directory is required for %s", call.Tool)
	}

	inv, err := d.catalog.Resolve(call.WorkingDirectory, call.Tool, call.Args)
	var missing *toolchain.MissingToolError
	var argsErr *toolchain.ArgsRequiredError
	switch {
	case errors.As(err, &missing), errors.As(err, &argsErr):
		return prepared{}, &Reply{
			Text:    formatSync(call.Tool, registry.Outcome{State: protocol.StateFailed, Summary: err.Error()}),
			Mode:    protocol.ModeSync,
			State:   protocol.StateFailed,
			IsError: true,
		}, nil
	case err != nil:
		return prepared{}, nil, err
	}

	cmd := pool.Command{Name: inv.Program, Args: inv.Args, Env: inv.Env}
	dir := call.WorkingDirectory
	return prepared{
		run: func(ctx context.Context) (pool.ExecResult, error) {
			return d.pool.Run(ctx, dir, cmd)
		},
		description: inv.Description,
		quick:       inv.Quick,
	}, nil, nil
}

func sleepJob(dur time.Duration) job {
	return func(ctx context.Context) (pool.ExecResult, error) {
		timer := time.NewTimer(dur)
		defer timer.Stop()
		select {
		case <-timer.C:
			out := fmt.Sprintf("Slept for %dms", dur.Milliseconds())
			return pool.ExecResult{Stdout: out, Output: out, Duration: dur}, nil
		case <-ctx.Done():
			return pool.ExecResult{}, ctx.Err()
		}
	}
}

func (d *Dispatcher) runSync(ctx context.Context, call Call, p prepared) Reply {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.CommandTimeout)
	defer cancel()

	res, err := p.run(ctx)
	out := toOutcome(res, err, d.cfg.CommandTimeout)
	d.log.Debug("sync call finished",
		zap.String("tool", call.Tool),
		zap.String("state", string(out.State)),
		zap.Duration("duration", res.Duration))
	return Reply{
		Text:    formatSync(call.Tool, out),
		Mode:    protocol.ModeSync,
		State:   out.State,
		IsError: out.State != protocol.StateCompleted,
	}
}

func (d *Dispatcher) startBackground(call Call, p prepared) (Reply, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Reply{}, ErrClosed
	}

	spec := registry.Spec{
		Command:          call.Tool,
		Description:      p.description,
		WorkingDirectory: call.WorkingDirectory,
	}
	var id string
	var err error
	if call.OperationID != "" {
		id, err = d.reg.RegisterWithID(call.OperationID, spec)
	} else {
		id, err = d.reg.Register(spec)
	}
	if err != nil {
		return Reply{}, err
	}

	ctx, cancel := context.WithTimeout(d.baseCtx, d.cfg.CommandTimeout)
	d.cancels[id] = cancel
	d.wg.Add(1)

	go d.runBackground(ctx, id, call, p)

	d.log.Info("operation started in background",
		zap.String("operation_id", id),
		zap.String("tool", call.Tool),
		zap.String("session", call.SessionID))
	return Reply{
		Text:        formatBackground(call.Tool, id, p.description) + hints.Preview(id, call.Tool),
		OperationID: id,
		Mode:        protocol.ModeBackground,
		State:       protocol.StatePending,
	}, nil
}

// runBackground is the sole writer of operation id after registration.
func (d *Dispatcher) runBackground(ctx context.Context, id string, call Call, p prepared) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		cancel := d.cancels[id]
		delete(d.cancels, id)
		d.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}()

	if err := d.reg.MarkRunning(id); err != nil {
		return
	}
	d.publish(call, protocol.Event{Kind: protocol.EventStarted, OperationID: id, State: protocol.StateRunning,
		Message: fmt.Sprintf("%s started", call.Tool)})
	d.publish(call, protocol.Event{Kind: protocol.EventProgress, OperationID: id, State: protocol.StateRunning,
		Message: "running " + p.description})

	res, err := p.run(ctx)
	out := toOutcome(res, err, d.cfg.CommandTimeout)
	if err := d.reg.MarkTerminal(id, out); err != nil {
		return
	}

	final := out.Output
	if snap, err := d.reg.Status(id); err == nil {
		final = formatFinal(snap)
	}
	d.publish(call, protocol.Event{Kind: protocol.EventCompleted, OperationID: id, State: out.State,
		Message: fmt.Sprintf("%s %s", call.Tool, out.State), Output: final})
}

func (d *Dispatcher) publish(call Call, ev protocol.Event) {
	ev.Command = call.Tool
	ev.ProgressToken = call.ProgressToken
	d.notifier.Publish(context.Background(), call.SessionID, ev)
}

// toOutcome classifies an execution result.
func toOutcome(res pool.ExecResult, err error, timeout time.Duration) registry.Outcome {
	out := registry.Outcome{ExitCode: res.ExitCode, Output: res.Output}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		out.State = protocol.StateTimedOut
		out.Summary = fmt.Sprintf("timed out after %v", timeout)
	case errors.Is(err, context.Canceled):
		out.State = protocol.StateCancelled
		out.Summary = "cancelled before completion"
	case err != nil:
		out.State = protocol.StateFailed
		out.Summary = "worker failure: " + err.Error()
	case res.ExitCode == 0:
		out.State = protocol.StateCompleted
	default:
		out.State = protocol.StateFailed
		out.Summary = strings.TrimSpace(res.Stderr)
		if out.Summary == "" {
			out.Summary = fmt.Sprintf("exit status %d", res.ExitCode)
		}
	}
	return out
}
