package dispatcher

import (
	"context"
	"strings"
	"time"

	"asyncbuild/pkg/protocol"
	"asyncbuild/pkg/registry"
)

// WaitReply is the answer to a wait call.
type WaitReply struct {
	Text     string
	Outcomes []registry.WaitOutcome
	Hints    []string
}

// Status returns a non-blocking snapshot of one operation. Repeated calls
// for the same id earn a polling hint.
func (d *Dispatcher) Status(id string) (Reply, error) {
	if err := d.gate(protocol.ToolStatus); err != nil {
		return Reply{}, err
	}
	snap, err := d.reg.Status(id)
	if err != nil {
		return Reply{}, err
	}

	text := formatStatus(snap, time.Now())
	if hint := d.hints.ObserveStatus(id); hint != "" {
		text += "\n\n" + hint
	}
	return Reply{
		Text:        text,
		OperationID: id,
		State:       snap.State,
		IsError:     snap.State.Terminal() && snap.State != protocol.StateCompleted,
	}, nil
}

// Wait blocks until each listed operation is terminal or the observation
// timeout elapses. A timeout of 0 uses Config.WaitTimeout, and when that is
// also 0, each operation's own timeout. ctx cancellation ends the
// observation early. An empty list fails with protocol.ErrNoOperationIDs
// before blocking.
func (d *Dispatcher) Wait(ctx context.Context, ids []string, timeout time.Duration) (WaitReply, error) {
	if err := d.gate(protocol.ToolWait); err != nil {
		return WaitReply{}, err
	}
	if len(ids) == 0 {
		return WaitReply{}, protocol.ErrNoOperationIDs
	}
	if timeout <= 0 {
		timeout = d.cfg.WaitTimeout
	}

	var notes []string
	for _, id := range ids {
		snap, err := d.reg.Status(id)
		if err != nil {
			continue
		}
		started := snap.StartedAt
		if started.IsZero() {
			started = snap.CreatedAt
		}
		if hint := d.hints.ObserveWait(id, started); hint != "" {
			notes = append(notes, hint)
		}
	}

	outcomes, err := d.reg.Wait(ctx, ids, timeout)
	if err != nil {
		return WaitReply{}, err
	}

	blocks := make([]string, 0, len(outcomes)+len(notes))
	blocks = append(blocks, notes...)
	for _, o := range outcomes {
		blocks = append(blocks, formatWaitOutcome(o, time.Now()))
	}
	return WaitReply{
		Text:     strings.Join(blocks, "\n\n"),
		Outcomes: outcomes,
		Hints:    notes,
	}, nil
}
