package dispatcher

import (
	"fmt"
	"strings"
	"time"

	"asyncbuild/pkg/pool"
	"asyncbuild/pkg/protocol"
	"asyncbuild/pkg/registry"
)

// formatSync renders the reply to a synchronous call.
func formatSync(tool string, out registry.Outcome) string {
	var b strings.Builder
	title := protocol.Title(tool)
	switch out.State {
	case protocol.StateCompleted:
		fmt.Fprintf(&b, "%s completed successfully\n", title)
	case protocol.StateTimedOut:
		fmt.Fprintf(&b, "%s timed out\nError: %s\n", title, out.Summary)
	case protocol.StateCancelled:
		fmt.Fprintf(&b, "%s cancelled\nError: %s\n", title, out.Summary)
	default:
		fmt.Fprintf(&b, "%s failed\nError: %s\n", title, out.Summary)
	}
	if out.Output != "" {
		fmt.Fprintf(&b, "Output: %s", out.Output)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatBackground(tool, id, description string) string {
	return fmt.Sprintf("%s %s.\nOperation ID: %s\nCommand: %s",
		protocol.Title(tool), protocol.MarkerBackground, id, description)
}

// finalHeader maps a terminal state to its reply marker.
func finalHeader(state protocol.OperationState) string {
	switch state {
	case protocol.StateCompleted:
		return protocol.MarkerCompleted
	case protocol.StateTimedOut:
		return protocol.MarkerTimedOut
	case protocol.StateCancelled:
		return protocol.MarkerCancelled
	default:
		return protocol.MarkerFailed
	}
}

// formatFinal renders a terminal operation with its full output.
func formatFinal(s registry.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: '%s'\n", finalHeader(s.State), s.ID)
	fmt.Fprintf(&b, "Command: %s\n", s.Command)
	fmt.Fprintf(&b, "Description: %s\n", s.Description)
	fmt.Fprintf(&b, "Working Directory: %s\n", s.WorkingDirectory)
	fmt.Fprintf(&b, "Duration: %dms\n", s.Duration(s.EndedAt).Milliseconds())
	if s.State != protocol.StateCompleted && s.Summary != "" {
		fmt.Fprintf(&b, "Error: %s\n", s.Summary)
	}
	fmt.Fprintf(&b, "\n%s\n%s", protocol.MarkerFullOutput, s.Output)
	return b.String()
}

func formatWaitOutcome(o registry.WaitOutcome, now time.Time) string {
	switch {
	case o.NotFound:
		return fmt.Sprintf("%s: '%s'\nThe operation is unknown or its record has been cleaned up.", protocol.MarkerNotFound, o.ID)
	case o.TimedOut:
		return fmt.Sprintf("%s: '%s'\nState: %s (running for %dms)\n"+
			"The operation continues in the background. Wait again or check status later.",
			protocol.MarkerWaitTimeout, o.ID, o.Snapshot.State, o.Snapshot.Duration(now).Milliseconds())
	default:
		return formatFinal(o.Snapshot)
	}
}

func formatStatus(s registry.Snapshot, now time.Time) string {
	if s.State.Terminal() {
		return formatFinal(s)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Operation '%s': %s\n", s.ID, s.State)
	fmt.Fprintf(&b, "Command: %s\n", s.Command)
	fmt.Fprintf(&b, "Description: %s\n", s.Description)
	if s.WorkingDirectory != "" {
		fmt.Fprintf(&b, "Working Directory: %s\n", s.WorkingDirectory)
	}
	if !s.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Running for: %dms\n", s.Duration(now).Milliseconds())
	}
	b.WriteString("Not finished yet. Keep working and call wait when you need the result.")
	return b.String()
}

func formatStats(rs registry.Stats, ps pool.Stats) string {
	var b strings.Builder
	b.WriteString("OPERATIONS\n")
	fmt.Fprintf(&b, "Total: %d (pending %d, running %d)\n", rs.Total, rs.Pending, rs.Running)
	fmt.Fprintf(&b, "Finished: %d completed, %d failed, %d timed out, %d cancelled\n",
		rs.Completed, rs.Failed, rs.TimedOut, rs.Cancelled)
	fmt.Fprintf(&b, "Success rate: %.1f%%  Failure rate: %.1f%%\n", rs.SuccessRate()*100, rs.FailureRate()*100)
	fmt.Fprintf(&b, "Average duration: %dms\n", rs.AvgDuration.Milliseconds())
	b.WriteString("\nWORKERS\n")
	fmt.Fprintf(&b, "Directories: %d  Idle: %d  In use: %d\n", ps.Keys, ps.Idle, ps.InUse)
	fmt.Fprintf(&b, "Spawned: %d  Reused: %d  Transient: %d  Retired: %d", ps.Spawned, ps.Reused, ps.Transient, ps.Retired)
	return b.String()
}

// formatActive lists operations that have not finished, oldest first.
func formatActive(active []registry.Snapshot, now time.Time) string {
	var b strings.Builder
	b.WriteString("ACTIVE")
	for _, s := range active {
		since := s.StartedAt
		if since.IsZero() {
			since = s.CreatedAt
		}
		fmt.Fprintf(&b, "\n%s  %-8s  %-9s  %dms", s.ID, s.Command, s.State, now.Sub(since).Milliseconds())
	}
	return b.String()
}
