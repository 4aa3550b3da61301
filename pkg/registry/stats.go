package registry

import (
	"time"

	"asyncbuild/pkg/protocol"
)

// Stats summarizes the operations currently tracked.
type Stats struct {
	Total       int
	Pending     int
	Running     int
	Completed   int
	Failed      int
	TimedOut    int
	Cancelled   int
	AvgDuration time.Duration // mean run time of terminal operations
}

// Terminal returns the number of finished operations.
func (s Stats) Terminal() int {
	return s.Completed + s.Failed + s.TimedOut + s.Cancelled
}

// SuccessRate is the share of terminal operations that completed, in [0,1].
func (s Stats) SuccessRate() float64 {
	if s.Terminal() == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Terminal())
}

// FailureRate is the share of terminal operations that did not complete.
func (s Stats) FailureRate() float64 {
	if s.Terminal() == 0 {
		return 0
	}
	return 1 - s.SuccessRate()
}

// Stats computes counts by state over the tracked operations.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s Stats
	var total time.Duration
	for _, op := range r.ops {
		s.Total++
		switch op.snap.State {
		case protocol.StatePending:
			s.Pending++
		case protocol.StateRunning:
			s.Running++
		case protocol.StateCompleted:
			s.Completed++
		case protocol.StateFailed:
			s.Failed++
		case protocol.StateTimedOut:
			s.TimedOut++
		case protocol.StateCancelled:
			s.Cancelled++
		}
		if op.snap.State.Terminal() {
			total += op.snap.EndedAt.Sub(op.snap.StartedAt)
		}
	}
	if n := s.Terminal(); n > 0 {
		s.AvgDuration = total / time.Duration(n)
	}
	return s
}
