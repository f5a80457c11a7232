package sweep

import (
	"sync/atomic"
	"time"
)

// Phase is the lifecycle stage of a sweep
type Phase int32

const (
	PhaseEnumerating Phase = iota
	PhaseResuming
	PhaseSweeping
	PhaseDraining
	PhaseDone
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseEnumerating:
		return "enumerating"
	case PhaseResuming:
		return "resuming"
	case PhaseSweeping:
		return "sweeping"
	case PhaseDraining:
		return "draining"
	case PhaseDone:
		return "done"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// State holds the counters shared between the scheduler, its probes and the
// progress reporter. Counters are only ever touched atomically.
type State struct {
	// Concurrency is the maximum number of probes in flight
	Concurrency int
	// Timeout bounds every probe
	Timeout time.Duration

	total    uint64
	done     atomic.Uint64
	inFlight atomic.Int64
	phase    atomic.Int32
}

// NewState returns the state of a sweep over total addresses, done of which
// already have a record
func NewState(total, done uint64, concurrency int, timeout time.Duration) *State {
	s := &State{
		Concurrency: concurrency,
		Timeout:     timeout,
		total:       total,
	}
	s.done.Store(done)
	return s
}

// Resume sets the number of records already present before the sweep starts
func (s *State) Resume(done uint64) {
	s.done.Store(done)
}

// Total returns the number of addresses in the sweep
func (s *State) Total() uint64 {
	return s.total
}

// Done returns the number of records written, including those found on resume
func (s *State) Done() uint64 {
	return s.done.Load()
}

// InFlight returns the number of probes launched and not yet completed
func (s *State) InFlight() int64 {
	return s.inFlight.Load()
}

// Phase returns the current phase
func (s *State) Phase() Phase {
	return Phase(s.phase.Load())
}

// SetPhase moves the sweep to phase p
func (s *State) SetPhase(p Phase) {
	s.phase.Store(int32(p))
}
