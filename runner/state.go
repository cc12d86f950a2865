package runner

import (
	"time"

	"github.com/ethereum-optimism/infra/op-reporter/dispatch"
)

// State is the coordinator's position in a run.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RunSummary describes a finished run and its drain.
type RunSummary struct {
	LaunchName   string
	LaunchID     string
	Items        []*dispatch.Item // Every item of the run, launch first
	DrainElapsed time.Duration
	Enqueued     int64
	Outstanding  int64
	Failures     []dispatch.OpFailure
	Aborted      error // Set when the run ended through RunAborted
	Err          error // Drain result: nil, *dispatch.TimeoutError or *dispatch.FailureSummary
}

// TimedOut reports whether the drain gave up before every operation settled.
func (s *RunSummary) TimedOut() bool {
	return dispatch.IsTimeout(s.Err)
}
