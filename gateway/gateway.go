// Package gateway lets external code veto or observe reporting transitions.
//
// Every transition has a before hook, whose observers may cancel it, and an
// after hook that fires only when the transition went ahead. Observers are
// called synchronously on the caller's goroutine in registration order.
package gateway

import (
	"time"

	"github.com/ethereum-optimism/infra/op-reporter/dispatch"
	"github.com/ethereum-optimism/infra/op-reporter/types"
)

// Decision is returned by before observers.
type Decision int

const (
	Proceed Decision = iota
	Cancel
)

func (d Decision) String() string {
	if d == Cancel {
		return "cancel"
	}
	return "proceed"
}

// Hook holds the observers of one transition type. P is the proposed
// payload and R the result handed to after observers.
type Hook[P, R any] struct {
	before []func(P) Decision
	after  []func(P, R)
}

func (h *Hook[P, R]) OnBefore(fn func(P) Decision) {
	h.before = append(h.before, fn)
}

func (h *Hook[P, R]) OnAfter(fn func(P, R)) {
	h.after = append(h.after, fn)
}

// Before notifies every before observer, even after one has canceled, and
// returns Cancel if any of them did.
func (h *Hook[P, R]) Before(p P) Decision {
	decision := Proceed
	for _, fn := range h.before {
		if fn(p) == Cancel {
			decision = Cancel
		}
	}
	return decision
}

func (h *Hook[P, R]) After(p P, r R) {
	for _, fn := range h.after {
		fn(p, r)
	}
}

// RunStartedEvent proposes opening the launch.
type RunStartedEvent struct {
	Name      string
	TestCount int
	Request   types.StartLaunchRequest
}

// ItemStartedEvent proposes starting a suite or a test. Parent is nil when
// the item hangs directly off the launch.
type ItemStartedEvent struct {
	Parent  *dispatch.Item
	Request types.StartItemRequest
}

// ItemFinishedEvent proposes finishing a suite or a test.
type ItemFinishedEvent struct {
	Item    *dispatch.Item
	Result  types.TestResult
	Request types.FinishItemRequest
}

// RunFinishedEvent proposes finishing the launch. Err is set when the run
// ended through an unhandled failure.
type RunFinishedEvent struct {
	Launch  *dispatch.Item
	Request types.FinishLaunchRequest
	Err     error
}

// DrainResult is handed to run finished observers once the drain settled.
type DrainResult struct {
	Elapsed  time.Duration
	Enqueued int64
	Failures []dispatch.OpFailure
}

// Gateway groups the hooks of the six lifecycle transitions.
type Gateway struct {
	RunStarted    Hook[RunStartedEvent, *dispatch.Item]
	SuiteStarted  Hook[ItemStartedEvent, *dispatch.Item]
	TestStarted   Hook[ItemStartedEvent, *dispatch.Item]
	TestFinished  Hook[ItemFinishedEvent, *dispatch.Handle]
	SuiteFinished Hook[ItemFinishedEvent, *dispatch.Handle]
	RunFinished   Hook[RunFinishedEvent, DrainResult]
}

func New() *Gateway {
	return &Gateway{}
}
