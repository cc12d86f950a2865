package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-reporter/types"
)

var (
	ErrQueueSealed      = errors.New("dispatch queue is sealed")
	ErrNoLaunch         = errors.New("no launch started")
	ErrItemNotStarted   = errors.New("item has no remote id")
	ErrParentNotStarted = errors.New("parent item has no remote id")
	ErrItemFinished     = errors.New("item already finished")

	errOpPanicked = errors.New("operation panicked")
)

// OpFailure is a single collector operation that settled with an error.
type OpFailure struct {
	Item string
	Kind types.ItemKind
	Op   OpKind
	Err  error
}

func (f OpFailure) String() string {
	return fmt.Sprintf("%s %s %q: %v", f.Op, strings.ToLower(string(f.Kind)), f.Item, f.Err)
}

// FailureSummary is returned by Await when every operation settled but some failed.
type FailureSummary struct {
	Failures []OpFailure
}

func (s *FailureSummary) Error() string {
	if len(s.Failures) == 1 {
		return fmt.Sprintf("1 reporting operation failed: %s", s.Failures[0])
	}
	return fmt.Sprintf("%d reporting operations failed, first: %s", len(s.Failures), s.Failures[0])
}

// TimeoutError is returned by Await when the drain did not settle in time.
type TimeoutError struct {
	Elapsed     time.Duration
	Outstanding int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("reporting drain timed out after %s with %d operations outstanding", e.Elapsed.Round(time.Millisecond), e.Outstanding)
}

// IsTimeout reports whether err is or wraps a *TimeoutError.
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}
