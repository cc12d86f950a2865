package types

import "fmt"

// Outcome is the local result of a suite or test as reported by the test framework.
type Outcome string

const (
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeError        Outcome = "error"
	OutcomeFailure      Outcome = "failure"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeInconclusive Outcome = "inconclusive"
	OutcomeNotRunnable  Outcome = "not-runnable"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeSuccess      Outcome = "success"
)

// Outcomes lists every local outcome TranslateOutcome accepts.
var Outcomes = []Outcome{
	OutcomeCancelled,
	OutcomeError,
	OutcomeFailure,
	OutcomeIgnored,
	OutcomeInconclusive,
	OutcomeNotRunnable,
	OutcomeSkipped,
	OutcomeSuccess,
}

// Status is the status of a report item on the remote collector.
type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
)

// TranslateOutcome maps a local outcome onto the remote status set.
// Unknown outcomes are reported as failed so that nothing silently passes.
func TranslateOutcome(o Outcome) Status {
	switch o {
	case OutcomeSuccess:
		return StatusPassed
	case OutcomeError, OutcomeFailure:
		return StatusFailed
	case OutcomeCancelled, OutcomeIgnored, OutcomeInconclusive, OutcomeNotRunnable, OutcomeSkipped:
		return StatusSkipped
	default:
		return StatusFailed
	}
}

// ParseOutcome converts a string into an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	for _, o := range Outcomes {
		if string(o) == s {
			return o, nil
		}
	}
	return "", fmt.Errorf("unknown outcome %q", s)
}

// IsFailure reports whether the outcome counts as a failed result.
func (o Outcome) IsFailure() bool {
	return TranslateOutcome(o) == StatusFailed
}
