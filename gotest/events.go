// Package gotest turns a `go test -json` event stream into ordered reporting
// callbacks.
package gotest

import (
	"strings"
	"time"

	"github.com/acarl005/stripansi"
)

// test2json actions
// See https://cs.opensource.google/go/go/+/master:src/cmd/test2json/main.go
const (
	ActionStart       = "start"
	ActionRun         = "run"
	ActionPause       = "pause"
	ActionCont        = "cont"
	ActionPass        = "pass"
	ActionFail        = "fail"
	ActionSkip        = "skip"
	ActionOutput      = "output"
	ActionBench       = "bench"
	ActionBuildOutput = "build-output"
	ActionBuildFail   = "build-fail"
)

// TestEvent is a single event of the go test JSON output.
type TestEvent struct {
	Time        time.Time // Time the event occurred
	Action      string    // The action taken (run, pause, cont, pass, fail, skip, output, ...)
	Package     string    // The package being tested
	Test        string    // The test function name, empty for package events
	Output      string    // Output text, may be empty
	Elapsed     float64   // Elapsed time in seconds for pass/fail/skip
	ImportPath  string    // Package being built, for build-output and build-fail
	FailedBuild string    // Set on a package fail caused by a build failure
}

// IsTerminal reports whether the action ends a test or package.
func (e TestEvent) IsTerminal() bool {
	switch e.Action {
	case ActionPass, ActionFail, ActionSkip:
		return true
	}
	return false
}

// outputLines splits captured output into reportable lines. ANSI escapes and
// the test framework's own "=== RUN" style framing are dropped.
func outputLines(chunks []string) []string {
	var lines []string
	for _, chunk := range chunks {
		for _, line := range strings.Split(stripansi.Strip(chunk), "\n") {
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "=== ") {
				continue
			}
			lines = append(lines, line)
		}
	}
	return lines
}

// joinOutput is the full captured output with ANSI escapes removed.
func joinOutput(chunks []string) string {
	return strings.TrimRight(stripansi.Strip(strings.Join(chunks, "")), "\n")
}

// firstLineWithPrefix returns the first trimmed line starting with prefix.
func firstLineWithPrefix(chunks []string, prefix string) string {
	for _, line := range outputLines(chunks) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
	return ""
}

func elapsed(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
