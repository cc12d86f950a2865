package gotest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-reporter/types"
)

const (
	DefaultRunName = "go test"

	maxLineSize = 4 * 1024 * 1024
)

// Listener receives the lifecycle callbacks of a run, in order and balanced.
// runner.Coordinator implements it.
type Listener interface {
	RunStarted(name string, testCount int)
	SuiteStarted(name string)
	TestStarted(name string)
	TestOutput(text string)
	TestFinished(result types.TestResult)
	SuiteFinished(result types.TestResult)
	RunFinished(result types.TestResult) error
}

type Config struct {
	RunName    string
	ModulePath string // Package names inside this module are shortened
	Log        log.Logger
}

// Stats counts what a replay reported. Test counters only include leaf tests.
type Stats struct {
	Packages       int
	FailedPackages int // Packages that failed or errored, including build failures
	Passed         int
	Failed         int
	Skipped        int
	Errored        int
	Malformed      int // Input lines that were not test2json events
}

func (s Stats) Tests() int {
	return s.Passed + s.Failed + s.Skipped + s.Errored
}

// HasFailures reports whether any test or package did not succeed.
func (s Stats) HasFailures() bool {
	return s.Failed > 0 || s.Errored > 0 || s.FailedPackages > 0
}

type testNode struct {
	name     string
	short    string
	action   string
	elapsed  float64
	output   []string
	children []*testNode
}

type pkgState struct {
	name        string
	tests       testNode
	index       map[string]*testNode
	output      []string
	action      string
	elapsed     float64
	failedBuild string
}

// node returns the latest node for the full test name, creating it and its
// ancestors as needed. A rerun of a finished test gets a fresh node.
func (p *pkgState) node(name string, rerun bool) *testNode {
	if n, ok := p.index[name]; ok && !(rerun && n.action != "") {
		return n
	}
	parent := &p.tests
	short := name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		parent = p.node(name[:i], false)
		short = name[i+1:]
	}
	n := &testNode{name: name, short: short}
	parent.children = append(parent.children, n)
	p.index[name] = n
	return n
}

type replayer struct {
	cfg      Config
	listener Listener
	log      log.Logger

	stats       Stats
	packages    map[string]*pkgState
	order       []*pkgState
	buildOutput map[string][]string
	failed      bool
}

// Replay reads test2json events from r and drives l with one suite per
// package, one suite per test with subtests and one test per leaf. Package
// events are buffered until the package ends so that parallel packages come
// out as a balanced sequence. Replay always finishes the run, also when the
// stream breaks or ctx is canceled, and returns the error of RunFinished
// joined with any read error.
func Replay(ctx context.Context, r io.Reader, l Listener, cfg Config) (Stats, error) {
	if cfg.RunName == "" {
		cfg.RunName = DefaultRunName
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	rp := &replayer{
		cfg:         cfg,
		listener:    l,
		log:         cfg.Log.New("component", "replay"),
		packages:    make(map[string]*pkgState),
		buildOutput: make(map[string][]string),
	}

	// The number of tests is unknown until the stream ends.
	l.RunStarted(cfg.RunName, 0)
	l.SuiteStarted(cfg.RunName)

	readErr := rp.read(ctx, r)
	canceled := ctx.Err() != nil
	for len(rp.order) > 0 {
		rp.flush(rp.order[0], canceled)
	}

	root := types.TestResult{Name: cfg.RunName, Outcome: types.OutcomeSuccess}
	switch {
	case canceled:
		root.Outcome = types.OutcomeCancelled
		readErr = errors.Join(readErr, ctx.Err())
	case readErr != nil:
		root.Outcome = types.OutcomeError
		root.Message = readErr.Error()
	case rp.failed:
		root.Outcome = types.OutcomeFailure
	}
	l.SuiteFinished(root)
	finishErr := l.RunFinished(root)

	rp.log.Info("Replayed test events", "packages", rp.stats.Packages, "tests", rp.stats.Tests(),
		"failed", rp.stats.Failed, "errored", rp.stats.Errored, "malformed", rp.stats.Malformed)
	return rp.stats, errors.Join(readErr, finishErr)
}

func (rp *replayer) read(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var ev TestEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			rp.stats.Malformed++
			rp.log.Debug("Skipping non-JSON line", "line", string(line))
			continue
		}
		rp.handle(ev)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read test events: %w", err)
	}
	return nil
}

func (rp *replayer) handle(ev TestEvent) {
	switch ev.Action {
	case ActionBuildOutput:
		rp.buildOutput[ev.ImportPath] = append(rp.buildOutput[ev.ImportPath], ev.Output)
		return
	case ActionBuildFail:
		return
	}
	if ev.Package == "" {
		return
	}

	pkg, ok := rp.packages[ev.Package]
	if !ok {
		pkg = &pkgState{name: ev.Package, index: make(map[string]*testNode)}
		rp.packages[ev.Package] = pkg
		rp.order = append(rp.order, pkg)
	}

	if ev.Test == "" {
		switch {
		case ev.Action == ActionOutput:
			pkg.output = append(pkg.output, ev.Output)
		case ev.IsTerminal():
			pkg.action = ev.Action
			pkg.elapsed = ev.Elapsed
			pkg.failedBuild = ev.FailedBuild
			rp.flush(pkg, false)
		}
		return
	}

	n := pkg.node(ev.Test, ev.Action == ActionRun)
	switch {
	case ev.Action == ActionOutput:
		n.output = append(n.output, ev.Output)
	case ev.IsTerminal():
		n.action = ev.Action
		n.elapsed = ev.Elapsed
	}
}

// flush reports a buffered package and forgets it.
func (rp *replayer) flush(pkg *pkgState, canceled bool) {
	delete(rp.packages, pkg.name)
	for i, p := range rp.order {
		if p == pkg {
			rp.order = append(rp.order[:i], rp.order[i+1:]...)
			break
		}
	}

	// "no test files"
	if len(pkg.tests.children) == 0 && pkg.action == ActionSkip {
		return
	}

	rp.stats.Packages++
	name := ShortPackageName(pkg.name, rp.cfg.ModulePath)
	rp.listener.SuiteStarted(name)
	for _, n := range pkg.tests.children {
		rp.emit(n, canceled)
	}
	result := rp.packageResult(name, pkg, canceled)
	if result.Outcome.IsFailure() {
		rp.stats.FailedPackages++
		rp.failed = true
	}
	rp.listener.SuiteFinished(result)
}

func (rp *replayer) emit(n *testNode, canceled bool) {
	if len(n.children) > 0 {
		rp.listener.SuiteStarted(n.short)
		for _, child := range n.children {
			rp.emit(child, canceled)
		}
		rp.listener.SuiteFinished(testResult(n, canceled))
		return
	}

	rp.listener.TestStarted(n.short)
	for _, line := range outputLines(n.output) {
		rp.listener.TestOutput(line)
	}
	result := testResult(n, canceled)
	switch result.Outcome {
	case types.OutcomeSuccess:
		rp.stats.Passed++
	case types.OutcomeFailure:
		rp.stats.Failed++
	case types.OutcomeError:
		rp.stats.Errored++
	default:
		rp.stats.Skipped++
	}
	if result.Outcome.IsFailure() {
		rp.failed = true
	}
	rp.listener.TestFinished(result)
}

func outcomeFor(action string, canceled bool) types.Outcome {
	switch action {
	case ActionPass:
		return types.OutcomeSuccess
	case ActionFail:
		return types.OutcomeFailure
	case ActionSkip:
		return types.OutcomeSkipped
	}
	if canceled {
		return types.OutcomeCancelled
	}
	return types.OutcomeError
}

func testResult(n *testNode, canceled bool) types.TestResult {
	result := types.TestResult{
		Name:     n.short,
		Outcome:  outcomeFor(n.action, canceled),
		Duration: elapsed(n.elapsed),
	}
	switch result.Outcome {
	case types.OutcomeFailure:
		result.Message = firstLineWithPrefix(n.output, "--- FAIL:")
		if result.Message == "" {
			result.Message = fmt.Sprintf("%s failed", n.name)
		}
		result.StackTrace = joinOutput(n.output)
	case types.OutcomeError:
		result.Message = fmt.Sprintf("%s did not report a result", n.name)
		result.StackTrace = joinOutput(n.output)
	}
	return result
}

func (rp *replayer) packageResult(name string, pkg *pkgState, canceled bool) types.TestResult {
	result := types.TestResult{
		Name:     name,
		Outcome:  outcomeFor(pkg.action, canceled),
		Duration: elapsed(pkg.elapsed),
	}
	output := pkg.output
	if pkg.failedBuild != "" {
		output = append(append([]string{}, rp.buildOutput[pkg.failedBuild]...), output...)
	}
	if pkg.failedBuild != "" || strings.Contains(joinOutput(pkg.output), "[build failed]") {
		result.Outcome = types.OutcomeError
		result.Message = fmt.Sprintf("%s: build failed", name)
		result.StackTrace = joinOutput(output)
		return result
	}

	switch result.Outcome {
	case types.OutcomeFailure:
		result.Message = firstLineWithPrefix(output, "FAIL")
		if result.Message == "" {
			result.Message = fmt.Sprintf("%s failed", name)
		}
		result.StackTrace = joinOutput(output)
	case types.OutcomeError:
		result.Message = fmt.Sprintf("%s did not report a result", name)
		result.StackTrace = joinOutput(output)
	}
	return result
}
