package runner

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-reporter/client"
	"github.com/ethereum-optimism/infra/op-reporter/dispatch"
	"github.com/ethereum-optimism/infra/op-reporter/gateway"
	"github.com/ethereum-optimism/infra/op-reporter/hierarchy"
	"github.com/ethereum-optimism/infra/op-reporter/metrics"
	"github.com/ethereum-optimism/infra/op-reporter/types"
)

const (
	DefaultDrainTimeout = 30 * time.Minute

	// logNudge keeps log entries strictly after the item start on the collector.
	logNudge = time.Millisecond
)

// Config configures a Coordinator.
type Config struct {
	Collector client.Collector
	Log       log.Logger
	Metrics   metrics.Metricer
	Gateway   *gateway.Gateway

	Enabled           bool
	LaunchName        string // Overrides the run name when set
	LaunchDescription string
	Tags              []types.Attribute
	DebugMode         bool
	LogConsole        bool
	DrainTimeout      time.Duration
	Concurrency       int
}

// Coordinator turns ordered lifecycle callbacks into report operations.
// Callbacks must come from a single goroutine. State may be read from any.
type Coordinator struct {
	cfg     Config
	log     log.Logger
	metrics metrics.Metricer
	gateway *gateway.Gateway

	state       atomic.Int32
	tracker     *hierarchy.Tracker
	queue       *dispatch.Queue
	currentTest *dispatch.Item
	lastLogTime time.Time
	summary     *RunSummary
}

func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopMetrics
	}
	if cfg.Gateway == nil {
		cfg.Gateway = gateway.New()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	c := &Coordinator{
		cfg:     cfg,
		log:     cfg.Log.New("component", "coordinator"),
		metrics: cfg.Metrics,
		gateway: cfg.Gateway,
		tracker: hierarchy.NewTracker(),
	}
	c.setState(StateIdle)
	return c
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Coordinator) Gateway() *gateway.Gateway {
	return c.gateway
}

// Depth is the number of open suites backed by a report item.
func (c *Coordinator) Depth() int {
	return c.tracker.Depth()
}

// CurrentTest returns the open test item, if any.
func (c *Coordinator) CurrentTest() *dispatch.Item {
	return c.currentTest
}

// CurrentTestID returns the collector id of the open test once its start
// has been acknowledged.
func (c *Coordinator) CurrentTestID() (string, bool) {
	if c.currentTest == nil {
		return "", false
	}
	return c.currentTest.RemoteID()
}

// Summary returns the summary of the last finished run, nil before the first.
func (c *Coordinator) Summary() *RunSummary {
	return c.summary
}

// RunStarted opens the launch.
func (c *Coordinator) RunStarted(name string, testCount int) {
	if state := c.State(); state != StateIdle && state != StateClosed {
		c.log.Debug("Ignoring run start", "state", state, "run", name)
		return
	}

	launchName := c.cfg.LaunchName
	if launchName == "" {
		launchName = name
	}
	req := types.StartLaunchRequest{
		Name:        launchName,
		Description: c.cfg.LaunchDescription,
		StartTime:   time.Now(),
		Mode:        types.LaunchModeDefault,
		Attributes:  c.cfg.Tags,
	}
	if c.cfg.DebugMode {
		req.Mode = types.LaunchModeDebug
	}

	ev := gateway.RunStartedEvent{Name: name, TestCount: testCount, Request: req}
	if c.gateway.RunStarted.Before(ev) == gateway.Cancel {
		c.log.Info("Run start canceled", "run", name)
		return
	}

	c.tracker.Reset()
	c.currentTest = nil
	c.queue = dispatch.NewQueue(dispatch.Config{
		Collector:   c.cfg.Collector,
		Log:         c.log,
		Metrics:     c.metrics,
		Concurrency: c.cfg.Concurrency,
	})
	launch := c.tracker.BeginLaunch(launchName, req.StartTime)
	c.queue.StartLaunch(launch, req)
	c.setState(StateRunning)
	c.log.Info("Launch started", "launch", launchName, "tests", testCount, "mode", req.Mode)

	c.gateway.RunStarted.After(ev, launch)
}

// SuiteStarted opens a suite under the innermost open suite. The first suite
// of a run is the implicit root and produces no item.
func (c *Coordinator) SuiteStarted(name string) {
	if c.State() != StateRunning {
		c.log.Debug("Ignoring suite start", "state", c.State(), "suite", name)
		return
	}
	if c.tracker.RootPending() {
		c.tracker.SkipRoot()
		return
	}

	req := types.StartItemRequest{Name: name, StartTime: time.Now(), Type: types.ItemKindSuite}
	ev := gateway.ItemStartedEvent{Parent: c.tracker.CurrentParent(), Request: req}
	if c.gateway.SuiteStarted.Before(ev) == gateway.Cancel {
		c.tracker.PushPlaceholder()
		return
	}

	item := c.tracker.BeginScope(name, req.StartTime)
	c.queue.Start(item, req)
	c.gateway.SuiteStarted.After(ev, item)
}

// TestStarted opens a test under the innermost open suite.
func (c *Coordinator) TestStarted(name string) {
	if c.State() != StateRunning {
		c.log.Debug("Ignoring test start", "state", c.State(), "test", name)
		return
	}

	req := types.StartItemRequest{Name: name, StartTime: time.Now(), Type: types.ItemKindStep}
	ev := gateway.ItemStartedEvent{Parent: c.tracker.CurrentParent(), Request: req}
	if c.gateway.TestStarted.Before(ev) == gateway.Cancel {
		return
	}

	item := c.tracker.NewLeaf(name, req.StartTime)
	c.queue.Start(item, req)
	c.currentTest = item
	c.lastLogTime = time.Time{}
	c.gateway.TestStarted.After(ev, item)
}

// TestOutput attaches captured output to the open test.
func (c *Coordinator) TestOutput(text string) {
	if !c.cfg.LogConsole || c.currentTest == nil || c.State() != StateRunning {
		return
	}
	c.queue.Log(c.currentTest, types.LogRequest{
		Time:    c.logTime(c.currentTest),
		Level:   types.LogLevelInfo,
		Message: text,
	})
}

// TestFinished finishes the open test.
func (c *Coordinator) TestFinished(result types.TestResult) {
	if c.State() != StateRunning || c.currentTest == nil {
		c.log.Debug("Ignoring test finish", "state", c.State(), "test", result.Name)
		return
	}
	item := c.currentTest
	ev := gateway.ItemFinishedEvent{
		Item:    item,
		Result:  result,
		Request: types.FinishItemRequest{EndTime: time.Now(), Status: types.TranslateOutcome(result.Outcome)},
	}
	if c.gateway.TestFinished.Before(ev) == gateway.Cancel {
		return
	}

	h := c.finishItem(item, result, ev.Request)
	c.currentTest = nil
	c.gateway.TestFinished.After(ev, h)
}

// SuiteFinished finishes the innermost open suite. A finish without an open
// suite, or for the implicit root, is ignored.
func (c *Coordinator) SuiteFinished(result types.TestResult) {
	if c.State() != StateRunning {
		c.log.Debug("Ignoring suite finish", "state", c.State(), "suite", result.Name)
		return
	}
	item, ok := c.tracker.Peek()
	if !ok {
		c.log.Debug("Ignoring suite finish without open suite", "suite", result.Name)
		return
	}
	if item == nil {
		_, _ = c.tracker.EndScope()
		return
	}

	ev := gateway.ItemFinishedEvent{
		Item:    item,
		Result:  result,
		Request: types.FinishItemRequest{EndTime: time.Now(), Status: types.TranslateOutcome(result.Outcome)},
	}
	// The scope closes even when the finish is vetoed. The vetoed item stays
	// unfinished.
	_, _ = c.tracker.EndScope()
	if c.gateway.SuiteFinished.Before(ev) == gateway.Cancel {
		return
	}

	h := c.finishItem(item, result, ev.Request)
	c.gateway.SuiteFinished.After(ev, h)
}

func (c *Coordinator) finishItem(item *dispatch.Item, result types.TestResult, req types.FinishItemRequest) *dispatch.Handle {
	if result.Message != "" {
		c.queue.Log(item, types.LogRequest{
			Time:    c.logTime(item),
			Level:   types.LogLevelError,
			Message: result.FailureText(),
		})
	}
	c.queue.Update(item, types.UpdateItemRequest{
		Description: result.Description,
		Attributes:  types.TagsToAttributes(result.Categories),
	})
	return c.queue.Finish(item, req)
}

// logTime is now nudged forward, never before the item start and strictly
// after the previous entry of the open test.
func (c *Coordinator) logTime(item *dispatch.Item) time.Time {
	t := time.Now().Add(logNudge)
	if floor := item.StartTime().Add(logNudge); t.Before(floor) {
		t = floor
	}
	if item == c.currentTest {
		if !t.After(c.lastLogTime) {
			t = c.lastLogTime.Add(logNudge)
		}
		c.lastLogTime = t
	}
	return t
}

// RunFinished finishes the launch and blocks until every pending operation
// settled or the drain timeout elapsed. Calls outside a running launch are
// no-ops.
func (c *Coordinator) RunFinished(result types.TestResult) error {
	return c.finishRun(nil)
}

// RunAborted finishes the launch after an unhandled failure of the run.
func (c *Coordinator) RunAborted(cause error) error {
	return c.finishRun(cause)
}

// closeOpenScopes finishes the open test and every open suite, innermost
// first, as cancelled. The launch finish waits on them.
func (c *Coordinator) closeOpenScopes(cause error) {
	end := time.Now()
	abort := func(item *dispatch.Item) {
		result := types.TestResult{Name: item.Name(), Outcome: types.OutcomeCancelled}
		c.finishItem(item, result, types.FinishItemRequest{EndTime: end, Status: types.TranslateOutcome(result.Outcome)})
	}
	if c.currentTest != nil {
		abort(c.currentTest)
		c.currentTest = nil
	}
	for c.tracker.Frames() > 0 {
		item, _ := c.tracker.EndScope()
		if item != nil {
			abort(item)
		}
	}
	c.log.Debug("Closed open scopes", "cause", cause)
}

func (c *Coordinator) finishRun(cause error) error {
	if c.State() != StateRunning {
		c.log.Debug("Ignoring run finish", "state", c.State())
		return nil
	}
	launch := c.tracker.Launch()
	ev := gateway.RunFinishedEvent{
		Launch:  launch,
		Request: types.FinishLaunchRequest{EndTime: time.Now()},
		Err:     cause,
	}
	if c.gateway.RunFinished.Before(ev) == gateway.Cancel {
		c.log.Info("Run finish canceled", "launch", launch.Name())
		return nil
	}

	c.setState(StateDraining)
	if cause != nil {
		c.log.Warn("Run aborted, finishing launch", "launch", launch.Name(), "err", cause)
		c.closeOpenScopes(cause)
	}
	c.queue.FinishLaunch(ev.Request)
	c.log.Info("Finishing to send results to collector...", "outstanding", c.queue.Outstanding())

	start := time.Now()
	err := c.queue.Await(c.cfg.DrainTimeout)
	elapsed := time.Since(start)

	launchID, _ := launch.RemoteID()
	summary := &RunSummary{
		LaunchName:   launch.Name(),
		LaunchID:     launchID,
		Items:        c.tracker.Items(),
		DrainElapsed: elapsed,
		Enqueued:     c.queue.Enqueued(),
		Outstanding:  c.queue.Outstanding(),
		Failures:     c.queue.Failures(),
		Aborted:      cause,
		Err:          err,
	}
	c.summary = summary
	c.setState(StateClosed)
	c.tracker.Reset()
	c.currentTest = nil

	var failureSummary *dispatch.FailureSummary
	switch {
	case err == nil:
		c.metrics.RecordDrain(elapsed, "success")
		c.log.Info("Results are sent to collector", "sync_time", elapsed, "launch", launchID)
	case dispatch.IsTimeout(err):
		c.metrics.RecordDrain(elapsed, "timeout")
		c.metrics.RecordErrorDetails("drain", err)
		c.log.Error("Reporting drain timed out", "elapsed", elapsed, "outstanding", summary.Outstanding, "err", err)
		return err
	case errors.As(err, &failureSummary):
		c.metrics.RecordDrain(elapsed, "failures")
		c.log.Warn("Results are sent to collector with failures", "sync_time", elapsed, "failures", len(failureSummary.Failures))
	default:
		c.metrics.RecordDrain(elapsed, "error")
		c.log.Error("Reporting drain failed", "err", err)
	}

	c.gateway.RunFinished.After(ev, gateway.DrainResult{
		Elapsed:  elapsed,
		Enqueued: summary.Enqueued,
		Failures: summary.Failures,
	})
	return err
}
