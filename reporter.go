package reporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-reporter/client"
	"github.com/ethereum-optimism/infra/op-reporter/dispatch"
	"github.com/ethereum-optimism/infra/op-reporter/gotest"
	"github.com/ethereum-optimism/infra/op-reporter/logging"
	"github.com/ethereum-optimism/infra/op-reporter/metrics"
	"github.com/ethereum-optimism/infra/op-reporter/reporting"
	"github.com/ethereum-optimism/infra/op-reporter/runner"
	"github.com/ethereum-optimism/infra/op-reporter/service"
	"github.com/ethereum-optimism/infra/op-reporter/types"
)

// commandWaitDelay bounds how long a killed test command may hold its pipes.
const commandWaitDelay = 10 * time.Second

// Reporter implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &Reporter{}

// Reporter runs a test command (or reads recorded output) and reports the
// run to the collector while it executes.
type Reporter struct {
	config   *Config
	version  string
	metrics  *metrics.Metrics
	service  *service.Service
	session  *runner.Session // nil when reporting is off
	closeApp context.CancelCauseFunc
	stdout   io.Writer

	runMu   sync.Mutex // Held while a run feeds the session
	stats   gotest.Stats
	summary *runner.RunSummary

	stopped  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

func New(ctx context.Context, config *Config, version string, closeApp context.CancelCauseFunc) (*Reporter, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if closeApp == nil {
		closeApp = func(error) {}
	}

	r := &Reporter{
		config:   config,
		version:  version,
		metrics:  metrics.NewMetrics(),
		closeApp: closeApp,
		stdout:   os.Stdout,
	}
	r.service = service.New(config.Log, config.Service, r.metrics.Registry(), r.status)

	if !config.Enabled {
		config.Log.Info("Reporting disabled, running tests only")
		return r, nil
	}
	if err := config.Check(); err != nil {
		config.Log.Warn("Reporting disabled: invalid configuration", "err", err)
		r.metrics.RecordErrorDetails("config", err)
		return r, nil
	}

	collector, err := client.NewHTTPClient(config.Client, config.Log)
	if err != nil {
		config.Log.Warn("Reporting disabled: cannot create collector client", "err", err)
		r.metrics.RecordErrorDetails("config", err)
		return r, nil
	}
	session, err := runner.Install(runner.Config{
		Collector:         collector,
		Log:               config.Log,
		Metrics:           r.metrics,
		Enabled:           config.Enabled,
		LaunchName:        config.LaunchName,
		LaunchDescription: config.LaunchDescription,
		Tags:              config.Tags,
		DebugMode:         config.DebugMode,
		LogConsole:        config.LogConsole,
		DrainTimeout:      config.DrainTimeout,
		Concurrency:       config.Concurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to install reporting session: %w", err)
	}
	r.session = session
	config.Log.Info("Reporting enabled", "endpoint", config.Client.Endpoint, "project", config.Client.Project, "version", version)
	return r, nil
}

// Reporting reports whether runs are sent to the collector.
func (r *Reporter) Reporting() bool {
	return r.session != nil
}

// Summary returns the summary of the finished run, nil without reporting.
func (r *Reporter) Summary() *runner.RunSummary {
	return r.summary
}

func (r *Reporter) Stats() gotest.Stats {
	return r.stats
}

func (r *Reporter) status() string {
	if r.session == nil {
		return "reporting-disabled"
	}
	return r.session.State().String()
}

// Start runs the tests once and returns the classified result.
// Start implements the cliapp.Lifecycle interface.
func (r *Reporter) Start(ctx context.Context) error {
	if err := r.service.Start(ctx); err != nil {
		return NewRuntimeError(err)
	}

	err := r.run(ctx)
	if err != nil {
		r.config.Log.Error("Test run finished with error", "err", err)
		return err
	}
	r.config.Log.Info("Test run completed, exiting")
	go func() {
		r.closeApp(nil)
	}()
	return nil
}

func (r *Reporter) run(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	input, wait, err := r.openInput(ctx)
	if err != nil {
		return NewRuntimeError(err)
	}

	var reader io.Reader = input
	var sink *logging.RawEventSink
	if r.config.LogDir != "" {
		sink, err = logging.NewRawEventSink(r.config.LogDir, uuid.New().String())
		if err != nil {
			r.config.Log.Warn("Raw event capture disabled", "err", err)
		} else {
			reader = io.TeeReader(input, sink)
			r.config.Log.Info("Capturing raw test events", "path", sink.EventsPath())
		}
	}

	var listener gotest.Listener = discardListener{}
	if r.session != nil {
		listener = r.session
	}
	stats, replayErr := gotest.Replay(ctx, reader, listener, gotest.Config{
		RunName:    r.runName(),
		ModulePath: r.modulePath(),
		Log:        r.config.Log,
	})
	cmdErr := wait()
	r.stats = stats
	r.metrics.RecordTests(stats.Passed, stats.Failed+stats.Errored, stats.Skipped)

	var summaryText string
	if r.session != nil {
		r.summary = r.session.Summary()
		if r.summary != nil {
			summaryText = reporting.SummaryString(r.summary, stats)
			fmt.Fprint(r.stdout, summaryText)
		}
	}
	if sink != nil {
		if summaryText != "" {
			if err := sink.WriteSummary(summaryText); err != nil {
				r.config.Log.Warn("Failed to store summary", "err", err)
			}
		}
		if err := sink.Close(); err != nil {
			r.config.Log.Warn("Failed to store raw test events", "err", err)
		}
	}

	return r.classify(ctx, stats, replayErr, cmdErr)
}

// classify turns the outcome of a run into nil, a RuntimeError or a TestFailureError.
func (r *Reporter) classify(ctx context.Context, stats gotest.Stats, replayErr, cmdErr error) error {
	if ctx.Err() != nil {
		return NewRuntimeError(fmt.Errorf("test run interrupted: %w", context.Cause(ctx)))
	}

	var exitErr *exec.ExitError
	if cmdErr != nil && !errors.As(cmdErr, &exitErr) {
		return NewRuntimeError(fmt.Errorf("test command failed: %w", cmdErr))
	}

	if replayErr != nil {
		var failures *dispatch.FailureSummary
		switch {
		case dispatch.IsTimeout(replayErr):
			if r.config.DrainTimeoutFatal {
				return NewRuntimeError(replayErr)
			}
			r.config.Log.Warn("Reporting drain timed out, results may be incomplete", "err", replayErr)
		case errors.As(replayErr, &failures):
			r.config.Log.Warn("Some results were not reported", "failures", len(failures.Failures))
		default:
			return NewRuntimeError(replayErr)
		}
	}

	if stats.HasFailures() || exitErr != nil {
		msg := fmt.Sprintf("%d of %d tests failed, %d errored, %d packages failed",
			stats.Failed, stats.Tests(), stats.Errored, stats.FailedPackages)
		if exitErr != nil {
			msg += fmt.Sprintf(", test command exited with %d", exitErr.ExitCode())
		}
		return NewTestFailureError(msg)
	}
	return nil
}

// openInput returns the test2json stream and a function that waits for its producer.
func (r *Reporter) openInput(ctx context.Context) (io.Reader, func() error, error) {
	switch {
	case r.config.Input == "-":
		return os.Stdin, func() error { return nil }, nil
	case r.config.Input != "":
		f, err := os.Open(r.config.Input)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open input: %w", err)
		}
		return f, f.Close, nil
	}

	cmd := exec.CommandContext(ctx, r.config.Command[0], r.config.Command[1:]...)
	cmd.Stderr = os.Stderr
	cmd.WaitDelay = commandWaitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to capture test output: %w", err)
	}
	r.config.Log.Info("Running test command", "command", strings.Join(r.config.Command, " "))
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start test command: %w", err)
	}
	return stdout, cmd.Wait, nil
}

func (r *Reporter) runName() string {
	if len(r.config.Command) > 0 {
		return strings.Join(r.config.Command, " ")
	}
	return gotest.DefaultRunName
}

func (r *Reporter) modulePath() string {
	if r.config.ModuleDir == "" {
		return ""
	}
	mod, err := gotest.ModulePath(r.config.ModuleDir)
	if err != nil {
		r.config.Log.Warn("Using full package names", "err", err)
		return ""
	}
	return mod
}

// Stop aborts a launch that is still running and stops the servers.
// Stop implements the cliapp.Lifecycle interface.
func (r *Reporter) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		r.config.Log.Info("Stopping op-reporter")
		r.runMu.Lock()
		defer r.runMu.Unlock()

		var result error
		if r.session != nil {
			if err := r.session.Close(); err != nil {
				result = errors.Join(result, fmt.Errorf("failed to close reporting session: %w", err))
			}
		}
		if err := r.service.Stop(ctx); err != nil {
			result = errors.Join(result, err)
		}
		r.stopped.Store(true)
		r.stopErr = result
		r.config.Log.Info("op-reporter stopped")
	})
	return r.stopErr
}

// Stopped implements the cliapp.Lifecycle interface.
func (r *Reporter) Stopped() bool {
	return r.stopped.Load()
}

// discardListener drives a run without reporting it.
type discardListener struct{}

func (discardListener) RunStarted(string, int)             {}
func (discardListener) SuiteStarted(string)                {}
func (discardListener) TestStarted(string)                 {}
func (discardListener) TestOutput(string)                  {}
func (discardListener) TestFinished(types.TestResult)      {}
func (discardListener) SuiteFinished(types.TestResult)     {}
func (discardListener) RunFinished(types.TestResult) error { return nil }
