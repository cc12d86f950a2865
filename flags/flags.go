package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_REPORTER"

func prefixEnvVars(name string) []string {
	return opservice.PrefixEnvVar(EnvVarPrefix, name)
}

var (
	Endpoint = &cli.StringFlag{
		Name:    "endpoint",
		Usage:   "Base URL of the report collector (eg. 'https://reports.example.com')",
		EnvVars: prefixEnvVars("ENDPOINT"),
	}
	Project = &cli.StringFlag{
		Name:    "project",
		Usage:   "Collector project the launch is reported to",
		EnvVars: prefixEnvVars("PROJECT"),
	}
	APIKey = &cli.StringFlag{
		Name:    "api-key",
		Usage:   "Bearer token used to authenticate with the collector",
		EnvVars: prefixEnvVars("API_KEY"),
	}
	LaunchName = &cli.StringFlag{
		Name:    "launch-name",
		Usage:   "Name of the launch. Defaults to the name of the run",
		EnvVars: prefixEnvVars("LAUNCH_NAME"),
	}
	LaunchDescription = &cli.StringFlag{
		Name:    "launch-description",
		Usage:   "Description of the launch",
		EnvVars: prefixEnvVars("LAUNCH_DESCRIPTION"),
	}
	LaunchTags = &cli.StringFlag{
		Name:    "launch-tags",
		Usage:   "Comma-separated tags attached to the launch",
		EnvVars: prefixEnvVars("LAUNCH_TAGS"),
	}
	DebugMode = &cli.BoolFlag{
		Name:    "debug-mode",
		Usage:   "Report the launch in debug mode",
		EnvVars: prefixEnvVars("DEBUG_MODE"),
	}
	LogConsole = &cli.BoolFlag{
		Name:    "log-console",
		Value:   true,
		Usage:   "Attach captured test output to the reported tests",
		EnvVars: prefixEnvVars("LOG_CONSOLE"),
	}
	Enabled = &cli.BoolFlag{
		Name:    "enabled",
		Value:   true,
		Usage:   "Enable reporting. When disabled the test command still runs",
		EnvVars: prefixEnvVars("ENABLED"),
	}
	DrainTimeout = &cli.DurationFlag{
		Name:    "drain-timeout",
		Value:   30 * time.Minute,
		Usage:   "Maximum time to wait for pending report operations after the run finished",
		EnvVars: prefixEnvVars("DRAIN_TIMEOUT"),
	}
	DrainTimeoutFatal = &cli.BoolFlag{
		Name:    "drain-timeout-fatal",
		Value:   true,
		Usage:   "Exit with a runtime error when the drain times out",
		EnvVars: prefixEnvVars("DRAIN_TIMEOUT_FATAL"),
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   8,
		Usage:   "Maximum number of concurrent collector requests",
		EnvVars: prefixEnvVars("CONCURRENCY"),
	}
	RateLimit = &cli.Float64Flag{
		Name:    "rate-limit",
		Value:   0,
		Usage:   "Maximum collector requests per second (0 = unlimited)",
		EnvVars: prefixEnvVars("RATE_LIMIT"),
	}
	Retries = &cli.UintFlag{
		Name:    "retries",
		Value:   3,
		Usage:   "Attempts per collector request",
		EnvVars: prefixEnvVars("RETRIES"),
	}
	RequestTimeout = &cli.DurationFlag{
		Name:    "request-timeout",
		Value:   30 * time.Second,
		Usage:   "Timeout of a single collector request",
		EnvVars: prefixEnvVars("REQUEST_TIMEOUT"),
	}
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to a YAML or TOML file with reporter settings. Flags set on the command line take precedence",
		EnvVars: prefixEnvVars("CONFIG"),
	}
	Input = &cli.StringFlag{
		Name:    "input",
		Usage:   "Read `go test -json` output from this file ('-' for stdin) instead of running a command",
		EnvVars: prefixEnvVars("INPUT"),
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Usage:   "Directory to keep the raw test events of each run in",
		EnvVars: prefixEnvVars("LOG_DIR"),
	}
	ModuleDir = &cli.StringFlag{
		Name:    "module-dir",
		Usage:   "Directory holding the go.mod of the tested module, used to shorten suite names",
		EnvVars: prefixEnvVars("MODULE_DIR"),
	}
	HealthzEnabled = &cli.BoolFlag{
		Name:    "healthz.enabled",
		Usage:   "Serve /healthz while the reporter runs",
		EnvVars: prefixEnvVars("HEALTHZ_ENABLED"),
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "0.0.0.0:8080",
		Usage:   "Listen address of the healthz server",
		EnvVars: prefixEnvVars("HEALTHZ_ADDR"),
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	Endpoint,
	Project,
	APIKey,
	LaunchName,
	LaunchDescription,
	LaunchTags,
	DebugMode,
	LogConsole,
	Enabled,
	DrainTimeout,
	DrainTimeoutFatal,
	Concurrency,
	RateLimit,
	Retries,
	RequestTimeout,
	ConfigFile,
	Input,
	LogDir,
	ModuleDir,
	HealthzEnabled,
	HealthzAddr,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
