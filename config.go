package reporter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-reporter/client"
	"github.com/ethereum-optimism/infra/op-reporter/flags"
	"github.com/ethereum-optimism/infra/op-reporter/service"
	"github.com/ethereum-optimism/infra/op-reporter/types"
)

// Config holds the application configuration
type Config struct {
	Client            client.Config
	Enabled           bool              // Report to the collector at all
	LaunchName        string            // Overrides the run name when set
	LaunchDescription string            // Description of the launch
	Tags              []types.Attribute // Launch attributes
	DebugMode         bool              // Report the launch in debug mode
	LogConsole        bool              // Attach captured test output to tests
	DrainTimeout      time.Duration     // Bound on the final wait for pending operations
	DrainTimeoutFatal bool              // Exit with a runtime error when the drain times out
	Concurrency       int               // Concurrent collector requests
	Command           []string          // Test command producing `go test -json` output
	Input             string            // File with `go test -json` output, "-" for stdin
	LogDir            string            // Directory for raw event capture, empty disables it
	ModuleDir         string            // Directory of the tested module's go.mod
	Service           service.Config
	Log               log.Logger
}

// FileConfig is the optional config file. Absent keys leave the flag value untouched.
type FileConfig struct {
	Endpoint          *string  `yaml:"endpoint" toml:"endpoint"`
	Project           *string  `yaml:"project" toml:"project"`
	APIKey            *string  `yaml:"api_key" toml:"api_key"`
	LaunchName        *string  `yaml:"launch_name" toml:"launch_name"`
	LaunchDescription *string  `yaml:"launch_description" toml:"launch_description"`
	LaunchTags        []string `yaml:"launch_tags" toml:"launch_tags"`
	DebugMode         *bool    `yaml:"debug_mode" toml:"debug_mode"`
	LogConsole        *bool    `yaml:"log_console" toml:"log_console"`
	Enabled           *bool    `yaml:"enabled" toml:"enabled"`
	DrainTimeout      *string  `yaml:"drain_timeout" toml:"drain_timeout"`
	Concurrency       *int     `yaml:"concurrency" toml:"concurrency"`
	RateLimit         *float64 `yaml:"rate_limit" toml:"rate_limit"`
	Retries           *uint    `yaml:"retries" toml:"retries"`
	RequestTimeout    *string  `yaml:"request_timeout" toml:"request_timeout"`
}

// LoadFileConfig reads a YAML (.yaml, .yml) or TOML (.toml) config file.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc FileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &fc); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}
	return &fc, nil
}

// NewConfig creates a new Config from cli context. Values from --config
// apply to every setting that was not set by flag or environment.
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	cfg := &Config{
		Client: client.Config{
			Endpoint:       ctx.String(flags.Endpoint.Name),
			Project:        ctx.String(flags.Project.Name),
			APIKey:         ctx.String(flags.APIKey.Name),
			RequestTimeout: ctx.Duration(flags.RequestTimeout.Name),
			RateLimit:      ctx.Float64(flags.RateLimit.Name),
			Retries:        ctx.Uint(flags.Retries.Name),
		},
		Enabled:           ctx.Bool(flags.Enabled.Name),
		LaunchName:        ctx.String(flags.LaunchName.Name),
		LaunchDescription: ctx.String(flags.LaunchDescription.Name),
		Tags:              types.ParseTags(ctx.String(flags.LaunchTags.Name)),
		DebugMode:         ctx.Bool(flags.DebugMode.Name),
		LogConsole:        ctx.Bool(flags.LogConsole.Name),
		DrainTimeout:      ctx.Duration(flags.DrainTimeout.Name),
		DrainTimeoutFatal: ctx.Bool(flags.DrainTimeoutFatal.Name),
		Concurrency:       ctx.Int(flags.Concurrency.Name),
		Command:           ctx.Args().Slice(),
		Input:             ctx.String(flags.Input.Name),
		LogDir:            ctx.String(flags.LogDir.Name),
		ModuleDir:         ctx.String(flags.ModuleDir.Name),
		Service: service.Config{
			HealthzEnabled: ctx.Bool(flags.HealthzEnabled.Name),
			HealthzAddr:    ctx.String(flags.HealthzAddr.Name),
			Metrics:        opmetrics.ReadCLIConfig(ctx),
		},
		Log: log,
	}

	if path := ctx.String(flags.ConfigFile.Name); path != "" {
		fc, err := LoadFileConfig(path)
		if err != nil {
			return nil, err
		}
		if err := cfg.apply(fc, ctx.IsSet); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	}

	if len(cfg.Command) == 0 && cfg.Input == "" {
		return nil, errors.New("a test command or --input is required")
	}
	if len(cfg.Command) > 0 && cfg.Input != "" {
		return nil, errors.New("a test command and --input are mutually exclusive")
	}
	if cfg.LogDir != "" {
		logDir, err := filepath.Abs(cfg.LogDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", cfg.LogDir, err)
		}
		cfg.LogDir = logDir
	}
	return cfg, nil
}

// apply copies file values into cfg for every setting isSet reports unset.
func (c *Config) apply(fc *FileConfig, isSet func(name string) bool) error {
	setString := func(flag string, dst *string, v *string) {
		if v != nil && !isSet(flag) {
			*dst = *v
		}
	}
	setBool := func(flag string, dst *bool, v *bool) {
		if v != nil && !isSet(flag) {
			*dst = *v
		}
	}
	setDuration := func(flag string, dst *time.Duration, v *string) error {
		if v == nil || isSet(flag) {
			return nil
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("%s: %w", flag, err)
		}
		*dst = d
		return nil
	}

	setString(flags.Endpoint.Name, &c.Client.Endpoint, fc.Endpoint)
	setString(flags.Project.Name, &c.Client.Project, fc.Project)
	setString(flags.APIKey.Name, &c.Client.APIKey, fc.APIKey)
	setString(flags.LaunchName.Name, &c.LaunchName, fc.LaunchName)
	setString(flags.LaunchDescription.Name, &c.LaunchDescription, fc.LaunchDescription)
	setBool(flags.DebugMode.Name, &c.DebugMode, fc.DebugMode)
	setBool(flags.LogConsole.Name, &c.LogConsole, fc.LogConsole)
	setBool(flags.Enabled.Name, &c.Enabled, fc.Enabled)
	if fc.LaunchTags != nil && !isSet(flags.LaunchTags.Name) {
		c.Tags = types.TagsToAttributes(fc.LaunchTags)
	}
	if fc.Concurrency != nil && !isSet(flags.Concurrency.Name) {
		c.Concurrency = *fc.Concurrency
	}
	if fc.RateLimit != nil && !isSet(flags.RateLimit.Name) {
		c.Client.RateLimit = *fc.RateLimit
	}
	if fc.Retries != nil && !isSet(flags.Retries.Name) {
		c.Client.Retries = *fc.Retries
	}
	return errors.Join(
		setDuration(flags.DrainTimeout.Name, &c.DrainTimeout, fc.DrainTimeout),
		setDuration(flags.RequestTimeout.Name, &c.Client.RequestTimeout, fc.RequestTimeout),
	)
}

// Check validates the reporting settings. A failed check disables reporting
// but never stops the tests from running.
func (c *Config) Check() error {
	if err := c.Client.Check(); err != nil {
		return err
	}
	if c.DrainTimeout <= 0 {
		return fmt.Errorf("drain timeout must be positive, got %s", c.DrainTimeout)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.Client.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative, got %v", c.Client.RateLimit)
	}
	return nil
}
