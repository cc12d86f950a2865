package types

import (
	"strings"
	"time"
)

// ItemKind identifies the node type of a report item in the remote hierarchy.
type ItemKind string

const (
	ItemKindLaunch ItemKind = "LAUNCH"
	ItemKindSuite  ItemKind = "SUITE"
	ItemKindStep   ItemKind = "STEP"
)

// LaunchMode controls launch visibility on the collector.
type LaunchMode string

const (
	LaunchModeDefault LaunchMode = "DEFAULT"
	LaunchModeDebug   LaunchMode = "DEBUG"
)

// LogLevel is the severity of a log entry attached to a report item.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Attribute is a key/value tag on a launch or item. Plain tags only carry a value.
type Attribute struct {
	Key   string `json:"key,omitempty" yaml:"key,omitempty" toml:"key,omitempty"`
	Value string `json:"value" yaml:"value" toml:"value"`
}

// ParseTags splits a comma-separated tag list into value-only attributes.
func ParseTags(tags string) []Attribute {
	var attrs []Attribute
	for _, tag := range strings.Split(tags, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		attrs = append(attrs, Attribute{Value: tag})
	}
	return attrs
}

// TagsToAttributes converts plain category names into attributes.
func TagsToAttributes(tags []string) []Attribute {
	if len(tags) == 0 {
		return nil
	}
	attrs := make([]Attribute, 0, len(tags))
	for _, tag := range tags {
		attrs = append(attrs, Attribute{Value: tag})
	}
	return attrs
}

// TestResult is the local result handed to the coordinator when a suite or test finishes.
type TestResult struct {
	Name        string
	Outcome     Outcome
	Message     string // Failure message, empty when the test did not fail
	StackTrace  string
	Description string
	Categories  []string
	Duration    time.Duration
}

// FailureText joins the failure message and stack trace the way they are logged.
func (r TestResult) FailureText() string {
	if r.StackTrace == "" {
		return r.Message
	}
	return r.Message + "\n" + r.StackTrace
}
