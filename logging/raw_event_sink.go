package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	RunDirectoryPrefix = "testrun-"
	RawGoEventsLog     = "raw_go_events.log"
	SummaryLog         = "summary.log"
)

// RawEventSink keeps the raw `go test -json` stream of a run on disk, in the
// same layout op-acceptor uses, so that a run can be replayed with --input.
type RawEventSink struct {
	runID  string
	dir    string
	events *AsyncFile
}

// NewRawEventSink creates {baseDir}/testrun-{runID}/raw_go_events.log.
func NewRawEventSink(baseDir, runID string) (*RawEventSink, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}

	dir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	events, err := NewAsyncFile(filepath.Join(dir, RawGoEventsLog))
	if err != nil {
		return nil, err
	}
	return &RawEventSink{runID: runID, dir: dir, events: events}, nil
}

func (s *RawEventSink) RunID() string {
	return s.runID
}

// Dir is the run directory.
func (s *RawEventSink) Dir() string {
	return s.dir
}

func (s *RawEventSink) EventsPath() string {
	return filepath.Join(s.dir, RawGoEventsLog)
}

// Write appends raw event bytes. It is meant to sit behind an io.TeeReader.
func (s *RawEventSink) Write(p []byte) (int, error) {
	return s.events.Write(p)
}

// WriteSummary stores the rendered run summary next to the events.
func (s *RawEventSink) WriteSummary(summary string) error {
	if err := os.WriteFile(filepath.Join(s.dir, SummaryLog), []byte(summary), 0644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// Close flushes pending events.
func (s *RawEventSink) Close() error {
	if err := s.events.Close(); err != nil {
		return errors.Join(fmt.Errorf("failed to flush raw events for run %s", s.runID), err)
	}
	return nil
}
