// Package reporting renders what a reporting run delivered to the collector.
package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-reporter/gotest"
	"github.com/ethereum-optimism/infra/op-reporter/runner"
	"github.com/ethereum-optimism/infra/op-reporter/types"
)

type kindCounts struct {
	items, passed, failed, skipped, open int
}

func (c *kindCounts) add(status types.Status) {
	c.items++
	switch status {
	case types.StatusPassed:
		c.passed++
	case types.StatusFailed:
		c.failed++
	case types.StatusSkipped:
		c.skipped++
	default:
		c.open++
	}
}

// RenderSummary writes a table of reported items by kind and status,
// followed by the drain outcome and every failed collector operation.
func RenderSummary(w io.Writer, s *runner.RunSummary, stats gotest.Stats) {
	counts := map[types.ItemKind]*kindCounts{
		types.ItemKindSuite: {},
		types.ItemKindStep:  {},
	}
	var total kindCounts
	for _, item := range s.Items {
		c, ok := counts[item.Kind()]
		if !ok {
			continue
		}
		status := item.Status()
		c.add(status)
		total.add(status)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Reporting Results: %s (%s)", s.LaunchName, formatDuration(s.DrainElapsed)))
	t.AppendHeader(table.Row{"Type", "Items", "Passed", "Failed", "Skipped", "Unfinished"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Items", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Unfinished", Align: text.AlignRight},
	})
	for _, kind := range []types.ItemKind{types.ItemKindSuite, types.ItemKindStep} {
		c := counts[kind]
		t.AppendRow(table.Row{kindLabel(kind), c.items, c.passed, c.failed, c.skipped, c.open})
	}
	t.AppendFooter(table.Row{"TOTAL", total.items, total.passed, total.failed, total.skipped, total.open})

	switch {
	case s.TimedOut():
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case len(s.Failures) > 0 || total.failed > 0:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}
	t.Render()

	launchID := s.LaunchID
	if launchID == "" {
		launchID = "not acknowledged"
	}
	fmt.Fprintf(w, "Launch:     %s (%s)\n", s.LaunchName, launchID)
	fmt.Fprintf(w, "Tests:      %d packages, %d tests: %d passed, %d failed, %d skipped, %d errored\n",
		stats.Packages, stats.Tests(), stats.Passed, stats.Failed, stats.Skipped, stats.Errored)
	fmt.Fprintf(w, "Operations: %d enqueued, %d outstanding, %d failed\n", s.Enqueued, s.Outstanding, len(s.Failures))
	fmt.Fprintf(w, "Drain:      %s\n", drainStatus(s))
	if s.Aborted != nil {
		fmt.Fprintf(w, "Aborted:    %v\n", s.Aborted)
	}
	if len(s.Failures) > 0 {
		fmt.Fprintln(w, "Failed operations:")
		for _, f := range s.Failures {
			fmt.Fprintf(w, "  - %s\n", f)
		}
	}
}

// SummaryString is RenderSummary into a string.
func SummaryString(s *runner.RunSummary, stats gotest.Stats) string {
	var sb strings.Builder
	RenderSummary(&sb, s, stats)
	return sb.String()
}

func drainStatus(s *runner.RunSummary) string {
	switch {
	case s.TimedOut():
		return fmt.Sprintf("timed out after %s", formatDuration(s.DrainElapsed))
	case len(s.Failures) > 0:
		return fmt.Sprintf("settled with failures in %s", formatDuration(s.DrainElapsed))
	default:
		return fmt.Sprintf("settled in %s", formatDuration(s.DrainElapsed))
	}
}

func kindLabel(kind types.ItemKind) string {
	switch kind {
	case types.ItemKindSuite:
		return "Suite"
	case types.ItemKindStep:
		return "Test"
	default:
		return string(kind)
	}
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
