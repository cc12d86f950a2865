package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-reporter/types"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "nil error", err: nil},
		{name: "simple error", err: errors.New("test error")},
		{name: "error with special chars", err: errors.New("test@error#123")},
		{name: "error with multiple spaces", err: errors.New("test   error")},
	}

	validLabelRegex := regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errToLabel(tt.err)
			assert.Regexp(t, validLabelRegex, result)
		})
	}
}

func TestMetricsRecording(t *testing.T) {
	m := NewMetrics()

	m.RecordOperation("start", 10*time.Millisecond, nil)
	m.RecordOperation("start", 10*time.Millisecond, errors.New("boom"))
	m.RecordOperation("log", time.Millisecond, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("start", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("start", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("log", "success")))

	for i := 0; i < 4; i++ {
		m.RecordEnqueued()
	}
	m.RecordSettled()
	assert.Equal(t, 3.0, testutil.ToFloat64(m.outstanding))

	m.RecordItem(types.ItemKindStep, types.StatusFailed)
	m.RecordItem(types.ItemKindStep, types.StatusFailed)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.items.WithLabelValues("STEP", "FAILED")))

	m.RecordDrain(2*time.Second, "timeout")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.drainDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drains.WithLabelValues("timeout")))

	m.RecordTests(3, 1, 2)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.tests.WithLabelValues("passed")))

	m.RecordErrorDetails("drain", nil)
	m.RecordErrorDetails("drain", errors.New("timed out"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues("drain.timed_out")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	assert.NotEmpty(t, m.Document())
}

func TestNoopMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		NoopMetrics.RecordOperation("start", time.Second, nil)
		NoopMetrics.RecordEnqueued()
		NoopMetrics.RecordSettled()
		NoopMetrics.RecordItem(types.ItemKindSuite, types.StatusPassed)
		NoopMetrics.RecordDrain(time.Second, "ok")
		NoopMetrics.RecordTests(1, 1, 1)
		NoopMetrics.RecordErrorDetails("x", errors.New("y"))
	})
}
