package reporter

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ethereum-optimism/infra/op-reporter/exitcodes"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitcodes.Success},
		{"test failure", NewTestFailureError("2 failed"), exitcodes.TestFailure},
		{"runtime", NewRuntimeError(errors.New("boom")), exitcodes.RuntimeErr},
		{"wrapped runtime", fmt.Errorf("start: %w", NewRuntimeError(errors.New("boom"))), exitcodes.RuntimeErr},
		{"unclassified", errors.New("other"), exitcodes.TestFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestErrorTypes(t *testing.T) {
	inner := errors.New("no such file")
	rt := NewRuntimeError(inner)
	assert.Equal(t, "runtime error: no such file", rt.Error())
	assert.ErrorIs(t, rt, inner)
	assert.True(t, IsRuntimeError(rt))
	assert.False(t, IsTestFailureError(rt))

	tf := NewTestFailureError("1 failed")
	assert.Equal(t, "test failure: 1 failed", tf.Error())
	assert.True(t, IsTestFailureError(fmt.Errorf("wrapped: %w", tf)))
	assert.False(t, IsRuntimeError(tf))
	assert.False(t, IsRuntimeError(nil))
}
