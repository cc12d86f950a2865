package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ethereum-optimism/infra/op-reporter/types"
)

func TestHookOrderAndCancel(t *testing.T) {
	var calls []string
	var hook Hook[string, int]
	hook.OnBefore(func(p string) Decision {
		calls = append(calls, "first:"+p)
		return Proceed
	})
	hook.OnBefore(func(p string) Decision {
		calls = append(calls, "second:"+p)
		return Cancel
	})
	hook.OnBefore(func(p string) Decision {
		calls = append(calls, "third:"+p)
		return Proceed
	})

	assert.Equal(t, Cancel, hook.Before("x"))
	assert.Equal(t, []string{"first:x", "second:x", "third:x"}, calls)
}

func TestHookProceedWithoutObservers(t *testing.T) {
	var hook Hook[int, int]
	assert.Equal(t, Proceed, hook.Before(1))
	assert.NotPanics(t, func() { hook.After(1, 2) })
}

func TestHookAfter(t *testing.T) {
	var got []int
	var hook Hook[string, int]
	hook.OnAfter(func(_ string, r int) { got = append(got, r) })
	hook.OnAfter(func(_ string, r int) { got = append(got, r*10) })
	hook.After("x", 4)
	assert.Equal(t, []int{4, 40}, got)
}

func TestGatewayPayloadIsCopied(t *testing.T) {
	g := New()
	g.SuiteStarted.OnBefore(func(e ItemStartedEvent) Decision {
		e.Request.Name = "mutated"
		return Proceed
	})
	ev := ItemStartedEvent{Request: types.StartItemRequest{Name: "suite"}}
	assert.Equal(t, Proceed, g.SuiteStarted.Before(ev))
	assert.Equal(t, "suite", ev.Request.Name)
	assert.Equal(t, "cancel", Cancel.String())
}
