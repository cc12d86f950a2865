package dispatch

import (
	"errors"
	"fmt"
	"hash/fnv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-reporter/client/clienttest"
	"github.com/ethereum-optimism/infra/op-reporter/metrics"
	"github.com/ethereum-optimism/infra/op-reporter/types"
)

type fixture struct {
	t      *testing.T
	rec    *clienttest.Recorder
	queue  *Queue
	nextID uint64
	launch *Item
}

func newFixture(t *testing.T, concurrency int) *fixture {
	rec := clienttest.NewRecorder()
	return &fixture{
		t:   t,
		rec: rec,
		queue: NewQueue(Config{
			Collector:   rec,
			Log:         log.NewLogger(log.DiscardHandler()),
			Concurrency: concurrency,
		}),
	}
}

func (f *fixture) item(kind types.ItemKind, name string, parent *Item) *Item {
	f.nextID++
	return NewItem(f.nextID, kind, name, parent, time.Now())
}

func (f *fixture) startLaunch(name string) *Item {
	f.launch = f.item(types.ItemKindLaunch, name, nil)
	f.queue.StartLaunch(f.launch, types.StartLaunchRequest{Name: name, StartTime: time.Now()})
	return f.launch
}

func (f *fixture) start(kind types.ItemKind, name string, parent *Item) *Item {
	it := f.item(kind, name, parent)
	f.queue.Start(it, types.StartItemRequest{Name: name, StartTime: time.Now()})
	return it
}

func (f *fixture) finish(it *Item, status types.Status) *Handle {
	return f.queue.Finish(it, types.FinishItemRequest{EndTime: time.Now(), Status: status})
}

func (f *fixture) finishLaunch() *Handle {
	return f.queue.FinishLaunch(types.FinishLaunchRequest{EndTime: time.Now()})
}

// jitter delays calls by a pseudo random amount derived from the op and name.
func jitter(op clienttest.Op, name string) time.Duration {
	h := fnv.New32a()
	_, _ = h.Write([]byte(string(op) + name))
	return time.Duration(h.Sum32()%20) * time.Millisecond
}

func seqOf(t *testing.T, rec *clienttest.Recorder, op clienttest.Op, name string) int64 {
	t.Helper()
	call, ok := rec.Find(op, name)
	require.True(t, ok, "missing %s for %s", op, name)
	return call.Seq
}

func TestQueueOrdering(t *testing.T) {
	f := newFixture(t, 4)
	f.rec.Delay = jitter

	launch := f.startLaunch("run")
	outer := f.start(types.ItemKindSuite, "outer", nil)
	inner := f.start(types.ItemKindSuite, "inner", outer)
	tests := make([]*Item, 0, 6)
	for i := 0; i < 3; i++ {
		tests = append(tests, f.start(types.ItemKindStep, fmt.Sprintf("inner-test-%d", i), inner))
	}
	for _, it := range tests {
		f.finish(it, types.StatusPassed)
	}
	f.finish(inner, types.StatusPassed)
	for i := 0; i < 3; i++ {
		it := f.start(types.ItemKindStep, fmt.Sprintf("outer-test-%d", i), outer)
		tests = append(tests, it)
		f.finish(it, types.StatusFailed)
	}
	f.finish(outer, types.StatusFailed)
	f.finishLaunch()

	require.NoError(t, f.queue.Await(10*time.Second))
	assert.Zero(t, f.queue.Outstanding())

	rec := f.rec
	assert.Len(t, rec.CallsFor(clienttest.OpStartItem), 8)
	assert.Len(t, rec.CallsFor(clienttest.OpFinishItem), 8)

	for _, it := range append([]*Item{outer, inner}, tests...) {
		parentName := "run"
		op := clienttest.OpStartLaunch
		if it.Parent() != nil {
			parentName = it.Parent().Name()
			op = clienttest.OpStartItem
		}
		assert.Greater(t, seqOf(t, rec, clienttest.OpStartItem, it.Name()), seqOf(t, rec, op, parentName),
			"%s started before its parent", it.Name())
		assert.Greater(t, seqOf(t, rec, clienttest.OpFinishItem, it.Name()), seqOf(t, rec, clienttest.OpStartItem, it.Name()))
	}
	for _, it := range tests {
		assert.Greater(t, seqOf(t, rec, clienttest.OpFinishItem, it.Parent().Name()), seqOf(t, rec, clienttest.OpFinishItem, it.Name()),
			"parent of %s finished first", it.Name())
	}
	assert.Greater(t, seqOf(t, rec, clienttest.OpFinishItem, "outer"), seqOf(t, rec, clienttest.OpFinishItem, "inner"))

	calls := rec.Calls()
	assert.Equal(t, clienttest.OpFinishLaunch, calls[len(calls)-1].Op)

	innerStart, _ := rec.Find(clienttest.OpStartItem, "inner")
	outerID, _ := outer.RemoteID()
	assert.Equal(t, outerID, innerStart.ParentID)
	outerStart, _ := rec.Find(clienttest.OpStartItem, "outer")
	assert.Empty(t, outerStart.ParentID, "root items are started without a parent id")

	assert.Equal(t, 4, outer.ChildCount())
	assert.Equal(t, 3, inner.ChildCount())
	assert.Zero(t, outer.OpenChildren())
	assert.Equal(t, 1, launch.ChildCount())
}

func TestQueuePerItemOrder(t *testing.T) {
	f := newFixture(t, 8)
	f.rec.Delay = func(op clienttest.Op, name string) time.Duration {
		if op == clienttest.OpAddLog {
			return 5 * time.Millisecond
		}
		return 0
	}

	f.startLaunch("run")
	it := f.start(types.ItemKindStep, "chatty", nil)
	for i := 0; i < 10; i++ {
		f.queue.Log(it, types.LogRequest{Time: time.Now(), Level: types.LogLevelInfo, Message: fmt.Sprintf("line %d", i)})
	}
	f.queue.Update(it, types.UpdateItemRequest{Description: "done"})
	f.finish(it, types.StatusPassed)
	f.finishLaunch()
	require.NoError(t, f.queue.Await(10*time.Second))

	var got []string
	for _, c := range f.rec.Calls() {
		if c.Name == "chatty" {
			got = append(got, string(c.Op)+":"+c.Message)
		}
	}
	want := []string{"start-item:"}
	for i := 0; i < 10; i++ {
		want = append(want, fmt.Sprintf("add-log:line %d", i))
	}
	want = append(want, "update-item:done", "finish-item:")
	assert.Equal(t, want, got)
}

func TestQueueFailureIsolation(t *testing.T) {
	f := newFixture(t, 4)
	f.rec.FailWhen = func(op clienttest.Op, name string) bool {
		return op == clienttest.OpStartItem && name == "broken"
	}

	f.startLaunch("run")
	broken := f.start(types.ItemKindSuite, "broken", nil)
	orphan := f.start(types.ItemKindStep, "orphan", broken)
	healthy := f.start(types.ItemKindSuite, "healthy", nil)
	ok := f.start(types.ItemKindStep, "ok", healthy)
	f.queue.Log(orphan, types.LogRequest{Time: time.Now(), Level: types.LogLevelInfo, Message: "lost"})
	f.finish(orphan, types.StatusPassed)
	f.finish(broken, types.StatusPassed)
	f.finish(ok, types.StatusPassed)
	f.finish(healthy, types.StatusPassed)
	f.finishLaunch()

	err := f.queue.Await(10 * time.Second)
	require.Error(t, err)
	assert.False(t, IsTimeout(err))
	var summary *FailureSummary
	require.ErrorAs(t, err, &summary)

	byItem := make(map[string][]OpKind)
	for _, failure := range summary.Failures {
		byItem[failure.Item] = append(byItem[failure.Item], failure.Op)
	}
	assert.ElementsMatch(t, []OpKind{OpStart, OpFinish}, byItem["broken"])
	assert.ElementsMatch(t, []OpKind{OpStart, OpLog, OpFinish}, byItem["orphan"])
	assert.NotContains(t, byItem, "healthy")
	assert.NotContains(t, byItem, "ok")

	_, found := f.rec.Find(clienttest.OpFinishItem, "healthy")
	assert.True(t, found)
	_, found = f.rec.Find(clienttest.OpFinishLaunch, "run")
	assert.True(t, found, "launch finish is sent despite failures")

	_, hasID := orphan.RemoteID()
	assert.False(t, hasID)
	assert.Len(t, orphan.Failures(), 3)
	for _, e := range orphan.Failures() {
		assert.True(t, errors.Is(e, ErrParentNotStarted) || errors.Is(e, ErrItemNotStarted), e)
	}
}

func TestQueueAwaitTimeout(t *testing.T) {
	f := newFixture(t, 4)
	f.rec.Delay = func(op clienttest.Op, _ string) time.Duration {
		if op == clienttest.OpFinishLaunch {
			return 500 * time.Millisecond
		}
		return 0
	}

	f.startLaunch("run")
	f.finish(f.start(types.ItemKindSuite, "suite", nil), types.StatusPassed)
	f.finishLaunch()

	start := time.Now()
	err := f.queue.Await(20 * time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	require.True(t, IsTimeout(err))
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.GreaterOrEqual(t, timeoutErr.Outstanding, int64(1))
	assert.GreaterOrEqual(t, timeoutErr.Elapsed, 20*time.Millisecond)

	// in-flight work keeps running and a later wait observes it
	require.NoError(t, f.queue.Await(10*time.Second))
}

func TestQueueSealedAfterLaunchFinish(t *testing.T) {
	f := newFixture(t, 1)
	launch := f.startLaunch("run")
	require.NoError(t, f.finishLaunch().Wait(t.Context()))

	late := f.item(types.ItemKindStep, "late", nil)
	h := f.queue.Start(late, types.StartItemRequest{Name: "late"})
	<-h.Done()
	assert.ErrorIs(t, h.Err(), ErrQueueSealed)
	assert.ErrorIs(t, f.finishLaunch().Err(), ErrQueueSealed)
	assert.ErrorIs(t, f.queue.StartLaunch(launch, types.StartLaunchRequest{}).Err(), ErrQueueSealed)

	var summary *FailureSummary
	require.ErrorAs(t, f.queue.Await(time.Second), &summary)
	assert.Len(t, summary.Failures, 3)
}

func TestQueueRejectsWithoutLaunch(t *testing.T) {
	f := newFixture(t, 1)
	it := f.item(types.ItemKindSuite, "suite", nil)
	assert.ErrorIs(t, f.queue.Start(it, types.StartItemRequest{}).Err(), ErrNoLaunch)
	assert.ErrorIs(t, f.finishLaunch().Err(), ErrNoLaunch)
	assert.Zero(t, f.queue.Enqueued())
}

func TestQueueFinishOnce(t *testing.T) {
	f := newFixture(t, 2)
	f.startLaunch("run")
	it := f.start(types.ItemKindStep, "step", nil)
	first := f.finish(it, types.StatusPassed)
	second := f.finish(it, types.StatusFailed)
	assert.ErrorIs(t, second.Err(), ErrItemFinished)
	assert.ErrorIs(t, f.queue.Log(it, types.LogRequest{Message: "late"}).Err(), ErrItemFinished)
	require.NoError(t, first.Wait(t.Context()))
	assert.Equal(t, types.StatusPassed, it.Status())

	f.finishLaunch()
	var summary *FailureSummary
	require.ErrorAs(t, f.queue.Await(time.Second), &summary)
	assert.Len(t, summary.Failures, 2)
}

func TestQueueRunsSiblingsConcurrently(t *testing.T) {
	f := newFixture(t, 8)
	f.rec.Delay = func(op clienttest.Op, _ string) time.Duration {
		if op == clienttest.OpStartItem {
			return 200 * time.Millisecond
		}
		return 0
	}

	f.startLaunch("run")
	start := time.Now()
	for i := 0; i < 5; i++ {
		f.finish(f.start(types.ItemKindSuite, fmt.Sprintf("suite-%d", i), nil), types.StatusPassed)
	}
	f.finishLaunch()
	require.NoError(t, f.queue.Await(10*time.Second))
	assert.Less(t, time.Since(start), 800*time.Millisecond)
}

func TestQueueEnqueueDoesNotBlock(t *testing.T) {
	f := newFixture(t, 1)
	f.rec.Delay = func(clienttest.Op, string) time.Duration { return 50 * time.Millisecond }

	start := time.Now()
	f.startLaunch("run")
	for i := 0; i < 20; i++ {
		it := f.start(types.ItemKindStep, fmt.Sprintf("step-%d", i), nil)
		f.queue.Log(it, types.LogRequest{Message: "x"})
		f.finish(it, types.StatusPassed)
	}
	f.finishLaunch()
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, int64(62), f.queue.Enqueued())
	require.NoError(t, f.queue.Await(30*time.Second))
}

func TestQueueOutstandingGaugeSettles(t *testing.T) {
	m := metrics.NewMetrics()
	rec := clienttest.NewRecorder()
	rec.Delay = jitter
	f := &fixture{
		t:   t,
		rec: rec,
		queue: NewQueue(Config{
			Collector:   rec,
			Log:         log.NewLogger(log.DiscardHandler()),
			Metrics:     m,
			Concurrency: 8,
		}),
	}

	f.startLaunch("run")
	for i := 0; i < 20; i++ {
		suite := f.start(types.ItemKindSuite, fmt.Sprintf("suite-%d", i), nil)
		for j := 0; j < 5; j++ {
			step := f.start(types.ItemKindStep, fmt.Sprintf("step-%d-%d", i, j), suite)
			f.queue.Log(step, types.LogRequest{Time: time.Now(), Level: types.LogLevelInfo, Message: "out"})
			f.finish(step, types.StatusPassed)
		}
		f.finish(suite, types.StatusPassed)
	}
	f.finishLaunch()
	require.NoError(t, f.queue.Await(10*time.Second))

	assert.Zero(t, f.queue.Outstanding())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Outstanding()))
}
