// Package dispatch runs collector operations off the caller's goroutine.
//
// Operations for one item run in enqueue order. A child's start waits for its
// parent's start to settle and an item's finish waits for every child finish
// to settle. Unrelated branches proceed concurrently, bounded by a semaphore.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/semaphore"

	"github.com/ethereum-optimism/infra/op-reporter/client"
	"github.com/ethereum-optimism/infra/op-reporter/metrics"
	"github.com/ethereum-optimism/infra/op-reporter/types"
)

const DefaultConcurrency = 8

type Config struct {
	Collector   client.Collector
	Log         log.Logger
	Metrics     metrics.Metricer
	Concurrency int
}

type Queue struct {
	ctx       context.Context
	collector client.Collector
	log       log.Logger
	metrics   metrics.Metricer
	sem       *semaphore.Weighted

	wg          conc.WaitGroup
	outstanding atomic.Int64
	enqueued    atomic.Int64

	mu       sync.Mutex
	launch   *Item
	sealed   bool
	failures []OpFailure

	drainOnce sync.Once
	drained   chan struct{}
}

// NewQueue creates a queue. Operations are never canceled once enqueued;
// per call timeouts belong to the collector.
func NewQueue(cfg Config) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopMetrics
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return &Queue{
		ctx:       context.Background(),
		collector: cfg.Collector,
		log:       cfg.Log.New("component", "dispatch"),
		metrics:   cfg.Metrics,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		drained:   make(chan struct{}),
	}
}

// StartLaunch enqueues the launch start. A queue carries a single launch.
func (q *Queue) StartLaunch(launch *Item, req types.StartLaunchRequest) *Handle {
	q.mu.Lock()
	if q.sealed || q.launch != nil {
		q.mu.Unlock()
		return q.reject(OpStartLaunch, launch, ErrQueueSealed)
	}
	q.launch = launch
	q.mu.Unlock()

	h := newHandle(OpStartLaunch, launch)
	prev := launch.chain(h)
	q.spawn(h, []<-chan struct{}{prev}, func(ctx context.Context) error {
		id, err := q.collector.StartLaunch(ctx, req)
		if err != nil {
			return err
		}
		launch.remoteID.Store(&id)
		return nil
	})
	return h
}

// Start enqueues the start of item under its parent.
func (q *Queue) Start(item *Item, req types.StartItemRequest) *Handle {
	launch, err := q.current()
	if err != nil {
		return q.reject(OpStart, item, err)
	}
	parent := item.parent
	if parent == nil {
		parent = launch
	}
	parentStart := parent.Started()
	if parentStart == nil {
		return q.reject(OpStart, item, ErrParentNotStarted)
	}
	if parent.Finishing() {
		return q.reject(OpStart, item, ErrItemFinished)
	}

	parent.addChild()
	item.attached.Store(true)
	h := newHandle(OpStart, item)
	prev := item.chain(h)
	q.spawn(h, []<-chan struct{}{prev, parentStart.Done()}, func(ctx context.Context) error {
		parentID, ok := parent.RemoteID()
		if !ok {
			return ErrParentNotStarted
		}
		if parent == launch {
			parentID = ""
		}
		req.LaunchID, _ = launch.RemoteID()
		req.Type = item.kind
		id, err := q.collector.StartItem(ctx, parentID, req)
		if err != nil {
			return err
		}
		item.remoteID.Store(&id)
		return nil
	})
	return h
}

// Log enqueues a log entry after the item's earlier operations.
func (q *Queue) Log(item *Item, req types.LogRequest) *Handle {
	return q.follow(OpLog, item, func(ctx context.Context, launchID, itemID string) error {
		req.LaunchID = launchID
		req.ItemID = itemID
		return q.collector.AddLog(ctx, req)
	})
}

// Update enqueues an update of the item's description and attributes.
func (q *Queue) Update(item *Item, req types.UpdateItemRequest) *Handle {
	return q.follow(OpUpdate, item, func(ctx context.Context, _, itemID string) error {
		return q.collector.UpdateItem(ctx, itemID, req)
	})
}

func (q *Queue) follow(op OpKind, item *Item, call func(ctx context.Context, launchID, itemID string) error) *Handle {
	launch, err := q.current()
	if err != nil {
		return q.reject(op, item, err)
	}
	if item.Finishing() {
		return q.reject(op, item, ErrItemFinished)
	}
	h := newHandle(op, item)
	prev := item.chain(h)
	q.spawn(h, []<-chan struct{}{prev}, func(ctx context.Context) error {
		itemID, ok := item.RemoteID()
		if !ok {
			return ErrItemNotStarted
		}
		launchID, _ := launch.RemoteID()
		return call(ctx, launchID, itemID)
	})
	return h
}

// Finish enqueues the item's finish. It is sent once the item's earlier
// operations and the finishes of all its children have settled.
func (q *Queue) Finish(item *Item, req types.FinishItemRequest) *Handle {
	launch, err := q.current()
	if err != nil {
		return q.reject(OpFinish, item, err)
	}
	if !item.markFinishing(req.Status, req.EndTime) {
		return q.reject(OpFinish, item, ErrItemFinished)
	}
	h := newHandle(OpFinish, item)
	prev := item.chain(h)
	q.spawn(h, []<-chan struct{}{prev, item.childrenIdle()}, func(ctx context.Context) error {
		itemID, ok := item.RemoteID()
		if !ok {
			return ErrItemNotStarted
		}
		req.LaunchID, _ = launch.RemoteID()
		_, err := q.collector.FinishItem(ctx, itemID, req)
		return err
	})
	return h
}

// FinishLaunch enqueues the launch finish and seals the queue.
func (q *Queue) FinishLaunch(req types.FinishLaunchRequest) *Handle {
	q.mu.Lock()
	launch := q.launch
	if q.sealed || launch == nil {
		q.mu.Unlock()
		if launch == nil {
			return q.reject(OpFinishLaunch, nil, ErrNoLaunch)
		}
		return q.reject(OpFinishLaunch, launch, ErrQueueSealed)
	}
	q.sealed = true
	q.mu.Unlock()

	launch.markFinishing("", req.EndTime)
	h := newHandle(OpFinishLaunch, launch)
	prev := launch.chain(h)
	q.spawn(h, []<-chan struct{}{prev, launch.childrenIdle()}, func(ctx context.Context) error {
		launchID, ok := launch.RemoteID()
		if !ok {
			return ErrItemNotStarted
		}
		msg, err := q.collector.FinishLaunch(ctx, launchID, req)
		if err != nil {
			return err
		}
		q.log.Debug("Launch finished", "launch", launchID, "msg", msg)
		return nil
	})
	return h
}

// reject records an operation refused at enqueue time.
func (q *Queue) reject(op OpKind, item *Item, err error) *Handle {
	q.recordFailure(op, item, err)
	return failedHandle(op, item, err)
}

func (q *Queue) recordFailure(op OpKind, item *Item, err error) {
	failure := OpFailure{Op: op, Err: err}
	if item != nil {
		item.recordFailure(err)
		failure.Item, failure.Kind = item.name, item.kind
	}
	q.mu.Lock()
	q.failures = append(q.failures, failure)
	q.mu.Unlock()
	q.log.Warn("Collector operation failed", "op", op, "item", failure.Item, "kind", failure.Kind, "err", err)
}

func (q *Queue) current() (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sealed {
		return nil, ErrQueueSealed
	}
	if q.launch == nil {
		return nil, ErrNoLaunch
	}
	return q.launch, nil
}

func (q *Queue) spawn(h *Handle, deps []<-chan struct{}, call func(ctx context.Context) error) {
	q.outstanding.Add(1)
	q.metrics.RecordEnqueued()
	q.enqueued.Add(1)
	q.wg.Go(func() {
		err := errOpPanicked
		defer func() { q.settle(h, err) }()
		err = q.execute(h, deps, call)
	})
}

func (q *Queue) execute(h *Handle, deps []<-chan struct{}, call func(ctx context.Context) error) error {
	for _, dep := range deps {
		if dep != nil {
			<-dep
		}
	}
	if err := q.sem.Acquire(q.ctx, 1); err != nil {
		return err
	}
	defer q.sem.Release(1)

	start := time.Now()
	err := call(q.ctx)
	q.metrics.RecordOperation(string(h.op), time.Since(start), err)
	return err
}

func (q *Queue) settle(h *Handle, err error) {
	h.err = err
	item := h.item
	if err != nil {
		q.recordFailure(h.op, item, err)
	}
	if h.op == OpFinish {
		if err == nil {
			q.metrics.RecordItem(item.kind, item.Status())
		}
		if item.attached.Load() {
			parent := item.parent
			if parent == nil {
				parent = q.launchItem()
			}
			parent.childSettled()
		}
	}
	close(h.done)
	q.outstanding.Add(-1)
	q.metrics.RecordSettled()
}

func (q *Queue) launchItem() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.launch
}

// Outstanding is the number of enqueued operations that have not settled.
func (q *Queue) Outstanding() int64 {
	return q.outstanding.Load()
}

// Enqueued is the number of operations ever enqueued.
func (q *Queue) Enqueued() int64 {
	return q.enqueued.Load()
}

// Failures returns the failed operations recorded so far.
func (q *Queue) Failures() []OpFailure {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]OpFailure(nil), q.failures...)
}

// Await blocks until every enqueued operation has settled or timeout elapses.
// It returns nil, a *TimeoutError or a *FailureSummary. Operations still in
// flight after a timeout keep running in the background.
func (q *Queue) Await(timeout time.Duration) error {
	start := time.Now()
	q.drainOnce.Do(func() {
		go func() {
			if rec := q.wg.WaitAndRecover(); rec != nil {
				q.mu.Lock()
				q.failures = append(q.failures, OpFailure{Item: "queue", Op: "worker", Err: rec.AsError()})
				q.mu.Unlock()
			}
			close(q.drained)
		}()
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q.drained:
	case <-timer.C:
		return &TimeoutError{Elapsed: time.Since(start), Outstanding: q.outstanding.Load()}
	}

	if failures := q.Failures(); len(failures) > 0 {
		return &FailureSummary{Failures: failures}
	}
	return nil
}
