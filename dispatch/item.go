package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/infra/op-reporter/types"
)

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Item is one node of the remote hierarchy: the launch, a suite or a step.
// The remote id is written once by the worker running the start operation.
type Item struct {
	localID   uint64
	kind      types.ItemKind
	name      string
	parent    *Item
	startTime time.Time

	remoteID atomic.Pointer[string]
	attached atomic.Bool // counted as an open child of its parent

	mu           sync.Mutex
	start        *Handle
	tail         <-chan struct{}
	finishing    bool
	openChildren int
	childCount   int
	idle         chan struct{}
	endTime      time.Time
	status       types.Status
	failures     []error
}

// NewItem creates an item. parent is nil only for the launch.
func NewItem(localID uint64, kind types.ItemKind, name string, parent *Item, startTime time.Time) *Item {
	return &Item{
		localID:   localID,
		kind:      kind,
		name:      name,
		parent:    parent,
		startTime: startTime,
	}
}

func (it *Item) LocalID() uint64      { return it.localID }
func (it *Item) Kind() types.ItemKind { return it.kind }
func (it *Item) Name() string         { return it.name }
func (it *Item) Parent() *Item        { return it.parent }
func (it *Item) StartTime() time.Time { return it.startTime }

// RemoteID returns the collector id, if the start operation succeeded.
func (it *Item) RemoteID() (string, bool) {
	id := it.remoteID.Load()
	if id == nil {
		return "", false
	}
	return *id, true
}

// Started returns the handle of the item's start operation, nil before it is enqueued.
func (it *Item) Started() *Handle {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.start
}

// Finishing reports whether a finish has been enqueued.
func (it *Item) Finishing() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.finishing
}

// OpenChildren is the number of children whose finish has not settled yet.
func (it *Item) OpenChildren() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.openChildren
}

// ChildCount is the number of children ever started under the item.
func (it *Item) ChildCount() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.childCount
}

// Status is empty until the finish operation has been enqueued.
func (it *Item) Status() types.Status {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.status
}

func (it *Item) EndTime() time.Time {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.endTime
}

// Failures returns the errors of the item's failed operations.
func (it *Item) Failures() []error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return append([]error(nil), it.failures...)
}

// chain appends h to the item's operation sequence and returns the
// completion channel of the operation before it.
func (it *Item) chain(h *Handle) <-chan struct{} {
	it.mu.Lock()
	defer it.mu.Unlock()
	prev := it.tail
	it.tail = h.done
	if h.op == OpStart || h.op == OpStartLaunch {
		it.start = h
	}
	return prev
}

func (it *Item) markFinishing(status types.Status, end time.Time) bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.finishing {
		return false
	}
	it.finishing = true
	it.status = status
	it.endTime = end
	return true
}

func (it *Item) addChild() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.openChildren++
	it.childCount++
}

func (it *Item) childSettled() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.openChildren--
	if it.openChildren == 0 && it.idle != nil {
		close(it.idle)
		it.idle = nil
	}
}

// childrenIdle is closed once no child is open.
func (it *Item) childrenIdle() <-chan struct{} {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.openChildren == 0 {
		return closedCh
	}
	if it.idle == nil {
		it.idle = make(chan struct{})
	}
	return it.idle
}

func (it *Item) recordFailure(err error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.failures = append(it.failures, err)
}

// OpKind names a queued operation.
type OpKind string

const (
	OpStartLaunch  OpKind = "start-launch"
	OpFinishLaunch OpKind = "finish-launch"
	OpStart        OpKind = "start"
	OpLog          OpKind = "log"
	OpUpdate       OpKind = "update"
	OpFinish       OpKind = "finish"
)

// Handle tracks one enqueued operation.
type Handle struct {
	op   OpKind
	item *Item
	done chan struct{}
	err  error
}

func newHandle(op OpKind, item *Item) *Handle {
	return &Handle{op: op, item: item, done: make(chan struct{})}
}

func failedHandle(op OpKind, item *Item, err error) *Handle {
	h := newHandle(op, item)
	h.err = err
	close(h.done)
	return h
}

func (h *Handle) Op() OpKind { return h.op }

// Done is closed when the operation has settled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is the operation's result. Only meaningful once Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the operation settles or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
