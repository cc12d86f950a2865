// Package hierarchy tracks which report items are open while a run executes.
//
// Items live in an arena keyed by a monotonically increasing local id. The
// scope stack holds frames that point into the arena. A frame may be a
// placeholder: the implicit root suite of a run and suites whose start was
// canceled push placeholders so that their finish notifications still pair
// up without touching any real item.
package hierarchy

import (
	"errors"
	"time"

	"github.com/ethereum-optimism/infra/op-reporter/dispatch"
	"github.com/ethereum-optimism/infra/op-reporter/types"
)

var ErrNoOpenScope = errors.New("no open scope")

type frame struct {
	id          uint64
	placeholder bool
}

// Tracker is not safe for concurrent use. It is owned by the coordinator,
// which receives lifecycle callbacks sequentially.
type Tracker struct {
	nextID   uint64
	arena    map[uint64]*dispatch.Item
	order    []uint64
	launch   *dispatch.Item
	frames   []frame
	rootSeen bool
}

func NewTracker() *Tracker {
	return &Tracker{arena: make(map[uint64]*dispatch.Item)}
}

// Reset drops all items and frames.
func (t *Tracker) Reset() {
	t.arena = make(map[uint64]*dispatch.Item)
	t.order = nil
	t.launch = nil
	t.frames = nil
	t.rootSeen = false
}

func (t *Tracker) add(kind types.ItemKind, name string, parent *dispatch.Item, start time.Time) *dispatch.Item {
	t.nextID++
	item := dispatch.NewItem(t.nextID, kind, name, parent, start)
	t.arena[item.LocalID()] = item
	t.order = append(t.order, item.LocalID())
	return item
}

// BeginLaunch creates the launch item that parents every root scope.
func (t *Tracker) BeginLaunch(name string, start time.Time) *dispatch.Item {
	t.launch = t.add(types.ItemKindLaunch, name, nil, start)
	return t.launch
}

func (t *Tracker) Launch() *dispatch.Item {
	return t.launch
}

// RootPending reports whether the next suite is the implicit root of the run.
func (t *Tracker) RootPending() bool {
	return !t.rootSeen
}

// SkipRoot consumes the root suite. Its finish pops a placeholder.
func (t *Tracker) SkipRoot() {
	t.rootSeen = true
	t.frames = append(t.frames, frame{placeholder: true})
}

// PushPlaceholder opens a scope that has no report item.
func (t *Tracker) PushPlaceholder() {
	t.frames = append(t.frames, frame{placeholder: true})
}

// BeginScope creates a suite under the current parent and pushes it.
func (t *Tracker) BeginScope(name string, start time.Time) *dispatch.Item {
	item := t.add(types.ItemKindSuite, name, t.CurrentParent(), start)
	t.frames = append(t.frames, frame{id: item.LocalID()})
	return item
}

// NewLeaf creates a step under the current parent without opening a scope.
func (t *Tracker) NewLeaf(name string, start time.Time) *dispatch.Item {
	return t.add(types.ItemKindStep, name, t.CurrentParent(), start)
}

// CurrentParent returns the innermost open suite, or nil when the launch is the parent.
func (t *Tracker) CurrentParent() *dispatch.Item {
	for i := len(t.frames) - 1; i >= 0; i-- {
		if !t.frames[i].placeholder {
			return t.arena[t.frames[i].id]
		}
	}
	return nil
}

// Peek returns the top frame. item is nil for placeholders.
func (t *Tracker) Peek() (item *dispatch.Item, ok bool) {
	if len(t.frames) == 0 {
		return nil, false
	}
	top := t.frames[len(t.frames)-1]
	if top.placeholder {
		return nil, true
	}
	return t.arena[top.id], true
}

// EndScope pops the top frame. item is nil for placeholders.
func (t *Tracker) EndScope() (*dispatch.Item, error) {
	item, ok := t.Peek()
	if !ok {
		return nil, ErrNoOpenScope
	}
	t.frames = t.frames[:len(t.frames)-1]
	return item, nil
}

// Depth is the number of open scopes backed by a report item.
func (t *Tracker) Depth() int {
	depth := 0
	for _, f := range t.frames {
		if !f.placeholder {
			depth++
		}
	}
	return depth
}

// Frames is the number of open scopes including placeholders.
func (t *Tracker) Frames() int {
	return len(t.frames)
}

func (t *Tracker) Item(id uint64) (*dispatch.Item, bool) {
	item, ok := t.arena[id]
	return item, ok
}

// Items returns every item created since the last reset, in creation order.
func (t *Tracker) Items() []*dispatch.Item {
	items := make([]*dispatch.Item, 0, len(t.order))
	for _, id := range t.order {
		items = append(items, t.arena[id])
	}
	return items
}
