// Package clienttest provides in-memory collectors for tests.
package clienttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-reporter/client"
	"github.com/ethereum-optimism/infra/op-reporter/types"
)

// Op names a collector call.
type Op string

const (
	OpStartLaunch  Op = "start-launch"
	OpFinishLaunch Op = "finish-launch"
	OpStartItem    Op = "start-item"
	OpUpdateItem   Op = "update-item"
	OpFinishItem   Op = "finish-item"
	OpAddLog       Op = "add-log"
)

// ErrInjected is the error returned for calls selected by FailWhen.
var ErrInjected = errors.New("injected collector failure")

// Call is one recorded collector call. Seq orders calls by completion.
type Call struct {
	Seq      int64
	Op       Op
	ID       string // Id of the item the call targets or created
	ParentID string
	Name     string
	Status   types.Status
	Level    types.LogLevel
	Message  string
	Err      error
	Started  time.Time
	Finished time.Time
}

// Recorder is a client.Collector that keeps every call in memory.
type Recorder struct {
	// Delay, when set, returns how long a call sleeps before completing.
	Delay func(op Op, name string) time.Duration
	// FailWhen, when set, makes matching calls return ErrInjected.
	FailWhen func(op Op, name string) bool

	seq atomic.Int64

	mu    sync.Mutex
	calls []Call
	names map[string]string // remote id -> item name
}

var _ client.Collector = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{names: make(map[string]string)}
}

func (r *Recorder) StartLaunch(ctx context.Context, req types.StartLaunchRequest) (string, error) {
	return r.create(ctx, OpStartLaunch, "", req.Name)
}

func (r *Recorder) FinishLaunch(ctx context.Context, launchID string, req types.FinishLaunchRequest) (string, error) {
	err := r.record(ctx, Call{Op: OpFinishLaunch, ID: launchID, Name: r.nameOf(launchID)})
	if err != nil {
		return "", err
	}
	return "launch finished", nil
}

func (r *Recorder) StartItem(ctx context.Context, parentID string, req types.StartItemRequest) (string, error) {
	return r.create(ctx, OpStartItem, parentID, req.Name)
}

func (r *Recorder) UpdateItem(ctx context.Context, itemID string, req types.UpdateItemRequest) error {
	return r.record(ctx, Call{Op: OpUpdateItem, ID: itemID, Name: r.nameOf(itemID), Message: req.Description})
}

func (r *Recorder) FinishItem(ctx context.Context, itemID string, req types.FinishItemRequest) (string, error) {
	err := r.record(ctx, Call{Op: OpFinishItem, ID: itemID, Name: r.nameOf(itemID), Status: req.Status})
	if err != nil {
		return "", err
	}
	return "item finished", nil
}

func (r *Recorder) AddLog(ctx context.Context, req types.LogRequest) error {
	return r.record(ctx, Call{Op: OpAddLog, ID: req.ItemID, Name: r.nameOf(req.ItemID), Level: req.Level, Message: req.Message})
}

func (r *Recorder) create(ctx context.Context, op Op, parentID, name string) (string, error) {
	id := uuid.NewString()
	if err := r.record(ctx, Call{Op: op, ID: id, ParentID: parentID, Name: name}); err != nil {
		return "", err
	}
	r.mu.Lock()
	r.names[id] = name
	r.mu.Unlock()
	return id, nil
}

func (r *Recorder) record(ctx context.Context, call Call) error {
	call.Started = time.Now()
	if r.Delay != nil {
		if d := r.Delay(call.Op, call.Name); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				call.Err = ctx.Err()
			}
		}
	}
	if call.Err == nil && r.FailWhen != nil && r.FailWhen(call.Op, call.Name) {
		call.Err = fmt.Errorf("%s %s: %w", call.Op, call.Name, ErrInjected)
	}
	call.Finished = time.Now()

	r.mu.Lock()
	call.Seq = r.seq.Add(1)
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	return call.Err
}

func (r *Recorder) nameOf(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.names[id]
}

// Calls returns a copy of all recorded calls in completion order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsFor returns the successful calls of the given op.
func (r *Recorder) CallsFor(op Op) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Op == op && c.Err == nil {
			out = append(out, c)
		}
	}
	return out
}

// Find returns the first successful call of op for the named item.
func (r *Recorder) Find(op Op, name string) (Call, bool) {
	for _, c := range r.Calls() {
		if c.Op == op && c.Name == name && c.Err == nil {
			return c, true
		}
	}
	return Call{}, false
}
