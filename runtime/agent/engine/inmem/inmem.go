// Package inmem implements engine.Engine with plain Go channels, the
// default backend used by the run orchestrator, the example, and tests. It
// trades durability across process restarts for simplicity, the same
// tradeoff the teacher's engine/inmem package makes relative to
// engine/temporal.
package inmem

import (
	"context"
	"reflect"
	"sync"

	"goatomic.dev/runtime/runtime/agent/engine"
)

type channel struct {
	ch chan any
}

func newChannel() *channel { return &channel{ch: make(chan any, 8)} }

func (c *channel) Receive(ctx context.Context, dest any) error {
	select {
	case v := <-c.ch:
		return assign(dest, v)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *channel) ReceiveAsync(dest any) bool {
	select {
	case v := <-c.ch:
		_ = assign(dest, v)
		return true
	default:
		return false
	}
}

func (c *channel) Send(ctx context.Context, value any) error {
	select {
	case c.ch <- value:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func assign(dest any, value any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return nil
	}
	vv := reflect.ValueOf(value)
	if vv.IsValid() && vv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(vv)
	}
	return nil
}

// Engine is the in-memory engine.Engine implementation: one map of named
// channels per run, guarded by a single mutex (runs are expected to be few
// relative to signal traffic per run).
type Engine struct {
	mu   sync.Mutex
	runs map[string]map[string]*channel
}

// New constructs an empty in-memory Engine.
func New() *Engine {
	return &Engine{runs: make(map[string]map[string]*channel)}
}

// SignalChannel implements engine.Engine.
func (e *Engine) SignalChannel(runID, name string) engine.SignalChannel {
	e.mu.Lock()
	defer e.mu.Unlock()
	chans, ok := e.runs[runID]
	if !ok {
		chans = make(map[string]*channel)
		e.runs[runID] = chans
	}
	c, ok := chans[name]
	if !ok {
		c = newChannel()
		chans[name] = c
	}
	return c
}

// Forget implements engine.Engine.
func (e *Engine) Forget(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, runID)
}
