// Package interp implements the hierarchical state-chart execution engine:
// an Interpreter that owns one instance's current configuration, history
// map, timers and invoked service, plus the region sub-interpreters that
// run the orthogonal children of a parallel state.
package interp

import (
	"sync"

	"github.com/hyperion-automation/statecore/pkg/chart"
)

// GuardFunc evaluates a candidate transition against a read-only view of
// the instance and the event's data.
type GuardFunc func(view SnapshotView, data chart.Value) bool

// ActionFunc runs a named action. It receives the ActionCtx, through
// which it may read/write context values and queue cross-instance sends;
// actions never deliver events synchronously.
type ActionFunc func(ctx *ActionCtx, data chart.Value) error

// ServiceFunc runs an invoked service as an independent task. It is
// handed a cancellable context and returns either a produced value or an
// error; the interpreter never awaits it inline with a step.
type ServiceFunc func(ctx *ServiceCtx) (chart.Value, error)

// SnapshotView is the read-only projection guards are evaluated against.
type SnapshotView interface {
	CurrentState() string
	InState(absolute string) bool
	Value(key string) (interface{}, bool)
}

// OutboundSend is one queued cross-instance send, produced by an action's
// request_send and drained by the orchestrator after the originating step
// commits.
type OutboundSend struct {
	Target  string
	Event   chart.EventName
	Payload chart.Value
}

// Context is the per-instance registry of named actions, guards and
// services, plus the mutable context values actions read and write. It is
// read-only after startup except for Values, which only action handlers
// running on the interpreter's own goroutine ever touch.
type Context struct {
	mu       sync.RWMutex
	actions  map[chart.ActionName]ActionFunc
	guards   map[chart.GuardName]GuardFunc
	services map[chart.ServiceName]ServiceFunc
	values   map[string]interface{}
}

// NewContext builds an empty Context ready for registration.
func NewContext() *Context {
	return &Context{
		actions:  make(map[chart.ActionName]ActionFunc),
		guards:   make(map[chart.GuardName]GuardFunc),
		services: make(map[chart.ServiceName]ServiceFunc),
		values:   make(map[string]interface{}),
	}
}

// RegisterAction registers a named action.
func (c *Context) RegisterAction(name chart.ActionName, fn ActionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions[name] = fn
}

// RegisterGuard registers a named guard.
func (c *Context) RegisterGuard(name chart.GuardName, fn GuardFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guards[name] = fn
}

// RegisterService registers a named invokable service.
func (c *Context) RegisterService(name chart.ServiceName, fn ServiceFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[name] = fn
}

// SetValue seeds an initial context value before Start.
func (c *Context) SetValue(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

func (c *Context) action(name chart.ActionName) (ActionFunc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.actions[name]
	return fn, ok
}

// guard looks up a guard by name. An unresolved guard name evaluates to
// false per the GuardMissing error policy, so callers treat the bool
// "found" result as "true" only when a real function ran.
func (c *Context) guard(name chart.GuardName) (GuardFunc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.guards[name]
	return fn, ok
}

func (c *Context) service(name chart.ServiceName) (ServiceFunc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.services[name]
	return fn, ok
}

func (c *Context) getValue(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *Context) snapshotValues() chart.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(chart.Value, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// ActionCtx is handed to every ActionFunc invocation.
type ActionCtx struct {
	ctx     *Context
	pending *[]OutboundSend
}

// Get reads a context value.
func (a *ActionCtx) Get(key string) (interface{}, bool) {
	return a.ctx.getValue(key)
}

// Set writes a context value. Only safe from within an action handler,
// which always runs on the owning interpreter's goroutine.
func (a *ActionCtx) Set(key string, value interface{}) {
	a.ctx.mu.Lock()
	defer a.ctx.mu.Unlock()
	a.ctx.values[key] = value
}

// RequestSend queues a cross-instance send to be dispatched by the
// orchestrator once the current step commits. It never delivers
// synchronously, which is what prevents re-entrancy inside one step.
func (a *ActionCtx) RequestSend(target string, event chart.EventName, payload chart.Value) {
	*a.pending = append(*a.pending, OutboundSend{Target: target, Event: event, Payload: payload})
}

// ServiceCtx is handed to an invoked ServiceFunc.
type ServiceCtx struct {
	Done   <-chan struct{}
	Values chart.Value
}
