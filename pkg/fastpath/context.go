// Package fastpath is the optimized variant of pkg/interp (C8): a
// precomputed, array-indexed (state, event) lookup table for charts that
// use only atomic/compound states with on/entry/exit/internal/guard/always
// — no parallel, history, invoke or after. Compiling ahead of time trades
// pkg/interp's tree walk for a couple of slice indexes per Step, the same
// tradeoff pkg/fsm makes with its flat map(State)map(Event)*Transition
// table against pkg/statemachine's richer, heavier machinery.
package fastpath

import (
	"sync"

	"github.com/hyperion-automation/statecore/pkg/chart"
)

// GuardFunc evaluates a candidate transition against a read-only view of
// the instance and the event's data.
type GuardFunc func(view SnapshotView, data chart.Value) bool

// ActionFunc runs a named action against the instance's context values and
// may queue cross-instance sends.
type ActionFunc func(ctx *ActionCtx, data chart.Value) error

// SnapshotView is the read-only projection guards are evaluated against.
type SnapshotView interface {
	CurrentState() string
	InState(absolute string) bool
	Value(key string) (interface{}, bool)
}

// OutboundSend is one queued cross-instance send, drained by the
// orchestrator after the originating step commits.
type OutboundSend struct {
	Target  string
	Event   chart.EventName
	Payload chart.Value
}

// Registry is the per-machine registry of named actions and guards plus
// the mutable context values actions read and write — the fastpath
// equivalent of interp.Context, trimmed to the subset this variant
// supports (no services: invoke is out of scope for C8).
type Registry struct {
	mu      sync.RWMutex
	actions map[chart.ActionName]ActionFunc
	guards  map[chart.GuardName]GuardFunc
	values  map[string]interface{}
}

// NewRegistry builds an empty Registry ready for registration.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[chart.ActionName]ActionFunc),
		guards:  make(map[chart.GuardName]GuardFunc),
		values:  make(map[string]interface{}),
	}
}

// RegisterAction registers a named action.
func (r *Registry) RegisterAction(name chart.ActionName, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = fn
}

// RegisterGuard registers a named guard.
func (r *Registry) RegisterGuard(name chart.GuardName, fn GuardFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guards[name] = fn
}

// SetValue seeds an initial context value before Start.
func (r *Registry) SetValue(key string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
}

func (r *Registry) action(name chart.ActionName) (ActionFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.actions[name]
	return fn, ok
}

func (r *Registry) guard(name chart.GuardName) (GuardFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.guards[name]
	return fn, ok
}

func (r *Registry) getValue(key string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	return v, ok
}

func (r *Registry) snapshotValues() chart.Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(chart.Value, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// ActionCtx is handed to every ActionFunc invocation.
type ActionCtx struct {
	reg     *Registry
	pending *[]OutboundSend
}

// Get reads a context value.
func (a *ActionCtx) Get(key string) (interface{}, bool) {
	return a.reg.getValue(key)
}

// Set writes a context value.
func (a *ActionCtx) Set(key string, value interface{}) {
	a.reg.mu.Lock()
	defer a.reg.mu.Unlock()
	a.reg.values[key] = value
}

// RequestSend queues a cross-instance send dispatched once the current
// step commits.
func (a *ActionCtx) RequestSend(target string, event chart.EventName, payload chart.Value) {
	*a.pending = append(*a.pending, OutboundSend{Target: target, Event: event, Payload: payload})
}
