package interp

import (
	"sync"
	"time"

	"github.com/hyperion-automation/statecore/pkg/chart"
)

// timerService owns every `after` timer currently scheduled for an
// Interpreter, hiding the underlying time.Timer/goroutine wiring the same
// way pkg/core/concurrency hides worker-pool plumbing from its callers.
// A fired timer applies its transition directly against the owning
// interpreter (re-acquiring its lock, since the timer fires on its own
// goroutine), so no caller ever touches a raw channel or goroutine
// directly.
type timerService struct {
	it *Interpreter

	mu     sync.Mutex
	timers map[chart.StateId][]*time.Timer
}

func newTimerService(it *Interpreter) *timerService {
	return &timerService{
		it:     it,
		timers: make(map[chart.StateId][]*time.Timer),
	}
}

// scheduleFor arms one timer per delay in node.After, to fire at most once
// per entry into path. A timer fired after the owning state has been
// exited is a no-op: cancelFor stops a state's timers on exit, and a
// callback already running when cancelFor is called finds in fire that
// path is no longer active and returns without taking any transition.
func (ts *timerService) scheduleFor(path chart.StateId, node *chart.StateNode) {
	if len(node.After) == 0 {
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for delayMs, transitions := range node.After {
		transitions := transitions
		timer := time.AfterFunc(time.Duration(delayMs)*time.Millisecond, func() {
			ts.fire(path, transitions)
		})
		ts.timers[path] = append(ts.timers[path], timer)
	}
}

// fire applies the first matching after-transition directly, bypassing
// the normal ancestor event search since an after timer is already scoped
// to the single state that armed it.
func (ts *timerService) fire(path chart.StateId, transitions []chart.Transition) {
	it := ts.it
	it.mu.Lock()
	defer it.mu.Unlock()

	if !it.isRunning {
		return
	}
	if !(path == it.currentPath || isProperPrefix(path, it.currentPath)) {
		return
	}
	tr, ok := it.selectTransition(transitions, chart.Value{})
	if !ok {
		return
	}
	res, pending := it.dispatch(path, tr, chart.Value{})
	if !res.Success {
		it.warnf("after transition at %s failed: %s", path, res.Error)
	}
	if len(pending) > 0 && it.onAsyncSend != nil {
		it.onAsyncSend(pending)
	}
}

// cancelFor stops every timer armed for path (called when path is exited).
func (ts *timerService) cancelFor(path chart.StateId) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, t := range ts.timers[path] {
		t.Stop()
	}
	delete(ts.timers, path)
}

// cancelAll stops every outstanding timer (called from Interpreter.Stop).
func (ts *timerService) cancelAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, list := range ts.timers {
		for _, t := range list {
			t.Stop()
		}
	}
	ts.timers = make(map[chart.StateId][]*time.Timer)
}
