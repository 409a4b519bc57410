package interp

import (
	"github.com/hyperion-automation/statecore/pkg/chart"
)

// invocation tracks the one in-flight service a state may have invoked,
// per 4.4.7: at most one invoked service per state, released before the
// owning interpreter's next step runs to completion, any pending result
// discarded once stopped.
type invocation struct {
	done chan struct{}
}

// startInvoke launches invoke.Service as an independent, cancellable task
// and wires its eventual completion back into this interpreter. The
// caller already holds it.mu (startInvoke only runs from inside
// runEntrySetCollecting); the goroutine below re-acquires it when the
// service eventually finishes, since that happens on its own schedule.
func (it *Interpreter) startInvoke(path chart.StateId, invoke *chart.Invoke) {
	fn, ok := it.context.service(invoke.Service)
	if !ok {
		it.warnf("service %q unresolved on %s; invoke skipped (ServiceFailed)", invoke.Service, it.id)
		return
	}

	done := make(chan struct{})
	inv := &invocation{done: done}
	it.activeInvokes[path] = inv
	svcCtx := &ServiceCtx{Done: done, Values: it.context.snapshotValues()}

	go func() {
		result, err := fn(svcCtx)

		it.mu.Lock()
		defer it.mu.Unlock()

		if it.activeInvokes[path] != inv || !it.isRunning {
			return
		}
		delete(it.activeInvokes, path)

		var tr *chart.Transition
		if err != nil {
			if invoke.OnError == nil {
				it.warnf("service %q failed on %s: %v (ServiceFailed)", invoke.Service, path, err)
				return
			}
			tr = invoke.OnError
		} else {
			if result != nil {
				it.context.SetValue(string(invoke.Service)+".result", result)
			}
			if invoke.OnDone == nil {
				return
			}
			tr = invoke.OnDone
		}

		pending, aerr := it.applyExternalTransition(path, *tr, 0)
		if aerr != nil {
			it.errorf("invoke completion transition at %s failed: %v", path, aerr)
		}
		if len(pending) > 0 && it.onAsyncSend != nil {
			it.onAsyncSend(pending)
		}
	}()
}

// stopInvoke releases the service invoked at path, if any, discarding any
// result it produces after this point. The caller already holds it.mu.
func (it *Interpreter) stopInvoke(path chart.StateId) {
	inv, ok := it.activeInvokes[path]
	if !ok {
		return
	}
	close(inv.done)
	delete(it.activeInvokes, path)
}
