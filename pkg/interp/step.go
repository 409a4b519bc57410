package interp

import (
	"github.com/antithesishq/antithesis-sdk-go/assert"

	"github.com/hyperion-automation/statecore/pkg/chart"
)

// StepResult is the outcome of delivering one event to an Interpreter,
// mirroring the orchestrator's EventResult but scoped to this instance.
type StepResult struct {
	Success  bool
	NewState string
	Error    chart.ErrorKind
}

// Step delivers (event, data) to the interpreter per the event-step
// algorithm of 4.4.2: ancestor transition search, guard/in-state
// evaluation in definition order, then dispatch (internal, single-target
// external, or parallel direct-region). It returns the queued outbound
// sends produced by the step's actions; the caller (pkg/orchestrator)
// drains them after the step commits.
func (it *Interpreter) Step(event chart.EventName, data chart.Value) (StepResult, []OutboundSend) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if !it.isRunning {
		return StepResult{Success: false, Error: chart.NotStarted}, nil
	}

	// If the deepest active descendant is a parallel node, the parent's
	// own `on` entry wins; otherwise the event broadcasts to all regions.
	if node, ok := it.nodeAt(it.currentPath); ok && node.Kind == chart.Parallel {
		if transitions, ok := node.On[event]; ok {
			if tr, ok := it.selectTransition(transitions, data); ok {
				return it.dispatch(it.currentPath, tr, data)
			}
		}
		return it.stepParallel(it.currentPath, event, data)
	}
	if it.chart.Kind == chart.Parallel && it.currentPath == "" {
		if transitions, ok := it.chart.RootOn[event]; ok {
			if tr, ok := it.selectTransition(transitions, data); ok {
				return it.dispatch("", tr, data)
			}
		}
		return it.stepParallel("", event, data)
	}

	for _, scope := range ancestorChain(it.currentPath) {
		node, ok := it.nodeAt(scope)
		if !ok {
			continue
		}
		if transitions, ok := node.On[event]; ok {
			if tr, ok := it.selectTransition(transitions, data); ok {
				return it.dispatch(scope, tr, data)
			}
			return StepResult{Success: true, NewState: it.currentStateLocked()}, nil
		}
	}
	if transitions, ok := it.chart.RootOn[event]; ok {
		if tr, ok := it.selectTransition(transitions, data); ok {
			return it.dispatch("", tr, data)
		}
	}
	return StepResult{Success: true, NewState: it.currentStateLocked()}, nil
}

// dispatch runs step 3/4 of 4.4.2: internal vs external vs direct-region.
func (it *Interpreter) dispatch(scope chart.StateId, tr chart.Transition, data chart.Value) (StepResult, []OutboundSend) {
	if tr.Internal || len(tr.Targets) == 0 {
		pending, err := it.runActions(tr.Actions, data)
		if err != nil {
			return StepResult{Success: false, Error: chart.ActionFailed}, pending
		}
		return StepResult{Success: true, NewState: it.currentStateLocked()}, pending
	}

	if len(tr.Targets) > 1 {
		node, ok := it.nodeAt(scope)
		if ok && node.Kind == chart.Parallel {
			pending, err := it.runActions(tr.Actions, data)
			if err != nil {
				return StepResult{Success: false, Error: chart.ActionFailed}, pending
			}
			for _, target := range tr.Targets {
				local, ok := it.toLocal(target)
				if !ok {
					local = target
				}
				it.directRegionTransition(scope, local)
			}
			return StepResult{Success: true, NewState: it.currentStateLocked()}, pending
		}
	}

	pending, err := it.applyExternalTransition(scope, tr, 0)
	if err != nil {
		return StepResult{Success: false, Error: chart.ActionFailed}, pending
	}
	assert.Always(it.currentPath != "" || it.chart.Kind == chart.Parallel, "current_config is non-empty after a committed step", map[string]any{
		"chart": it.chart.Id,
	})
	return StepResult{Success: true, NewState: it.currentStateLocked()}, pending
}

// applyExternalTransition runs the external transition procedure of
// 4.4.3 from scope to tr's (possibly history-resolved) target, then
// cascades through any resulting "always" chain up to maxAlwaysDepth.
//
// tr.Targets carries StateIds resolved once, globally, against the full
// chart at parse time. A region sub-interpreter's own namespace is only
// the subtree under its rootPrefix, so a target outside that subtree
// cannot be applied here: it is stashed as pendingCrossRegion for the
// owning parallel parent (stepParallel) to pick up and apply itself.
func (it *Interpreter) applyExternalTransition(scope chart.StateId, tr chart.Transition, depth int) ([]OutboundSend, error) {
	rawTarget, hasTarget := tr.SingleTarget()
	if !hasTarget {
		return nil, nil
	}
	local, ok := it.toLocal(rawTarget)
	if !ok {
		it.pendingCrossRegion = &crossRegionSignal{target: rawTarget, tr: tr}
		return nil, nil
	}
	return it.applyExternalTransitionLocal(scope, local, tr.Actions, depth)
}

// applyExternalTransitionLocal runs the actual exit/entry procedure; scope
// and target are already expressed in this interpreter's own namespace.
func (it *Interpreter) applyExternalTransitionLocal(scope, rawTarget chart.StateId, actions []chart.ActionRef, depth int) ([]OutboundSend, error) {
	target := it.resolveHistoryTarget(rawTarget)
	if _, ok := it.nodeAt(target); ok || target == "" {
		assert.Always(true, "history reference resolves to a node in the chart", map[string]any{
			"chart": it.chart.Id, "target": string(target),
		})
	}

	lca := lcaPath(scope, target)
	if scope == it.currentPath {
		lca = lcaPath(it.currentPath, target)
	}

	exitSet := ancestorChain(it.currentPath)
	var toExit []chart.StateId
	for _, p := range exitSet {
		if p == lca || isProperPrefix(p, lca) {
			break
		}
		toExit = append(toExit, p)
	}

	it.saveHistoryFor(toExit)
	it.cancelExitedTimersAndServices(toExit)

	pending, err := it.runActions(actions, chart.Value{})
	if err != nil {
		return pending, err
	}

	entrySet := it.pathFromLCAto(lca, target)

	it.currentPath = target
	more, entryErr := it.runEntrySetCollecting(entrySet, depth)
	pending = append(pending, more...)
	if entryErr != nil {
		return pending, entryErr
	}

	snap := it.snapshotLocked()
	it.notifyLocked(snap)
	return pending, nil
}

func (it *Interpreter) saveHistoryFor(exited []chart.StateId) {
	for _, p := range exited {
		parent := parentOf(p)
		parentNode, ok := it.nodeAt(parent)
		if !ok {
			continue
		}
		for _, child := range parentNode.Children {
			if child.Kind == chart.History {
				if child.History == chart.Deep {
					it.historyMap[parent] = it.currentPath
				} else {
					it.historyMap[parent] = p
				}
			}
		}
	}
}

func (it *Interpreter) cancelExitedTimersAndServices(exited []chart.StateId) {
	for _, p := range exited {
		node, ok := it.nodeAt(p)
		if !ok {
			continue
		}
		it.runActions(node.Exit, chart.Value{})
		it.timers.cancelFor(p)
		it.stopInvoke(p)
		if regions, ok := it.activeRegions[p]; ok {
			for _, sub := range regions {
				sub.Stop()
			}
			delete(it.activeRegions, p)
		}
	}
}

// runEntrySetCollecting runs entry actions for each path in order,
// evaluating each node's "always" transitions as it goes. Returns the
// outbound sends produced along the way and the first action error, if
// any, encountered while running entry or cascaded transition actions.
func (it *Interpreter) runEntrySetCollecting(pathList []chart.StateId, depth int) ([]OutboundSend, error) {
	var pending []OutboundSend
	for _, p := range pathList {
		node, ok := it.nodeAt(p)
		if !ok {
			continue
		}
		if node.Kind == chart.Parallel {
			it.enterParallel(p, node)
		}
		entryPending, err := it.runActions(node.Entry, chart.Value{})
		pending = append(pending, entryPending...)
		if err != nil {
			return pending, err
		}
		it.timers.scheduleFor(p, node)
		if node.Invoke != nil {
			it.startInvoke(p, node.Invoke)
		}
		if node.Kind == chart.Final {
			it.handleFinalReached(p)
		}

		if len(node.Always) > 0 {
			if depth >= maxAlwaysDepth {
				it.warnf("always cascade at %s exceeded depth %d; terminating chain", p, maxAlwaysDepth)
				continue
			}
			if tr, ok := it.selectTransition(node.Always, chart.Value{}); ok {
				more, err := it.applyExternalTransition(p, tr, depth+1)
				pending = append(pending, more...)
				return pending, err
			}
		}
	}
	return pending, nil
}

// runEntrySet is the Start()-time entry point: no outbound sends are
// expected to escape interpreter construction, so action errors are only
// logged, matching the teacher's fail-soft startup posture.
func (it *Interpreter) runEntrySet(pathList []chart.StateId) {
	if _, err := it.runEntrySetCollecting(pathList, 0); err != nil {
		it.errorf("entry action failed during start of %s: %v", it.id, err)
	}
}

func (it *Interpreter) handleFinalReached(path chart.StateId) {
	parent := parentOf(path)
	if parent == "" {
		it.isCompleted = true
		return
	}
	parentNode, ok := it.nodeAt(parent)
	if !ok {
		return
	}
	if parentNode.OnDone != nil {
		it.applyExternalTransition(parent, *parentNode.OnDone, 0)
		return
	}
	it.isCompleted = true
}
