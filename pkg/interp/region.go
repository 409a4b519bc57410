package interp

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hyperion-automation/statecore/pkg/chart"
)

// enterParallel starts one Region Sub-Interpreter per child of a parallel
// node, restoring a saved history path when one exists under
// historyMap[parentPath.regionName], and starting fresh otherwise. All
// regions are started concurrently via errgroup, joined before the
// parallel state's own entry is considered complete.
func (it *Interpreter) enterParallel(parentPath chart.StateId, node *chart.StateNode) {
	regions := make(map[string]*Interpreter, len(node.Children))
	var mu sync.Mutex
	var g errgroup.Group

	for name, child := range node.Children {
		name, child := name, child
		g.Go(func() error {
			regionChart := synthesizeRegionChart(it.chart.Id, parentPath, name, child)
			absolutePrefix := joinSeg(it.toAbsolute(parentPath), name)
			sub := New(regionChart, it.context, WithLogger(it.logger), WithID(it.id+"/"+string(joinSeg(parentPath, name))))
			sub.rootPrefix = absolutePrefix

			if saved, ok := it.historyMap[joinSeg(parentPath, name)]; ok {
				sub.startFromHistory(saved)
			} else {
				sub.Start()
			}

			mu.Lock()
			regions[name] = sub
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	it.activeRegions[parentPath] = regions
}

// stepParallel broadcasts event to every active region of the parallel
// node at parentPath concurrently, honoring the law that a broadcast
// event appears to each region as if delivered alone. If any region
// reports a cross-region transition (a target resolving outside the
// region's own namespace), all regions are stopped and the parent
// performs a normal external transition to that target instead.
func (it *Interpreter) stepParallel(parentPath chart.StateId, event chart.EventName, data chart.Value) (StepResult, []OutboundSend) {
	regions := it.activeRegions[parentPath]
	if len(regions) == 0 {
		return StepResult{Success: true, NewState: it.currentStateLocked()}, nil
	}

	var mu sync.Mutex
	var pending []OutboundSend
	var g errgroup.Group

	for _, sub := range regions {
		sub := sub
		g.Go(func() error {
			_, sends := sub.Step(event, data)
			mu.Lock()
			pending = append(pending, sends...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var crossSig *crossRegionSignal
	for _, sub := range regions {
		if sig := sub.takePendingCrossRegion(); sig != nil && crossSig == nil {
			crossSig = sig
		}
	}

	allDone := true
	for _, sub := range regions {
		if !sub.isCompletedSnapshot() {
			allDone = false
			break
		}
	}
	if allDone {
		it.handleRegionsComplete(parentPath)
	}

	if crossSig != nil {
		for _, sub := range regions {
			sub.Stop()
		}
		delete(it.activeRegions, parentPath)
		morePending, err := it.applyExternalTransition(parentPath, crossSig.tr, 0)
		pending = append(pending, morePending...)
		if err != nil {
			return StepResult{Success: false, Error: chart.ActionFailed}, pending
		}
	}

	return StepResult{Success: true, NewState: it.currentStateLocked()}, pending
}

// takePendingCrossRegion atomically reads and clears a cross-region signal
// left by applyExternalTransition, for the owning parallel parent to act on.
func (it *Interpreter) takePendingCrossRegion() *crossRegionSignal {
	it.mu.Lock()
	defer it.mu.Unlock()
	sig := it.pendingCrossRegion
	it.pendingCrossRegion = nil
	return sig
}

func (it *Interpreter) isCompletedSnapshot() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.isCompleted
}

func (it *Interpreter) handleRegionsComplete(parentPath chart.StateId) {
	node, ok := it.nodeAt(parentPath)
	if !ok {
		it.isCompleted = true
		return
	}
	if node.OnDone != nil {
		it.applyExternalTransition(parentPath, *node.OnDone, 0)
		return
	}
	it.isCompleted = true
}

// directRegionTransition sends a DirectTransition to the single region
// named by target's first unresolved region segment under parentPath,
// used when one `on` transition names multiple targets inside a parallel
// scope (4.4.2 step 3). target is expressed in this interpreter's own
// (local) namespace; it is translated into the matching sub-interpreter's
// namespace before being applied there.
func (it *Interpreter) directRegionTransition(parentPath chart.StateId, target chart.StateId) {
	regions := it.activeRegions[parentPath]
	for name, sub := range regions {
		regionRoot := joinSeg(parentPath, name)
		if target == regionRoot {
			sub.forceTo("")
			return
		}
		if isProperPrefix(regionRoot, target) {
			sub.forceTo(target[len(regionRoot)+1:])
			return
		}
	}
}

// forceTo performs a direct region transition: exit current config, enter
// target directly, bypassing the ancestor event-search (the parent has
// already chosen this region and target explicitly). target is already
// expressed in this interpreter's own local namespace.
func (it *Interpreter) forceTo(target chart.StateId) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.applyExternalTransitionLocal(it.currentPath, target, nil, 0)
}

// startFromHistory enters the chart directly at a previously-saved path
// instead of walking Initial children, running entry actions for every
// ancestor of saved in shallow-to-deep order.
func (it *Interpreter) startFromHistory(saved chart.StateId) (string, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.isRunning {
		return string(it.currentPath), nil
	}
	it.isRunning = true

	if it.enterChartRoot() {
		snap := it.snapshotLocked()
		it.notifyLocked(snap)
		return snap.State, nil
	}

	it.currentPath = saved
	entrySet := ancestorChainAscending(saved)
	it.runEntrySet(entrySet)

	snap := it.snapshotLocked()
	it.notifyLocked(snap)
	return snap.State, nil
}

func ancestorChainAscending(path chart.StateId) []chart.StateId {
	chain := ancestorChain(path)
	out := make([]chart.StateId, len(chain))
	for i, p := range chain {
		out[len(chain)-1-i] = p
	}
	return out
}

// synthesizeRegionChart wraps one parallel child as an independent chart
// so it can be run by a plain Interpreter, giving regions the same
// execution engine as any other chart (C5 is a specialization of C4, not
// a separate implementation). node's own Entry/Exit/Always/After/Invoke
// are carried across as RootEntry/RootExit/RootAlways/RootAfter/RootInvoke
// rather than dropped: per 4.4.3 step 7 and 4.4.4, a region is itself one
// of the states entered alongside the parallel's other regions, so its own
// directly-declared behavior must fire exactly as any other entered
// state's would (see Interpreter.enterChartRoot/Stop).
func synthesizeRegionChart(parentId string, parentPath chart.StateId, name string, node *chart.StateNode) *chart.Chart {
	id := parentId + "." + string(joinSeg(parentPath, name))
	return &chart.Chart{
		Id:         id,
		Initial:    node.Initial,
		Kind:       node.Kind,
		States:     node.Children,
		RootOn:     node.On,
		RootEntry:  node.Entry,
		RootExit:   node.Exit,
		RootAlways: node.Always,
		RootAfter:  node.After,
		RootInvoke: node.Invoke,
		Meta:       node.Meta,
		Tags:       node.Tags,
	}
}
