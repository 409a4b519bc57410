package interp

import (
	"github.com/hyperion-automation/statecore/pkg/chart"
)

// selectTransition picks the first transition whose guard and in-state
// condition both hold, in definition order. An unresolved guard name
// evaluates to false (GuardMissing policy); a warning is logged.
func (it *Interpreter) selectTransition(transitions []chart.Transition, data chart.Value) (chart.Transition, bool) {
	view := it.viewLocked()
	for _, t := range transitions {
		if t.Guard != "" {
			fn, ok := it.context.guard(t.Guard)
			if !ok {
				it.warnf("guard %q unresolved on %s; transition treated as false", t.Guard, it.id)
				continue
			}
			if !fn(view, data) {
				continue
			}
		}
		if t.InState != "" && !it.isInState(t.InState) {
			continue
		}
		return t, true
	}
	return chart.Transition{}, false
}

func (it *Interpreter) viewLocked() SnapshotView {
	return snapshotView{it}
}

type snapshotView struct{ it *Interpreter }

func (v snapshotView) CurrentState() string { return v.it.currentStateLocked() }
func (v snapshotView) InState(abs string) bool {
	return v.it.isInState(chart.StateId(abs))
}
func (v snapshotView) Value(key string) (interface{}, bool) { return v.it.context.getValue(key) }

// isInState reports whether the instance currently occupies the absolute
// state named by raw (accepting "#id.path", relative paths, and region
// paths), per the in-state condition rules of 4.4.2.
func (it *Interpreter) isInState(raw chart.StateId) bool {
	resolved := chart.ResolveTarget(it.chart.Id, string(it.currentPath), string(raw), it.chart.States)
	if resolved == "" {
		return true
	}
	return it.isInStateAbs(resolved)
}

// isInStateAbs reports whether resolved (an absolute StateId, already
// resolved once against the top-level chart) is occupied by this
// interpreter or any of its active regions, translating the absolute path
// into each sub-interpreter's own namespace as it recurses.
func (it *Interpreter) isInStateAbs(resolved chart.StateId) bool {
	local, ok := it.toLocal(resolved)
	if ok && (local == it.currentPath || isProperPrefix(local, it.currentPath)) {
		return true
	}
	for _, regions := range it.activeRegions {
		for _, sub := range regions {
			if sub.isInStateAbs(resolved) {
				return true
			}
		}
	}
	return false
}

// runActions executes a list of action references in order, returning the
// queued cross-instance sends any of them produced. Actions operate on
// ActionCtx; unresolved named actions are skipped with a warning
// (ActionMissing policy). The first action error aborts the remainder of
// the list and is returned so the caller can fail the whole step
// (ActionFailed policy). When a transition action fails, currentPath keeps
// its pre-step value; exit actions that already ran, history already saved
// and timers or services already cancelled for the exited states are not
// restored.
func (it *Interpreter) runActions(refs []chart.ActionRef, data chart.Value) ([]OutboundSend, error) {
	var pending []OutboundSend
	actx := &ActionCtx{ctx: it.context, pending: &pending}
	for _, ref := range refs {
		if ref.Inline != nil {
			it.runInline(ref.Inline, actx)
			continue
		}
		fn, ok := it.context.action(ref.Name)
		if !ok {
			it.warnf("action %q unresolved on %s; skipped", ref.Name, it.id)
			continue
		}
		if err := fn(actx, data); err != nil {
			it.errorf("action %q failed on %s: %v", ref.Name, it.id, err)
			return pending, err
		}
	}
	return pending, nil
}

func (it *Interpreter) runInline(inline *chart.InlineAction, actx *ActionCtx) {
	switch inline.Kind {
	case chart.AssignAction:
		for k, v := range inline.Assign {
			actx.Set(k, v)
		}
	case chart.RaiseAction:
		actx.RequestSend(it.id, inline.Raise, nil)
	case chart.SendAction:
		actx.RequestSend(inline.SendTarget, inline.SendEvent, inline.SendPayload)
	}
}

// computeInitialEntrySet walks from node (the chart root, path "") down
// through Initial children until it reaches an Atomic, Final or Parallel
// node, returning every intermediate path shallow-to-deep. The root itself
// descends even when its Kind is left at the zero value (Atomic).
func (it *Interpreter) computeInitialEntrySet(node *chart.StateNode, path chart.StateId) []chart.StateId {
	var out []chart.StateId
	cur := node
	curPath := path
	for {
		if curPath != "" {
			out = append(out, curPath)
		}
		switch cur.Kind {
		case chart.Parallel, chart.Final:
			return out
		case chart.Atomic:
			if curPath != "" {
				return out
			}
		}
		child, ok := cur.Children[cur.Initial]
		if !ok {
			return out
		}
		curPath = joinSeg(curPath, cur.Initial)
		cur = child
	}
}

// pathFromLCAto descends from a compound node at lca down to target via
// Initial children whenever target itself names a compound without
// passing through an explicit leaf, returning the shallow-to-deep
// entry set starting just below lca.
func (it *Interpreter) pathFromLCAto(lca, target chart.StateId) []chart.StateId {
	segments := pathSegmentsBetween(lca, target)
	var out []chart.StateId
	cur := lca
	for _, seg := range segments {
		cur = joinSeg(cur, seg)
		out = append(out, cur)
	}
	// If target itself is compound/parallel, keep descending via Initial.
	node, ok := it.nodeAt(cur)
	for ok && (node.Kind == chart.Compound) && node.Initial != "" {
		cur = joinSeg(cur, node.Initial)
		out = append(out, cur)
		node, ok = it.nodeAt(cur)
	}
	return out
}

func pathSegmentsBetween(lca, target chart.StateId) []string {
	lcaStr := string(lca)
	targetStr := string(target)
	if lcaStr == "" {
		return splitNonEmpty(targetStr)
	}
	if len(targetStr) <= len(lcaStr) {
		return nil
	}
	return splitNonEmpty(targetStr[len(lcaStr)+1:])
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

// resolveHistoryTarget replaces a target ending at a history pseudo-state
// with its saved path, its documented default, or the parent's initial,
// in that order.
func (it *Interpreter) resolveHistoryTarget(target chart.StateId) chart.StateId {
	node, ok := it.nodeAt(target)
	if !ok || node.Kind != chart.History {
		return target
	}
	parent := parentOf(target)
	if saved, ok := it.historyMap[parent]; ok {
		return saved
	}
	if node.HistoryDefault != "" {
		return node.HistoryDefault
	}
	parentNode, ok := it.nodeAt(parent)
	if ok && parentNode.Initial != "" {
		return joinSeg(parent, parentNode.Initial)
	}
	return parent
}
