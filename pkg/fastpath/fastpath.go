package fastpath

import (
	"github.com/hyperion-automation/statecore/pkg/chart"
)

// maxAlwaysDepth bounds an "always" cascade the same way pkg/interp does.
const maxAlwaysDepth = 10

// StepResult is the outcome of delivering one event, mirroring
// interp.StepResult.
type StepResult struct {
	Success  bool
	NewState string
	Error    chart.ErrorKind
}

// Snapshot is a read-only projection of the machine's current state.
type Snapshot struct {
	State   string
	Context chart.Value
}

// CurrentState returns the dotted id of the active leaf state.
func (m *Machine) CurrentState() string {
	return string(m.states[m.current].id)
}

// InState reports whether absolute is the active leaf or one of its
// ancestors.
func (m *Machine) InState(absolute string) bool {
	id := chart.StateId(absolute)
	idx, ok := m.stateIndex[id]
	if !ok {
		return false
	}
	for _, a := range m.states[m.current].ancestors {
		if a == idx {
			return true
		}
	}
	return false
}

// Value reads a context value.
func (m *Machine) Value(key string) (interface{}, bool) {
	return m.reg.getValue(key)
}

// Snapshot returns the current Snapshot.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{State: m.CurrentState(), Context: m.reg.snapshotValues()}
}

// Start runs entry actions for the initial configuration (root to the
// resolved initial leaf) and any resulting "always" cascade.
func (m *Machine) Start() (string, []OutboundSend) {
	pending, _ := m.runEntryChain(m.states[m.current].ancestors, 0)
	return m.CurrentState(), pending
}

// Step delivers (event, data) per the subset of 4.4.2 this variant
// supports: a single dense-indexed lookup replaces the tree/ancestor walk,
// guard/in-state evaluation happens in definition order exactly as
// pkg/interp does it.
func (m *Machine) Step(event chart.EventName, data chart.Value) (StepResult, []OutboundSend) {
	evIdx, ok := m.eventIndex[event]
	if !ok {
		return StepResult{Success: true, NewState: m.CurrentState()}, nil
	}
	candidates := m.table[m.current][evIdx]
	if candidates == nil {
		return StepResult{Success: true, NewState: m.CurrentState()}, nil
	}
	tr, ok := m.selectTransition(candidates, data)
	if !ok {
		return StepResult{Success: true, NewState: m.CurrentState()}, nil
	}
	return m.apply(tr, 0)
}

func (m *Machine) selectTransition(candidates []compiledTransition, data chart.Value) (compiledTransition, bool) {
	for _, t := range candidates {
		if t.guard != "" {
			fn, ok := m.reg.guard(t.guard)
			if !ok {
				continue
			}
			if !fn(m, data) {
				continue
			}
		}
		if t.inState != "" && !m.InState(t.inState) {
			continue
		}
		return t, true
	}
	return compiledTransition{}, false
}

// apply runs the exit/action/entry sequence for one transition and
// cascades through any resulting "always" chain up to maxAlwaysDepth.
func (m *Machine) apply(tr compiledTransition, depth int) (StepResult, []OutboundSend) {
	if tr.internal || tr.target == -1 {
		pending, err := m.runActions(tr.actions, chart.Value{})
		if err != nil {
			return StepResult{Success: false, Error: chart.ActionFailed}, pending
		}
		return StepResult{Success: true, NewState: m.CurrentState()}, pending
	}

	fromChain := m.states[m.current].ancestors
	toChain := m.states[m.states[tr.target].defaultLeaf].ancestors

	lcaDepth := 0
	for lcaDepth < len(fromChain) && lcaDepth < len(toChain) && fromChain[lcaDepth] == toChain[lcaDepth] {
		lcaDepth++
	}

	var pending []OutboundSend
	for i := len(fromChain) - 1; i >= lcaDepth; i-- {
		exitPending, err := m.runActions(m.states[fromChain[i]].exit, chart.Value{})
		pending = append(pending, exitPending...)
		if err != nil {
			return StepResult{Success: false, Error: chart.ActionFailed}, pending
		}
	}

	actionPending, err := m.runActions(tr.actions, chart.Value{})
	pending = append(pending, actionPending...)
	if err != nil {
		return StepResult{Success: false, Error: chart.ActionFailed}, pending
	}

	m.current = m.states[tr.target].defaultLeaf
	entryPending, err := m.runEntryChain(toChain[lcaDepth:], depth)
	pending = append(pending, entryPending...)
	if err != nil {
		return StepResult{Success: false, Error: chart.ActionFailed}, pending
	}
	return StepResult{Success: true, NewState: m.CurrentState()}, pending
}

// runEntryChain runs entry actions for each state index in order,
// evaluating each one's "always" transitions as it goes — the same
// per-node (not ancestor-bubbled) semantics pkg/interp's
// runEntrySetCollecting uses.
func (m *Machine) runEntryChain(chain []int, depth int) ([]OutboundSend, error) {
	var pending []OutboundSend
	for _, idx := range chain {
		entryPending, err := m.runActions(m.states[idx].entry, chart.Value{})
		pending = append(pending, entryPending...)
		if err != nil {
			return pending, err
		}
		if len(m.states[idx].always) > 0 {
			if depth >= maxAlwaysDepth {
				continue
			}
			if tr, ok := m.selectTransition(m.states[idx].always, chart.Value{}); ok {
				more, err := m.apply2(tr, depth+1)
				pending = append(pending, more...)
				return pending, err
			}
		}
	}
	return pending, nil
}

// apply2 is apply without re-wrapping the result in a StepResult, used
// from inside an always cascade where only sends/errors matter.
func (m *Machine) apply2(tr compiledTransition, depth int) ([]OutboundSend, error) {
	res, pending := m.apply(tr, depth)
	if !res.Success {
		return pending, &chart.DefinitionError{Message: "fastpath: always cascade action failed"}
	}
	return pending, nil
}

func (m *Machine) runActions(actions []chart.ActionRef, data chart.Value) ([]OutboundSend, error) {
	var pending []OutboundSend
	ctx := &ActionCtx{reg: m.reg, pending: &pending}
	for _, ref := range actions {
		if ref.Inline != nil {
			if err := m.runInline(ref.Inline, ctx); err != nil {
				return pending, err
			}
			continue
		}
		fn, ok := m.reg.action(ref.Name)
		if !ok {
			return pending, &chart.DefinitionError{Message: "fastpath: unresolved action " + string(ref.Name)}
		}
		if err := fn(ctx, data); err != nil {
			return pending, err
		}
	}
	return pending, nil
}

func (m *Machine) runInline(inline *chart.InlineAction, ctx *ActionCtx) error {
	switch inline.Kind {
	case chart.AssignAction:
		for k, v := range inline.Assign {
			ctx.Set(k, v)
		}
	case chart.SendAction:
		ctx.RequestSend(inline.SendTarget, inline.SendEvent, inline.SendPayload)
	case chart.RaiseAction:
		// A raised event re-enters Step synchronously against the state
		// reached so far; unlike pkg/interp's internal event queue this
		// variant does not support raise-during-raise loops deeper than
		// one level, matching its restricted supported-feature set.
		res, pending := m.Step(inline.Raise, chart.Value{})
		*ctx.pending = append(*ctx.pending, pending...)
		if !res.Success {
			return &chart.DefinitionError{Message: "fastpath: raised event " + string(inline.Raise) + " failed"}
		}
	}
	return nil
}
