package fastpath

import (
	"github.com/hyperion-automation/statecore/pkg/chart"
)

// buildEventTable fills m.table: for every leaf (childless) state and
// every event name used anywhere in the chart, the transition candidates
// bound are those of the closest ancestor (leaf first) whose `on` defines
// that event — a key defined at a closer ancestor does NOT fall through
// past it even if every candidate's guard later fails, matching
// pkg/interp's Step (a defined-but-unmatched `on` entry still stops the
// ancestor search). The chart's RootOn is tried only when no ancestor in
// the chain defines the event at all.
func (m *Machine) buildEventTable(c *chart.Chart) error {
	eventSet := make(map[chart.EventName]bool)
	var collectEvents func(children map[string]*chart.StateNode)
	collectEvents = func(children map[string]*chart.StateNode) {
		for _, node := range children {
			for ev := range node.On {
				eventSet[ev] = true
			}
			if len(node.Children) > 0 {
				collectEvents(node.Children)
			}
		}
	}
	collectEvents(c.States)
	for ev := range c.RootOn {
		eventSet[ev] = true
	}

	idx := 0
	for ev := range eventSet {
		m.eventIndex[ev] = idx
		idx++
	}

	m.table = make([][][]compiledTransition, len(m.states))
	for i := range m.states {
		m.table[i] = make([][]compiledTransition, len(m.eventIndex))
	}

	for leafIdx := range m.states {
		if m.states[leafIdx].defaultLeaf != leafIdx {
			continue // not a leaf; never the active state
		}
		chain := m.states[leafIdx].ancestors
		for ev, evIdx := range m.eventIndex {
			bound := false
			for i := len(chain) - 1; i >= 0; i-- {
				node := m.rawNodes[chain[i]]
				if transitions, ok := node.On[ev]; ok {
					compiled, err := m.compileTransitions(transitions)
					if err != nil {
						return err
					}
					m.table[leafIdx][evIdx] = compiled
					bound = true
					break
				}
			}
			if !bound {
				if transitions, ok := c.RootOn[ev]; ok {
					compiled, err := m.compileTransitions(transitions)
					if err != nil {
						return err
					}
					m.table[leafIdx][evIdx] = compiled
				}
			}
		}
	}
	return nil
}

// compileTransitions resolves each Transition's target to a dense index.
func (m *Machine) compileTransitions(transitions []chart.Transition) ([]compiledTransition, error) {
	out := make([]compiledTransition, 0, len(transitions))
	for _, t := range transitions {
		ct := compiledTransition{
			guard:    t.Guard,
			inState:  string(t.InState),
			actions:  t.Actions,
			internal: t.Internal,
			target:   -1,
		}
		if target, ok := t.SingleTarget(); ok {
			idx, known := m.stateIndex[target]
			if !known {
				return nil, &chart.DefinitionError{Path: string(target), Message: "fastpath: unresolved transition target"}
			}
			ct.target = idx
		}
		out = append(out, ct)
	}
	return out, nil
}
