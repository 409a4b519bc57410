package fastpath

import (
	"github.com/hyperion-automation/statecore/pkg/chart"
)

// compiledTransition is a Transition with its target pre-resolved to a
// dense state index (-1 when internal/targetless).
type compiledTransition struct {
	target   int
	guard    chart.GuardName
	inState  string
	actions  []chart.ActionRef
	internal bool
}

// compiledState is one entry of the dense state table.
type compiledState struct {
	id          chart.StateId
	entry       []chart.ActionRef
	exit        []chart.ActionRef
	ancestors   []int // root..self, inclusive, by dense index
	defaultLeaf int   // self for atomic/final; recursively resolved for compound
	always      []compiledTransition
}

// Machine is a compiled chart ready for Step. Build one with Compile.
type Machine struct {
	chartID string
	reg     *Registry

	states     []compiledState
	rawNodes   []*chart.StateNode
	stateIndex map[chart.StateId]int

	eventIndex map[chart.EventName]int
	// table[stateIdx][eventIdx] holds the transition candidates active for
	// that leaf and event, already bubbled up through every ancestor at
	// compile time (innermost state's own `on` wins, same precedence
	// pkg/interp gives a runtime ancestor walk).
	table [][][]compiledTransition

	current int
}

// Compile builds a Machine from c. It rejects any chart using parallel,
// history, invoke or after — those require the general interpreter
// (pkg/interp) per spec.md 4.4.9.
func Compile(c *chart.Chart, reg *Registry) (*Machine, error) {
	if c.Kind == chart.Parallel {
		return nil, &chart.DefinitionError{Path: c.Id, Message: "fastpath: parallel root unsupported, use pkg/interp"}
	}
	if reg == nil {
		reg = NewRegistry()
	}

	b := &builder{
		stateIndex: make(map[chart.StateId]int),
	}
	if err := b.walk("", c.States, nil); err != nil {
		return nil, err
	}
	if err := b.resolveDefaultLeaves(); err != nil {
		return nil, err
	}

	m := &Machine{
		chartID:    c.Id,
		reg:        reg,
		states:     b.states,
		rawNodes:   b.rawNodes,
		stateIndex: b.stateIndex,
		eventIndex: make(map[chart.EventName]int),
	}
	for i, node := range m.rawNodes {
		compiled, err := m.compileTransitions(node.Always)
		if err != nil {
			return nil, err
		}
		m.states[i].always = compiled
	}
	if err := m.buildEventTable(c); err != nil {
		return nil, err
	}

	initialLeaf, ok := m.stateIndex[joinChild("", c.Initial)]
	if !ok {
		return nil, &chart.DefinitionError{Path: c.Id, Message: "fastpath: unknown initial state " + c.Initial}
	}
	m.current = m.states[initialLeaf].defaultLeaf
	return m, nil
}

type builder struct {
	states     []compiledState
	rawNodes   []*chart.StateNode
	stateIndex map[chart.StateId]int
}

func (b *builder) walk(prefix chart.StateId, children map[string]*chart.StateNode, ancestors []int) error {
	for name, node := range children {
		if node.Kind == chart.Parallel {
			return &chart.DefinitionError{Path: string(prefix) + "." + name, Message: "fastpath: parallel state unsupported, use pkg/interp"}
		}
		if node.Kind == chart.History {
			return &chart.DefinitionError{Path: string(prefix) + "." + name, Message: "fastpath: history state unsupported, use pkg/interp"}
		}
		if node.Invoke != nil {
			return &chart.DefinitionError{Path: string(prefix) + "." + name, Message: "fastpath: invoke unsupported, use pkg/interp"}
		}
		if len(node.After) != 0 {
			return &chart.DefinitionError{Path: string(prefix) + "." + name, Message: "fastpath: after unsupported, use pkg/interp"}
		}

		id := joinChild(prefix, name)
		idx := len(b.states)
		chain := append(append([]int{}, ancestors...), idx)

		b.states = append(b.states, compiledState{
			id:          id,
			entry:       node.Entry,
			exit:        node.Exit,
			ancestors:   chain,
			defaultLeaf: -1,
		})
		b.rawNodes = append(b.rawNodes, node)
		b.stateIndex[id] = idx

		if len(node.Children) > 0 {
			if err := b.walk(id, node.Children, chain); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveDefaultLeaves computes, for every compiled state, the atomic/final
// descendant reached by following Initial chains — itself, if it has none.
func (b *builder) resolveDefaultLeaves() error {
	var resolve func(idx int) (int, error)
	resolving := make(map[int]bool)

	resolve = func(idx int) (int, error) {
		if b.states[idx].defaultLeaf >= 0 {
			return b.states[idx].defaultLeaf, nil
		}
		node := b.rawNodes[idx]
		if len(node.Children) == 0 {
			b.states[idx].defaultLeaf = idx
			return idx, nil
		}
		if resolving[idx] {
			return 0, &chart.DefinitionError{Path: string(b.states[idx].id), Message: "fastpath: initial-chain cycle"}
		}
		resolving[idx] = true
		defer delete(resolving, idx)

		childIdx, ok := b.stateIndex[joinChild(b.states[idx].id, node.Initial)]
		if !ok {
			return 0, &chart.DefinitionError{Path: string(b.states[idx].id), Message: "fastpath: unknown initial child " + node.Initial}
		}
		leaf, err := resolve(childIdx)
		if err != nil {
			return 0, err
		}
		b.states[idx].defaultLeaf = leaf
		return leaf, nil
	}

	for idx := range b.states {
		if _, err := resolve(idx); err != nil {
			return err
		}
	}
	return nil
}

func joinChild(prefix chart.StateId, name string) chart.StateId {
	if prefix == "" {
		return chart.StateId(name)
	}
	return prefix + "." + chart.StateId(name)
}
