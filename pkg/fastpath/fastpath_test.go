package fastpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperion-automation/statecore/pkg/chart"
)

func linearChart() *chart.Chart {
	return &chart.Chart{
		Id:      "light",
		Initial: "red",
		States: map[string]*chart.StateNode{
			"red": {
				Name: "red",
				On: map[chart.EventName][]chart.Transition{
					"NEXT": {{Targets: []chart.StateId{"green"}}},
				},
			},
			"green": {
				Name: "green",
				On: map[chart.EventName][]chart.Transition{
					"NEXT": {{Targets: []chart.StateId{"yellow"}}},
				},
			},
			"yellow": {
				Name: "yellow",
				On: map[chart.EventName][]chart.Transition{
					"NEXT": {{Targets: []chart.StateId{"red"}}},
				},
			},
		},
	}
}

func TestCompile_RejectsParallelRoot(t *testing.T) {
	c := &chart.Chart{Id: "p", Kind: chart.Parallel, Initial: ""}
	_, err := Compile(c, nil)
	require.Error(t, err)
	var defErr *chart.DefinitionError
	assert.ErrorAs(t, err, &defErr)
}

func TestCompile_RejectsNestedParallel(t *testing.T) {
	c := &chart.Chart{
		Id:      "m",
		Initial: "a",
		States: map[string]*chart.StateNode{
			"a": {Name: "a", Kind: chart.Parallel, Children: map[string]*chart.StateNode{
				"r1": {Name: "r1"},
			}},
		},
	}
	_, err := Compile(c, nil)
	assert.Error(t, err)
}

func TestCompile_RejectsHistory(t *testing.T) {
	c := &chart.Chart{
		Id:      "m",
		Initial: "a",
		States: map[string]*chart.StateNode{
			"a": {Name: "a", Kind: chart.History},
		},
	}
	_, err := Compile(c, nil)
	assert.Error(t, err)
}

func TestCompile_RejectsInvoke(t *testing.T) {
	c := &chart.Chart{
		Id:      "m",
		Initial: "a",
		States: map[string]*chart.StateNode{
			"a": {Name: "a", Invoke: &chart.Invoke{Service: "svc"}},
		},
	}
	_, err := Compile(c, nil)
	assert.Error(t, err)
}

func TestCompile_RejectsAfter(t *testing.T) {
	c := &chart.Chart{
		Id:      "m",
		Initial: "a",
		States: map[string]*chart.StateNode{
			"a": {Name: "a", After: map[int][]chart.Transition{100: {{Targets: []chart.StateId{"a"}}}}},
		},
	}
	_, err := Compile(c, nil)
	assert.Error(t, err)
}

func TestMachine_StartEntersInitialState(t *testing.T) {
	m, err := Compile(linearChart(), nil)
	require.NoError(t, err)

	state, _ := m.Start()
	assert.Equal(t, "red", state)
}

func TestMachine_StepAdvancesThroughDenseTable(t *testing.T) {
	m, err := Compile(linearChart(), nil)
	require.NoError(t, err)
	m.Start()

	res, _ := m.Step("NEXT", nil)
	assert.True(t, res.Success)
	assert.Equal(t, "green", res.NewState)

	res, _ = m.Step("NEXT", nil)
	assert.Equal(t, "yellow", res.NewState)

	res, _ = m.Step("NEXT", nil)
	assert.Equal(t, "red", res.NewState)
}

func TestMachine_UnknownEventIsANoop(t *testing.T) {
	m, err := Compile(linearChart(), nil)
	require.NoError(t, err)
	m.Start()

	res, sends := m.Step("BOGUS", nil)
	assert.True(t, res.Success)
	assert.Equal(t, "red", res.NewState)
	assert.Empty(t, sends)
}

func TestMachine_AncestorOnBindsClosestDefiningAncestor(t *testing.T) {
	c := &chart.Chart{
		Id:      "wizard",
		Initial: "step1",
		States: map[string]*chart.StateNode{
			"step1": {
				Name:    "step1",
				Kind:    chart.Compound,
				Initial: "intro",
				On: map[chart.EventName][]chart.Transition{
					"CANCEL": {{Targets: []chart.StateId{"cancelled"}}},
				},
				Children: map[string]*chart.StateNode{
					"intro": {Name: "intro"},
				},
			},
			"cancelled": {Name: "cancelled"},
		},
	}

	m, err := Compile(c, nil)
	require.NoError(t, err)
	state, _ := m.Start()
	require.Equal(t, "step1.intro", state)

	res, _ := m.Step("CANCEL", nil)
	assert.Equal(t, "cancelled", res.NewState)
}

func TestMachine_ChildOnEventStopsAncestorSearchEvenWhenGuardFails(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterGuard("never", func(view SnapshotView, data chart.Value) bool { return false })

	c := &chart.Chart{
		Id:      "wizard",
		Initial: "step1",
		States: map[string]*chart.StateNode{
			"step1": {
				Name:    "step1",
				Kind:    chart.Compound,
				Initial: "intro",
				On: map[chart.EventName][]chart.Transition{
					"GO": {{Targets: []chart.StateId{"outer_target"}}},
				},
				Children: map[string]*chart.StateNode{
					"intro": {
						Name: "intro",
						On: map[chart.EventName][]chart.Transition{
							"GO": {{Targets: []chart.StateId{"step1.never_reached"}, Guard: "never"}},
						},
					},
					"never_reached": {Name: "never_reached"},
				},
			},
			"outer_target": {Name: "outer_target"},
		},
	}

	m, err := Compile(c, reg)
	require.NoError(t, err)
	m.Start()

	res, _ := m.Step("GO", nil)
	assert.Equal(t, "step1.intro", res.NewState, "a defined-but-guard-failed `on` at the closer ancestor must not fall through to the outer one")
}

func TestMachine_GuardSelectsFirstMatchingTransition(t *testing.T) {
	reg := NewRegistry()
	allow := false
	reg.RegisterGuard("allowed", func(view SnapshotView, data chart.Value) bool { return allow })

	c := &chart.Chart{
		Id:      "gate",
		Initial: "closed",
		States: map[string]*chart.StateNode{
			"closed": {
				Name: "closed",
				On: map[chart.EventName][]chart.Transition{
					"OPEN": {
						{Targets: []chart.StateId{"open"}, Guard: "allowed"},
						{Targets: []chart.StateId{"rejected"}},
					},
				},
			},
			"open":     {Name: "open"},
			"rejected": {Name: "rejected"},
		},
	}

	m, err := Compile(c, reg)
	require.NoError(t, err)
	m.Start()

	res, _ := m.Step("OPEN", nil)
	assert.Equal(t, "rejected", res.NewState)

	m2, _ := Compile(c, reg)
	m2.Start()
	allow = true
	res, _ = m2.Step("OPEN", nil)
	assert.Equal(t, "open", res.NewState)
}

func TestMachine_AlwaysCascadeRunsOnEntry(t *testing.T) {
	c := &chart.Chart{
		Id:      "m",
		Initial: "a",
		States: map[string]*chart.StateNode{
			"a": {
				Name: "a",
				On: map[chart.EventName][]chart.Transition{
					"GO": {{Targets: []chart.StateId{"b"}}},
				},
			},
			"b": {
				Name:   "b",
				Always: []chart.Transition{{Targets: []chart.StateId{"c"}}},
			},
			"c": {Name: "c"},
		},
	}

	m, err := Compile(c, nil)
	require.NoError(t, err)
	m.Start()

	res, _ := m.Step("GO", nil)
	assert.Equal(t, "c", res.NewState, "always on b must cascade straight through to c")
}

func TestMachine_InternalTransitionKeepsState(t *testing.T) {
	reg := NewRegistry()
	runs := 0
	reg.RegisterAction("count", func(ctx *ActionCtx, data chart.Value) error {
		runs++
		return nil
	})

	c := &chart.Chart{
		Id:      "m",
		Initial: "a",
		States: map[string]*chart.StateNode{
			"a": {
				Name: "a",
				Exit: []chart.ActionRef{{Name: "count"}},
				On: map[chart.EventName][]chart.Transition{
					"TICK": {{Internal: true, Actions: []chart.ActionRef{{Name: "count"}}}},
				},
			},
		},
	}

	m, err := Compile(c, reg)
	require.NoError(t, err)
	m.Start()

	res, _ := m.Step("TICK", nil)
	assert.Equal(t, "a", res.NewState)
	assert.Equal(t, 1, runs)
}

func TestMachine_ExitAndEntryRunAcrossLCA(t *testing.T) {
	var trace []string
	reg := NewRegistry()
	mark := func(label string) ActionFunc {
		return func(ctx *ActionCtx, data chart.Value) error {
			trace = append(trace, label)
			return nil
		}
	}
	reg.RegisterAction("exit_b1", mark("exit:p.b1"))
	reg.RegisterAction("exit_p", mark("exit:p"))
	reg.RegisterAction("entry_q", mark("entry:q"))
	reg.RegisterAction("entry_c1", mark("entry:q.c1"))

	c := &chart.Chart{
		Id:      "m",
		Initial: "p",
		States: map[string]*chart.StateNode{
			"p": {
				Name:    "p",
				Kind:    chart.Compound,
				Initial: "b1",
				Exit:    []chart.ActionRef{{Name: "exit_p"}},
				Children: map[string]*chart.StateNode{
					"b1": {
						Name: "b1",
						Exit: []chart.ActionRef{{Name: "exit_b1"}},
						On: map[chart.EventName][]chart.Transition{
							"GO": {{Targets: []chart.StateId{"q"}}},
						},
					},
				},
			},
			"q": {
				Name:    "q",
				Kind:    chart.Compound,
				Initial: "c1",
				Entry:   []chart.ActionRef{{Name: "entry_q"}},
				Children: map[string]*chart.StateNode{
					"c1": {Name: "c1", Entry: []chart.ActionRef{{Name: "entry_c1"}}},
				},
			},
		},
	}

	m, err := Compile(c, reg)
	require.NoError(t, err)
	state, _ := m.Start()
	require.Equal(t, "p.b1", state)

	res, _ := m.Step("GO", nil)
	assert.Equal(t, "q.c1", res.NewState)
	assert.Equal(t, []string{"exit:p.b1", "exit:p", "entry:q", "entry:q.c1"}, trace)
}

func TestMachine_SendActionQueuesOutboundSend(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterAction("notify", func(ctx *ActionCtx, data chart.Value) error {
		ctx.RequestSend("other", "PING", chart.Value{"k": "v"})
		return nil
	})

	c := &chart.Chart{
		Id:      "m",
		Initial: "a",
		States: map[string]*chart.StateNode{
			"a": {
				Name: "a",
				On: map[chart.EventName][]chart.Transition{
					"GO": {{Internal: true, Actions: []chart.ActionRef{{Name: "notify"}}}},
				},
			},
		},
	}

	m, err := Compile(c, reg)
	require.NoError(t, err)
	m.Start()

	_, sends := m.Step("GO", nil)
	require.Len(t, sends, 1)
	assert.Equal(t, "other", sends[0].Target)
}

func TestMachine_InStateReportsAncestry(t *testing.T) {
	c := &chart.Chart{
		Id:      "m",
		Initial: "p",
		States: map[string]*chart.StateNode{
			"p": {
				Name:    "p",
				Kind:    chart.Compound,
				Initial: "c1",
				Children: map[string]*chart.StateNode{
					"c1": {Name: "c1"},
				},
			},
		},
	}
	m, err := Compile(c, nil)
	require.NoError(t, err)
	m.Start()

	assert.True(t, m.InState("p"))
	assert.True(t, m.InState("p.c1"))
	assert.False(t, m.InState("nonexistent"))
}
