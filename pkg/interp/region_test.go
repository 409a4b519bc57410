package interp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperion-automation/statecore/pkg/chart"
)

func parallelChart() *chart.Chart {
	return &chart.Chart{
		Id:   "traffic",
		Kind: chart.Parallel,
		States: map[string]*chart.StateNode{
			"r1": {
				Name:    "r1",
				Kind:    chart.Compound,
				Initial: "a",
				Children: map[string]*chart.StateNode{
					"a": {
						Name: "a",
						On: map[chart.EventName][]chart.Transition{
							"NEXT": {{Targets: []chart.StateId{"r1.b"}}},
						},
					},
					"b": {Name: "b"},
				},
			},
			"r2": {
				Name:    "r2",
				Kind:    chart.Compound,
				Initial: "x",
				Children: map[string]*chart.StateNode{
					"x": {
						Name: "x",
						On: map[chart.EventName][]chart.Transition{
							"NEXT": {{Targets: []chart.StateId{"r2.y"}}},
						},
					},
					"y": {Name: "y"},
				},
			},
		},
	}
}

func TestInterpreter_ParallelEntersAllRegions(t *testing.T) {
	it := New(parallelChart(), nil)
	state, err := it.Start()
	require.NoError(t, err)
	assert.Equal(t, "r1.a;r2.x", state)
}

func TestInterpreter_ParallelBroadcastsEventToEveryRegion(t *testing.T) {
	it := New(parallelChart(), nil)
	_, err := it.Start()
	require.NoError(t, err)

	res, _ := it.Step("NEXT", nil)
	assert.True(t, res.Success)
	assert.Equal(t, "r1.b;r2.y", res.NewState)
}

func TestInterpreter_ParallelStopTearsDownRegions(t *testing.T) {
	it := New(parallelChart(), nil)
	_, err := it.Start()
	require.NoError(t, err)

	it.Stop()
	res, _ := it.Step("NEXT", nil)
	assert.False(t, res.Success)
	assert.Equal(t, chart.NotStarted, res.Error)
}

func TestInterpreter_RegionOwnEntryAndExitActionsRun(t *testing.T) {
	var trace []string
	ctx := NewContext()
	ctx.RegisterAction("enter_r1", func(a *ActionCtx, data chart.Value) error {
		trace = append(trace, "entry:r1")
		return nil
	})
	ctx.RegisterAction("exit_r1", func(a *ActionCtx, data chart.Value) error {
		trace = append(trace, "exit:r1")
		return nil
	})

	c := &chart.Chart{
		Id:   "m",
		Kind: chart.Parallel,
		States: map[string]*chart.StateNode{
			"r1": {
				Name:    "r1",
				Kind:    chart.Compound,
				Initial: "a",
				Entry:   []chart.ActionRef{{Name: "enter_r1"}},
				Exit:    []chart.ActionRef{{Name: "exit_r1"}},
				Children: map[string]*chart.StateNode{
					"a": {Name: "a"},
				},
			},
		},
	}

	it := New(c, ctx)
	state, err := it.Start()
	require.NoError(t, err)
	assert.Equal(t, "r1.a", state)
	assert.Equal(t, []string{"entry:r1"}, trace, "a region's own Entry, declared directly on the region node, must fire on entry like any other state's")

	it.Stop()
	assert.Equal(t, []string{"entry:r1", "exit:r1"}, trace, "a region's own Exit, declared directly on the region node, must fire on teardown like any other state's")
}

func TestInterpreter_RegionOwnAfterTimerFires(t *testing.T) {
	c := &chart.Chart{
		Id:   "m",
		Kind: chart.Parallel,
		States: map[string]*chart.StateNode{
			"r1": {
				Name:    "r1",
				Kind:    chart.Compound,
				Initial: "a",
				After:   map[int][]chart.Transition{20: {{Targets: []chart.StateId{"r1.b"}}}},
				Children: map[string]*chart.StateNode{
					"a": {Name: "a"},
					"b": {Name: "b"},
				},
			},
		},
	}

	it := New(c, nil)
	_, err := it.Start()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return it.CurrentState() == "r1.b"
	}, time.Second, 5*time.Millisecond, "an `after` timer declared directly on a region node must still fire its transition")
}

func TestInterpreter_RegionOwnAlwaysCascadesOnEntry(t *testing.T) {
	c := &chart.Chart{
		Id:   "m",
		Kind: chart.Parallel,
		States: map[string]*chart.StateNode{
			"r1": {
				Name:    "r1",
				Kind:    chart.Compound,
				Initial: "a",
				Always:  []chart.Transition{{Targets: []chart.StateId{"r1.b"}}},
				Children: map[string]*chart.StateNode{
					"a": {Name: "a"},
					"b": {Name: "b"},
				},
			},
		},
	}

	it := New(c, nil)
	state, err := it.Start()
	require.NoError(t, err)
	assert.Equal(t, "r1.b", state, "an `always` declared directly on a region node must cascade past its Initial child on entry")
}
