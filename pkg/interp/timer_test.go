package interp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperion-automation/statecore/pkg/chart"
)

func TestInterpreter_AfterTimerFiresTransition(t *testing.T) {
	c := &chart.Chart{
		Id:      "m",
		Initial: "waiting",
		States: map[string]*chart.StateNode{
			"waiting": {
				Name:  "waiting",
				After: map[int][]chart.Transition{20: {{Targets: []chart.StateId{"timedout"}}}},
			},
			"timedout": {Name: "timedout"},
		},
	}

	it := New(c, nil)
	_, err := it.Start()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return it.CurrentState() == "timedout"
	}, time.Second, 5*time.Millisecond)
}

func TestInterpreter_AfterTimerCancelledOnEarlierExit(t *testing.T) {
	c := &chart.Chart{
		Id:      "m",
		Initial: "waiting",
		States: map[string]*chart.StateNode{
			"waiting": {
				Name: "waiting",
				On: map[chart.EventName][]chart.Transition{
					"ESCAPE": {{Targets: []chart.StateId{"escaped"}}},
				},
				After: map[int][]chart.Transition{50: {{Targets: []chart.StateId{"timedout"}}}},
			},
			"escaped":  {Name: "escaped"},
			"timedout": {Name: "timedout"},
		},
	}

	it := New(c, nil)
	_, err := it.Start()
	require.NoError(t, err)

	res, _ := it.Step("ESCAPE", nil)
	require.Equal(t, "escaped", res.NewState)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "escaped", it.CurrentState(), "a cancelled after timer must never fire its transition once the arming state was exited")
}

func TestInterpreter_StopCancelsOutstandingTimer(t *testing.T) {
	c := &chart.Chart{
		Id:      "m",
		Initial: "waiting",
		States: map[string]*chart.StateNode{
			"waiting": {
				Name:  "waiting",
				After: map[int][]chart.Transition{30: {{Targets: []chart.StateId{"timedout"}}}},
			},
			"timedout": {Name: "timedout"},
		},
	}

	it := New(c, nil)
	_, err := it.Start()
	require.NoError(t, err)

	it.Stop()
	time.Sleep(60 * time.Millisecond)

	res, _ := it.Step("ANYTHING", nil)
	assert.False(t, res.Success)
	assert.Equal(t, chart.NotStarted, res.Error)
}
