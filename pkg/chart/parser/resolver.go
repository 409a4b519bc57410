package parser

import (
	"fmt"
	"strconv"

	"github.com/hyperion-automation/statecore/pkg/chart"
)

// resolver carries no state across calls today; it exists so future
// parse-time context (e.g. import resolution) has somewhere to live
// without reshaping every function's signature.
type resolver struct{}

func (r *resolver) resolveChart(raw map[string]interface{}) (*chart.Chart, error) {
	id := getString(raw, "id")
	if id == "" {
		return nil, &chart.DefinitionError{Message: "chart id is required"}
	}

	c := &chart.Chart{
		Id:      id,
		Initial: getString(raw, "initial"),
		Kind:    chart.Compound,
		States:  make(map[string]*chart.StateNode),
		RootOn:  make(map[chart.EventName][]chart.Transition),
	}
	if getString(raw, "type") == "parallel" {
		c.Kind = chart.Parallel
	}

	statesRaw, ok := asStringMap(raw["states"])
	if !ok {
		return nil, &chart.DefinitionError{Path: id, Message: "states must be an object"}
	}
	for name, v := range statesRaw {
		node, err := r.buildStateNode(name, v)
		if err != nil {
			return nil, err
		}
		c.States[name] = node
	}

	if onRaw, ok := raw["on"]; ok {
		m, err := buildTransitionMap(onRaw)
		if err != nil {
			return nil, err
		}
		c.RootOn = m
	}

	c.Meta = asValue(raw["meta"])
	c.Tags = asStringList(raw["tags"])
	c.Description = getString(raw, "description")

	if err := r.resolveTargets(c); err != nil {
		return nil, err
	}
	if err := chart.Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *resolver) buildStateNode(name string, raw interface{}) (*chart.StateNode, error) {
	m, _ := asStringMap(raw)

	node := &chart.StateNode{
		Name: name,
		On:   make(map[chart.EventName][]chart.Transition),
	}

	childStatesRaw, hasChildren := asStringMap(m["states"])

	switch getString(m, "type") {
	case "parallel":
		node.Kind = chart.Parallel
	case "final":
		node.Kind = chart.Final
	case "compound":
		node.Kind = chart.Compound
	case "atomic":
		node.Kind = chart.Atomic
	case "history":
		node.Kind = chart.History
		switch getString(m, "history") {
		case "shallow":
			node.History = chart.Shallow
		case "deep":
			node.History = chart.Deep
		default:
			return nil, &chart.DefinitionError{Path: name, Message: "history state requires history: shallow|deep"}
		}
		if target := getString(m, "target"); target != "" {
			node.HistoryDefault = chart.StateId(target)
		}
	case "":
		if hasChildren {
			node.Kind = chart.Compound
		} else {
			node.Kind = chart.Atomic
		}
	default:
		return nil, &chart.DefinitionError{Path: name, Message: "unknown state type: " + getString(m, "type")}
	}

	node.Initial = getString(m, "initial")

	if hasChildren {
		node.Children = make(map[string]*chart.StateNode)
		for childName, childRaw := range childStatesRaw {
			child, err := r.buildStateNode(childName, childRaw)
			if err != nil {
				return nil, err
			}
			node.Children[childName] = child
		}
	}

	var err error
	if node.Entry, err = buildActionRefs(m["entry"]); err != nil {
		return nil, err
	}
	if node.Exit, err = buildActionRefs(m["exit"]); err != nil {
		return nil, err
	}
	if onRaw, ok := m["on"]; ok {
		if node.On, err = buildTransitionMap(onRaw); err != nil {
			return nil, err
		}
	}
	if alwaysRaw, ok := m["always"]; ok {
		if node.Always, err = buildTransitionList(alwaysRaw); err != nil {
			return nil, err
		}
	}
	if afterRaw, ok := m["after"]; ok {
		if node.After, err = buildAfterMap(afterRaw); err != nil {
			return nil, err
		}
	}
	if invokeRaw, ok := m["invoke"]; ok {
		if node.Invoke, err = buildInvoke(invokeRaw); err != nil {
			return nil, err
		}
	}
	if onDoneRaw, ok := m["onDone"]; ok {
		t, err := buildTransitionObj(onDoneRaw)
		if err != nil {
			return nil, err
		}
		node.OnDone = &t
	}

	node.FinalOutput = asValue(m["output"])
	node.Meta = asValue(m["meta"])
	node.Tags = asStringList(m["tags"])
	node.Description = getString(m, "description")

	return node, nil
}

// resolveTargets walks the fully-built tree resolving every transition's
// raw target strings into absolute StateIds, then checks each resolved id
// actually names a state in the chart. Guard/action/service names are
// dynamic lookups bound at the interpreter Context, not checked here.
func (r *resolver) resolveTargets(c *chart.Chart) error {
	for ev, list := range c.RootOn {
		for i := range list {
			if err := resolveOne(c.Id, "", &list[i], c.States); err != nil {
				return err
			}
		}
		c.RootOn[ev] = list
	}
	for name, node := range c.States {
		if err := r.resolveNodeTargets(c.Id, name, node, c.States); err != nil {
			return err
		}
	}
	return nil
}

func (r *resolver) resolveNodeTargets(chartId, path string, node *chart.StateNode, root map[string]*chart.StateNode) error {
	for ev, list := range node.On {
		for i := range list {
			if err := resolveOne(chartId, path, &list[i], root); err != nil {
				return err
			}
		}
		node.On[ev] = list
	}
	for i := range node.Always {
		if err := resolveOne(chartId, path, &node.Always[i], root); err != nil {
			return err
		}
	}
	for delay, list := range node.After {
		for i := range list {
			if err := resolveOne(chartId, path, &list[i], root); err != nil {
				return err
			}
		}
		node.After[delay] = list
	}
	if node.Invoke != nil {
		if node.Invoke.OnDone != nil {
			if err := resolveOne(chartId, path, node.Invoke.OnDone, root); err != nil {
				return err
			}
		}
		if node.Invoke.OnError != nil {
			if err := resolveOne(chartId, path, node.Invoke.OnError, root); err != nil {
				return err
			}
		}
	}
	if node.OnDone != nil {
		if err := resolveOne(chartId, path, node.OnDone, root); err != nil {
			return err
		}
	}
	if node.Kind == chart.History && node.HistoryDefault != "" {
		resolved := chart.ResolveTarget(chartId, path, string(node.HistoryDefault), root)
		if _, ok := chart.LookupPath(root, string(resolved)); !ok {
			return &chart.DefinitionError{Path: path, Message: "history default target unresolved: " + string(node.HistoryDefault)}
		}
		node.HistoryDefault = resolved
	}

	for childName, child := range node.Children {
		if err := r.resolveNodeTargets(chartId, path+"."+childName, child, root); err != nil {
			return err
		}
	}
	return nil
}

func resolveOne(chartId, ownerPath string, t *chart.Transition, root map[string]*chart.StateNode) error {
	if t.Internal || len(t.Targets) == 0 {
		return nil
	}
	resolved := make([]chart.StateId, len(t.Targets))
	for i, raw := range t.Targets {
		id := chart.ResolveTarget(chartId, ownerPath, string(raw), root)
		if _, ok := chart.LookupPath(root, string(id)); !ok {
			return &chart.DefinitionError{Path: ownerPath, Message: "unresolved transition target: " + string(raw)}
		}
		resolved[i] = id
	}
	t.Targets = resolved
	return nil
}

// ---- untyped-tree helpers ----

func asStringMap(raw interface{}) (map[string]interface{}, bool) {
	m, ok := raw.(map[string]interface{})
	return m, ok
}

func asList(raw interface{}) []interface{} {
	if raw == nil {
		return nil
	}
	if l, ok := raw.([]interface{}); ok {
		return l
	}
	return []interface{}{raw}
}

func asStringList(raw interface{}) []string {
	items := asList(raw)
	if items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, fmt.Sprint(it))
	}
	return out
}

func asValue(raw interface{}) chart.Value {
	m, ok := asStringMap(raw)
	if !ok {
		return nil
	}
	return chart.Value(m)
}

func getString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func buildTransitionObj(raw interface{}) (chart.Transition, error) {
	if s, ok := raw.(string); ok {
		if s == "" {
			return chart.Transition{}, nil
		}
		return chart.Transition{Targets: []chart.StateId{chart.StateId(s)}}, nil
	}

	m, ok := asStringMap(raw)
	if !ok {
		return chart.Transition{}, &chart.DefinitionError{Message: "transition must be a string or an object"}
	}

	t := chart.Transition{
		Guard:   chart.GuardName(getString(m, "cond")),
		InState: chart.StateId(getString(m, "in")),
	}
	if internal, ok := m["internal"].(bool); ok {
		t.Internal = internal
	}
	switch tv := m["target"].(type) {
	case string:
		if tv != "" {
			t.Targets = []chart.StateId{chart.StateId(tv)}
		}
	case []interface{}:
		for _, x := range tv {
			t.Targets = append(t.Targets, chart.StateId(fmt.Sprint(x)))
		}
	}
	actions, err := buildActionRefs(m["actions"])
	if err != nil {
		return chart.Transition{}, err
	}
	t.Actions = actions
	return t, nil
}

func buildTransitionList(raw interface{}) ([]chart.Transition, error) {
	items := asList(raw)
	if items == nil {
		return nil, nil
	}
	out := make([]chart.Transition, 0, len(items))
	for _, it := range items {
		t, err := buildTransitionObj(it)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func buildTransitionMap(raw interface{}) (map[chart.EventName][]chart.Transition, error) {
	m, ok := asStringMap(raw)
	if !ok {
		return nil, &chart.DefinitionError{Message: "on must be an object keyed by event name"}
	}
	out := make(map[chart.EventName][]chart.Transition, len(m))
	for ev, v := range m {
		list, err := buildTransitionList(v)
		if err != nil {
			return nil, err
		}
		out[chart.EventName(ev)] = list
	}
	return out, nil
}

func buildAfterMap(raw interface{}) (map[int][]chart.Transition, error) {
	// yaml.v3 decodes a mapping with numeric keys (after: {1000: ...}) into
	// map[interface{}]interface{}, so both map shapes are accepted here.
	var m map[string]interface{}
	switch rm := raw.(type) {
	case map[string]interface{}:
		m = rm
	case map[interface{}]interface{}:
		m = make(map[string]interface{}, len(rm))
		for k, v := range rm {
			m[fmt.Sprint(k)] = v
		}
	default:
		return nil, &chart.DefinitionError{Message: "after must be an object keyed by delay in milliseconds"}
	}
	out := make(map[int][]chart.Transition, len(m))
	for k, v := range m {
		delay, err := strconv.Atoi(k)
		if err != nil {
			return nil, &chart.DefinitionError{Message: "after delay must be an integer number of milliseconds: " + k}
		}
		list, err := buildTransitionList(v)
		if err != nil {
			return nil, err
		}
		out[delay] = list
	}
	return out, nil
}

func buildActionRefs(raw interface{}) ([]chart.ActionRef, error) {
	items := asList(raw)
	if items == nil {
		return nil, nil
	}
	out := make([]chart.ActionRef, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			out = append(out, chart.ActionRef{Name: chart.ActionName(v)})
		case map[string]interface{}:
			ref, err := buildInlineActionRef(v)
			if err != nil {
				return nil, err
			}
			out = append(out, ref)
		default:
			return nil, &chart.DefinitionError{Message: fmt.Sprintf("unsupported action value: %v", it)}
		}
	}
	return out, nil
}

func buildInlineActionRef(m map[string]interface{}) (chart.ActionRef, error) {
	if assign, ok := asStringMap(m["assign"]); ok {
		return chart.ActionRef{Inline: &chart.InlineAction{
			Kind:   chart.AssignAction,
			Assign: chart.Value(assign),
		}}, nil
	}
	if raise, ok := m["raise"].(string); ok {
		return chart.ActionRef{Inline: &chart.InlineAction{
			Kind:  chart.RaiseAction,
			Raise: chart.EventName(raise),
		}}, nil
	}
	if send, ok := asStringMap(m["send"]); ok {
		payload, _ := asStringMap(send["payload"])
		return chart.ActionRef{Inline: &chart.InlineAction{
			Kind:        chart.SendAction,
			SendTarget:  getString(send, "target"),
			SendEvent:   chart.EventName(getString(send, "event")),
			SendPayload: chart.Value(payload),
		}}, nil
	}
	return chart.ActionRef{}, &chart.DefinitionError{Message: "inline action must be one of assign, raise, send"}
}

func buildInvoke(raw interface{}) (*chart.Invoke, error) {
	m, ok := asStringMap(raw)
	if !ok {
		return nil, &chart.DefinitionError{Message: "invoke must be an object"}
	}
	inv := &chart.Invoke{
		Service: chart.ServiceName(getString(m, "src")),
		Id:      getString(m, "id"),
	}
	if d, ok := m["onDone"]; ok {
		t, err := buildTransitionObj(d)
		if err != nil {
			return nil, err
		}
		inv.OnDone = &t
	}
	if d, ok := m["onError"]; ok {
		t, err := buildTransitionObj(d)
		if err != nil {
			return nil, err
		}
		inv.OnError = &t
	}
	return inv, nil
}
