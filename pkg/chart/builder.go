package chart

import "fmt"

// Builder provides a fluent API for assembling a Chart by hand, in the
// same chained style collaborators use when a chart is constructed in Go
// rather than parsed from source.
type Builder struct {
	chart       *Chart
	currentName string
	err         error
}

// stateBuilder builds a single StateNode.
type stateBuilder struct {
	parent *Builder
	node   *StateNode
}

// transitionBuilder builds a single Transition attached to an event.
type transitionBuilder struct {
	parent     *stateBuilder
	event      EventName
	transition *Transition
}

// NewBuilder starts a Chart with the given id.
func NewBuilder(id string) *Builder {
	return &Builder{
		chart: &Chart{
			Id:     id,
			Kind:   Compound,
			States: make(map[string]*StateNode),
			RootOn: make(map[EventName][]Transition),
		},
	}
}

// Initial sets the chart's root initial child.
func (b *Builder) Initial(name string) *Builder {
	b.chart.Initial = name
	return b
}

// Parallel marks the chart's root as a parallel state (its children are
// regions rather than a single initial child).
func (b *Builder) Parallel() *Builder {
	b.chart.Kind = Parallel
	return b
}

// Description sets the chart's description.
func (b *Builder) Description(desc string) *Builder {
	b.chart.Description = desc
	return b
}

// On adds a root-level transition triggered by event, consulted only when
// no active state handles it.
func (b *Builder) On(event string, target string) *transitionBuilder {
	t := Transition{Targets: []StateId{StateId(target)}}
	b.chart.RootOn[EventName(event)] = append(b.chart.RootOn[EventName(event)], t)
	return &transitionBuilder{
		parent: &stateBuilder{parent: b},
		event:  EventName(event),
		transition: &b.chart.RootOn[EventName(event)][len(b.chart.RootOn[EventName(event)])-1],
	}
}

// State starts building a new top-level state.
func (b *Builder) State(name string) *stateBuilder {
	node := &StateNode{
		Name: name,
		Kind: Atomic,
		On:   make(map[EventName][]Transition),
	}
	return &stateBuilder{parent: b, node: node}
}

// Build finalizes and validates the chart.
func (b *Builder) Build() (*Chart, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := validateChart(b.chart); err != nil {
		return nil, fmt.Errorf("invalid chart definition: %w", err)
	}
	return b.chart, nil
}

// =============== stateBuilder methods ===============

// Compound marks the state as having nested children with an initial.
func (sb *stateBuilder) Compound(initial string) *stateBuilder {
	sb.node.Kind = Compound
	sb.node.Initial = initial
	return sb
}

// Final marks the state as a final (terminal) node.
func (sb *stateBuilder) Final() *stateBuilder {
	sb.node.Kind = Final
	return sb
}

// Entry appends an entry action reference.
func (sb *stateBuilder) Entry(name string) *stateBuilder {
	sb.node.Entry = append(sb.node.Entry, ActionRef{Name: ActionName(name)})
	return sb
}

// Exit appends an exit action reference.
func (sb *stateBuilder) Exit(name string) *stateBuilder {
	sb.node.Exit = append(sb.node.Exit, ActionRef{Name: ActionName(name)})
	return sb
}

// Tag appends a tag.
func (sb *stateBuilder) Tag(tag string) *stateBuilder {
	sb.node.Tags = append(sb.node.Tags, tag)
	return sb
}

// On adds a transition for event, returning a transitionBuilder to refine it.
func (sb *stateBuilder) On(event string, target string) *transitionBuilder {
	t := Transition{Targets: []StateId{StateId(target)}}
	if sb.node.On == nil {
		sb.node.On = make(map[EventName][]Transition)
	}
	sb.node.On[EventName(event)] = append(sb.node.On[EventName(event)], t)
	list := sb.node.On[EventName(event)]
	return &transitionBuilder{
		parent:     sb,
		event:      EventName(event),
		transition: &list[len(list)-1],
	}
}

// Always adds an eventless transition evaluated on entry.
func (sb *stateBuilder) Always(target string) *transitionBuilder {
	sb.node.Always = append(sb.node.Always, Transition{Targets: []StateId{StateId(target)}})
	return &transitionBuilder{
		parent:     sb,
		transition: &sb.node.Always[len(sb.node.Always)-1],
	}
}

// After schedules a delayed transition fired delayMs after entry.
func (sb *stateBuilder) After(delayMs int, target string) *transitionBuilder {
	if sb.node.After == nil {
		sb.node.After = make(map[int][]Transition)
	}
	sb.node.After[delayMs] = append(sb.node.After[delayMs], Transition{Targets: []StateId{StateId(target)}})
	list := sb.node.After[delayMs]
	return &transitionBuilder{
		parent:     sb,
		transition: &list[len(list)-1],
	}
}

// Child adds a nested state builder whose Done() returns to this state.
func (sb *stateBuilder) Child(name string) *stateBuilder {
	child := &StateNode{Name: name, Kind: Atomic, On: make(map[EventName][]Transition)}
	if sb.node.Children == nil {
		sb.node.Children = make(map[string]*StateNode)
	}
	sb.node.Children[name] = child
	return &stateBuilder{parent: sb.parent, node: child}
}

// Done finishes this state and registers it with the builder (or, for a
// root-level Builder, nothing further is needed once State's returned
// builder reaches Build).
func (sb *stateBuilder) Done() *Builder {
	if sb.parent != nil {
		sb.parent.chart.States[sb.node.Name] = sb.node
	}
	return sb.parent
}

// =============== transitionBuilder methods ===============

// Guard conditions the transition on a named guard.
func (tb *transitionBuilder) Guard(name string) *transitionBuilder {
	tb.transition.Guard = GuardName(name)
	return tb
}

// Action appends a transition action.
func (tb *transitionBuilder) Action(name string) *transitionBuilder {
	tb.transition.Actions = append(tb.transition.Actions, ActionRef{Name: ActionName(name)})
	return tb
}

// Internal marks the transition as internal (no entry/exit, state unchanged).
func (tb *transitionBuilder) Internal() *transitionBuilder {
	tb.transition.Internal = true
	tb.transition.Targets = nil
	return tb
}

// InState conditions eligibility on the instance currently occupying state.
func (tb *transitionBuilder) InState(state string) *transitionBuilder {
	tb.transition.InState = StateId(state)
	return tb
}

// Done returns to the enclosing state builder.
func (tb *transitionBuilder) Done() *stateBuilder {
	return tb.parent
}

// =============== Common guard/action combinators ===============

// GuardFn evaluates against a SnapshotView-shaped read and event data; the
// concrete signature lives in pkg/interp where guards are actually
// registered and invoked. These combinators operate purely on bool results
// so they can compose independent of that signature.
type GuardFn func(data Value) bool

// AndGuard combines guards with AND logic, short-circuiting on the first
// false.
func AndGuard(guards ...GuardFn) GuardFn {
	return func(data Value) bool {
		for _, g := range guards {
			if !g(data) {
				return false
			}
		}
		return true
	}
}

// OrGuard combines guards with OR logic, short-circuiting on the first true.
func OrGuard(guards ...GuardFn) GuardFn {
	return func(data Value) bool {
		for _, g := range guards {
			if g(data) {
				return true
			}
		}
		return false
	}
}

// NotGuard inverts a guard.
func NotGuard(g GuardFn) GuardFn {
	return func(data Value) bool {
		return !g(data)
	}
}

// ActionFn mirrors GuardFn's role for actions: composition helpers here,
// concrete invocation signature in pkg/interp.
type ActionFn func(data Value) error

// ChainActions runs actions in order, stopping at the first error.
func ChainActions(actions ...ActionFn) ActionFn {
	return func(data Value) error {
		for _, a := range actions {
			if err := a(data); err != nil {
				return err
			}
		}
		return nil
	}
}
