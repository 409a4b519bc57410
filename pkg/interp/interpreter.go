package interp

import (
	"sort"
	"strings"
	"sync"

	"github.com/hyperion-automation/statecore/pkg/chart"
	"github.com/hyperion-automation/statecore/pkg/core"
)

// maxAlwaysDepth bounds an "always" cascade; exceeding it terminates the
// chain with a logged warning rather than looping forever.
const maxAlwaysDepth = 10

// Snapshot is a read-only projection of an instance's current state,
// context and aggregated metadata.
type Snapshot struct {
	State       string
	Context     chart.Value
	Running     bool
	Completed   bool
	Meta        chart.Value
	Tags        []string
	Output      chart.Value
	Description string
}

// Listener is notified on every committed state change.
type Listener func(Snapshot)

// Interpreter executes one instance of a Chart: it owns the current
// configuration, history map, timers and invoked service, and runs the
// event-step algorithm against them. Exactly one goroutine is expected to
// call Step/Start/Stop at a time; the orchestrator enforces this by
// serializing delivery per target (see pkg/orchestrator), but an
// Interpreter used standalone must provide its own serialization.
type Interpreter struct {
	mu sync.Mutex

	id      string
	chart   *chart.Chart
	context *Context
	logger  core.Logger
	timers  *timerService

	// currentPath is the dotted path of the deepest active descendant.
	// If that descendant is a Parallel node, its regions (not this path)
	// hold the actual leaves; see activeRegions.
	currentPath chart.StateId

	activeRegions map[chart.StateId]map[string]*Interpreter

	activeInvokes map[chart.StateId]*invocation

	historyMap map[chart.StateId]chart.StateId

	isRunning   bool
	isCompleted bool

	listeners []Listener

	// rootPrefix is the absolute StateId this interpreter's own root
	// corresponds to when it is running as a region sub-interpreter
	// ("" for a top-level machine). Transition targets are resolved once,
	// globally, at parse time; a region's local nodeAt/currentPath space
	// is this prefix stripped off, so toLocal/toAbsolute translate
	// between the two.
	rootPrefix chart.StateId

	// pendingCrossRegion is set instead of applying a transition whose
	// target cannot be expressed in this interpreter's local namespace —
	// i.e. this interpreter is a region and the transition targets
	// something outside it. The owning parallel parent drains this after
	// each step (see stepParallel).
	pendingCrossRegion *crossRegionSignal

	// onAsyncSend, when set, receives the outbound sends produced by work
	// that commits outside of a direct Step/Start call on this goroutine —
	// an `after` timer firing or an invoked service completing. A direct
	// Step/Start caller instead receives its own sends as a return value.
	onAsyncSend func([]OutboundSend)
}

type crossRegionSignal struct {
	target chart.StateId
	tr     chart.Transition
}

// New builds an Interpreter for chart c, bound to context ctx. The
// returned interpreter is not started.
func New(c *chart.Chart, ctx *Context, opts ...Option) *Interpreter {
	if ctx == nil {
		ctx = NewContext()
	}
	it := &Interpreter{
		id:            c.Id,
		chart:         c,
		context:       ctx,
		logger:        core.NewDefaultLogger(),
		historyMap:    make(map[chart.StateId]chart.StateId),
		activeRegions: make(map[chart.StateId]map[string]*Interpreter),
		activeInvokes: make(map[chart.StateId]*invocation),
	}
	it.timers = newTimerService(it)
	for _, opt := range opts {
		opt(it)
	}
	return it
}

// Option configures an Interpreter at construction time.
type Option func(*Interpreter)

// WithLogger overrides the default logger.
func WithLogger(logger core.Logger) Option {
	return func(it *Interpreter) { it.logger = logger }
}

// WithID overrides the instance id (defaults to the chart's own id).
func WithID(id string) Option {
	return func(it *Interpreter) { it.id = id }
}

// WithAsyncSendHandler registers the callback that receives outbound sends
// produced by an `after` timer firing or an invoked service completing —
// work that commits on its own goroutine rather than as the return value of
// a caller's Step/Start. The orchestrator wires this to its mailbox.
func WithAsyncSendHandler(handler func([]OutboundSend)) Option {
	return func(it *Interpreter) { it.onAsyncSend = handler }
}

// ID returns this instance's id.
func (it *Interpreter) ID() string { return it.id }

// Start enters the chart's initial configuration. It returns only after
// the initial entry actions and the resulting "always" cascade have fully
// committed — the contract spec.md's open question asks to make explicit,
// with no sleep-based synchronization anywhere in this path.
func (it *Interpreter) Start() (string, error) {
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

	root := it.chart.Root()
	if root.Kind == chart.Parallel {
		it.enterParallel("", root)
		it.currentPath = ""
	} else {
		entrySet := it.computeInitialEntrySet(root, "")
		if len(entrySet) > 0 {
			it.currentPath = entrySet[len(entrySet)-1]
		}
		it.runEntrySet(entrySet)
	}
	snap := it.snapshotLocked()
	it.notifyLocked(snap)
	return snap.State, nil
}

// enterChartRoot runs the behavior a synthesized parallel-region chart's
// own top level carries (see synthesizeRegionChart in region.go): entry
// actions, an after timer and an invoked service, exactly as
// runEntrySetCollecting runs them for any other state, plus the root's own
// "always" cascade. Zero-valued (a no-op) for any chart that is not a
// synthesized region. Reports whether an always transition fired and
// already fully committed the interpreter's entry, in which case the
// caller's own Initial-child descent must be skipped.
func (it *Interpreter) enterChartRoot() bool {
	c := it.chart
	if len(c.RootEntry) > 0 {
		if _, err := it.runActions(c.RootEntry, chart.Value{}); err != nil {
			it.errorf("chart root entry action failed during start of %s: %v", it.id, err)
		}
	}
	if len(c.RootAfter) > 0 {
		it.timers.scheduleFor("", &chart.StateNode{After: c.RootAfter})
	}
	if c.RootInvoke != nil {
		it.startInvoke("", c.RootInvoke)
	}
	if len(c.RootAlways) > 0 {
		if tr, ok := it.selectTransition(c.RootAlways, chart.Value{}); ok {
			if _, err := it.applyExternalTransition("", tr, 0); err != nil {
				it.errorf("chart root always transition failed during start of %s: %v", it.id, err)
			}
			return true
		}
	}
	return false
}

// Stop halts the interpreter: all region sub-interpreters are stopped,
// all timers cancelled, any invoked service released.
func (it *Interpreter) Stop() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if !it.isRunning {
		return
	}
	if len(it.chart.RootExit) > 0 {
		if _, err := it.runActions(it.chart.RootExit, chart.Value{}); err != nil {
			it.errorf("chart root exit action failed during stop of %s: %v", it.id, err)
		}
	}
	it.stopAllRegionsLocked()
	it.timers.cancelAll()
	for path := range it.activeInvokes {
		it.stopInvoke(path)
	}
	it.isRunning = false
}

// Subscribe registers a listener notified after every committed change.
func (it *Interpreter) Subscribe(l Listener) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.listeners = append(it.listeners, l)
}

// CurrentState returns the current leaf/aggregate state string.
func (it *Interpreter) CurrentState() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.currentStateLocked()
}

func (it *Interpreter) currentStateLocked() string {
	if it.chart.Kind == chart.Parallel {
		return it.aggregateRegionState("")
	}
	return string(it.currentPath)
}

// Snapshot returns the current Snapshot.
func (it *Interpreter) Snapshot() Snapshot {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.snapshotLocked()
}

func (it *Interpreter) snapshotLocked() Snapshot {
	meta, tags, output, desc := it.aggregateMetaLocked()
	return Snapshot{
		State:       it.currentStateLocked(),
		Context:     it.context.snapshotValues(),
		Running:     it.isRunning,
		Completed:   it.isCompleted,
		Meta:        meta,
		Tags:        tags,
		Output:      output,
		Description: desc,
	}
}

// aggregateMetaLocked walks the active path root to leaf (and per region
// for parallel parents), merging meta/tags/output/description.
func (it *Interpreter) aggregateMetaLocked() (chart.Value, []string, chart.Value, string) {
	meta := chart.Value{}
	var tags []string
	var output chart.Value
	var desc string

	var walk func(node *chart.StateNode)
	walk = func(node *chart.StateNode) {
		for k, v := range node.Meta {
			meta[k] = v
		}
		tags = append(tags, node.Tags...)
		if node.FinalOutput != nil {
			output = node.FinalOutput
		}
		if node.Description != "" {
			desc = node.Description
		}
	}

	if it.chart.Kind == chart.Parallel {
		for regionName, sub := range it.activeRegions[""] {
			_ = regionName
			m, t, o, d := sub.aggregateMetaLocked()
			for k, v := range m {
				meta[k] = v
			}
			tags = append(tags, t...)
			if o != nil {
				output = o
			}
			if d != "" {
				desc = d
			}
		}
		return meta, tags, output, desc
	}

	segments := strings.Split(string(it.currentPath), ".")
	children := it.chart.States
	for i, seg := range segments {
		node, ok := children[seg]
		if !ok {
			break
		}
		walk(node)
		if node.Kind == chart.Parallel {
			if regions, ok := it.activeRegions[joinPath(segments[:i+1])]; ok {
				for _, sub := range regions {
					m, t, o, d := sub.aggregateMetaLocked()
					for k, v := range m {
						meta[k] = v
					}
					tags = append(tags, t...)
					if o != nil {
						output = o
					}
					if d != "" {
						desc = d
					}
				}
			}
			break
		}
		children = node.Children
	}
	return meta, tags, output, desc
}

func joinPath(segments []string) chart.StateId {
	return chart.StateId(strings.Join(segments, "."))
}

// aggregateRegionState builds "regionA.stateA;regionB.stateB" sorted by
// region id, for the parallel node active at parentPath ("" for root).
func (it *Interpreter) aggregateRegionState(parentPath chart.StateId) string {
	regions := it.activeRegions[parentPath]
	names := make([]string, 0, len(regions))
	for name := range regions {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"."+regions[name].CurrentState())
	}
	return strings.Join(parts, ";")
}

func (it *Interpreter) stopAllRegionsLocked() {
	for parentPath, regions := range it.activeRegions {
		for _, sub := range regions {
			sub.Stop()
		}
		delete(it.activeRegions, parentPath)
	}
}

func (it *Interpreter) warnf(format string, args ...interface{}) {
	if it.logger != nil {
		it.logger.Warnf(format, args...)
	}
}

func (it *Interpreter) errorf(format string, args ...interface{}) {
	if it.logger != nil {
		it.logger.Errorf(format, args...)
	}
}

func (it *Interpreter) notifyLocked(snap Snapshot) {
	for _, l := range it.listeners {
		l(snap)
	}
}
