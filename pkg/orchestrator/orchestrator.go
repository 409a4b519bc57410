// Package orchestrator is the registry and event router that owns every
// running Interpreter instance: it deploys, starts, steps and tears down
// machines by MachineId, serializing event delivery per target through a
// dedicated mailbox and drain goroutine, the same actor-per-deployment
// shape the teacher's Vertx/EventBus pair gives every verticle.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/hyperion-automation/statecore/pkg/chart"
	"github.com/hyperion-automation/statecore/pkg/core"
	"github.com/hyperion-automation/statecore/pkg/core/concurrency"
	"github.com/hyperion-automation/statecore/pkg/core/failfast"
	"github.com/hyperion-automation/statecore/pkg/interp"
)

// Config configures mailbox capacity, default request timeout and where
// prometheus instruments register, the orchestrator's only in-memory knobs
// (no file or environment config per spec.md Non-goals).
type Config struct {
	MailboxCapacity       int
	DefaultRequestTimeout time.Duration
	MetricsRegisterer     prometheus.Registerer

	// EventsPerSecond, if positive, caps the sustained rate of SendEvent
	// deliveries accepted per machine; EventBurst bounds how far a quiet
	// machine may burst above that rate before RateLimited is returned.
	// Zero disables rate limiting (the default), matching the teacher's
	// opt-in RateLimitConfig posture in pkg/web/middleware/security.
	EventsPerSecond float64
	EventBurst      int
}

// DefaultConfig mirrors the teacher's ExecutorConfig/DefaultExecutorConfig
// defaulting pattern.
func DefaultConfig() Config {
	return Config{
		MailboxCapacity:       256,
		DefaultRequestTimeout: 5 * time.Second,
	}
}

// EventResult is the outcome of one delivered event, returned to the
// caller of SendEvent.
type EventResult struct {
	Success  bool
	NewState string
	Error    chart.ErrorKind
}

// Orchestrator owns the registry of running machines and routes events
// (and the request_send fan-out their actions produce) between them.
type Orchestrator struct {
	mu       sync.RWMutex
	machines map[string]*registeredMachine

	cfg     Config
	logger  core.Logger
	metrics *metrics
	tracer  trace.Tracer
}

type registeredMachine struct {
	it      *interp.Interpreter
	mailbox concurrency.Mailbox
	cancel  context.CancelFunc
	limiter *rate.Limiter
}

type eventEnvelope struct {
	event   chart.EventName
	data    chart.Value
	reply   chan EventResult
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithLogger overrides the default logger.
func WithLogger(logger core.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithTracer installs an otel tracer (see pkg/telemetry.Tracer); a no-op
// tracer is used when none is supplied.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// New builds an Orchestrator. cfg's zero value is replaced with
// DefaultConfig().
func New(cfg Config, opts ...Option) *Orchestrator {
	if cfg.MailboxCapacity <= 0 {
		capacity := cfg.MailboxCapacity
		timeout := cfg.DefaultRequestTimeout
		registerer := cfg.MetricsRegisterer
		eventsPerSecond, eventBurst := cfg.EventsPerSecond, cfg.EventBurst
		cfg = DefaultConfig()
		cfg.EventsPerSecond, cfg.EventBurst = eventsPerSecond, eventBurst
		if capacity > 0 {
			cfg.MailboxCapacity = capacity
		}
		if timeout > 0 {
			cfg.DefaultRequestTimeout = timeout
		}
		cfg.MetricsRegisterer = registerer
	}
	o := &Orchestrator{
		machines: make(map[string]*registeredMachine),
		cfg:      cfg,
		logger:   core.NewDefaultLogger(),
		tracer:   trace.NewNoopTracerProvider().Tracer("orchestrator"),
		metrics:  newMetrics(cfg.MetricsRegisterer),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register deploys chart c as machine id, bound to ctx, and starts it.
// Fail-fast: an empty or already-registered id is rejected immediately.
func (o *Orchestrator) Register(id string, c *chart.Chart, instanceCtx *interp.Context) (string, error) {
	failfast.NotNil(c, "chart")
	if err := core.ValidateAddress(id); err != nil {
		return "", err
	}

	o.mu.Lock()
	if _, exists := o.machines[id]; exists {
		o.mu.Unlock()
		return "", &core.Error{Code: "ALREADY_REGISTERED", Message: "machine already registered: " + id}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rm := &registeredMachine{
		mailbox: concurrency.NewBoundedMailbox(o.cfg.MailboxCapacity),
		cancel:  cancel,
		limiter: o.newLimiter(),
	}
	rm.it = interp.New(c, instanceCtx, interp.WithLogger(o.logger), interp.WithID(id), interp.WithAsyncSendHandler(o.deliverAsync))
	o.machines[id] = rm
	o.mu.Unlock()

	go o.runMachine(runCtx, id, rm)

	state, err := rm.it.Start()
	if err != nil {
		return "", err
	}
	o.metrics.setMachineCount(o.machineCount())
	return state, nil
}

// Deregister stops and removes a machine, closing its mailbox.
func (o *Orchestrator) Deregister(id string) error {
	o.mu.Lock()
	rm, ok := o.machines[id]
	if !ok {
		o.mu.Unlock()
		return &core.Error{Code: string(chart.NoSuchMachine), Message: "no such machine: " + id}
	}
	delete(o.machines, id)
	o.mu.Unlock()

	rm.it.Stop()
	rm.cancel()
	rm.mailbox.Close()
	o.metrics.setMachineCount(o.machineCount())
	return nil
}

// newLimiter builds the per-machine limiter rate.Inf (unlimited) when
// EventsPerSecond is unset, otherwise one token bucket per machine.
func (o *Orchestrator) newLimiter() *rate.Limiter {
	if o.cfg.EventsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := o.cfg.EventBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(o.cfg.EventsPerSecond), burst)
}

func (o *Orchestrator) machineCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.machines)
}

// SendEvent delivers event to target and blocks for its EventResult, up
// to ctx's deadline or cfg.DefaultRequestTimeout when ctx carries none.
func (o *Orchestrator) SendEvent(ctx context.Context, target string, event chart.EventName, data chart.Value) (EventResult, error) {
	rm, ok := o.lookup(target)
	if !ok {
		return EventResult{Success: false, Error: chart.NoSuchMachine}, &core.Error{Code: string(chart.NoSuchMachine), Message: "no such machine: " + target}
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.send_event",
		trace.WithAttributes(
			attribute.String("machine_id", target),
			attribute.String("event", string(event)),
		))
	defer span.End()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.DefaultRequestTimeout)
		defer cancel()
	}

	if !rm.limiter.Allow() {
		o.metrics.recordStep(target, string(event), 0, "rate_limited")
		return EventResult{Success: false, Error: chart.RateLimited}, &core.Error{Code: string(chart.RateLimited), Message: "event rate exceeded for " + target}
	}

	reply := make(chan EventResult, 1)
	env := &eventEnvelope{event: event, data: data, reply: reply}

	start := time.Now()
	if err := rm.mailbox.Send(env); err != nil {
		o.metrics.recordStep(target, string(event), time.Since(start), "buffer_full")
		return EventResult{Success: false, Error: chart.BufferFull}, &core.Error{Code: string(chart.BufferFull), Message: "mailbox full for " + target}
	}
	o.metrics.setMailboxDepth(target, rm.mailbox.Size())

	select {
	case res := <-reply:
		o.metrics.recordStep(target, string(event), time.Since(start), resultOutcome(res))
		return res, nil
	case <-ctx.Done():
		return EventResult{Success: false, Error: chart.NotStarted}, ctx.Err()
	}
}

func resultOutcome(res EventResult) string {
	if res.Success {
		return "ok"
	}
	return string(res.Error)
}

func (o *Orchestrator) lookup(id string) (*registeredMachine, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rm, ok := o.machines[id]
	return rm, ok
}

// runMachine is the per-machine actor loop: exactly one goroutine ever
// calls Step on this interpreter, giving every delivered event the FIFO,
// non-reentrant ordering spec.md's instance model assumes.
func (o *Orchestrator) runMachine(ctx context.Context, id string, rm *registeredMachine) {
	for {
		msg, err := rm.mailbox.Receive(ctx)
		if err != nil {
			return
		}
		env, ok := msg.(*eventEnvelope)
		if !ok {
			continue
		}
		res, pending := rm.it.Step(env.event, env.data)
		env.reply <- EventResult{Success: res.Success, NewState: res.NewState, Error: res.Error}
		o.metrics.setMailboxDepth(id, rm.mailbox.Size())
		o.deliverAsync(pending)
	}
}

// deliverAsync fans out the request_send queue produced by one committed
// step (or by an `after` timer/invoke completion) to its targets,
// fire-and-forget: the originating step has already committed, so a
// delivery failure here is logged, never propagated back to it.
func (o *Orchestrator) deliverAsync(sends []interp.OutboundSend) {
	for _, send := range sends {
		rm, ok := o.lookup(send.Target)
		if !ok {
			o.logger.Warnf("request_send to unknown machine %q dropped", send.Target)
			continue
		}
		env := &eventEnvelope{event: send.Event, data: send.Payload, reply: make(chan EventResult, 1)}
		if err := rm.mailbox.Send(env); err != nil {
			o.logger.Warnf("request_send to %q dropped: %v", send.Target, err)
		}
	}
}
