package statemachine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
)

// Machine is one running instance of a Definition. It owns its own state
// context and shared context; no two machines share data.
//
// A Machine is not safe for concurrent Execute calls. Calls on one instance
// must be totally ordered by the caller; distinct instances never interfere.
type Machine[S any] struct {
	def      *Definition[S]
	engine   *Engine[S]
	store    *Store[S]
	id       string
	logger   Logger
	onChange func(from, to StateTag)
	failed   error

	executed    atomic.Uint64
	rejected    atomic.Uint64
	transitions atomic.Uint64
	sameState   atomic.Uint64
}

// Stats counts what a machine has done so far. Safe to read from any goroutine.
type Stats struct {
	Executed    uint64
	Rejected    uint64
	Transitions uint64
	SameState   uint64
}

type machineConfig[S any] struct {
	initialContext any
	hasInitial     bool
	shared         S
	hasShared      bool
	logger         Logger
	onChange       func(from, to StateTag)
	id             string
}

// MachineOption is a functional option for configuring a Machine.
type MachineOption[S any] func(*machineConfig[S])

// WithInitialContext replaces the definition's initial context value. It
// must be a value (or pointer) of the initial state's context type.
func WithInitialContext[S any](ctx any) MachineOption[S] {
	return func(c *machineConfig[S]) {
		c.initialContext = ctx
		c.hasInitial = true
	}
}

// WithShared sets the initial value of the shared context instead of the
// definition's factory.
func WithShared[S any](shared S) MachineOption[S] {
	return func(c *machineConfig[S]) {
		c.shared = shared
		c.hasShared = true
	}
}

// WithLogger sets the logger for the machine. Machines are silent by default.
func WithLogger[S any](logger Logger) MachineOption[S] {
	return func(c *machineConfig[S]) {
		c.logger = logger
	}
}

// WithStateChangeCallback sets a callback invoked after each completed
// transition, once the new state's enter hook has run.
func WithStateChangeCallback[S any](fn func(from, to StateTag)) MachineOption[S] {
	return func(c *machineConfig[S]) {
		c.onChange = fn
	}
}

// WithInstanceID overrides the generated instance id.
func WithInstanceID[S any](id string) MachineOption[S] {
	return func(c *machineConfig[S]) {
		c.id = id
	}
}

// New builds a machine: it creates the shared context once, builds the
// initial state's context and runs the initial enter hook. A failing enter
// hook aborts construction and is returned as a *HookError.
func New[S any](def *Definition[S], opts ...MachineOption[S]) (*Machine[S], error) {
	return NewContext(context.Background(), def, opts...)
}

// NewContext is New with a context for logging and tracing.
func NewContext[S any](ctx context.Context, def *Definition[S], opts ...MachineOption[S]) (*Machine[S], error) {
	cfg := machineConfig[S]{}
	for _, opt := range opts {
		opt(&cfg)
	}

	initial, err := initialContext(def, cfg)
	if err != nil {
		return nil, err
	}

	shared := cfg.shared
	if !cfg.hasShared {
		shared = def.newShared()
	}

	id := cfg.id
	if id == "" {
		id = uuid.New().String()
	}

	m := &Machine[S]{
		def:      def,
		engine:   NewEngine(def),
		store:    newStore(def.initial, initial, shared),
		id:       id,
		logger:   cfg.logger,
		onChange: cfg.onChange,
	}

	ctx = withLabels(ctx, m.labels(""))

	err = m.engine.Enter(ctx, m.store, "")
	if err != nil {
		return nil, err
	}

	machinesConstructed.WithLabelValues(sanitizeMachine(def.name)).Inc()

	if m.logger != nil {
		m.logger.StateEntered(ctx, def.name, def.initial)
	}

	return m, nil
}

// MustNew is New for definitions whose initial enter hook cannot fail.
func MustNew[S any](def *Definition[S], opts ...MachineOption[S]) *Machine[S] {
	m, err := New(def, opts...)
	if err != nil {
		panic(err)
	}

	return m
}

func initialContext[S any](def *Definition[S], cfg machineConfig[S]) (any, error) {
	if !cfg.hasInitial {
		return def.newInitialContext()
	}

	return boxContext(def.schema(def.initial), cfg.initialContext)
}

// Execute submits cmd. It returns an *InvalidCommandError (matching
// ErrInvalidCommand) when the current state has no handler, in which case
// nothing changed.
//
// A failing hook, callback or initializer is fatal: Execute panics with the
// *HookError and every later call returns an error wrapping ErrMachineFailed.
func (m *Machine[S]) Execute(cmd Command) error {
	return m.ExecuteContext(context.Background(), cmd)
}

// ExecuteContext is Execute with a context for logging and tracing. The
// context does not cancel anything; a command always runs to completion.
func (m *Machine[S]) ExecuteContext(ctx context.Context, cmd Command) error {
	if m.failed != nil {
		return fmt.Errorf("%w: %w", ErrMachineFailed, m.failed)
	}

	from := m.store.tag
	ctx = withLabels(ctx, m.labels(cmd))

	ctx, span := startExecuteSpan(ctx, m.def.name, m.id, from, cmd)
	defer span.End()

	m.executed.Inc()

	outcome, err := m.engine.Process(ctx, m.store, cmd)
	if err != nil {
		var invalid *InvalidCommandError
		if errors.As(err, &invalid) {
			m.rejected.Inc()
			recordCommand(m.def.name, from, cmd, Rejected.String())
			setExecuteOutcome(span, Rejected.String(), err)

			if m.logger != nil {
				m.logger.CommandRejected(ctx, m.def.name, from, cmd)
			}

			return err
		}

		m.fail(ctx, span, from, cmd, err)
	}

	switch outcome.Kind {
	case SameState:
		m.sameState.Inc()
	case Transitioned:
		m.commit(ctx, span, cmd, outcome)
	case Rejected:
	}

	recordCommand(m.def.name, from, cmd, outcome.Kind.String())
	setExecuteOutcome(span, outcome.Kind.String(), nil)

	return nil
}

// commit swaps in the next state and runs its enter hook.
func (m *Machine[S]) commit(ctx context.Context, span trace.Span, cmd Command, outcome Outcome) {
	from, dwell := m.store.swap(outcome.Next, outcome.Context)

	m.transitions.Inc()
	transitionTotal.WithLabelValues(sanitizeMachine(m.def.name), string(from), string(outcome.Next)).Inc()

	if m.logger != nil {
		m.logger.StateExited(ctx, m.def.name, from, dwell)
		m.logger.TransitionExecuted(ctx, m.def.name, from, outcome.Next, cmd)
	}

	err := m.engine.Enter(ctx, m.store, cmd)
	if err != nil {
		m.fail(ctx, span, from, cmd, err)
	}

	if m.logger != nil {
		m.logger.StateEntered(ctx, m.def.name, outcome.Next)
	}

	if m.onChange != nil {
		m.onChange(from, outcome.Next)
	}
}

// fail poisons the machine and panics; there is no state to roll back to.
func (m *Machine[S]) fail(ctx context.Context, span trace.Span, from StateTag, cmd Command, err error) {
	m.failed = err

	recordCommand(m.def.name, from, cmd, outcomeFailed)
	setExecuteOutcome(span, outcomeFailed, err)

	if m.logger != nil {
		m.logger.HookFailed(ctx, m.def.name, from, err)
	}

	panic(err)
}

// CurrentState returns the active state. It is never NoTransition.
func (m *Machine[S]) CurrentState() StateTag {
	return m.store.tag
}

// Current returns the active state and a copy of its context. A context
// type with a Clone method is copied through it; otherwise the copy is
// shallow and maps, slices or pointers inside it are shared with the machine.
func (m *Machine[S]) Current() (StateTag, any) {
	return m.store.tag, m.def.schema(m.store.tag).unbox(m.store.context)
}

// Shared returns the machine-wide context for inspection or mutation
// between Execute calls.
func (m *Machine[S]) Shared() *S {
	return m.store.Shared()
}

// Definition returns the definition the machine runs.
func (m *Machine[S]) Definition() *Definition[S] {
	return m.def
}

// ID returns the instance id used in logs, metrics and spans.
func (m *Machine[S]) ID() string {
	return m.id
}

// Err returns the hook failure that poisoned the machine, if any.
func (m *Machine[S]) Err() error {
	return m.failed
}

// Stats returns the machine's counters.
func (m *Machine[S]) Stats() Stats {
	return Stats{
		Executed:    m.executed.Load(),
		Rejected:    m.rejected.Load(),
		Transitions: m.transitions.Load(),
		SameState:   m.sameState.Load(),
	}
}

// Is reports whether the machine is in state tag.
func (m *Machine[S]) Is(tag StateTag) bool {
	return m.store.tag == tag
}

// Can reports whether the current state handles cmd, without running anything.
func (m *Machine[S]) Can(cmd Command) bool {
	_, ok := m.def.schema(m.store.tag).Handler(cmd)

	return ok
}

// AvailableCommands lists the commands the current state handles.
func (m *Machine[S]) AvailableCommands() []Command {
	return slices.Clone(m.def.schema(m.store.tag).order)
}

func (m *Machine[S]) labels(cmd Command) Labels {
	return Labels{
		Machine:    m.def.name,
		InstanceID: m.id,
		State:      m.store.tag,
		Command:    cmd,
	}
}

// ContextAs returns a copy of the active context if it has type C. The copy
// is made as in Current.
func ContextAs[C, S any](m *Machine[S]) (C, bool) {
	p, ok := m.store.context.(*C)
	if !ok {
		var zero C

		return zero, false
	}

	return cloneContext(*p), true
}

// ContextPtr returns the active context for in-place mutation between
// Execute calls, if it has type C. The pointer is invalid after the next
// transition.
func ContextPtr[C, S any](m *Machine[S]) (*C, bool) {
	p, ok := m.store.context.(*C)

	return p, ok
}
