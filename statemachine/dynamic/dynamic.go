// Package dynamic turns a YAML Topology into a runnable machine definition.
// Every state context and the shared context are Records; handler "set"
// blocks become initializers.
package dynamic

import (
	"fmt"
	"maps"

	"github.com/amp-labs/amp-fsm/statemachine"
)

// Record is the context of every state of a dynamic machine, and its shared context.
type Record map[string]any

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	return maps.Clone(r)
}

// Int returns a numeric field as an int.
func (r Record) Int(name string) (int, bool) {
	switch n := r[name].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// HookFunc is user code bound to a dynamic state or command. ctx is the
// active state's context; both records may be mutated in place.
type HookFunc func(ctx Record, shared Record) error

// Hooks receives every enter, leave and callback of a dynamic machine.
type Hooks interface {
	Enter(state statemachine.StateTag, ctx, shared Record) error
	Leave(state statemachine.StateTag, ctx, shared Record) error
	Callback(state statemachine.StateTag, cmd statemachine.Command, ctx, shared Record) error
}

type callbackKey struct {
	state statemachine.StateTag
	cmd   statemachine.Command
}

type options struct {
	enter     map[statemachine.StateTag]HookFunc
	leave     map[statemachine.StateTag]HookFunc
	callbacks map[callbackKey]HookFunc
	hooks     Hooks
}

// Option binds code to a dynamic definition.
type Option func(*options)

// WithEnter binds the enter hook of state.
func WithEnter(state statemachine.StateTag, fn HookFunc) Option {
	return func(o *options) {
		o.enter[state] = fn
	}
}

// WithLeave binds the leave hook of state.
func WithLeave(state statemachine.StateTag, fn HookFunc) Option {
	return func(o *options) {
		o.leave[state] = fn
	}
}

// WithCallback binds the callback of the handler for cmd in state.
func WithCallback(state statemachine.StateTag, cmd statemachine.Command, fn HookFunc) Option {
	return func(o *options) {
		o.callbacks[callbackKey{state, cmd}] = fn
	}
}

// WithHooks observes every state and handler. Hooks run after the code bound
// with WithEnter, WithLeave and WithCallback.
func WithHooks(h Hooks) Option {
	return func(o *options) {
		o.hooks = h
	}
}

// FromTopology validates t and builds a definition from it.
func FromTopology(t *statemachine.Topology, opts ...Option) (*statemachine.Definition[Record], error) {
	err := t.Validate()
	if err != nil {
		return nil, err
	}

	o := &options{
		enter:     make(map[statemachine.StateTag]HookFunc),
		leave:     make(map[statemachine.StateTag]HookFunc),
		callbacks: make(map[callbackKey]HookFunc),
	}
	for _, opt := range opts {
		opt(o)
	}

	err = checkBindings(t, o)
	if err != nil {
		return nil, err
	}

	initial, err := initialRecord(t)
	if err != nil {
		return nil, err
	}

	builder := statemachine.NewBuilder[Record](t.Name).
		WithCommands(t.Commands...).
		WithSharedFields(t.Shared...).
		WithSharedContext(func() Record { return defaults(t.Shared) }).
		WithInitialStateFunc(t.Initial.State, func() any { return initial.Clone() })

	for _, st := range t.States {
		schema, err := buildState(t, st, o)
		if err != nil {
			return nil, statemachine.WrapStateError(st.Name, err)
		}

		builder.AddState(schema)
	}

	return builder.Build()
}

// Load reads a topology by path or registered name and builds a definition.
func Load(pathOrName string, opts ...Option) (*statemachine.Definition[Record], error) {
	t, err := statemachine.LoadTopology(pathOrName)
	if err != nil {
		return nil, err
	}

	return FromTopology(t, opts...)
}

// SharedWith builds a shared context from the declared defaults overridden
// by values. Every key of values must be a declared shared field.
func SharedWith(t *statemachine.Topology, values Record) (Record, error) {
	shared := defaults(t.Shared)

	for name, v := range values {
		field, ok := lookup(t.Shared, name)
		if !ok {
			return nil, fmt.Errorf("%w: shared.%s", statemachine.ErrUnknownField, name)
		}

		if !conforms(field.Type, v) {
			return nil, fmt.Errorf("%w: shared.%s is %s, got %T", ErrTypeMismatch, name, field.Type, v)
		}

		shared[name] = v
	}

	return shared, nil
}

func buildState(
	t *statemachine.Topology,
	st statemachine.StateTopology,
	o *options,
) (*statemachine.StateSchema[Record], error) {
	opts := []statemachine.StateOption[Record, Record]{
		statemachine.WithFields[Record, Record](st.Fields...),
	}

	state := st.Name

	if enter := chain(o.enter[state], hooksEnter(o.hooks, state)); enter != nil {
		opts = append(opts, statemachine.OnEnter(adapt(enter)))
	}

	if leave := chain(o.leave[state], hooksLeave(o.hooks, state)); leave != nil {
		opts = append(opts, statemachine.OnLeave(adapt(leave)))
	}

	for _, h := range st.Handlers {
		handlerOpts, err := buildHandler(t, st, h, o)
		if err != nil {
			return nil, err
		}

		opts = append(opts, statemachine.Handle(h.Command, handlerOpts...))
	}

	return statemachine.NewState[Record, Record](state, opts...), nil
}

func buildHandler(
	t *statemachine.Topology,
	st statemachine.StateTopology,
	h statemachine.HandlerTopology,
	o *options,
) ([]statemachine.HandlerOption[Record, Record], error) {
	var opts []statemachine.HandlerOption[Record, Record]

	callback := chain(o.callbacks[callbackKey{st.Name, h.Command}], hooksCallback(o.hooks, st.Name, h.Command))
	if callback != nil {
		opts = append(opts, statemachine.Do(adapt(callback)))
	}

	if h.Target == statemachine.NoTransition {
		return opts, nil
	}

	target, _ := t.State(h.Target)

	init, err := compileInitializer(t, st, target, h.Set)
	if err != nil {
		return nil, fmt.Errorf("%s -> %s: %w", h.Command, h.Target, err)
	}

	return append(opts, statemachine.TryGoto(h.Target, init)), nil
}

type compiledField struct {
	field statemachine.Field
	expr  expr
}

// compileInitializer builds the initializer of target. Fields not set take
// their declared default.
func compileInitializer(
	t *statemachine.Topology,
	from statemachine.StateTopology,
	target *statemachine.StateTopology,
	set map[string]any,
) (func(*Record, *Record) (Record, error), error) {
	compiled := make([]compiledField, 0, len(target.Fields))

	for _, field := range target.Fields {
		value, ok := set[field.Name]
		if !ok {
			if field.Default == nil {
				return nil, fmt.Errorf("%w: %s of %s has no default", statemachine.ErrMissingField, field.Name, target.Name)
			}

			value = field.Default
		}

		e, err := parseExpr(value)
		if err != nil {
			return nil, err
		}

		err = checkExpr(t, from, field, e)
		if err != nil {
			return nil, err
		}

		compiled = append(compiled, compiledField{field: field, expr: e})
	}

	return func(ctx *Record, shared *Record) (Record, error) {
		next := make(Record, len(compiled))

		for _, c := range compiled {
			v, err := c.expr.eval(*ctx, *shared)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", c.field.Name, err)
			}

			if !conforms(c.field.Type, v) {
				return nil, fmt.Errorf("%w: %s is %s, got %T", ErrTypeMismatch, c.field.Name, c.field.Type, v)
			}

			next[c.field.Name] = v
		}

		return next, nil
	}, nil
}

func checkExpr(t *statemachine.Topology, from statemachine.StateTopology, field statemachine.Field, e expr) error {
	if !e.isRef {
		if !conforms(field.Type, e.literal) {
			return fmt.Errorf("%w: %s is %s, got %T", ErrTypeMismatch, field.Name, field.Type, e.literal)
		}

		return nil
	}

	fields := from.Fields
	prefix := ""

	if e.shared {
		fields = t.Shared
		prefix = "shared."
	}

	if _, ok := lookup(fields, e.ref); !ok {
		return fmt.Errorf("%w: %s%s", ErrUnknownRef, prefix, e.ref)
	}

	return nil
}

func initialRecord(t *statemachine.Topology) (Record, error) {
	state, _ := t.State(t.Initial.State)
	record := defaults(state.Fields)

	for _, field := range state.Fields {
		if _, ok := t.Initial.Set[field.Name]; !ok && field.Default == nil {
			return nil, fmt.Errorf("%w: %s of %s has no default", statemachine.ErrMissingField, field.Name, state.Name)
		}
	}

	for name, v := range t.Initial.Set {
		e, err := parseExpr(v)
		if err != nil {
			return nil, err
		}

		if e.isRef {
			return nil, fmt.Errorf("%w: initial value of %s must be a literal", ErrBadExpression, name)
		}

		field, _ := lookup(state.Fields, name)
		if !conforms(field.Type, e.literal) {
			return nil, fmt.Errorf("%w: %s is %s, got %T", ErrTypeMismatch, name, field.Type, e.literal)
		}

		record[name] = e.literal
	}

	return record, nil
}

func checkBindings(t *statemachine.Topology, o *options) error {
	for state := range o.enter {
		if _, ok := t.State(state); !ok {
			return fmt.Errorf("%w: enter of %s", ErrUnknownHookRef, state)
		}
	}

	for state := range o.leave {
		if _, ok := t.State(state); !ok {
			return fmt.Errorf("%w: leave of %s", ErrUnknownHookRef, state)
		}
	}

	for key := range o.callbacks {
		if !handles(t, key.state, key.cmd) {
			return fmt.Errorf("%w: callback of %s on %s", ErrUnknownHookRef, key.state, key.cmd)
		}
	}

	return nil
}

func handles(t *statemachine.Topology, state statemachine.StateTag, cmd statemachine.Command) bool {
	st, ok := t.State(state)
	if !ok {
		return false
	}

	for _, h := range st.Handlers {
		if h.Command == cmd {
			return true
		}
	}

	return false
}

func defaults(fields []statemachine.Field) Record {
	record := make(Record, len(fields))
	for _, f := range fields {
		record[f.Name] = f.Default
	}

	return record
}

func lookup(fields []statemachine.Field, name string) (statemachine.Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}

	return statemachine.Field{}, false
}

func adapt(fn HookFunc) func(*Record, *Record) error {
	return func(ctx *Record, shared *Record) error {
		return fn(*ctx, *shared)
	}
}

// chain runs fns in order, skipping nil ones. It returns nil when all are nil.
func chain(fns ...HookFunc) HookFunc {
	var live []HookFunc

	for _, fn := range fns {
		if fn != nil {
			live = append(live, fn)
		}
	}

	if len(live) == 0 {
		return nil
	}

	return func(ctx, shared Record) error {
		for _, fn := range live {
			err := fn(ctx, shared)
			if err != nil {
				return err
			}
		}

		return nil
	}
}

func hooksEnter(h Hooks, state statemachine.StateTag) HookFunc {
	if h == nil {
		return nil
	}

	return func(ctx, shared Record) error {
		return h.Enter(state, ctx, shared)
	}
}

func hooksLeave(h Hooks, state statemachine.StateTag) HookFunc {
	if h == nil {
		return nil
	}

	return func(ctx, shared Record) error {
		return h.Leave(state, ctx, shared)
	}
}

func hooksCallback(h Hooks, state statemachine.StateTag, cmd statemachine.Command) HookFunc {
	if h == nil {
		return nil
	}

	return func(ctx, shared Record) error {
		return h.Callback(state, cmd, ctx, shared)
	}
}
