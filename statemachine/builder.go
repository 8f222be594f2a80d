package statemachine

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
)

// Builder provides a fluent API for constructing machine definitions.
type Builder[S any] struct {
	name           string
	states         []*StateSchema[S]
	commands       []Command
	initial        StateTag
	initialContext func() any
	newShared      func() S
	sharedFields   []Field
	sharedFieldsOK bool
}

// NewBuilder creates a new definition builder for a machine called name.
func NewBuilder[S any](name string) *Builder[S] {
	return &Builder[S]{
		name: name,
	}
}

// AddState appends state schemas. Declaration order is kept.
func (b *Builder[S]) AddState(states ...*StateSchema[S]) *Builder[S] {
	b.states = append(b.states, states...)

	return b
}

// WithCommands declares the machine's commands. When never called, the
// commands are collected from the handlers in declaration order.
func (b *Builder[S]) WithCommands(commands ...Command) *Builder[S] {
	b.commands = append(b.commands, commands...)

	return b
}

// WithInitialState sets the initial state and its context value. The value
// is copied for every machine.
func (b *Builder[S]) WithInitialState(tag StateTag, ctx any) *Builder[S] {
	b.initial = tag

	if ctx == nil {
		b.initialContext = nil
	} else {
		b.initialContext = func() any { return ctx }
	}

	return b
}

// WithInitialStateFunc sets the initial state and a factory for its context,
// called once per machine.
func (b *Builder[S]) WithInitialStateFunc(tag StateTag, fn func() any) *Builder[S] {
	b.initial = tag
	b.initialContext = fn

	return b
}

// WithSharedContext sets the factory of the machine-wide context, called
// exactly once per machine. The default is the zero value of S.
func (b *Builder[S]) WithSharedContext(fn func() S) *Builder[S] {
	b.newShared = fn

	return b
}

// WithSharedFields overrides the shared context layout derived from S.
func (b *Builder[S]) WithSharedFields(fields ...Field) *Builder[S] {
	b.sharedFields = append([]Field(nil), fields...)
	b.sharedFieldsOK = true

	return b
}

// Build validates the definition and freezes it.
func (b *Builder[S]) Build() (*Definition[S], error) {
	def := &Definition[S]{
		name:           b.name,
		states:         slices.Clone(b.states),
		index:          make(map[StateTag]*StateSchema[S], len(b.states)),
		commands:       slices.Clone(b.commands),
		initial:        b.initial,
		initialContext: b.initialContext,
		newShared:      b.newShared,
		sharedFields:   b.sharedFields,
	}

	if !b.sharedFieldsOK {
		def.sharedFields = fieldsOf(reflect.TypeFor[S]())
	}

	if def.newShared == nil {
		def.newShared = func() S {
			var shared S

			return shared
		}
	}

	if len(def.commands) == 0 {
		def.commands = collectCommands(def.states)
	}

	err := validate(def)
	if err != nil {
		return nil, fmt.Errorf("invalid definition %q: %w", b.name, err)
	}

	return def, nil
}

// MustBuild is Build for definitions known to be valid; it panics otherwise.
func (b *Builder[S]) MustBuild() *Definition[S] {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}

	return def
}

func collectCommands[S any](states []*StateSchema[S]) []Command {
	var commands []Command

	for _, state := range states {
		for _, cmd := range state.order {
			if !slices.Contains(commands, cmd) {
				commands = append(commands, cmd)
			}
		}
	}

	return commands
}

// validate checks the definition invariants and fills the state index.
func validate[S any](def *Definition[S]) error {
	if def.name == "" {
		return ErrNameRequired
	}

	if len(def.states) == 0 {
		return ErrStateRequired
	}

	for _, state := range def.states {
		if state == nil || state.tag == NoTransition {
			return ErrStateNameRequired
		}

		if _, dup := def.index[state.tag]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateState, state.tag)
		}

		def.index[state.tag] = state

		if len(state.errs) > 0 {
			return WrapStateError(state.tag, errors.Join(state.errs...))
		}
	}

	declared := make(map[Command]bool, len(def.commands))

	for _, cmd := range def.commands {
		if cmd == "" {
			return ErrCommandNameRequired
		}

		if declared[cmd] {
			return fmt.Errorf("%w: %s", ErrDuplicateCommand, cmd)
		}

		declared[cmd] = true
	}

	for _, state := range def.states {
		for _, handler := range state.Handlers() {
			err := validateHandler(def, declared, handler)
			if err != nil {
				return WrapStateError(state.tag, err)
			}
		}
	}

	if def.initial == NoTransition {
		return ErrInitialStateRequired
	}

	if _, ok := def.index[def.initial]; !ok {
		return fmt.Errorf("%w: %s", ErrInitialStateNotFound, def.initial)
	}

	_, err := def.newInitialContext()

	return err
}

func validateHandler[S any](def *Definition[S], declared map[Command]bool, handler *CommandHandler[S]) error {
	if !declared[handler.command] {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, handler.command)
	}

	target, hasTarget := handler.Target()
	if !hasTarget {
		return nil
	}

	schema, ok := def.index[target]
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnknownTarget, target, handler.command)
	}

	if handler.initType != nil && handler.initType != schema.contextType &&
		handler.initType != reflect.PointerTo(schema.contextType) {
		return fmt.Errorf("%w: %s builds %s, %s declares %s",
			ErrContextTypeMismatch, handler.command, handler.initType, target, schema.contextType)
	}

	return nil
}

func typeMismatch(sentinel error, got any, want reflect.Type) error {
	return fmt.Errorf("%w: got %T, want %s", sentinel, got, want)
}
