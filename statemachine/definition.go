package statemachine

import "reflect"

// Definition is the immutable description of a machine: its name, ordered
// states, commands, initial state and context, and the layout and factory of
// its shared context. Build one with a Builder; it is safe to share between
// any number of machines.
type Definition[S any] struct {
	name           string
	states         []*StateSchema[S]
	index          map[StateTag]*StateSchema[S]
	commands       []Command
	initial        StateTag
	initialContext func() any
	newShared      func() S
	sharedFields   []Field
}

// Name returns the machine name.
func (d *Definition[S]) Name() string {
	return d.name
}

// States returns the state schemas in declaration order.
func (d *Definition[S]) States() []*StateSchema[S] {
	return append([]*StateSchema[S](nil), d.states...)
}

// State returns the schema of tag.
func (d *Definition[S]) State(tag StateTag) (*StateSchema[S], bool) {
	s, ok := d.index[tag]

	return s, ok
}

// Commands returns the declared commands in declaration order.
func (d *Definition[S]) Commands() []Command {
	return append([]Command(nil), d.commands...)
}

// InitialState returns the state a new machine starts in.
func (d *Definition[S]) InitialState() StateTag {
	return d.initial
}

// SharedFields returns the layout of the shared context.
func (d *Definition[S]) SharedFields() []Field {
	return append([]Field(nil), d.sharedFields...)
}

// HasSharedContext reports whether the machine declares a shared context.
func (d *Definition[S]) HasSharedContext() bool {
	return reflect.TypeFor[S]() != reflect.TypeFor[NoShared]()
}

// schema returns the schema of a tag known to exist.
func (d *Definition[S]) schema(tag StateTag) *StateSchema[S] {
	return d.index[tag]
}

// newInitialContext builds a private copy of the initial state's context.
func (d *Definition[S]) newInitialContext() (any, error) {
	initial := d.index[d.initial]

	if d.initialContext == nil {
		return initial.zero(), nil
	}

	return boxContext(initial, d.initialContext())
}

func boxContext[S any](schema *StateSchema[S], value any) (any, error) {
	boxed, ok := schema.box(value)
	if !ok {
		return nil, WrapStateError(schema.tag,
			typeMismatch(ErrInitialContextMismatch, value, schema.contextType))
	}

	return boxed, nil
}
