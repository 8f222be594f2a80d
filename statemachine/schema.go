package statemachine

import (
	"fmt"
	"reflect"
)

// CommandHandler is the rule one state applies to one command: an optional
// callback and an optional target. Without a target the machine stays put.
type CommandHandler[S any] struct {
	command   Command
	callback  hookFunc[S]
	hasTarget bool
	target    StateTag
	init      initFunc[S]
	initType  reflect.Type // static type produced by init, nil if unknown
}

// Command returns the command this handler answers.
func (h *CommandHandler[S]) Command() Command {
	return h.command
}

// Target returns the declared target state, or false for a same-state handler.
func (h *CommandHandler[S]) Target() (StateTag, bool) {
	return h.target, h.hasTarget
}

// HasCallback reports whether the handler runs user code.
func (h *CommandHandler[S]) HasCallback() bool {
	return h.callback != nil
}

// StateSchema is the immutable description of one state: its context
// layout, its enter/leave hooks and its command handlers.
type StateSchema[S any] struct {
	tag         StateTag
	contextType reflect.Type
	fields      []Field
	enter       hookFunc[S]
	leave       hookFunc[S]
	handlers    map[Command]*CommandHandler[S]
	order       []Command
	errs        []error

	// box turns a context value (C or *C) into a private *C, unbox copies it back out.
	box   func(v any) (any, bool)
	unbox func(p any) any
	zero  func() any
}

// StateOption configures a StateSchema whose context type is C.
type StateOption[C, S any] func(*StateSchema[S])

// HandlerOption configures a CommandHandler of a state whose context type is C.
type HandlerOption[C, S any] func(*CommandHandler[S])

// NewState declares a state whose context is a value of type C. The field
// layout of C is taken from its exported struct fields.
func NewState[C, S any](tag StateTag, opts ...StateOption[C, S]) *StateSchema[S] {
	contextType := reflect.TypeFor[C]()

	schema := &StateSchema[S]{
		tag:         tag,
		contextType: contextType,
		fields:      fieldsOf(contextType),
		handlers:    make(map[Command]*CommandHandler[S]),
		box: func(v any) (any, bool) {
			switch c := v.(type) {
			case C:
				return &c, true
			case *C:
				if c == nil {
					return nil, false
				}

				cp := *c

				return &cp, true
			default:
				return nil, false
			}
		},
		unbox: func(p any) any {
			return cloneContext(*p.(*C)) //nolint:forcetypeassert // the store only ever holds *C for this state
		},
		zero: func() any {
			return new(C)
		},
	}

	for _, opt := range opts {
		opt(schema)
	}

	return schema
}

// Tag returns the state's name.
func (s *StateSchema[S]) Tag() StateTag {
	return s.tag
}

// ContextType returns the Go type of the state's context.
func (s *StateSchema[S]) ContextType() reflect.Type {
	return s.contextType
}

// Fields returns the state's context layout.
func (s *StateSchema[S]) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// describedFields is Fields with the Go zero value as the default of every
// struct field that has none: a struct context always holds a value.
func (s *StateSchema[S]) describedFields() []Field {
	fields := s.Fields()

	t := s.contextType
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return fields
	}

	for i := range fields {
		if fields[i].Default != nil {
			continue
		}

		if sf, ok := t.FieldByName(fields[i].Name); ok {
			fields[i].Default = zeroDefault(sf.Type)
		}
	}

	return fields
}

// cloneContext copies c through its Clone method when it has one. Other
// values are returned as is.
func cloneContext[C any](c C) C {
	if cl, ok := any(c).(interface{ Clone() C }); ok {
		return cl.Clone()
	}

	return c
}

// zeroDefault is the zero value of t in a form that survives a YAML round
// trip. Nil-able kinds are written as their empty value, not as null.
func zeroDefault(t reflect.Type) any {
	switch t.Kind() { //nolint:exhaustive
	case reflect.Pointer:
		return zeroDefault(t.Elem())
	case reflect.Slice, reflect.Array:
		return []any{}
	case reflect.Map, reflect.Struct, reflect.Interface, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return map[string]any{}
	default:
		return reflect.Zero(t).Interface()
	}
}

// HasEnter reports whether the state declares an enter hook.
func (s *StateSchema[S]) HasEnter() bool {
	return s.enter != nil
}

// HasLeave reports whether the state declares a leave hook.
func (s *StateSchema[S]) HasLeave() bool {
	return s.leave != nil
}

// Handler returns the handler for cmd. A command without one is undefined
// for this state.
func (s *StateSchema[S]) Handler(cmd Command) (*CommandHandler[S], bool) {
	h, ok := s.handlers[cmd]

	return h, ok
}

// Handlers returns the handlers in declaration order.
func (s *StateSchema[S]) Handlers() []*CommandHandler[S] {
	out := make([]*CommandHandler[S], 0, len(s.order))
	for _, cmd := range s.order {
		out = append(out, s.handlers[cmd])
	}

	return out
}

// WithFields overrides the context layout derived from C. Used by
// definitions whose context is not a struct.
func WithFields[C, S any](fields ...Field) StateOption[C, S] {
	return func(s *StateSchema[S]) {
		s.fields = append([]Field(nil), fields...)
	}
}

// OnEnter sets the hook that runs when the state becomes active.
func OnEnter[C, S any](fn func(ctx *C, shared *S) error) StateOption[C, S] {
	return func(s *StateSchema[S]) {
		s.enter = erase(fn)
	}
}

// OnLeave sets the hook that runs when the state stops being active.
func OnLeave[C, S any](fn func(ctx *C, shared *S) error) StateOption[C, S] {
	return func(s *StateSchema[S]) {
		s.leave = erase(fn)
	}
}

// Handle declares how the state answers cmd. Without Goto the handler is a
// same-state handler.
func Handle[C, S any](cmd Command, opts ...HandlerOption[C, S]) StateOption[C, S] {
	return func(s *StateSchema[S]) {
		if _, dup := s.handlers[cmd]; dup {
			s.errs = append(s.errs, fmt.Errorf("%w: %s", ErrDuplicateHandler, cmd))

			return
		}

		handler := &CommandHandler[S]{command: cmd}
		for _, opt := range opts {
			opt(handler)
		}

		s.handlers[cmd] = handler
		s.order = append(s.order, cmd)
	}
}

// Do sets the handler's callback. It runs before anything else, with the
// outgoing context.
func Do[C, S any](fn func(ctx *C, shared *S) error) HandlerOption[C, S] {
	return func(h *CommandHandler[S]) {
		h.callback = erase(fn)
	}
}

// Goto makes the handler transition to target. init builds the complete
// context of target from the outgoing context and the shared context.
// A target equal to the current state is still a full transition.
func Goto[C, S, N any](target StateTag, init func(ctx *C, shared *S) N) HandlerOption[C, S] {
	return TryGoto(target, func(ctx *C, shared *S) (N, error) {
		return init(ctx, shared), nil
	})
}

// TryGoto is Goto with an initializer that may fail. A failing initializer
// is a fatal definition defect, like a failing hook.
func TryGoto[C, S, N any](target StateTag, init func(ctx *C, shared *S) (N, error)) HandlerOption[C, S] {
	return func(h *CommandHandler[S]) {
		h.hasTarget = true
		h.target = target
		h.initType = reflect.TypeFor[N]()
		h.init = func(ctx any, shared *S) (any, error) {
			return init(ctx.(*C), shared) //nolint:forcetypeassert // handlers only see their own state's context
		}
	}
}

// GotoDefault makes the handler transition to target with target's zero
// context, for states that declare no fields.
func GotoDefault[C, S any](target StateTag) HandlerOption[C, S] {
	return func(h *CommandHandler[S]) {
		h.hasTarget = true
		h.target = target
		h.init = nil
		h.initType = nil
	}
}

// Stay makes the absence of a target explicit.
func Stay[C, S any]() HandlerOption[C, S] {
	return func(h *CommandHandler[S]) {
		h.hasTarget = false
		h.target = NoTransition
		h.init = nil
		h.initType = nil
	}
}

func erase[C, S any](fn func(*C, *S) error) hookFunc[S] {
	if fn == nil {
		return nil
	}

	return func(ctx any, shared *S) error {
		return fn(ctx.(*C), shared) //nolint:forcetypeassert // hooks only see their own state's context
	}
}
