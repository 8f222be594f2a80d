package statemachine

import (
	"context"
	"reflect"
)

// StateTag names one state out of the closed set declared for a machine.
type StateTag string

// NoTransition means "stay where you are". It never names a real state and
// is never reported as the current state of a machine.
const NoTransition StateTag = ""

func (t StateTag) String() string {
	return string(t)
}

// Command is an external request submitted to Machine.Execute.
type Command string

func (c Command) String() string {
	return string(c)
}

// NoShared is the shared context type of machines that declare none.
type NoShared struct{}

// OutcomeKind classifies what the transition engine decided for a command.
type OutcomeKind int

const (
	// Rejected means the current state has no handler for the command.
	Rejected OutcomeKind = iota
	// SameState means the handler declared no target.
	SameState
	// Transitioned means the handler declared a target, possibly the current state.
	Transitioned
)

func (k OutcomeKind) String() string {
	switch k {
	case Rejected:
		return "rejected"
	case SameState:
		return "same_state"
	case Transitioned:
		return "transitioned"
	default:
		return "unknown"
	}
}

// Outcome is the result of processing one command against a context store.
type Outcome struct {
	Kind OutcomeKind
	// Next is NoTransition unless Kind is Transitioned.
	Next StateTag
	// Context is the freshly built context of Next, owned by the caller.
	Context any
}

// Hook identifies which piece of user code ran (or failed).
type Hook string

const (
	HookEnter       Hook = "enter"
	HookLeave       Hook = "leave"
	HookCallback    Hook = "callback"
	HookInitializer Hook = "initializer"
)

// hookFunc is a type-erased enter/leave hook or command callback. ctx is
// always a pointer to the state's context struct.
type hookFunc[S any] func(ctx any, shared *S) error

// initFunc is a type-erased initializer producing the next state's context value.
type initFunc[S any] func(ctx any, shared *S) (any, error)

// Field describes one named field of a state or shared context.
type Field struct {
	Name    string `json:"name"              yaml:"name"`
	Type    string `json:"type,omitempty"    yaml:"type,omitempty"`
	Default any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// fieldsOf lists the exported fields of a struct type. Other kinds have no
// static layout and report none.
func fieldsOf(t reflect.Type) []Field {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}

	fields := make([]Field, 0, t.NumField())

	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		fields = append(fields, Field{Name: f.Name, Type: f.Type.String()})
	}

	return fields
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// machineContextKey carries the executing machine's labels through hooks.
const machineContextKey contextKey = "statemachine_labels"

// Labels identifies the machine instance a context.Context belongs to while
// a command is being executed.
type Labels struct {
	Machine    string
	InstanceID string
	State      StateTag
	Command    Command
}

// GetLabels extracts the labels of the executing machine, if any.
func GetLabels(ctx context.Context) (Labels, bool) {
	if ctx == nil {
		return Labels{}, false
	}

	labels, ok := ctx.Value(machineContextKey).(Labels)

	return labels, ok
}

func withLabels(ctx context.Context, labels Labels) context.Context {
	return context.WithValue(ctx, machineContextKey, labels)
}
