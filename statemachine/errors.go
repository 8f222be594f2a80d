package statemachine

import (
	"errors"
	"fmt"
)

// Predefined error types.
var (
	// ErrInvalidCommand is returned when the current state has no handler for a command.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrHookFailed indicates that an enter/leave hook, callback or initializer failed.
	ErrHookFailed = errors.New("hook failed")
	// ErrMachineFailed is returned by every Execute after a hook failure.
	ErrMachineFailed = errors.New("machine failed")

	// ErrNameRequired indicates that a machine name is required.
	ErrNameRequired = errors.New("machine name is required")
	// ErrStateRequired indicates that at least one state is required.
	ErrStateRequired = errors.New("at least one state is required")
	// ErrStateNameRequired indicates that a state name is required.
	ErrStateNameRequired = errors.New("state name is required")
	// ErrDuplicateState indicates that a state name was declared twice.
	ErrDuplicateState = errors.New("duplicate state name")
	// ErrCommandNameRequired indicates that a command name is required.
	ErrCommandNameRequired = errors.New("command name is required")
	// ErrDuplicateCommand indicates that a command name was declared twice.
	ErrDuplicateCommand = errors.New("duplicate command name")
	// ErrDuplicateHandler indicates that a state declares two handlers for one command.
	ErrDuplicateHandler = errors.New("duplicate command handler")
	// ErrUnknownCommand indicates that a handler refers to an undeclared command.
	ErrUnknownCommand = errors.New("handler for undeclared command")
	// ErrUnknownTarget indicates that a handler targets an undeclared state.
	ErrUnknownTarget = errors.New("transition to undeclared state")
	// ErrUnknownField indicates that an initializer sets a field the target does not declare.
	ErrUnknownField = errors.New("unknown context field")
	// ErrHookPanicked wraps the value of a hook, callback or initializer that panicked.
	ErrHookPanicked = errors.New("panic")
	// ErrMissingField indicates that an initializer leaves out a field that has no default.
	ErrMissingField = errors.New("missing context field")
	// ErrInitialStateRequired indicates that an initial state is required.
	ErrInitialStateRequired = errors.New("initial state is required")
	// ErrInitialStateNotFound indicates that the initial state does not exist.
	ErrInitialStateNotFound = errors.New("initial state does not exist")
	// ErrInitialContextMismatch indicates that the initial context has the wrong type.
	ErrInitialContextMismatch = errors.New("initial context does not match the initial state")
	// ErrContextTypeMismatch indicates that an initializer builds the wrong context type.
	ErrContextTypeMismatch = errors.New("initializer does not build the target context")
	// ErrNoTopologyLoader indicates that no topology loader is registered.
	ErrNoTopologyLoader = errors.New("no topology loader registered; use SetTopologyLoader() or provide a file path")
)

// InvalidCommandError reports a command that the current state does not handle.
// Nothing ran and nothing was mutated.
type InvalidCommandError struct {
	Command Command
	State   StateTag
}

func (e *InvalidCommandError) Error() string {
	return fmt.Sprintf("%v: %s in state %s", ErrInvalidCommand, e.Command, e.State)
}

func (e *InvalidCommandError) Unwrap() error {
	return ErrInvalidCommand
}

// HookError reports a failing hook, callback or initializer. It is a defect
// of the machine definition, not a runtime condition.
type HookError struct {
	State   StateTag
	Hook    Hook
	Command Command
	Err     error
}

func (e *HookError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("%v: %s hook of state %s: %v", ErrHookFailed, e.Hook, e.State, e.Err)
	}

	return fmt.Sprintf("%v: %s of state %s on %s: %v", ErrHookFailed, e.Hook, e.State, e.Command, e.Err)
}

func (e *HookError) Unwrap() []error {
	return []error{ErrHookFailed, e.Err}
}

// StateError wraps an error with state context.
type StateError struct {
	State StateTag
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s: %v", e.State, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// WrapStateError wraps an error with state context.
func WrapStateError(state StateTag, err error) error {
	if err == nil {
		return nil
	}

	return &StateError{
		State: state,
		Err:   err,
	}
}

// IsInvalidCommand reports whether err is a rejected command.
func IsInvalidCommand(err error) bool {
	return errors.Is(err, ErrInvalidCommand)
}
