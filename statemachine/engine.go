package statemachine

import (
	"context"
	"fmt"
	"time"
)

// Engine is the transition algorithm: given a store positioned on some
// state and a command, it runs the handler protocol and reports the outcome.
// It never swaps the store's state itself; committing a transition and
// running the new state's enter hook is the Machine's job.
type Engine[S any] struct {
	def *Definition[S]
}

// NewEngine creates the transition engine of a definition.
func NewEngine[S any](def *Definition[S]) *Engine[S] {
	return &Engine[S]{def: def}
}

// Process runs cmd against the store.
//
// Rejected: the state has no handler for cmd; nothing runs, nothing changes,
// and the error is an *InvalidCommandError.
//
// SameState: the callback (if any) runs with the current and shared
// contexts; no hook runs and the context is not replaced.
//
// Transitioned: the callback runs, the initializer builds the next context
// from the outgoing and shared contexts, then the outgoing leave hook runs.
// The new context is returned; the enter hook has not run yet.
//
// Any other error is a *HookError and leaves the store mid-protocol.
func (e *Engine[S]) Process(ctx context.Context, store *Store[S], cmd Command) (Outcome, error) {
	current := store.tag
	schema := e.def.schema(current)

	handler, ok := schema.Handler(cmd)
	if !ok {
		return Outcome{Kind: Rejected}, &InvalidCommandError{Command: cmd, State: current}
	}

	if handler.callback != nil {
		err := e.invoke(ctx, current, HookCallback, cmd, func() error {
			return handler.callback(store.context, &store.shared)
		})
		if err != nil {
			return Outcome{}, err
		}
	}

	target, hasTarget := handler.Target()
	if !hasTarget {
		return Outcome{Kind: SameState, Next: NoTransition}, nil
	}

	next, err := e.initialize(ctx, current, handler, store)
	if err != nil {
		return Outcome{}, err
	}

	if schema.leave != nil {
		err := e.invoke(ctx, current, HookLeave, cmd, func() error {
			return schema.leave(store.context, &store.shared)
		})
		if err != nil {
			return Outcome{}, err
		}
	}

	return Outcome{Kind: Transitioned, Next: target, Context: next}, nil
}

// Enter runs the enter hook of the store's active state. cmd is the command
// that caused the transition, empty at construction.
func (e *Engine[S]) Enter(ctx context.Context, store *Store[S], cmd Command) error {
	schema := e.def.schema(store.tag)
	if schema.enter == nil {
		return nil
	}

	return e.invoke(ctx, store.tag, HookEnter, cmd, func() error {
		return schema.enter(store.context, &store.shared)
	})
}

func (e *Engine[S]) initialize(
	ctx context.Context,
	current StateTag,
	handler *CommandHandler[S],
	store *Store[S],
) (any, error) {
	target := e.def.schema(handler.target)
	if handler.init == nil {
		return target.zero(), nil
	}

	var value any

	err := e.invoke(ctx, current, HookInitializer, handler.command, func() error {
		v, err := handler.init(store.context, &store.shared)
		value = v

		return err
	})
	if err != nil {
		return nil, err
	}

	boxed, ok := target.box(value)
	if !ok {
		return nil, &HookError{
			State:   current,
			Hook:    HookInitializer,
			Command: handler.command,
			Err:     typeMismatch(ErrContextTypeMismatch, value, target.contextType),
		}
	}

	return boxed, nil
}

// invoke runs one piece of user code with a span and a duration metric.
// callRecovering runs user code and turns a panic into its error.
func callRecovering(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHookPanicked, r)
		}
	}()

	return fn()
}

func (e *Engine[S]) invoke(ctx context.Context, state StateTag, hook Hook, cmd Command, fn func() error) error {
	_, span := startHookSpan(ctx, state, hook, cmd)

	start := time.Now()
	err := callRecovering(fn)
	elapsed := time.Since(start)

	hookDuration.WithLabelValues(sanitizeMachine(e.def.name), string(state), string(hook)).
		Observe(elapsed.Seconds())

	endSpan(span, err)

	if err != nil {
		return &HookError{
			State:   state,
			Hook:    hook,
			Command: cmd,
			Err:     err,
		}
	}

	return nil
}
