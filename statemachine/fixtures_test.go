package statemachine

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	stNew         StateTag = "New"
	stInConfig    StateTag = "InConfig"
	stOperational StateTag = "Operational"

	cmdConfigure     Command = "Configure"
	cmdConfigureDone Command = "ConfigureDone"
	cmdDrop          Command = "Drop"
)

type newContext struct {
	X int
}

type inConfigContext struct {
	X int
	Y int
}

type operationalContext struct{}

// journal is a shared context recording every piece of user code that ran.
type journal struct {
	Calls []string
}

func (j *journal) add(format string, args ...any) {
	j.Calls = append(j.Calls, fmt.Sprintf(format, args...))
}

func (j journal) clone() journal {
	return journal{Calls: slices.Clone(j.Calls)}
}

func enterHook[C any](state StateTag) StateOption[C, journal] {
	return OnEnter(func(_ *C, j *journal) error {
		j.add("enter %s", state)

		return nil
	})
}

func leaveHook[C any](state StateTag) StateOption[C, journal] {
	return OnLeave(func(_ *C, j *journal) error {
		j.add("leave %s", state)

		return nil
	})
}

// configMachine is the New / InConfig / Operational machine.
func configMachine(t *testing.T) *Definition[journal] {
	t.Helper()

	def, err := NewBuilder[journal]("Mach1").
		WithCommands(cmdConfigure, cmdConfigureDone, cmdDrop).
		AddState(
			NewState[newContext, journal](stNew,
				enterHook[newContext](stNew),
				leaveHook[newContext](stNew),
				Handle(cmdConfigure,
					Do(func(c *newContext, j *journal) error {
						j.add("callback New x=%d", c.X)

						return nil
					}),
					Goto(stInConfig, func(c *newContext, _ *journal) inConfigContext {
						return inConfigContext{X: c.X + 1, Y: 0}
					}),
				),
				Handle(cmdConfigureDone,
					Goto(stNew, func(*newContext, *journal) newContext {
						return newContext{X: 0}
					}),
				),
			),
			NewState[inConfigContext, journal](stInConfig,
				enterHook[inConfigContext](stInConfig),
				leaveHook[inConfigContext](stInConfig),
				Handle(cmdConfigureDone,
					Do(func(c *inConfigContext, j *journal) error {
						j.add("callback InConfig x=%d", c.X)

						return nil
					}),
					GotoDefault[inConfigContext, journal](stOperational),
				),
			),
			NewState[operationalContext, journal](stOperational,
				enterHook[operationalContext](stOperational),
				leaveHook[operationalContext](stOperational),
				Handle(cmdConfigureDone, Stay[operationalContext, journal]()),
				Handle(cmdDrop,
					Goto(stNew, func(*operationalContext, *journal) newContext {
						return newContext{X: 0}
					}),
				),
			),
		).
		WithInitialState(stNew, newContext{X: 0}).
		Build()
	require.NoError(t, err)

	return def
}

const (
	stState1 StateTag = "State1"
	stState2 StateTag = "State2"
	stState3 StateTag = "State3"

	cmdToState1 Command = "ToState1"
	cmdToState2 Command = "ToState2"
	cmdToState3 Command = "ToState3"
)

type emptyContext struct{}

// cycleMachine is State1 -> State2 -> State3 -> State1 with no contexts.
func cycleMachine(t *testing.T) *Definition[NoShared] {
	t.Helper()

	next := func(to StateTag) HandlerOption[emptyContext, NoShared] {
		return GotoDefault[emptyContext, NoShared](to)
	}

	def, err := NewBuilder[NoShared]("Mach2").
		WithCommands(cmdToState1, cmdToState2, cmdToState3).
		AddState(
			NewState[emptyContext, NoShared](stState1, Handle(cmdToState2, next(stState2))),
			NewState[emptyContext, NoShared](stState2, Handle(cmdToState3, next(stState3))),
			NewState[emptyContext, NoShared](stState3, Handle(cmdToState1, next(stState1))),
		).
		WithInitialState(stState1, emptyContext{}).
		Build()
	require.NoError(t, err)

	return def
}

// recoverHookError runs fn and returns the *HookError it panicked with.
func recoverHookError(t *testing.T, fn func()) (hookErr *HookError) {
	t.Helper()

	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")

		err, ok := r.(*HookError)
		require.True(t, ok, "expected *HookError, got %T", r)

		hookErr = err
	}()

	fn()

	return nil
}
