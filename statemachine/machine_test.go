package statemachine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureLifecycle(t *testing.T) {
	t.Parallel()

	m, err := New(configMachine(t))
	require.NoError(t, err)

	assert.Equal(t, stNew, m.CurrentState())
	assert.Equal(t, []string{"enter New"}, m.Shared().Calls)

	require.NoError(t, m.Execute(cmdConfigure))
	assert.Equal(t, stInConfig, m.CurrentState())

	cfg, ok := ContextAs[inConfigContext](m)
	require.True(t, ok)
	assert.Equal(t, inConfigContext{X: 1, Y: 0}, cfg)

	require.NoError(t, m.Execute(cmdConfigureDone))
	assert.Equal(t, stOperational, m.CurrentState())

	assert.Equal(t, []string{
		"enter New",
		"callback New x=0",
		"leave New",
		"enter InConfig",
		"callback InConfig x=1",
		"leave InConfig",
		"enter Operational",
	}, m.Shared().Calls)

	stats := m.Stats()
	assert.Equal(t, uint64(2), stats.Executed)
	assert.Equal(t, uint64(2), stats.Transitions)
	assert.Zero(t, stats.Rejected)
}

func TestRejectedCommandChangesNothing(t *testing.T) {
	t.Parallel()

	m := MustNew(cycleMachine(t))

	err := m.Execute(cmdToState3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCommand)
	assert.True(t, IsInvalidCommand(err))

	var invalid *InvalidCommandError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, cmdToState3, invalid.Command)
	assert.Equal(t, stState1, invalid.State)

	assert.Equal(t, stState1, m.CurrentState())
	assert.Equal(t, uint64(1), m.Stats().Rejected)

	// The machine keeps working after a rejection.
	require.NoError(t, m.Execute(cmdToState2))
	require.NoError(t, m.Execute(cmdToState3))
	require.NoError(t, m.Execute(cmdToState1))
	assert.Equal(t, stState1, m.CurrentState())
}

func TestRejectionKeepsContextAndShared(t *testing.T) {
	t.Parallel()

	m := MustNew(configMachine(t), WithInitialContext[journal](newContext{X: 7}))
	before := m.Shared().clone()

	err := m.Execute(cmdDrop)
	require.ErrorIs(t, err, ErrInvalidCommand)

	tag, ctx := m.Current()
	assert.Equal(t, stNew, tag)
	assert.Equal(t, newContext{X: 7}, ctx)
	assert.Equal(t, before, *m.Shared())
}

func TestSharedContextIsPerInstance(t *testing.T) {
	t.Parallel()

	type identity struct {
		ID int
	}

	def, err := NewBuilder[identity]("Mach3").
		AddState(
			NewState[emptyContext, identity](stState1,
				Handle(cmdToState2, GotoDefault[emptyContext, identity](stState2)),
			),
			NewState[emptyContext, identity](stState2,
				OnEnter(func(_ *emptyContext, s *identity) error {
					s.ID += 100

					return nil
				}),
			),
		).
		WithInitialState(stState1, emptyContext{}).
		Build()
	require.NoError(t, err)

	m1 := MustNew(def, WithShared(identity{ID: 1}))
	m2 := MustNew(def, WithShared(identity{ID: 2}))

	require.NoError(t, m1.Execute(cmdToState2))

	assert.Equal(t, 101, m1.Shared().ID)
	assert.Equal(t, 2, m2.Shared().ID)
	assert.Equal(t, stState1, m2.CurrentState())
	assert.NotEqual(t, m1.ID(), m2.ID())
}

func TestSharedContextFactoryRunsOncePerMachine(t *testing.T) {
	t.Parallel()

	calls := 0

	def, err := NewBuilder[journal]("factory").
		AddState(NewState[emptyContext, journal](stState1)).
		WithInitialState(stState1, nil).
		WithSharedContext(func() journal {
			calls++

			return journal{Calls: []string{"fresh"}}
		}).
		Build()
	require.NoError(t, err)

	m1 := MustNew(def)
	m2 := MustNew(def)

	assert.Equal(t, 2, calls)

	m1.Shared().add("mutated")
	assert.Equal(t, []string{"fresh"}, m2.Shared().Calls)
}

func TestSameStateRunsOnlyTheCallback(t *testing.T) {
	t.Parallel()

	m := MustNew(configMachine(t))
	require.NoError(t, m.Execute(cmdConfigure))
	require.NoError(t, m.Execute(cmdConfigureDone))

	before := len(m.Shared().Calls)

	require.NoError(t, m.Execute(cmdConfigureDone))
	assert.Equal(t, stOperational, m.CurrentState())
	assert.Len(t, m.Shared().Calls, before)
	assert.Equal(t, uint64(1), m.Stats().SameState)
}

func TestSameStateCallbackMutationsPersist(t *testing.T) {
	t.Parallel()

	def, err := NewBuilder[NoShared]("counter").
		AddState(
			NewState[newContext, NoShared](stNew,
				Handle("Inc", Do(func(c *newContext, _ *NoShared) error {
					c.X++

					return nil
				})),
			),
		).
		WithInitialState(stNew, newContext{}).
		Build()
	require.NoError(t, err)

	m := MustNew(def)
	for range 3 {
		require.NoError(t, m.Execute("Inc"))
	}

	got, ok := ContextAs[newContext](m)
	require.True(t, ok)
	assert.Equal(t, 3, got.X)
}

func TestSelfTransitionRunsLeaveAndEnter(t *testing.T) {
	t.Parallel()

	m := MustNew(configMachine(t), WithInitialContext[journal](&newContext{X: 9}))

	require.NoError(t, m.Execute(cmdConfigureDone))
	assert.Equal(t, stNew, m.CurrentState())
	assert.Equal(t, []string{"enter New", "leave New", "enter New"}, m.Shared().Calls)

	got, ok := ContextAs[newContext](m)
	require.True(t, ok)
	assert.Zero(t, got.X)
	assert.Equal(t, uint64(1), m.Stats().Transitions)
}

func TestContextPtrAllowsMutationBetweenCommands(t *testing.T) {
	t.Parallel()

	m := MustNew(configMachine(t))

	p, ok := ContextPtr[newContext](m)
	require.True(t, ok)

	p.X = 41

	require.NoError(t, m.Execute(cmdConfigure))

	got, ok := ContextAs[inConfigContext](m)
	require.True(t, ok)
	assert.Equal(t, 42, got.X)

	_, ok = ContextAs[newContext](m)
	assert.False(t, ok)
}

func TestInitialContextIsCopiedPerMachine(t *testing.T) {
	t.Parallel()

	initial := &newContext{X: 5}

	def, err := NewBuilder[NoShared]("copy").
		AddState(NewState[newContext, NoShared](stNew)).
		WithInitialState(stNew, initial).
		Build()
	require.NoError(t, err)

	m := MustNew(def)
	p, ok := ContextPtr[newContext](m)
	require.True(t, ok)

	p.X = 100

	assert.Equal(t, 5, initial.X)

	other, ok := ContextAs[newContext](MustNew(def))
	require.True(t, ok)
	assert.Equal(t, 5, other.X)
}

func TestWithInitialContextTypeMismatch(t *testing.T) {
	t.Parallel()

	_, err := New(configMachine(t), WithInitialContext[journal](inConfigContext{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInitialContextMismatch)

	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, stNew, stateErr.State)
}

func TestHookFailureIsFatal(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")

	def, err := NewBuilder[NoShared]("fragile").
		AddState(
			NewState[emptyContext, NoShared](stState1,
				Handle(cmdToState2, GotoDefault[emptyContext, NoShared](stState2)),
			),
			NewState[emptyContext, NoShared](stState2,
				OnEnter(func(*emptyContext, *NoShared) error {
					return errBoom
				}),
			),
		).
		WithInitialState(stState1, emptyContext{}).
		Build()
	require.NoError(t, err)

	m := MustNew(def)

	hookErr := recoverHookError(t, func() {
		_ = m.Execute(cmdToState2)
	})
	require.NotNil(t, hookErr)
	assert.Equal(t, stState2, hookErr.State)
	assert.Equal(t, HookEnter, hookErr.Hook)
	assert.Equal(t, cmdToState2, hookErr.Command)
	require.ErrorIs(t, hookErr, errBoom)
	require.ErrorIs(t, hookErr, ErrHookFailed)
	require.ErrorIs(t, m.Err(), errBoom)

	err = m.Execute(cmdToState2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMachineFailed)
	assert.ErrorIs(t, err, errBoom)
}

func TestPanickingUserCodeIsFatal(t *testing.T) {
	t.Parallel()

	explode := func(*emptyContext, *NoShared) error { panic("kaboom") }

	tests := []struct {
		name    string
		state1  []StateOption[emptyContext, NoShared]
		state2  []StateOption[emptyContext, NoShared]
		hook    Hook
		inState StateTag
	}{
		{
			name:    "enter",
			state1:  []StateOption[emptyContext, NoShared]{Handle(cmdToState2, GotoDefault[emptyContext, NoShared](stState2))},
			state2:  []StateOption[emptyContext, NoShared]{OnEnter(explode)},
			hook:    HookEnter,
			inState: stState2,
		},
		{
			name: "callback",
			state1: []StateOption[emptyContext, NoShared]{Handle(cmdToState2,
				Do(explode),
				GotoDefault[emptyContext, NoShared](stState2),
			)},
			hook:    HookCallback,
			inState: stState1,
		},
		{
			name: "initializer",
			state1: []StateOption[emptyContext, NoShared]{Handle(cmdToState2,
				Goto(stState2, func(*emptyContext, *NoShared) emptyContext { panic("kaboom") }),
			)},
			hook:    HookInitializer,
			inState: stState1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			def, err := NewBuilder[NoShared]("panicky").
				AddState(
					NewState[emptyContext, NoShared](stState1, tt.state1...),
					NewState[emptyContext, NoShared](stState2, tt.state2...),
				).
				WithInitialState(stState1, emptyContext{}).
				Build()
			require.NoError(t, err)

			m := MustNew(def)

			hookErr := recoverHookError(t, func() {
				_ = m.Execute(cmdToState2)
			})
			require.NotNil(t, hookErr)
			assert.Equal(t, tt.hook, hookErr.Hook)
			assert.Equal(t, cmdToState2, hookErr.Command)
			require.ErrorIs(t, hookErr, ErrHookPanicked)
			assert.Contains(t, hookErr.Error(), "kaboom")
			assert.Equal(t, tt.inState, m.CurrentState())

			require.ErrorIs(t, m.Err(), ErrHookPanicked)

			err = m.Execute(cmdToState2)
			require.ErrorIs(t, err, ErrMachineFailed)
			assert.ErrorIs(t, err, ErrHookPanicked)
		})
	}
}

func TestCallbackFailurePanicsBeforeLeave(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("callback failed")
	left := false

	def, err := NewBuilder[NoShared]("callback").
		AddState(
			NewState[emptyContext, NoShared](stState1,
				OnLeave(func(*emptyContext, *NoShared) error {
					left = true

					return nil
				}),
				Handle(cmdToState2,
					Do(func(*emptyContext, *NoShared) error { return errBoom }),
					GotoDefault[emptyContext, NoShared](stState2),
				),
			),
			NewState[emptyContext, NoShared](stState2),
		).
		WithInitialState(stState1, emptyContext{}).
		Build()
	require.NoError(t, err)

	m := MustNew(def)

	hookErr := recoverHookError(t, func() {
		_ = m.Execute(cmdToState2)
	})
	require.NotNil(t, hookErr)
	assert.Equal(t, HookCallback, hookErr.Hook)
	assert.False(t, left)
	assert.Equal(t, stState1, m.CurrentState())
}

func TestConstructionEnterFailure(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("cannot start")

	def, err := NewBuilder[NoShared]("broken-start").
		AddState(
			NewState[emptyContext, NoShared](stState1,
				OnEnter(func(*emptyContext, *NoShared) error { return errBoom }),
			),
		).
		WithInitialState(stState1, emptyContext{}).
		Build()
	require.NoError(t, err)

	m, err := New(def)
	require.Error(t, err)
	assert.Nil(t, m)

	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, HookEnter, hookErr.Hook)
	assert.Empty(t, hookErr.Command)
	assert.ErrorIs(t, err, errBoom)

	assert.Panics(t, func() { MustNew(def) })
}

func TestConstructionEnterPanic(t *testing.T) {
	t.Parallel()

	def, err := NewBuilder[NoShared]("panicky-start").
		AddState(
			NewState[emptyContext, NoShared](stState1,
				OnEnter(func(*emptyContext, *NoShared) error { panic("cannot start") }),
			),
		).
		WithInitialState(stState1, emptyContext{}).
		Build()
	require.NoError(t, err)

	m, err := New(def)
	require.Error(t, err)
	assert.Nil(t, m)

	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, HookEnter, hookErr.Hook)
	assert.ErrorIs(t, err, ErrHookPanicked)
}

func TestStateChangeCallback(t *testing.T) {
	t.Parallel()

	type change struct{ from, to StateTag }

	var changes []change

	m := MustNew(cycleMachine(t), WithStateChangeCallback[NoShared](func(from, to StateTag) {
		changes = append(changes, change{from, to})
	}))

	require.NoError(t, m.Execute(cmdToState2))
	require.ErrorIs(t, m.Execute(cmdToState2), ErrInvalidCommand)
	require.NoError(t, m.Execute(cmdToState3))

	assert.Equal(t, []change{{stState1, stState2}, {stState2, stState3}}, changes)
}

func TestCanAndAvailableCommands(t *testing.T) {
	t.Parallel()

	m := MustNew(configMachine(t))

	assert.True(t, m.Is(stNew))
	assert.True(t, m.Can(cmdConfigure))
	assert.False(t, m.Can(cmdDrop))
	assert.Equal(t, []Command{cmdConfigure, cmdConfigureDone}, m.AvailableCommands())

	// Mutating the returned slice must not affect the definition.
	cmds := m.AvailableCommands()
	cmds[0] = "Other"
	assert.Equal(t, []Command{cmdConfigure, cmdConfigureDone}, m.AvailableCommands())
}

func TestWithInstanceID(t *testing.T) {
	t.Parallel()

	m := MustNew(cycleMachine(t), WithInstanceID[NoShared]("worker-1"))
	assert.Equal(t, "worker-1", m.ID())
	assert.Equal(t, "Mach2", m.Definition().Name())
}
