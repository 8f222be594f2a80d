package statemachine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineProcessOutcomes(t *testing.T) {
	t.Parallel()

	def := configMachine(t)
	engine := NewEngine(def)
	ctx := context.Background()

	t.Run("rejected", func(t *testing.T) {
		t.Parallel()

		store := newStore[journal](stNew, &newContext{X: 3}, journal{})

		outcome, err := engine.Process(ctx, store, cmdDrop)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidCommand)
		assert.Equal(t, Rejected, outcome.Kind)
		assert.Equal(t, stNew, store.Tag())
		assert.Equal(t, &newContext{X: 3}, store.Context())
		assert.Empty(t, store.Shared().Calls)
	})

	t.Run("same state", func(t *testing.T) {
		t.Parallel()

		store := newStore[journal](stOperational, &operationalContext{}, journal{})

		outcome, err := engine.Process(ctx, store, cmdConfigureDone)
		require.NoError(t, err)
		assert.Equal(t, SameState, outcome.Kind)
		assert.Equal(t, NoTransition, outcome.Next)
		assert.Nil(t, outcome.Context)
		assert.Equal(t, stOperational, store.Tag())
		assert.Empty(t, store.Shared().Calls)
	})

	t.Run("transitioned without entering", func(t *testing.T) {
		t.Parallel()

		store := newStore[journal](stNew, &newContext{X: 4}, journal{})

		outcome, err := engine.Process(ctx, store, cmdConfigure)
		require.NoError(t, err)
		assert.Equal(t, Transitioned, outcome.Kind)
		assert.Equal(t, stInConfig, outcome.Next)
		assert.Equal(t, &inConfigContext{X: 5, Y: 0}, outcome.Context)

		// The engine never swaps: the store still sits on the outgoing state.
		assert.Equal(t, stNew, store.Tag())
		assert.Equal(t, []string{"callback New x=4", "leave New"}, store.Shared().Calls)
	})
}

func TestEngineEnter(t *testing.T) {
	t.Parallel()

	engine := NewEngine(configMachine(t))
	store := newStore[journal](stInConfig, &inConfigContext{}, journal{})

	require.NoError(t, engine.Enter(context.Background(), store, cmdConfigure))
	assert.Equal(t, []string{"enter InConfig"}, store.Shared().Calls)
}

func TestInitializerSeesCallbackButNotLeave(t *testing.T) {
	t.Parallel()

	def, err := NewBuilder[NoShared]("init-order").
		AddState(
			NewState[newContext, NoShared](stNew,
				OnLeave(func(c *newContext, _ *NoShared) error {
					c.X = 99

					return nil
				}),
				Handle(cmdConfigure,
					Do(func(c *newContext, _ *NoShared) error {
						c.X = 5

						return nil
					}),
					Goto(stInConfig, func(c *newContext, _ *NoShared) inConfigContext {
						return inConfigContext{X: c.X}
					}),
				),
			),
			NewState[inConfigContext, NoShared](stInConfig),
		).
		WithInitialState(stNew, newContext{}).
		Build()
	require.NoError(t, err)

	m := MustNew(def)
	require.NoError(t, m.Execute(cmdConfigure))

	got, ok := ContextAs[inConfigContext](m)
	require.True(t, ok)
	assert.Equal(t, 5, got.X)
}

func TestInitializerFailureIsHookError(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")

	def, err := NewBuilder[NoShared]("try-goto").
		AddState(
			NewState[newContext, NoShared](stNew,
				Handle(cmdConfigure,
					TryGoto(stInConfig, func(*newContext, *NoShared) (inConfigContext, error) {
						return inConfigContext{}, errBoom
					}),
				),
			),
			NewState[inConfigContext, NoShared](stInConfig),
		).
		WithInitialState(stNew, newContext{}).
		Build()
	require.NoError(t, err)

	store := newStore[NoShared](stNew, &newContext{}, NoShared{})
	_, err = NewEngine(def).Process(context.Background(), store, cmdConfigure)

	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, HookInitializer, hookErr.Hook)
	assert.Equal(t, stNew, hookErr.State)
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, err, ErrHookFailed)
}

func TestOutcomeKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "same_state", SameState.String())
	assert.Equal(t, "transitioned", Transitioned.String())
	assert.Equal(t, "unknown", OutcomeKind(42).String())
}
