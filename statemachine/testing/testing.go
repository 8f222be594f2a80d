// Package testing provides testing utilities for state machines: a traced
// machine wrapper, hook order recording, trace matchers and scenarios.
package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/amp-labs/amp-fsm/statemachine"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

// EventKind classifies a trace entry.
type EventKind string

const (
	EventEntered    EventKind = "entered"
	EventExited     EventKind = "exited"
	EventTransition EventKind = "transition"
	EventRejected   EventKind = "rejected"
	EventFailed     EventKind = "failed"
)

// TraceEntry records a single lifecycle event of a machine.
type TraceEntry struct {
	Timestamp time.Time
	Kind      EventKind
	State     statemachine.StateTag // entered, exited, rejected and failed events
	From      statemachine.StateTag // transition events
	To        statemachine.StateTag // transition events
	Command   statemachine.Command
	Dwell     time.Duration
	Error     error
}

// Assertion represents a test assertion.
type Assertion struct {
	Name   string
	Passed bool
	Error  error
}

// TestMachine wraps a Machine with a recorded trace and assertion helpers.
type TestMachine[S any] struct {
	*statemachine.Machine[S]

	t          *testing.T
	tracer     *traceLogger
	assertions []Assertion
}

// NewTestMachine builds a machine whose lifecycle events are traced and
// logged through the test's log. It replaces any logger passed in opts.
func NewTestMachine[S any](
	t *testing.T,
	def *statemachine.Definition[S],
	opts ...statemachine.MachineOption[S],
) *TestMachine[S] {
	t.Helper()

	tracer := &traceLogger{next: statemachine.NewSlogLogger(slogt.New(t))}

	opts = append(opts, statemachine.WithLogger[S](tracer))

	m, err := statemachine.New(def, opts...)
	require.NoError(t, err, "failed to construct machine")

	return &TestMachine[S]{
		Machine: m,
		t:       t,
		tracer:  tracer,
	}
}

// Execute runs cmd and requires it to be accepted.
func (tm *TestMachine[S]) Execute(cmd statemachine.Command) {
	tm.t.Helper()

	require.NoError(tm.t, tm.Machine.Execute(cmd), "command %s should be accepted", cmd)
}

// ExecuteAll runs every command in order, requiring each to be accepted.
func (tm *TestMachine[S]) ExecuteAll(cmds ...statemachine.Command) {
	tm.t.Helper()

	for _, cmd := range cmds {
		tm.Execute(cmd)
	}
}

// ExpectRejected runs cmd, requires it to be rejected and requires the
// machine to be exactly as it was before.
func (tm *TestMachine[S]) ExpectRejected(cmd statemachine.Command) {
	tm.t.Helper()

	before := TakeSnapshot(tm.Machine)

	err := tm.Machine.Execute(cmd)
	require.ErrorIs(tm.t, err, statemachine.ErrInvalidCommand, "command %s should be rejected", cmd)

	require.Equal(tm.t, before, TakeSnapshot(tm.Machine), "rejected command %s changed the machine", cmd)
}

// ExpectFatal runs cmd and returns the *HookError it panics with.
func (tm *TestMachine[S]) ExpectFatal(cmd statemachine.Command) (hookErr *statemachine.HookError) {
	tm.t.Helper()

	defer func() {
		r := recover()
		require.NotNil(tm.t, r, "command %s should fail fatally", cmd)

		err, ok := r.(*statemachine.HookError)
		require.True(tm.t, ok, "expected *HookError, got %T", r)

		hookErr = err
	}()

	_ = tm.Machine.Execute(cmd)

	return nil
}

// AssertState checks the current state.
func (tm *TestMachine[S]) AssertState(expected statemachine.StateTag) {
	tm.t.Helper()

	actual := tm.CurrentState()

	assertion := Assertion{
		Name:   fmt.Sprintf("Current state is '%s'", expected),
		Passed: actual == expected,
	}

	if actual != expected {
		assertion.Error = fmt.Errorf("%w: expected '%s', got '%s'", ErrWrongState, expected, actual)
	}

	tm.assertions = append(tm.assertions, assertion)
	require.Equal(tm.t, expected, actual, "current state should be '%s'", expected)
}

// AssertStateVisited checks if a state was entered at some point.
func (tm *TestMachine[S]) AssertStateVisited(state statemachine.StateTag) {
	tm.t.Helper()

	tm.AssertMatches(StateWasVisited(state))
}

// AssertTransitionTaken checks if a specific transition occurred.
func (tm *TestMachine[S]) AssertTransitionTaken(from, to statemachine.StateTag) {
	tm.t.Helper()

	tm.AssertMatches(TransitionWasTaken(from, to))
}

// AssertMatches requires every matcher to match the trace.
func (tm *TestMachine[S]) AssertMatches(matchers ...Matcher) {
	tm.t.Helper()

	trace := tm.Trace()

	for _, matcher := range matchers {
		matched, err := matcher.Match(trace)

		tm.assertions = append(tm.assertions, Assertion{
			Name:   matcher.Description(),
			Passed: matched,
			Error:  err,
		})

		require.True(tm.t, matched, "%s: %v", matcher.Description(), err)
	}
}

// Trace returns a copy of the execution trace.
func (tm *TestMachine[S]) Trace() []TraceEntry {
	return tm.tracer.entries()
}

// Assertions returns all assertions made.
func (tm *TestMachine[S]) Assertions() []Assertion {
	return tm.assertions
}

// Snapshot is the observable state of a machine at one point in time.
type Snapshot[S any] struct {
	State   statemachine.StateTag
	Context any
	Shared  S
}

// TakeSnapshot copies the machine's state tag, context and shared context.
func TakeSnapshot[S any](m *statemachine.Machine[S]) Snapshot[S] {
	state, ctx := m.Current()

	return Snapshot[S]{
		State:   state,
		Context: ctx,
		Shared:  *m.Shared(),
	}
}

// traceLogger records lifecycle events and forwards them to next.
type traceLogger struct {
	mu    sync.Mutex
	trace []TraceEntry
	next  statemachine.Logger
}

func (l *traceLogger) add(entry TraceEntry) {
	entry.Timestamp = time.Now()

	l.mu.Lock()
	l.trace = append(l.trace, entry)
	l.mu.Unlock()
}

func (l *traceLogger) entries() []TraceEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]TraceEntry(nil), l.trace...)
}

func (l *traceLogger) StateEntered(ctx context.Context, machine string, state statemachine.StateTag) {
	l.add(TraceEntry{Kind: EventEntered, State: state, Command: commandOf(ctx)})
	l.next.StateEntered(ctx, machine, state)
}

func (l *traceLogger) StateExited(
	ctx context.Context,
	machine string,
	state statemachine.StateTag,
	dwell time.Duration,
) {
	l.add(TraceEntry{Kind: EventExited, State: state, Command: commandOf(ctx), Dwell: dwell})
	l.next.StateExited(ctx, machine, state, dwell)
}

func (l *traceLogger) TransitionExecuted(
	ctx context.Context,
	machine string,
	from, to statemachine.StateTag,
	cmd statemachine.Command,
) {
	l.add(TraceEntry{Kind: EventTransition, From: from, To: to, Command: cmd})
	l.next.TransitionExecuted(ctx, machine, from, to, cmd)
}

func (l *traceLogger) CommandRejected(
	ctx context.Context,
	machine string,
	state statemachine.StateTag,
	cmd statemachine.Command,
) {
	l.add(TraceEntry{Kind: EventRejected, State: state, Command: cmd})
	l.next.CommandRejected(ctx, machine, state, cmd)
}

func (l *traceLogger) HookFailed(ctx context.Context, machine string, state statemachine.StateTag, err error) {
	l.add(TraceEntry{Kind: EventFailed, State: state, Command: commandOf(ctx), Error: err})
	l.next.HookFailed(ctx, machine, state, err)
}

func commandOf(ctx context.Context) statemachine.Command {
	labels, _ := statemachine.GetLabels(ctx)

	return labels.Command
}
