package testing

import (
	"errors"
	"fmt"

	"github.com/amp-labs/amp-fsm/statemachine"
)

// Matcher errors.
var (
	ErrNoExecutionTrace   = errors.New("no execution trace available")
	ErrNoMatchersPassed   = errors.New("no matchers passed")
	ErrStateNotVisited    = errors.New("state was not visited")
	ErrTransitionNotTaken = errors.New("transition was not taken")
	ErrCommandNotRejected = errors.New("command was not rejected")
	ErrWrongState         = errors.New("machine is in the wrong state")
	ErrMachineFailed      = errors.New("machine failed")
	ErrOrderMismatch      = errors.New("events out of order")
)

// Matcher defines an assertion over an execution trace.
type Matcher interface {
	Match(trace []TraceEntry) (bool, error)
	Description() string
}

// StateWasVisited creates a matcher that checks if a state was entered.
func StateWasVisited(state statemachine.StateTag) Matcher {
	return &stateVisitedMatcher{state: state}
}

type stateVisitedMatcher struct {
	state statemachine.StateTag
}

func (m *stateVisitedMatcher) Match(trace []TraceEntry) (bool, error) {
	for _, entry := range trace {
		if entry.Kind == EventEntered && entry.State == m.state {
			return true, nil
		}
	}

	return false, fmt.Errorf("%w: '%s'", ErrStateNotVisited, m.state)
}

func (m *stateVisitedMatcher) Description() string {
	return fmt.Sprintf("state '%s' should be visited", m.state)
}

// TransitionWasTaken creates a matcher that checks if a transition occurred.
func TransitionWasTaken(from, to statemachine.StateTag) Matcher {
	return &transitionTakenMatcher{from: from, to: to}
}

type transitionTakenMatcher struct {
	from statemachine.StateTag
	to   statemachine.StateTag
}

func (m *transitionTakenMatcher) Match(trace []TraceEntry) (bool, error) {
	for _, entry := range trace {
		if entry.Kind == EventTransition && entry.From == m.from && entry.To == m.to {
			return true, nil
		}
	}

	return false, fmt.Errorf("%w: from '%s' to '%s'", ErrTransitionNotTaken, m.from, m.to)
}

func (m *transitionTakenMatcher) Description() string {
	return fmt.Sprintf("transition from '%s' to '%s' should be taken", m.from, m.to)
}

// CommandWasRejected creates a matcher that checks if cmd was rejected at least once.
func CommandWasRejected(cmd statemachine.Command) Matcher {
	return &commandRejectedMatcher{cmd: cmd}
}

type commandRejectedMatcher struct {
	cmd statemachine.Command
}

func (m *commandRejectedMatcher) Match(trace []TraceEntry) (bool, error) {
	for _, entry := range trace {
		if entry.Kind == EventRejected && entry.Command == m.cmd {
			return true, nil
		}
	}

	return false, fmt.Errorf("%w: '%s'", ErrCommandNotRejected, m.cmd)
}

func (m *commandRejectedMatcher) Description() string {
	return fmt.Sprintf("command '%s' should be rejected", m.cmd)
}

// EndedIn creates a matcher that checks the last state entered.
func EndedIn(state statemachine.StateTag) Matcher {
	return &endedInMatcher{state: state}
}

type endedInMatcher struct {
	state statemachine.StateTag
}

func (m *endedInMatcher) Match(trace []TraceEntry) (bool, error) {
	for i := len(trace) - 1; i >= 0; i-- {
		if trace[i].Kind != EventEntered {
			continue
		}

		if trace[i].State != m.state {
			return false, fmt.Errorf("%w: expected '%s', got '%s'", ErrWrongState, m.state, trace[i].State)
		}

		return true, nil
	}

	return false, ErrNoExecutionTrace
}

func (m *endedInMatcher) Description() string {
	return fmt.Sprintf("machine should end in '%s'", m.state)
}

// NoFailures creates a matcher that checks that no hook failed.
func NoFailures() Matcher {
	return &noFailuresMatcher{}
}

type noFailuresMatcher struct{}

func (m *noFailuresMatcher) Match(trace []TraceEntry) (bool, error) {
	for _, entry := range trace {
		if entry.Kind == EventFailed {
			return false, fmt.Errorf("%w: %w", ErrMachineFailed, entry.Error)
		}
	}

	return true, nil
}

func (m *noFailuresMatcher) Description() string {
	return "no hook should fail"
}

// All creates a matcher that requires all sub-matchers to pass.
func All(matchers ...Matcher) Matcher {
	return &allMatcher{matchers: matchers}
}

type allMatcher struct {
	matchers []Matcher
}

func (m *allMatcher) Match(trace []TraceEntry) (bool, error) {
	for _, matcher := range m.matchers {
		matched, err := matcher.Match(trace)
		if !matched || err != nil {
			return false, err
		}
	}

	return true, nil
}

func (m *allMatcher) Description() string {
	return "all matchers should pass"
}

// Any creates a matcher that requires at least one sub-matcher to pass.
func Any(matchers ...Matcher) Matcher {
	return &anyMatcher{matchers: matchers}
}

type anyMatcher struct {
	matchers []Matcher
}

func (m *anyMatcher) Match(trace []TraceEntry) (bool, error) {
	for _, matcher := range m.matchers {
		matched, err := matcher.Match(trace)
		if matched && err == nil {
			return true, nil
		}
	}

	return false, ErrNoMatchersPassed
}

func (m *anyMatcher) Description() string {
	return "at least one matcher should pass"
}
