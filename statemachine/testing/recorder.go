package testing

import (
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/amp-labs/amp-fsm/statemachine"
	"github.com/stretchr/testify/assert"
)

// Recorder collects the order in which hooks and callbacks run. It is safe
// for concurrent use so one recorder can observe a whole fleet.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends one event.
func (r *Recorder) Record(format string, args ...any) {
	event := fmt.Sprintf(format, args...)

	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.events)
}

// Count returns how many times event was recorded.
func (r *Recorder) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0

	for _, e := range r.events {
		if e == event {
			n++
		}
	}

	return n
}

// Reset forgets every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// AssertExactly checks that the recorded events are exactly want.
func (r *Recorder) AssertExactly(t *testing.T, want ...string) bool {
	t.Helper()

	return assert.Equal(t, want, r.Events())
}

// AssertOrder checks that want occurs in the recorded events in that
// order, possibly with other events in between.
func (r *Recorder) AssertOrder(t *testing.T, want ...string) bool {
	t.Helper()

	err := inOrder(r.Events(), want)

	return assert.NoError(t, err)
}

func inOrder(events, want []string) error {
	next := 0

	for _, event := range events {
		if next < len(want) && event == want[next] {
			next++
		}
	}

	if next < len(want) {
		return fmt.Errorf("%w: %q not found after %q in %v", ErrOrderMismatch, want[next], want[:next], events)
	}

	return nil
}

// RecordEnter returns an enter hook recording "enter <state>".
func RecordEnter[C, S any](r *Recorder, state statemachine.StateTag) statemachine.StateOption[C, S] {
	return statemachine.OnEnter(func(*C, *S) error {
		r.Record("enter %s", state)

		return nil
	})
}

// RecordLeave returns a leave hook recording "leave <state>".
func RecordLeave[C, S any](r *Recorder, state statemachine.StateTag) statemachine.StateOption[C, S] {
	return statemachine.OnLeave(func(*C, *S) error {
		r.Record("leave %s", state)

		return nil
	})
}

// RecordCallback returns a command callback recording "callback <label>".
func RecordCallback[C, S any](r *Recorder, label string) statemachine.HandlerOption[C, S] {
	return statemachine.Do(func(*C, *S) error {
		r.Record("callback %s", label)

		return nil
	})
}
