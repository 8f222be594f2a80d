package statemachine

import "time"

// Store holds the live data of one machine: the active state's tag and
// context, and the shared context. It owns exactly one of each at any time.
// Only the transition engine and the owning Machine mutate it.
type Store[S any] struct {
	tag       StateTag
	context   any // *C of the active state
	shared    S
	enteredAt time.Time
}

// newStore creates a store positioned on tag with the given private context
// (a pointer produced by the state's schema) and shared value.
func newStore[S any](tag StateTag, ctx any, shared S) *Store[S] {
	return &Store[S]{
		tag:       tag,
		context:   ctx,
		shared:    shared,
		enteredAt: time.Now(),
	}
}

// Tag returns the active state.
func (s *Store[S]) Tag() StateTag {
	return s.tag
}

// Context returns the active state's context as a pointer to its struct.
func (s *Store[S]) Context() any {
	return s.context
}

// Shared returns the shared context. It lives as long as the store.
func (s *Store[S]) Shared() *S {
	return &s.shared
}

// swap installs a new active state and drops the old context entirely.
func (s *Store[S]) swap(tag StateTag, ctx any) (StateTag, time.Duration) {
	prev := s.tag
	dwell := time.Since(s.enteredAt)

	s.tag = tag
	s.context = ctx
	s.enteredAt = time.Now()

	return prev, dwell
}
