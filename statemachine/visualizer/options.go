package visualizer

import "github.com/amp-labs/amp-fsm/statemachine"

// Options configures the visualization output.
type Options struct {
	// ShowFields lists each state's context fields inside its node.
	ShowFields bool

	// ShowCommands labels edges with the command that fires them.
	ShowCommands bool

	// Direction controls diagram flow: "TD" (top-down) or "LR" (left-right)
	Direction string

	// HighlightPath highlights a specific state path through the diagram
	HighlightPath []statemachine.StateTag

	// SortStates emits states in natural order instead of declaration order.
	SortStates bool
}

// DefaultOptions returns sensible defaults for visualization.
func DefaultOptions() Options {
	return Options{
		ShowFields:   true,
		ShowCommands: true,
		Direction:    "TD",
	}
}

// WithShowFields enables/disables field details.
func (o Options) WithShowFields(show bool) Options {
	o.ShowFields = show

	return o
}

// WithShowCommands enables/disables edge labels.
func (o Options) WithShowCommands(show bool) Options {
	o.ShowCommands = show

	return o
}

// WithDirection sets the diagram direction.
func (o Options) WithDirection(direction string) Options {
	o.Direction = direction

	return o
}

// WithHighlightPath sets states to highlight.
func (o Options) WithHighlightPath(path ...statemachine.StateTag) Options {
	o.HighlightPath = path

	return o
}

// WithSortStates enables natural ordering of states.
func (o Options) WithSortStates(sorted bool) Options {
	o.SortStates = sorted

	return o
}
