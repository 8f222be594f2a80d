// Package visualizer generates Mermaid state diagrams from machine topologies.
//
//nolint:varnamelen // short names idiomatic
package visualizer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"facette.io/natsort"
	"github.com/amp-labs/amp-fsm/statemachine"
)

// Visualizer errors.
var (
	ErrTopologyNil    = errors.New("topology cannot be nil")
	ErrNoInitialState = errors.New("topology must have an initial state")
	ErrBadDirection   = errors.New("direction must be TD or LR")
)

// GenerateMermaid converts a Topology to a Mermaid state diagram.
func GenerateMermaid(t *statemachine.Topology) (string, error) {
	return GenerateMermaidWithOptions(t, DefaultOptions())
}

// GenerateMermaidFromFile loads a topology by path or registered name and
// generates a Mermaid diagram.
func GenerateMermaidFromFile(pathOrName string) (string, error) {
	t, err := statemachine.LoadTopology(pathOrName)
	if err != nil {
		return "", fmt.Errorf("failed to load topology: %w", err)
	}

	return GenerateMermaid(t)
}

// GenerateMermaidWithOptions generates a Mermaid diagram with custom options.
func GenerateMermaidWithOptions(t *statemachine.Topology, opts Options) (string, error) {
	if t == nil {
		return "", ErrTopologyNil
	}

	if t.Initial.State == statemachine.NoTransition {
		return "", ErrNoInitialState
	}

	direction := opts.Direction
	if direction == "" {
		direction = "TD"
	}

	if direction != "TD" && direction != "LR" {
		return "", fmt.Errorf("%w: %q", ErrBadDirection, direction)
	}

	var sb strings.Builder

	sb.WriteString("```mermaid\n")
	sb.WriteString("stateDiagram-v2\n")
	sb.WriteString(fmt.Sprintf("    direction %s\n", direction))
	sb.WriteString(fmt.Sprintf("    [*] --> %s\n", t.Initial.State))

	highlighted := make(map[statemachine.StateTag]bool, len(opts.HighlightPath))
	for _, tag := range opts.HighlightPath {
		highlighted[tag] = true
	}

	for _, state := range orderedStates(t, opts.SortStates) {
		if opts.ShowFields && len(state.Fields) > 0 {
			names := make([]string, len(state.Fields))
			for i, f := range state.Fields {
				names[i] = f.Name
			}

			sb.WriteString(fmt.Sprintf("    %s: %s\\n[%s]\n",
				state.Name, state.Name, strings.Join(names, ", ")))
		}

		switch {
		case highlighted[state.Name]:
			sb.WriteString(fmt.Sprintf("    class %s highlighted\n", state.Name))
		case len(state.Handlers) == 0:
			sb.WriteString(fmt.Sprintf("    class %s deadEnd\n", state.Name))
		case state.Enter || state.Leave:
			sb.WriteString(fmt.Sprintf("    class %s hookState\n", state.Name))
		}

		for _, h := range state.Handlers {
			target := h.Target
			label := h.Command.String()

			if target == statemachine.NoTransition {
				target = state.Name
				label += " (stay)"
			}

			if opts.ShowCommands {
				sb.WriteString(fmt.Sprintf("    %s --> %s: %s\n", state.Name, target, label))
			} else {
				sb.WriteString(fmt.Sprintf("    %s --> %s\n", state.Name, target))
			}
		}

		if len(state.Handlers) == 0 {
			sb.WriteString(fmt.Sprintf("    %s --> [*]\n", state.Name))
		}
	}

	sb.WriteString("\n")
	sb.WriteString("    classDef hookState fill:#e1f5ff,stroke:#01579b,stroke-width:2px\n")
	sb.WriteString("    classDef deadEnd fill:#c8e6c9,stroke:#2e7d32,stroke-width:2px\n")
	sb.WriteString("    classDef highlighted fill:#fff9c4,stroke:#f57f17,stroke-width:3px\n")

	sb.WriteString("```\n")

	return sb.String(), nil
}

func orderedStates(t *statemachine.Topology, sorted bool) []statemachine.StateTopology {
	states := make([]statemachine.StateTopology, len(t.States))
	copy(states, t.States)

	if sorted {
		sort.SliceStable(states, func(i, j int) bool {
			return natsort.Compare(string(states[i].Name), string(states[j].Name))
		})
	}

	return states
}
