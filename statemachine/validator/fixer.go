package validator

import (
	"errors"
	"fmt"
	"slices"

	"github.com/amp-labs/amp-fsm/statemachine"
)

var (
	// ErrStateNotFound is returned when a fix refers to a state that doesn't exist.
	ErrStateNotFound = errors.New("state not found")
	// ErrDuplicateNotFound is returned when attempting to remove a duplicate that doesn't exist.
	ErrDuplicateNotFound = errors.New("duplicate not found")
	// ErrStateAlreadyExists is returned when attempting to add or rename to an existing state name.
	ErrStateAlreadyExists = errors.New("state already exists")
)

// Fix represents an automatic fix for a validation error.
type Fix struct {
	Description string
	Apply       func(topo *statemachine.Topology) error
}

// AddState creates a fix that declares an empty state. Declaring an
// existing state does nothing.
func AddState(name statemachine.StateTag) *Fix {
	return &Fix{
		Description: fmt.Sprintf("Declare state '%s'", name),
		Apply: func(topo *statemachine.Topology) error {
			if _, ok := topo.State(name); ok {
				return nil
			}

			topo.States = append(topo.States, statemachine.StateTopology{Name: name})

			return nil
		},
	}
}

// DeclareCommand creates a fix that adds cmd to the command list, once.
func DeclareCommand(cmd statemachine.Command) *Fix {
	return &Fix{
		Description: fmt.Sprintf("Declare command '%s'", cmd),
		Apply: func(topo *statemachine.Topology) error {
			if slices.Contains(topo.Commands, cmd) {
				return nil
			}

			topo.Commands = append(topo.Commands, cmd)

			return nil
		},
	}
}

// RemoveUnreachableState creates a fix that removes an unreachable state
// and every handler targeting it.
func RemoveUnreachableState(name statemachine.StateTag) *Fix {
	return &Fix{
		Description: fmt.Sprintf("Remove unreachable state '%s'", name),
		Apply: func(topo *statemachine.Topology) error {
			idx := slices.IndexFunc(topo.States, func(s statemachine.StateTopology) bool {
				return s.Name == name
			})
			if idx < 0 {
				return fmt.Errorf("%w: '%s'", ErrStateNotFound, name)
			}

			topo.States = slices.Delete(topo.States, idx, idx+1)

			for i := range topo.States {
				topo.States[i].Handlers = slices.DeleteFunc(topo.States[i].Handlers,
					func(h statemachine.HandlerTopology) bool { return h.Target == name })
			}

			return nil
		},
	}
}

// RenameState creates a fix that renames a state everywhere it is referenced.
func RenameState(oldName, newName statemachine.StateTag) *Fix {
	return &Fix{
		Description: fmt.Sprintf("Rename state from '%s' to '%s'", oldName, newName),
		Apply: func(topo *statemachine.Topology) error {
			if _, ok := topo.State(newName); ok {
				return fmt.Errorf("%w: '%s'", ErrStateAlreadyExists, newName)
			}

			state, ok := topo.State(oldName)
			if !ok {
				return fmt.Errorf("%w: '%s'", ErrStateNotFound, oldName)
			}

			state.Name = newName

			if topo.Initial.State == oldName {
				topo.Initial.State = newName
			}

			for i := range topo.States {
				for j := range topo.States[i].Handlers {
					if topo.States[i].Handlers[j].Target == oldName {
						topo.States[i].Handlers[j].Target = newName
					}
				}
			}

			return nil
		},
	}
}

// RemoveDuplicateHandler creates a fix that keeps only the first handler of cmd in state.
func RemoveDuplicateHandler(stateName statemachine.StateTag, cmd statemachine.Command) *Fix {
	return &Fix{
		Description: fmt.Sprintf("Remove duplicate handler of '%s' in state '%s'", cmd, stateName),
		Apply: func(topo *statemachine.Topology) error {
			state, ok := topo.State(stateName)
			if !ok {
				return fmt.Errorf("%w: '%s'", ErrStateNotFound, stateName)
			}

			kept := make([]statemachine.HandlerTopology, 0, len(state.Handlers))
			seen := false
			found := false

			for _, h := range state.Handlers {
				if h.Command != cmd {
					kept = append(kept, h)

					continue
				}

				if seen {
					found = true

					continue
				}

				seen = true

				kept = append(kept, h)
			}

			if !found {
				return ErrDuplicateNotFound
			}

			state.Handlers = kept

			return nil
		},
	}
}

// ApplyFixes applies a list of fixes to a topology.
func ApplyFixes(topo *statemachine.Topology, fixes []*Fix) error {
	for _, fix := range fixes {
		if fix != nil && fix.Apply != nil {
			err := fix.Apply(topo)
			if err != nil {
				return fmt.Errorf("failed to apply fix '%s': %w", fix.Description, err)
			}
		}
	}

	return nil
}

// Fixes collects the fixes attached to the result's errors.
func (r ValidationResult) Fixes() []*Fix {
	var fixes []*Fix

	for _, err := range r.Errors {
		if err.Fix != nil {
			fixes = append(fixes, err.Fix)
		}
	}

	return fixes
}
