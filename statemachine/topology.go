package statemachine

import (
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/zeebo/xxh3"
	"gopkg.in/yaml.v3"
)

// TopologyLoader is an interface for loading topologies by name.
// Applications can implement this to provide embedded or custom loading.
type TopologyLoader interface {
	LoadByName(name string) ([]byte, error)
	ListAvailable() []string
}

// defaultTopologyLoader is the global loader used by LoadTopology for bare names.
var defaultTopologyLoader TopologyLoader //nolint:gochecknoglobals

// SetTopologyLoader sets the default loader for name-based loading.
func SetTopologyLoader(loader TopologyLoader) {
	defaultTopologyLoader = loader
}

// Topology is the static shape of a machine, without any code: states and
// their fields, commands, handlers and targets. It is what a Definition
// looks like from the outside, and what YAML machine files contain.
type Topology struct {
	Name     string          `json:"name"             yaml:"name"`
	Initial  InitialTopology `json:"initial"          yaml:"initial"`
	Commands []Command       `json:"commands"         yaml:"commands"`
	Shared   []Field         `json:"shared,omitempty" yaml:"shared,omitempty"`
	States   []StateTopology `json:"states"           yaml:"states"`
}

// InitialTopology names the initial state and optional field values.
type InitialTopology struct {
	State StateTag       `json:"state"         yaml:"state"`
	Set   map[string]any `json:"set,omitempty" yaml:"set,omitempty"`
}

// StateTopology describes one state.
type StateTopology struct {
	Name     StateTag          `json:"name"               yaml:"name"`
	Fields   []Field           `json:"fields,omitempty"   yaml:"fields,omitempty"`
	Enter    bool              `json:"enter,omitempty"    yaml:"enter,omitempty"`
	Leave    bool              `json:"leave,omitempty"    yaml:"leave,omitempty"`
	Handlers []HandlerTopology `json:"handlers,omitempty" yaml:"handlers,omitempty"`
}

// HandlerTopology describes one command handler. An empty Target means the
// machine stays in the current state.
type HandlerTopology struct {
	Command  Command        `json:"command"            yaml:"command"`
	Target   StateTag       `json:"target,omitempty"   yaml:"target,omitempty"`
	Set      map[string]any `json:"set,omitempty"      yaml:"set,omitempty"`
	Callback bool           `json:"callback,omitempty" yaml:"callback,omitempty"`
}

// Topology describes the definition's static shape.
func (d *Definition[S]) Topology() *Topology {
	topo := &Topology{
		Name:     d.name,
		Initial:  InitialTopology{State: d.initial},
		Commands: slices.Clone(d.commands),
		Shared:   d.SharedFields(),
	}

	for _, state := range d.states {
		st := StateTopology{
			Name:   state.tag,
			Fields: state.describedFields(),
			Enter:  state.HasEnter(),
			Leave:  state.HasLeave(),
		}

		for _, h := range state.Handlers() {
			target, _ := h.Target()
			st.Handlers = append(st.Handlers, HandlerTopology{
				Command:  h.command,
				Target:   target,
				Callback: h.HasCallback(),
			})
		}

		topo.States = append(topo.States, st)
	}

	return topo
}

// LoadTopology loads a topology by path or name.
// Supports two modes:
//   - Path mode: a file path (containing '/', '\', or ending in '.yaml'/'.yml') is read from disk
//   - Name mode: a bare name is loaded via the registered TopologyLoader
func LoadTopology(pathOrName string) (*Topology, error) {
	lower := strings.ToLower(pathOrName)
	isPath := strings.Contains(pathOrName, "/") ||
		strings.Contains(pathOrName, `\`) ||
		strings.HasSuffix(lower, ".yaml") ||
		strings.HasSuffix(lower, ".yml")

	if isPath {
		data, err := os.ReadFile(pathOrName) //nolint:gosec // Intentional path-based loading
		if err != nil {
			return nil, fmt.Errorf("failed to read topology file %q: %w", pathOrName, err)
		}

		return LoadTopologyFromBytes(data)
	}

	if defaultTopologyLoader == nil {
		return nil, ErrNoTopologyLoader
	}

	data, err := defaultTopologyLoader.LoadByName(pathOrName)
	if err != nil {
		available := defaultTopologyLoader.ListAvailable()

		return nil, fmt.Errorf("failed to load topology %q (available: %v): %w", pathOrName, available, err)
	}

	return LoadTopologyFromBytes(data)
}

// LoadTopologyFromBytes parses and validates a YAML topology.
func LoadTopologyFromBytes(data []byte) (*Topology, error) {
	topo, err := ParseTopology(data)
	if err != nil {
		return nil, err
	}

	err = topo.Validate()
	if err != nil {
		return nil, err
	}

	return topo, nil
}

// ParseTopology parses a YAML topology without validating it.
func ParseTopology(data []byte) (*Topology, error) {
	var topo Topology

	err := yaml.Unmarshal(data, &topo)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &topo, nil
}

// LoadTopologyFromFS loads a topology from an embedded filesystem.
func LoadTopologyFromFS(fsys fs.FS, path string) (*Topology, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology from FS: %w", err)
	}

	return LoadTopologyFromBytes(data)
}

// YAML renders the topology as YAML.
func (t *Topology) YAML() ([]byte, error) {
	data, err := yaml.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to render YAML: %w", err)
	}

	return data, nil
}

// Fingerprint is a short stable hash of the topology. Two definitions with
// the same fingerprint have the same states, fields, commands and targets.
func (t *Topology) Fingerprint() string {
	data, err := t.YAML()
	if err != nil {
		return ""
	}

	return fmt.Sprintf("%016x", xxh3.Hash(data))
}

// Validate checks the same invariants Builder.Build enforces. Without a
// commands list, every handled command counts as declared.
func (t *Topology) Validate() error {
	if t.Name == "" {
		return ErrNameRequired
	}

	if len(t.States) == 0 {
		return ErrStateRequired
	}

	states := make(map[StateTag]*StateTopology, len(t.States))

	for i := range t.States {
		state := &t.States[i]
		if state.Name == NoTransition {
			return ErrStateNameRequired
		}

		if _, dup := states[state.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateState, state.Name)
		}

		states[state.Name] = state
	}

	commands := make(map[Command]bool, len(t.Commands))

	if len(t.Commands) == 0 {
		for _, state := range t.States {
			for _, h := range state.Handlers {
				commands[h.Command] = true
			}
		}
	}

	for _, cmd := range t.Commands {
		if cmd == "" {
			return ErrCommandNameRequired
		}

		if commands[cmd] {
			return fmt.Errorf("%w: %s", ErrDuplicateCommand, cmd)
		}

		commands[cmd] = true
	}

	for _, state := range t.States {
		err := t.validateHandlers(state, states, commands)
		if err != nil {
			return WrapStateError(state.Name, err)
		}
	}

	if t.Initial.State == NoTransition {
		return ErrInitialStateRequired
	}

	initial, ok := states[t.Initial.State]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInitialStateNotFound, t.Initial.State)
	}

	return WrapStateError(initial.Name, checkFields(initial.Fields, t.Initial.Set))
}

func (t *Topology) validateHandlers(
	state StateTopology,
	states map[StateTag]*StateTopology,
	commands map[Command]bool,
) error {
	seen := make(map[Command]bool, len(state.Handlers))

	for _, h := range state.Handlers {
		if !commands[h.Command] {
			return fmt.Errorf("%w: %s", ErrUnknownCommand, h.Command)
		}

		if seen[h.Command] {
			return fmt.Errorf("%w: %s", ErrDuplicateHandler, h.Command)
		}

		seen[h.Command] = true

		if h.Target == NoTransition {
			if len(h.Set) > 0 {
				return fmt.Errorf("%w: %s sets fields without a target", ErrUnknownField, h.Command)
			}

			continue
		}

		target, ok := states[h.Target]
		if !ok {
			return fmt.Errorf("%w: %s on %s", ErrUnknownTarget, h.Target, h.Command)
		}

		err := checkFields(target.Fields, h.Set)
		if err != nil {
			return fmt.Errorf("%s -> %s: %w", h.Command, h.Target, err)
		}
	}

	return nil
}

// checkFields rejects values for fields the state does not declare, and
// fields with no default that set leaves out.
func checkFields(fields []Field, set map[string]any) error {
	for _, f := range fields {
		if _, ok := set[f.Name]; !ok && f.Default == nil {
			return fmt.Errorf("%w: %s has no default", ErrMissingField, f.Name)
		}
	}

	for name := range set {
		if !slices.ContainsFunc(fields, func(f Field) bool { return f.Name == name }) {
			return fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
	}

	return nil
}

// State returns the topology of one state.
func (t *Topology) State(tag StateTag) (*StateTopology, bool) {
	for i := range t.States {
		if t.States[i].Name == tag {
			return &t.States[i], true
		}
	}

	return nil, false
}

// Reachable returns the states reachable from the initial state.
func (t *Topology) Reachable() map[StateTag]bool {
	reachable := map[StateTag]bool{t.Initial.State: true}

	queue := []StateTag{t.Initial.State}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		state, ok := t.State(current)
		if !ok {
			continue
		}

		for _, h := range state.Handlers {
			if h.Target != NoTransition && !reachable[h.Target] {
				reachable[h.Target] = true
				queue = append(queue, h.Target)
			}
		}
	}

	return reachable
}
