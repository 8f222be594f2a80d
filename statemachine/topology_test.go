package statemachine

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNotFound = errors.New("not found")

type mapLoader map[string]string

func (l mapLoader) LoadByName(name string) ([]byte, error) {
	data, ok := l[name]
	if !ok {
		return nil, errNotFound
	}

	return []byte(data), nil
}

func (l mapLoader) ListAvailable() []string {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}

	return names
}

func TestLoadTopologyFromFile(t *testing.T) {
	t.Parallel()

	topo, err := LoadTopology("testdata/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "Mach1", topo.Name)
	assert.Equal(t, stNew, topo.Initial.State)
	assert.Equal(t, []Command{cmdConfigure, cmdConfigureDone, cmdDrop}, topo.Commands)
	require.Len(t, topo.States, 3)

	inConfig, ok := topo.State(stInConfig)
	require.True(t, ok)
	assert.Len(t, inConfig.Fields, 2)
	assert.True(t, inConfig.Enter)

	operational, ok := topo.State(stOperational)
	require.True(t, ok)
	require.Len(t, operational.Handlers, 2)
	assert.Equal(t, NoTransition, operational.Handlers[0].Target)

	_, err = LoadTopology("testdata/missing.yaml")
	require.Error(t, err)
}

func TestLoadTopologyFromFS(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"machines/cycle.yaml": &fstest.MapFile{Data: []byte(cycleYAML)},
	}

	topo, err := LoadTopologyFromFS(fsys, "machines/cycle.yaml")
	require.NoError(t, err)
	assert.Equal(t, "Mach2", topo.Name)

	_, err = LoadTopologyFromFS(fsys, "machines/other.yaml")
	require.Error(t, err)
}

// TestLoadTopologyByName swaps the global loader.
//
//nolint:paralleltest // Test modifies the global topology loader
func TestLoadTopologyByName(t *testing.T) {
	SetTopologyLoader(nil)

	_, err := LoadTopology("cycle")
	require.ErrorIs(t, err, ErrNoTopologyLoader)

	SetTopologyLoader(mapLoader{"cycle": cycleYAML})
	t.Cleanup(func() { SetTopologyLoader(nil) })

	topo, err := LoadTopology("cycle")
	require.NoError(t, err)
	assert.Equal(t, "Mach2", topo.Name)

	_, err = LoadTopology("other")
	require.ErrorIs(t, err, errNotFound)
	assert.Contains(t, err.Error(), "available: [cycle]")
}

const cycleYAML = `
name: Mach2
initial:
  state: State1
states:
  - name: State1
    handlers:
      - {command: ToState2, target: State2}
  - name: State2
    handlers:
      - {command: ToState3, target: State3}
  - name: State3
    handlers:
      - {command: ToState1, target: State1}
`

func TestTopologyValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name:    "missing name",
			yaml:    "states: [{name: A}]\ninitial: {state: A}",
			wantErr: ErrNameRequired,
		},
		{
			name:    "no states",
			yaml:    "name: m",
			wantErr: ErrStateRequired,
		},
		{
			name:    "duplicate state",
			yaml:    "name: m\ninitial: {state: A}\nstates: [{name: A}, {name: A}]",
			wantErr: ErrDuplicateState,
		},
		{
			name:    "duplicate command",
			yaml:    "name: m\ncommands: [Go, Go]\ninitial: {state: A}\nstates: [{name: A}]",
			wantErr: ErrDuplicateCommand,
		},
		{
			name: "undeclared command",
			yaml: "name: m\ncommands: [Go]\ninitial: {state: A}\n" +
				"states: [{name: A, handlers: [{command: Stop}]}]",
			wantErr: ErrUnknownCommand,
		},
		{
			name: "duplicate handler",
			yaml: "name: m\ninitial: {state: A}\n" +
				"states: [{name: A, handlers: [{command: Go}, {command: Go}]}]",
			wantErr: ErrDuplicateHandler,
		},
		{
			name: "unknown target",
			yaml: "name: m\ninitial: {state: A}\n" +
				"states: [{name: A, handlers: [{command: Go, target: B}]}]",
			wantErr: ErrUnknownTarget,
		},
		{
			name: "unknown field in initializer",
			yaml: "name: m\ninitial: {state: A}\n" +
				"states: [{name: A, fields: [{name: n, default: 0}], handlers: [{command: Go, target: A, set: {m: 1}}]}]",
			wantErr: ErrUnknownField,
		},
		{
			name: "same-state handler sets fields",
			yaml: "name: m\ninitial: {state: A}\n" +
				"states: [{name: A, fields: [{name: n, default: 0}], handlers: [{command: Go, set: {n: 1}}]}]",
			wantErr: ErrUnknownField,
		},
		{
			name: "target field without default",
			yaml: "name: m\ninitial: {state: A}\n" +
				"states: [{name: A, handlers: [{command: Go, target: B}]}, {name: B, fields: [{name: n, type: int}]}]",
			wantErr: ErrMissingField,
		},
		{
			name:    "initial field without default",
			yaml:    "name: m\ninitial: {state: A}\nstates: [{name: A, fields: [{name: n, type: int}]}]",
			wantErr: ErrMissingField,
		},
		{
			name:    "missing initial",
			yaml:    "name: m\nstates: [{name: A}]",
			wantErr: ErrInitialStateRequired,
		},
		{
			name:    "initial not declared",
			yaml:    "name: m\ninitial: {state: B}\nstates: [{name: A}]",
			wantErr: ErrInitialStateNotFound,
		},
		{
			name:    "unknown initial field",
			yaml:    "name: m\ninitial: {state: A, set: {z: 1}}\nstates: [{name: A}]",
			wantErr: ErrUnknownField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadTopologyFromBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			topo, err := ParseTopology([]byte(tt.yaml))
			require.NoError(t, err)
			require.ErrorIs(t, topo.Validate(), tt.wantErr)
		})
	}

	_, err := ParseTopology([]byte("name: [unterminated"))
	require.Error(t, err)
}

func TestDefinitionTopology(t *testing.T) {
	t.Parallel()

	topo := configMachine(t).Topology()
	require.NoError(t, topo.Validate())

	assert.Equal(t, "Mach1", topo.Name)
	assert.Equal(t, stNew, topo.Initial.State)
	assert.Equal(t, []Field{{Name: "Calls", Type: "[]string"}}, topo.Shared)

	newState, ok := topo.State(stNew)
	require.True(t, ok)
	assert.Equal(t, []Field{{Name: "X", Type: "int", Default: 0}}, newState.Fields)
	assert.Equal(t, []HandlerTopology{
		{Command: cmdConfigure, Target: stInConfig, Callback: true},
		{Command: cmdConfigureDone, Target: stNew},
	}, newState.Handlers)

	// A Definition's topology survives a YAML round trip with the same fingerprint.
	data, err := topo.YAML()
	require.NoError(t, err)

	parsed, err := LoadTopologyFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, topo.Fingerprint(), parsed.Fingerprint())
}

func TestTopologyFingerprint(t *testing.T) {
	t.Parallel()

	a := configMachine(t).Topology()
	b := configMachine(t).Topology()
	c := cycleMachine(t).Topology()

	assert.Len(t, a.Fingerprint(), 16)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestTopologyReachable(t *testing.T) {
	t.Parallel()

	topo, err := LoadTopologyFromBytes([]byte(`
name: m
initial: {state: A}
states:
  - name: A
    handlers: [{command: Go, target: B}]
  - name: B
    handlers: [{command: Stay}]
  - name: Orphan
    handlers: [{command: Go, target: A}]
`))
	require.NoError(t, err)

	assert.Equal(t, map[StateTag]bool{"A": true, "B": true}, topo.Reachable())
}
