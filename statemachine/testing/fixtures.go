package testing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/amp-labs/amp-fsm/statemachine"
	"github.com/stretchr/testify/require"
)

// ConfigureYAML is the New / InConfig / Operational machine: Configure moves
// New to InConfig with x incremented, ConfigureDone finishes configuration
// and Drop returns to New.
const ConfigureYAML = `name: Mach1
initial:
  state: New
commands: [Configure, ConfigureDone, Drop]
states:
  - name: New
    fields:
      - {name: x, type: int, default: 0}
    handlers:
      - command: Configure
        target: InConfig
        set: {x: $x+1, "y": 0}
      - command: ConfigureDone
        target: New
        set: {x: 0}
  - name: InConfig
    fields:
      - {name: x, type: int, default: 0}
      - {name: "y", type: int, default: 0}
    handlers:
      - command: ConfigureDone
        target: Operational
  - name: Operational
    handlers:
      - command: ConfigureDone
      - command: Drop
        target: New
        set: {x: 0}
`

// CycleYAML is the State1 -> State2 -> State3 -> State1 machine.
const CycleYAML = `name: Mach2
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

// SharedIDYAML is a machine with a shared id field and a command bumping it.
const SharedIDYAML = `name: Mach3
initial:
  state: Idle
shared:
  - {name: id, type: int, default: 0}
states:
  - name: Idle
    fields:
      - {name: seen, type: int, default: 0}
    handlers:
      - command: Start
        target: Running
        set: {owner: $shared.id}
  - name: Running
    fields:
      - {name: owner, type: int, default: -1}
    handlers:
      - command: Stop
        target: Idle
`

// LoadFixture parses and validates a YAML topology.
func LoadFixture(t *testing.T, yaml string) *statemachine.Topology {
	t.Helper()

	topo, err := statemachine.LoadTopologyFromBytes([]byte(yaml))
	require.NoError(t, err, "fixture should be a valid topology")

	return topo
}

// WriteFixture writes yaml to a file in a temporary directory and returns its path.
func WriteFixture(t *testing.T, name, yaml string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	return path
}
