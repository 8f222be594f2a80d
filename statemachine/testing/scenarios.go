package testing

import (
	"slices"
	"testing"

	"github.com/amp-labs/amp-fsm/statemachine"
)

// Scenario is a command script run against a fresh machine.
type Scenario struct {
	Name     string
	Commands []statemachine.Command
	// Rejected lists the commands of Commands that must be rejected. Every
	// other command must be accepted.
	Rejected  []statemachine.Command
	WantState statemachine.StateTag
	Matchers  []Matcher
}

// RunScenario executes a scenario on a new machine as a subtest.
func RunScenario[S any](
	t *testing.T,
	def *statemachine.Definition[S],
	scenario Scenario,
	opts ...statemachine.MachineOption[S],
) {
	t.Helper()
	t.Run(scenario.Name, func(t *testing.T) {
		t.Parallel()

		tm := NewTestMachine(t, def, opts...)

		for _, cmd := range scenario.Commands {
			if slices.Contains(scenario.Rejected, cmd) {
				tm.ExpectRejected(cmd)
			} else {
				tm.Execute(cmd)
			}
		}

		if scenario.WantState != statemachine.NoTransition {
			tm.AssertState(scenario.WantState)
		}

		tm.AssertMatches(scenario.Matchers...)
	})
}

// RunScenarios runs every scenario against def.
func RunScenarios[S any](t *testing.T, def *statemachine.Definition[S], scenarios ...Scenario) {
	t.Helper()

	for _, scenario := range scenarios {
		RunScenario(t, def, scenario)
	}
}
