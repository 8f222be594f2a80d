package statemachine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const outcomeFailed = "failed"

// Metric definitions with appropriate labels. States and commands come from
// closed, per-definition sets, so they are safe label values.
var (
	// commandsTotal counts Execute calls by outcome (transitioned, same_state, rejected, failed).
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsm_commands_total",
		Help: "Total number of executed commands by machine, state, command, and outcome",
	}, []string{"machine", "state", "command", "outcome"})

	// transitionTotal counts committed transitions, self-transitions included.
	transitionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsm_transitions_total",
		Help: "Total number of state transitions by machine, from_state, and to_state",
	}, []string{"machine", "from_state", "to_state"})

	// hookDuration tracks the time spent in user code.
	hookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fsm_hook_duration_seconds",
		Help:    "Duration of enter/leave hooks, callbacks, and initializers by machine, state, and hook",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"machine", "state", "hook"})

	// machinesConstructed counts successfully constructed machines.
	machinesConstructed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsm_machines_constructed_total",
		Help: "Total number of constructed machine instances by machine",
	}, []string{"machine"})
)

func recordCommand(machine string, state StateTag, cmd Command, outcome string) {
	commandsTotal.WithLabelValues(sanitizeMachine(machine), string(state), string(cmd), outcome).Inc()
}

func sanitizeMachine(machine string) string {
	if machine == "" {
		return "unknown"
	}

	return machine
}
