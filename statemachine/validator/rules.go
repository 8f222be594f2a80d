//nolint:lll // Long validation messages
package validator

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/amp-labs/amp-fsm/statemachine"
)

// Severity defines the severity level of a validation issue.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

// RuleResult contains both errors and warnings from a rule check.
type RuleResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// Rule defines a validation rule that can check a topology for specific issues.
type Rule interface {
	Name() string
	Severity() Severity
	Check(topo *statemachine.Topology) RuleResult
}

// DefaultRules returns the standard set of validation rules.
func DefaultRules() []Rule {
	return []Rule{
		&unknownTargetRule{},
		&undeclaredCommandRule{},
		&duplicateHandlerRule{},
		&unreachableStateRule{},
		&deadEndStateRule{},
		&unusedCommandRule{},
		&namingConventionRule{},
		&selfTransitionRule{},
		&labelSafetyRule{},
	}
}

var (
	registeredMu    sync.Mutex //nolint:gochecknoglobals
	registeredRules []Rule     //nolint:gochecknoglobals
)

// RegisterRule adds a custom validation rule used by Validate and ValidateStrict.
func RegisterRule(rule Rule) {
	registeredMu.Lock()
	defer registeredMu.Unlock()

	registeredRules = append(registeredRules, rule)
}

// RegisteredRules returns the custom rules added with RegisterRule.
func RegisteredRules() []Rule {
	registeredMu.Lock()
	defer registeredMu.Unlock()

	return append([]Rule(nil), registeredRules...)
}

// AllRules returns the default rules followed by the registered ones.
func AllRules() []Rule {
	return append(DefaultRules(), RegisteredRules()...)
}

// unknownTargetRule checks that every handler targets a declared state.
type unknownTargetRule struct{}

func (r *unknownTargetRule) Name() string {
	return "UnknownTarget"
}

func (r *unknownTargetRule) Severity() Severity {
	return SeverityError
}

func (r *unknownTargetRule) Check(topo *statemachine.Topology) RuleResult {
	var errors []ValidationError

	for _, state := range topo.States {
		for _, h := range state.Handlers {
			if h.Target == statemachine.NoTransition {
				continue
			}

			if _, ok := topo.State(h.Target); !ok {
				errors = append(errors, ValidationError{
					Code:     "UNKNOWN_TARGET",
					Message:  fmt.Sprintf("Command '%s' in state '%s' targets undeclared state '%s'", h.Command, state.Name, h.Target),
					Location: Location{State: state.Name, Command: h.Command},
					Fix:      AddState(h.Target),
				})
			}
		}
	}

	if topo.Initial.State == statemachine.NoTransition {
		errors = append(errors, ValidationError{
			Code:    "MISSING_INITIAL_STATE",
			Message: "No initial state declared",
		})
	} else if _, ok := topo.State(topo.Initial.State); !ok {
		errors = append(errors, ValidationError{
			Code:     "UNKNOWN_INITIAL_STATE",
			Message:  fmt.Sprintf("Initial state '%s' is not declared", topo.Initial.State),
			Location: Location{State: topo.Initial.State},
			Fix:      AddState(topo.Initial.State),
		})
	}

	return RuleResult{Errors: errors}
}

// undeclaredCommandRule checks that handlers only answer declared commands.
// Topologies without a command list declare every handled command.
type undeclaredCommandRule struct{}

func (r *undeclaredCommandRule) Name() string {
	return "UndeclaredCommand"
}

func (r *undeclaredCommandRule) Severity() Severity {
	return SeverityError
}

func (r *undeclaredCommandRule) Check(topo *statemachine.Topology) RuleResult {
	if len(topo.Commands) == 0 {
		return RuleResult{}
	}

	declared := make(map[statemachine.Command]bool, len(topo.Commands))
	for _, cmd := range topo.Commands {
		declared[cmd] = true
	}

	var errors []ValidationError

	for _, state := range topo.States {
		for _, h := range state.Handlers {
			if !declared[h.Command] {
				errors = append(errors, ValidationError{
					Code:     "UNDECLARED_COMMAND",
					Message:  fmt.Sprintf("State '%s' handles undeclared command '%s'", state.Name, h.Command),
					Location: Location{State: state.Name, Command: h.Command},
					Fix:      DeclareCommand(h.Command),
				})
			}
		}
	}

	return RuleResult{Errors: errors}
}

// duplicateHandlerRule checks for two handlers of one command in one state.
type duplicateHandlerRule struct{}

func (r *duplicateHandlerRule) Name() string {
	return "DuplicateHandler"
}

func (r *duplicateHandlerRule) Severity() Severity {
	return SeverityError
}

func (r *duplicateHandlerRule) Check(topo *statemachine.Topology) RuleResult {
	var errors []ValidationError

	for _, state := range topo.States {
		count := make(map[statemachine.Command]int, len(state.Handlers))

		for _, h := range state.Handlers {
			count[h.Command]++
			if count[h.Command] != 2 {
				continue
			}

			// One error per command: the fix drops every extra handler.
			errors = append(errors, ValidationError{
				Code:     "DUPLICATE_HANDLER",
				Message:  fmt.Sprintf("State '%s' declares command '%s' more than once", state.Name, h.Command),
				Location: Location{State: state.Name, Command: h.Command},
				Fix:      RemoveDuplicateHandler(state.Name, h.Command),
			})
		}
	}

	return RuleResult{Errors: errors}
}

// unreachableStateRule checks for states that cannot be reached from the initial state.
type unreachableStateRule struct{}

func (r *unreachableStateRule) Name() string {
	return "UnreachableState"
}

func (r *unreachableStateRule) Severity() Severity {
	return SeverityError
}

func (r *unreachableStateRule) Check(topo *statemachine.Topology) RuleResult {
	if _, ok := topo.State(topo.Initial.State); !ok {
		// Reported by unknownTargetRule; every state would look unreachable.
		return RuleResult{}
	}

	var errors []ValidationError

	reachable := topo.Reachable()

	for _, state := range topo.States {
		if !reachable[state.Name] {
			errors = append(errors, ValidationError{
				Code:     "UNREACHABLE_STATE",
				Message:  fmt.Sprintf("State '%s' cannot be reached from initial state '%s'", state.Name, topo.Initial.State),
				Location: Location{State: state.Name},
				Fix:      RemoveUnreachableState(state.Name),
			})
		}
	}

	return RuleResult{Errors: errors}
}

// deadEndStateRule warns about states that accept no command at all.
type deadEndStateRule struct{}

func (r *deadEndStateRule) Name() string {
	return "DeadEndState"
}

func (r *deadEndStateRule) Severity() Severity {
	return SeverityWarning
}

func (r *deadEndStateRule) Check(topo *statemachine.Topology) RuleResult {
	var warnings []ValidationWarning

	for _, state := range topo.States {
		if len(state.Handlers) == 0 {
			warnings = append(warnings, ValidationWarning{
				Code:     "DEAD_END_STATE",
				Message:  fmt.Sprintf("State '%s' handles no command; every command is rejected there", state.Name),
				Location: Location{State: state.Name},
			})
		}
	}

	return RuleResult{Warnings: warnings}
}

// unusedCommandRule warns about declared commands no state handles.
type unusedCommandRule struct{}

func (r *unusedCommandRule) Name() string {
	return "UnusedCommand"
}

func (r *unusedCommandRule) Severity() Severity {
	return SeverityWarning
}

func (r *unusedCommandRule) Check(topo *statemachine.Topology) RuleResult {
	handled := make(map[statemachine.Command]bool)

	for _, state := range topo.States {
		for _, h := range state.Handlers {
			handled[h.Command] = true
		}
	}

	var warnings []ValidationWarning

	for _, cmd := range topo.Commands {
		if !handled[cmd] {
			warnings = append(warnings, ValidationWarning{
				Code:     "UNUSED_COMMAND",
				Message:  fmt.Sprintf("Command '%s' is declared but no state handles it", cmd),
				Location: Location{Command: cmd},
			})
		}
	}

	return RuleResult{Warnings: warnings}
}

// namingConventionRule warns about state and command names that are not PascalCase.
type namingConventionRule struct{}

func (r *namingConventionRule) Name() string {
	return "NamingConvention"
}

func (r *namingConventionRule) Severity() Severity {
	return SeverityWarning
}

func (r *namingConventionRule) Check(topo *statemachine.Topology) RuleResult {
	var warnings []ValidationWarning

	for _, state := range topo.States {
		if !isPascalCase(string(state.Name)) {
			warnings = append(warnings, ValidationWarning{
				Code:     "NAMING_CONVENTION",
				Message:  fmt.Sprintf("State '%s' should use PascalCase naming (suggested: '%s')", state.Name, toPascalCase(string(state.Name))),
				Location: Location{State: state.Name},
			})
		}
	}

	for _, cmd := range commandsOf(topo) {
		if !isPascalCase(string(cmd)) {
			warnings = append(warnings, ValidationWarning{
				Code:     "NAMING_CONVENTION",
				Message:  fmt.Sprintf("Command '%s' should use PascalCase naming (suggested: '%s')", cmd, toPascalCase(string(cmd))),
				Location: Location{Command: cmd},
			})
		}
	}

	return RuleResult{Warnings: warnings}
}

// selfTransitionRule points out self-transitions that carry data: they are
// full transitions, so the state's leave and enter hooks both run.
type selfTransitionRule struct{}

func (r *selfTransitionRule) Name() string {
	return "SelfTransition"
}

func (r *selfTransitionRule) Severity() Severity {
	return SeverityWarning
}

func (r *selfTransitionRule) Check(topo *statemachine.Topology) RuleResult {
	var warnings []ValidationWarning

	for _, state := range topo.States {
		for _, h := range state.Handlers {
			if h.Target != state.Name || len(h.Set) == 0 {
				continue
			}

			warnings = append(warnings, ValidationWarning{
				Code:     "SELF_TRANSITION_WITH_DATA",
				Message:  fmt.Sprintf("Command '%s' re-enters state '%s' with new data; leave and enter hooks run and the context is replaced", h.Command, state.Name),
				Location: Location{State: state.Name, Command: h.Command},
			})
		}
	}

	return RuleResult{Warnings: warnings}
}

// labelSafetyRule checks that names can be used as span names and metric label values.
type labelSafetyRule struct{}

func (r *labelSafetyRule) Name() string {
	return "LabelSafety"
}

func (r *labelSafetyRule) Severity() Severity {
	return SeverityWarning
}

const maxLabelLength = 128

func (r *labelSafetyRule) Check(topo *statemachine.Topology) RuleResult {
	var warnings []ValidationWarning

	check := func(kind, name string, loc Location) {
		if name == "" {
			return
		}

		if len(name) > maxLabelLength || strings.IndexFunc(name, unsafeRune) >= 0 {
			warnings = append(warnings, ValidationWarning{
				Code:     "OTEL_LABEL_UNSAFE",
				Message:  fmt.Sprintf("%s name %q contains whitespace or control characters, or is too long, for span names and metric labels", kind, name),
				Location: loc,
			})
		}
	}

	check("Machine", topo.Name, Location{})

	for _, state := range topo.States {
		check("State", string(state.Name), Location{State: state.Name})
	}

	for _, cmd := range commandsOf(topo) {
		check("Command", string(cmd), Location{Command: cmd})
	}

	return RuleResult{Warnings: warnings}
}

func unsafeRune(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsControl(r)
}

// Helper functions

// commandsOf returns the declared commands, or the handled ones when none are declared.
func commandsOf(topo *statemachine.Topology) []statemachine.Command {
	if len(topo.Commands) > 0 {
		return topo.Commands
	}

	var cmds []statemachine.Command

	seen := make(map[statemachine.Command]bool)

	for _, state := range topo.States {
		for _, h := range state.Handlers {
			if !seen[h.Command] {
				seen[h.Command] = true
				cmds = append(cmds, h.Command)
			}
		}
	}

	return cmds
}

func isPascalCase(s string) bool {
	if s == "" {
		return true
	}

	for i, r := range s {
		if i == 0 && !unicode.IsUpper(r) {
			return false
		}

		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}

	return true
}

func toPascalCase(s string) string {
	var sb strings.Builder

	upper := true

	for _, r := range s {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			upper = true
		case upper:
			sb.WriteRune(unicode.ToUpper(r))

			upper = false
		default:
			sb.WriteRune(r)
		}
	}

	return sb.String()
}
