// Package validator lints machine topologies: structural errors, warnings
// and improvement suggestions, with optional auto-fixes.
package validator

import (
	"fmt"
	"os"
	"strings"

	"github.com/amp-labs/amp-fsm/statemachine"
)

// ValidationResult contains the results of validating a topology.
type ValidationResult struct {
	Valid       bool
	Errors      []ValidationError
	Warnings    []ValidationWarning
	Suggestions []Suggestion
}

// ValidationError represents a validation error with fix suggestions.
type ValidationError struct {
	Code     string   // Error code like "UNREACHABLE_STATE", "UNKNOWN_TARGET"
	Message  string   // Human-readable error message
	Location Location // Where the error occurred
	Fix      *Fix     // Optional auto-fix suggestion
}

// ValidationWarning represents a non-critical issue.
type ValidationWarning struct {
	Code     string
	Message  string
	Location Location
}

// Suggestion provides improvement recommendations.
type Suggestion struct {
	Message string // Suggestion description
	Example string // YAML example showing the improvement
}

// Location identifies where an issue occurred.
type Location struct {
	File    string
	State   statemachine.StateTag
	Command statemachine.Command
}

// Validate checks a topology with the default and registered rules.
func Validate(topo *statemachine.Topology) ValidationResult {
	return ValidateWithRules(topo, AllRules())
}

// ValidateStrict is Validate with warnings promoted to errors.
func ValidateStrict(topo *statemachine.Topology) ValidationResult {
	return ValidateWithRulesStrict(topo, AllRules())
}

// ValidateFile loads a topology from a file and validates it.
func ValidateFile(path string) (ValidationResult, error) {
	return ValidateFileWithOptions(path, false)
}

// ValidateFileStrict loads a topology from a file and validates it in strict mode.
func ValidateFileStrict(path string) (ValidationResult, error) {
	return ValidateFileWithOptions(path, true)
}

// ValidateFileWithOptions loads a topology from a file and validates it.
// The file is only parsed, not checked, so every problem is reported.
func ValidateFileWithOptions(path string, strict bool) (ValidationResult, error) {
	topo, err := readTopology(path)
	if err != nil {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Code:     "TOPOLOGY_LOAD_FAILED",
					Message:  fmt.Sprintf("Failed to load topology: %v", err),
					Location: Location{File: path},
				},
			},
		}, err
	}

	var result ValidationResult
	if strict {
		result = ValidateStrict(topo)
	} else {
		result = Validate(topo)
	}

	// Set file location for all errors and warnings
	for i := range result.Errors {
		if result.Errors[i].Location.File == "" {
			result.Errors[i].Location.File = path
		}
	}

	for i := range result.Warnings {
		if result.Warnings[i].Location.File == "" {
			result.Warnings[i].Location.File = path
		}
	}

	return result, nil
}

// ValidateWithRules validates using custom rules.
func ValidateWithRules(topo *statemachine.Topology, rules []Rule) ValidationResult {
	var result ValidationResult

	for _, rule := range rules {
		ruleResult := rule.Check(topo)
		result.Errors = append(result.Errors, ruleResult.Errors...)
		result.Warnings = append(result.Warnings, ruleResult.Warnings...)
	}

	result.Valid = len(result.Errors) == 0
	result.Suggestions = generateSuggestions(topo)

	return result
}

// ValidateWithRulesStrict validates with strict mode (treats warnings as errors).
func ValidateWithRulesStrict(topo *statemachine.Topology, rules []Rule) ValidationResult {
	result := ValidateWithRules(topo, rules)

	for _, warning := range result.Warnings {
		result.Errors = append(result.Errors, ValidationError{
			Code:     warning.Code,
			Message:  warning.Message,
			Location: warning.Location,
		})
	}

	result.Warnings = nil
	result.Valid = len(result.Errors) == 0

	return result
}

// generateSuggestions provides general improvement suggestions.
func generateSuggestions(topo *statemachine.Topology) []Suggestion {
	var suggestions []Suggestion

	if len(topo.Commands) == 0 && len(topo.States) > 1 {
		suggestions = append(suggestions, Suggestion{
			Message: "Consider declaring the command list explicitly",
			Example: `commands: [Configure, ConfigureDone, Drop]`,
		})
	}

	withFields := 0

	for _, state := range topo.States {
		if len(state.Fields) > 0 {
			withFields++
		}

		for _, field := range state.Fields {
			if field.Type == "" {
				suggestions = append(suggestions, Suggestion{
					Message: fmt.Sprintf("Consider declaring a type for field '%s' of state '%s'", field.Name, state.Name),
					Example: `fields:
  - {name: x, type: int, default: 0}`,
				})

				break
			}
		}
	}

	if withFields == 0 && len(topo.Shared) == 0 && len(topo.States) > 3 {
		suggestions = append(suggestions, Suggestion{
			Message: "Consider carrying data in state or shared fields instead of multiplying states",
			Example: `shared:
  - {name: attempts, type: int, default: 0}`,
		})
	}

	return suggestions
}

// HasErrors returns true if the result has any errors.
func (r ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if the result has any warnings.
func (r ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// String returns a human-readable summary of validation results.
func (r ValidationResult) String() string {
	var sb strings.Builder

	if r.Valid {
		sb.WriteString("✓ Topology is valid\n")
	} else {
		sb.WriteString(fmt.Sprintf("✗ Topology has %d error(s)\n", len(r.Errors)))

		for _, err := range r.Errors {
			sb.WriteString(fmt.Sprintf("  [%s] %s%s\n", err.Code, err.Message, err.Location.suffix()))

			if err.Fix != nil {
				sb.WriteString(fmt.Sprintf("    Fix: %s\n", err.Fix.Description))
			}
		}
	}

	if len(r.Warnings) > 0 {
		sb.WriteString(fmt.Sprintf("\n⚠ %d warning(s):\n", len(r.Warnings)))

		for _, warn := range r.Warnings {
			sb.WriteString(fmt.Sprintf("  [%s] %s%s\n", warn.Code, warn.Message, warn.Location.suffix()))
		}
	}

	if len(r.Suggestions) > 0 {
		sb.WriteString(fmt.Sprintf("\n💡 %d suggestion(s) for improvement\n", len(r.Suggestions)))
	}

	return sb.String()
}

func (l Location) suffix() string {
	switch {
	case l.State != "" && l.Command != "":
		return fmt.Sprintf(" (state: %s, command: %s)", l.State, l.Command)
	case l.State != "":
		return fmt.Sprintf(" (state: %s)", l.State)
	case l.Command != "":
		return fmt.Sprintf(" (command: %s)", l.Command)
	default:
		return ""
	}
}

// readTopology parses a topology file without checking it.
func readTopology(path string) (*statemachine.Topology, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Intentional path-based loading
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file %q: %w", path, err)
	}

	return statemachine.ParseTopology(data)
}
