package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/amp-labs/amp-fsm/statemachine"
	"github.com/amp-labs/amp-fsm/statemachine/validator"
	"github.com/spf13/cobra"
)

var errInvalidTopology = errors.New("topology is invalid")

func newValidateCmd() *cobra.Command {
	var strict, fix bool

	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "lint a machine topology",
		Long: `
  Checks a topology for unknown targets, undeclared commands, unreachable
  states and other defects. With --strict, warnings fail validation too.
  With --fix, the available fixes are applied and the repaired YAML printed.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], strict, fix)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")
	cmd.Flags().BoolVar(&fix, "fix", false, "apply available fixes and print the repaired topology")

	return cmd
}

func runValidate(cmd *cobra.Command, path string, strict, fix bool) error {
	result, err := validator.ValidateFileWithOptions(path, strict)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if fix && !result.Valid {
		return printFixed(cmd, path, result)
	}

	fmt.Fprint(out, result.String()) //nolint:errcheck

	if !result.Valid {
		return fmt.Errorf("%w: %s", errInvalidTopology, path)
	}

	return nil
}

func printFixed(cmd *cobra.Command, path string, result validator.ValidationResult) error {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied path
	if err != nil {
		return err
	}

	topo, err := statemachine.ParseTopology(data)
	if err != nil {
		return err
	}

	if err := validator.ApplyFixes(topo, result.Fixes()); err != nil {
		return err
	}

	fixed, err := topo.YAML()
	if err != nil {
		return err
	}

	_, err = cmd.OutOrStdout().Write(fixed)

	return err
}
