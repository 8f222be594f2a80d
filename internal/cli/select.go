// Package cli holds the interactive prompts of fsmctl.
package cli

import (
	"errors"
	"io"
	"strings"

	"facette.io/natsort"
	"github.com/amp-labs/amp-fsm/statemachine"
	"github.com/manifoldco/promptui"
)

// Done is the picker entry that ends an interactive session.
const Done = "[Done]"

// Picker chooses the next command to execute.
type Picker interface {
	// Pick returns the chosen command, or ok=false when the user is done.
	Pick(state statemachine.StateTag, commands []statemachine.Command) (cmd statemachine.Command, ok bool, err error)
}

// PromptPicker asks on a terminal with promptui.
type PromptPicker struct {
	Stdin  io.ReadCloser
	Stdout io.WriteCloser
}

// Pick implements Picker.
func (p PromptPicker) Pick(
	state statemachine.StateTag, commands []statemachine.Command,
) (statemachine.Command, bool, error) {
	items := Items(commands)

	sel := &promptui.Select{
		Label:  "Command in " + state.String(),
		Items:  items,
		Stdin:  p.Stdin,
		Stdout: p.Stdout,
		Searcher: func(input string, index int) bool {
			if index == 0 || len(input) == 0 {
				return false
			}

			return strings.HasPrefix(strings.ToLower(items[index]), strings.ToLower(input))
		},
	}

	idx, value, err := sel.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return "", false, nil
		}

		return "", false, err
	}

	if idx == 0 {
		return "", false, nil
	}

	return statemachine.Command(value), true, nil
}

// Items lists commands in natural order behind the Done entry.
func Items(commands []statemachine.Command) []string {
	names := make([]string, 0, len(commands))
	for _, c := range commands {
		names = append(names, c.String())
	}

	natsort.Sort(names)

	return append([]string{Done}, names...)
}
