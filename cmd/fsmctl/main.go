// Command fsmctl validates, renders and runs YAML state machine topologies.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/amp-labs/amp-fsm/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	root := newRootCmd(&app{picker: cli.PromptPicker{Stdin: os.Stdin, Stdout: os.Stdout}})

	err := root.ExecuteContext(ctx)

	stop()

	if err != nil {
		os.Exit(1)
	}
}
