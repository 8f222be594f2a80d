package main

import (
	"fmt"
	"log/slog"

	"github.com/amp-labs/amp-fsm/internal/cli"
	"github.com/amp-labs/amp-fsm/internal/logging"
	"github.com/amp-labs/amp-fsm/internal/telemetry"
	"github.com/spf13/cobra"
)

const appName = "fsmctl"

// app carries what the commands share beyond flags.
type app struct {
	picker cli.Picker
	logger *slog.Logger
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "validate, render and run YAML state machines",
		Long: `
  fsmctl works on YAML machine topologies: it lints them, draws them as
  Mermaid state diagrams and runs them with scripted or interactive commands.
`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	root.AddCommand(newValidateCmd(), newRenderCmd(), newRunCmd(a))

	return root
}

// setup configures logging from LOG_* and telemetry from OTEL_*. Logging is
// configured twice when OTLP log export is on, so that the subsystem name is
// known to telemetry and the exporter exists for the slog bridge.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	logger, err := logging.ConfigureLogging(appName, logging.WithOutput(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	cfg, err := telemetry.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	if err := telemetry.Initialize(cmd.Context(), cfg); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	if lp := telemetry.LoggerProvider(); lp != nil {
		logger, err = logging.ConfigureLogging(appName,
			logging.WithOutput(cmd.ErrOrStderr()), logging.WithLoggerProvider(lp))
		if err != nil {
			return err
		}
	}

	a.logger = logger

	return nil
}

func (a *app) teardown(cmd *cobra.Command, _ []string) error {
	return telemetry.Shutdown(cmd.Context())
}
