package main

import (
	"fmt"

	"github.com/amp-labs/amp-fsm/statemachine"
	"github.com/amp-labs/amp-fsm/statemachine/visualizer"
	"github.com/spf13/cobra"
)

func newRenderCmd() *cobra.Command {
	var (
		direction string
		highlight []string
		sorted    bool
		noFields  bool
	)

	cmd := &cobra.Command{
		Use:   "render FILE",
		Short: "print a topology as a Mermaid state diagram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := statemachine.LoadTopology(args[0])
			if err != nil {
				return err
			}

			path := make([]statemachine.StateTag, len(highlight))
			for i, h := range highlight {
				path[i] = statemachine.StateTag(h)
			}

			opts := visualizer.DefaultOptions().
				WithDirection(direction).
				WithHighlightPath(path...).
				WithSortStates(sorted).
				WithShowFields(!noFields)

			diagram, err := visualizer.GenerateMermaidWithOptions(topo, opts)
			if err != nil {
				return err
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), diagram)

			return err
		},
	}

	cmd.Flags().StringVar(&direction, "direction", "TD", "diagram direction, TD or LR")
	cmd.Flags().StringSliceVar(&highlight, "highlight", nil, "states to highlight")
	cmd.Flags().BoolVar(&sorted, "sort", false, "order states naturally instead of as declared")
	cmd.Flags().BoolVar(&noFields, "no-fields", false, "omit context fields from state nodes")

	return cmd
}
