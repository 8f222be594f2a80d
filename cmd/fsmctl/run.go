package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/amp-labs/amp-fsm/statemachine"
	"github.com/amp-labs/amp-fsm/statemachine/dynamic"
	"github.com/amp-labs/amp-fsm/statemachine/fleet"
	"github.com/spf13/cobra"
)

var errBadSharedValue = errors.New("bad shared value")

type runFlags struct {
	exec        []string
	instances   int
	concurrency int
	interactive bool
	trace       bool
	shared      map[string]string
}

func newRunCmd(a *app) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "run a topology with scripted or interactive commands",
		Long: `
  Builds a machine from the topology and executes commands on it. --exec runs
  a comma separated script; --interactive then offers the current state's
  commands until [Done] is picked. With --instances N the same commands run on
  N independent instances concurrently.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringSliceVar(&flags.exec, "exec", nil, "commands to execute in order")
	cmd.Flags().IntVar(&flags.instances, "instances", 1, "number of independent instances")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "instances executing at once (default GOMAXPROCS)")
	cmd.Flags().BoolVar(&flags.interactive, "interactive", false, "pick commands interactively")
	cmd.Flags().BoolVar(&flags.trace, "trace", false, "print every hook and callback as it runs")
	cmd.Flags().StringToStringVar(&flags.shared, "shared", nil, "shared field values, e.g. id=7")

	return cmd
}

func (a *app) run(cmd *cobra.Command, path string, flags runFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	topo, err := statemachine.LoadTopology(path)
	if err != nil {
		return err
	}

	var opts []dynamic.Option
	if flags.trace {
		opts = append(opts, dynamic.WithHooks(&tracer{out: out}))
	}

	def, err := dynamic.FromTopology(topo, opts...)
	if err != nil {
		return err
	}

	values, err := parseShared(topo, flags.shared)
	if err != nil {
		return err
	}

	if _, err := dynamic.SharedWith(topo, values); err != nil {
		return err
	}

	fleetOpts := []fleet.Option[dynamic.Record]{
		fleet.WithSharedFor(func(int) dynamic.Record {
			shared, _ := dynamic.SharedWith(topo, values)

			return shared
		}),
		fleet.WithConcurrency[dynamic.Record](flags.concurrency),
	}

	if a.logger != nil {
		fleetOpts = append(fleetOpts,
			fleet.WithLogger[dynamic.Record](a.logger),
			fleet.WithMachineOptions(
				statemachine.WithLogger[dynamic.Record](statemachine.NewSlogLogger(a.logger)),
			))
	}

	f, err := fleet.NewContext(ctx, def, flags.instances, fleetOpts...)
	if err != nil {
		return err
	}
	defer f.Close()

	script := make([]statemachine.Command, len(flags.exec))
	for i, c := range flags.exec {
		script[i] = statemachine.Command(c)
	}

	runErr := f.Run(ctx, script)

	if flags.interactive && runErr == nil {
		runErr = a.interact(cmd, f)
	}

	printFleet(out, f)

	return runErr
}

// interact loops on the picker, broadcasting each pick to the whole fleet.
func (a *app) interact(cmd *cobra.Command, f *fleet.Fleet[dynamic.Record]) error {
	for {
		m, err := f.Machine(0)
		if err != nil {
			return err
		}

		picked, ok, err := a.picker.Pick(m.CurrentState(), m.AvailableCommands())
		if err != nil {
			return err
		}

		if !ok {
			return nil
		}

		if err := f.Broadcast(cmd.Context(), picked); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", picked, m.CurrentState()) //nolint:errcheck
	}
}

func printFleet(out io.Writer, f *fleet.Fleet[dynamic.Record]) {
	for i := range f.Size() {
		m, err := f.Machine(i)
		if err != nil {
			continue
		}

		state, ctx := m.Current()
		stats := m.Stats()

		//nolint:errcheck
		fmt.Fprintf(out, "instance %d: %s %v shared=%v executed=%d rejected=%d transitions=%d\n",
			i, state, ctx, *m.Shared(), stats.Executed, stats.Rejected, stats.Transitions)
	}
}

// parseShared converts --shared strings to the declared shared field types.
func parseShared(topo *statemachine.Topology, raw map[string]string) (dynamic.Record, error) {
	values := make(dynamic.Record, len(raw))

	for name, s := range raw {
		typ := ""

		for _, f := range topo.Shared {
			if f.Name == name {
				typ = f.Type
			}
		}

		v, err := parseValue(typ, s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q: %w", errBadSharedValue, name, s, err)
		}

		values[name] = v
	}

	return values, nil
}

func parseValue(typ, s string) (any, error) {
	switch typ {
	case "int":
		return strconv.Atoi(s)
	case "float":
		return strconv.ParseFloat(s, 64)
	case "bool":
		return strconv.ParseBool(s)
	default:
		return s, nil
	}
}

// tracer prints hooks as they run. Instances run concurrently, so lines are
// written under a lock.
type tracer struct {
	mu  sync.Mutex
	out io.Writer
}

func (t *tracer) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, format, args...) //nolint:errcheck
}

func (t *tracer) Enter(state statemachine.StateTag, ctx, _ dynamic.Record) error {
	t.printf("  enter %s %v\n", state, ctx)

	return nil
}

func (t *tracer) Leave(state statemachine.StateTag, ctx, _ dynamic.Record) error {
	t.printf("  leave %s %v\n", state, ctx)

	return nil
}

func (t *tracer) Callback(state statemachine.StateTag, cmd statemachine.Command, ctx, _ dynamic.Record) error {
	t.printf("  callback %s.%s %v\n", state, cmd, ctx)

	return nil
}
