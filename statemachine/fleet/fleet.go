// Package fleet runs many independent machine instances built from one
// definition. Each instance is serialized by its own lock; distinct instances
// execute concurrently on a bounded worker pool.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/amp-labs/amp-fsm/statemachine"
)

var (
	// ErrNoSuchMember is returned when an index is outside the fleet.
	ErrNoSuchMember = errors.New("no such fleet member")
	// ErrMemberFailed wraps the panic of a member whose hook failed.
	ErrMemberFailed = errors.New("fleet member failed")
	// ErrInvalidSize is returned by New for a non-positive size.
	ErrInvalidSize = errors.New("fleet size must be positive")
	// ErrClosed is returned by Broadcast and Run after Close.
	ErrClosed = errors.New("fleet is closed")
)

// Option configures a Fleet.
type Option[S any] func(*config[S])

type config[S any] struct {
	sharedFor   func(i int) S
	machineOpts []statemachine.MachineOption[S]
	concurrency int
	logger      *slog.Logger
}

// WithSharedFor gives member i the shared context sharedFor(i) instead of the
// definition's factory value.
func WithSharedFor[S any](sharedFor func(i int) S) Option[S] {
	return func(c *config[S]) {
		c.sharedFor = sharedFor
	}
}

// WithMachineOptions applies opts to every member machine.
func WithMachineOptions[S any](opts ...statemachine.MachineOption[S]) Option[S] {
	return func(c *config[S]) {
		c.machineOpts = append(c.machineOpts, opts...)
	}
}

// WithConcurrency bounds the number of members executing at once. Zero or
// less means GOMAXPROCS.
func WithConcurrency[S any](n int) Option[S] {
	return func(c *config[S]) {
		c.concurrency = n
	}
}

// WithLogger sets the logger used for member failures.
func WithLogger[S any](logger *slog.Logger) Option[S] {
	return func(c *config[S]) {
		c.logger = logger
	}
}

type member[S any] struct {
	mu      sync.Mutex
	machine *statemachine.Machine[S]
}

// Fleet is a fixed set of machines sharing one definition.
type Fleet[S any] struct {
	def     *statemachine.Definition[S]
	members []*member[S]
	pool    pond.Pool
	logger  *slog.Logger
}

// New constructs size machines from def. Construction stops at the first
// member whose initial enter hook fails.
func New[S any](def *statemachine.Definition[S], size int, opts ...Option[S]) (*Fleet[S], error) {
	return NewContext(context.Background(), def, size, opts...)
}

// NewContext is New with a context for logging and tracing of member construction.
func NewContext[S any](
	ctx context.Context, def *statemachine.Definition[S], size int, opts ...Option[S],
) (*Fleet[S], error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	cfg := config[S]{logger: slog.Default()}

	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.concurrency <= 0 {
		cfg.concurrency = runtime.GOMAXPROCS(0)
	}

	members := make([]*member[S], size)

	for i := range members {
		machineOpts := cfg.machineOpts
		if cfg.sharedFor != nil {
			machineOpts = append(machineOpts[:len(machineOpts):len(machineOpts)],
				statemachine.WithShared(cfg.sharedFor(i)))
		}

		machine, err := statemachine.NewContext(ctx, def, machineOpts...)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}

		members[i] = &member[S]{machine: machine}
	}

	cfg.logger.DebugContext(ctx, "Fleet constructed",
		"machine", def.Name(), "size", size, "concurrency", cfg.concurrency)

	return &Fleet[S]{
		def:     def,
		members: members,
		pool:    pond.NewPool(cfg.concurrency),
		logger:  cfg.logger,
	}, nil
}

// Size returns the number of members.
func (f *Fleet[S]) Size() int {
	return len(f.members)
}

// Machine returns member i. The caller must not execute on it concurrently
// with the fleet.
func (f *Fleet[S]) Machine(i int) (*statemachine.Machine[S], error) {
	if i < 0 || i >= len(f.members) {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchMember, i)
	}

	return f.members[i].machine, nil
}

// States returns the current state of every member.
func (f *Fleet[S]) States() []statemachine.StateTag {
	states := make([]statemachine.StateTag, len(f.members))

	for i, m := range f.members {
		m.mu.Lock()
		states[i] = m.machine.CurrentState()
		m.mu.Unlock()
	}

	return states
}

// Dispatch executes cmd on member i while holding that member's lock.
// A hook failure is recovered and returned wrapping ErrMemberFailed.
func (f *Fleet[S]) Dispatch(ctx context.Context, i int, cmd statemachine.Command) error {
	if i < 0 || i >= len(f.members) {
		return fmt.Errorf("%w: %d", ErrNoSuchMember, i)
	}

	m := f.members[i]

	m.mu.Lock()
	defer m.mu.Unlock()

	return f.execute(ctx, i, m.machine, cmd)
}

func (f *Fleet[S]) execute(
	ctx context.Context, i int, machine *statemachine.Machine[S], cmd statemachine.Command,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.recovered(ctx, i, cmd, r)
		}
	}()

	return machine.ExecuteContext(ctx, cmd)
}

func (f *Fleet[S]) recovered(ctx context.Context, i int, cmd statemachine.Command, r any) error {
	var err error

	if e, ok := r.(error); ok {
		err = fmt.Errorf("%w: member %d: %w", ErrMemberFailed, i, e)
	} else {
		err = fmt.Errorf("%w: member %d: %v", ErrMemberFailed, i, r)
	}

	f.logger.ErrorContext(ctx, "Fleet member failed",
		"machine", f.def.Name(), "member", i, "command", cmd, "error", err)

	return err
}

// Broadcast executes cmd on every member concurrently and returns the joined
// errors of the members that rejected it or failed.
func (f *Fleet[S]) Broadcast(ctx context.Context, cmd statemachine.Command) error {
	return f.Run(ctx, []statemachine.Command{cmd})
}

// Run executes script on every member concurrently. Each member runs the
// commands in order and stops at its first error. The joined errors of all
// members are returned.
func (f *Fleet[S]) Run(ctx context.Context, script []statemachine.Command) error {
	if f.pool.Stopped() {
		return ErrClosed
	}

	errs := make([]error, len(f.members))
	tasks := make([]pond.Task, 0, len(f.members))

	for i := range f.members {
		tasks = append(tasks, f.pool.Submit(func() {
			for _, cmd := range script {
				if err := f.Dispatch(ctx, i, cmd); err != nil {
					errs[i] = err

					return
				}
			}
		}))
	}

	for _, task := range tasks {
		if err := task.Wait(); err != nil {
			return err
		}
	}

	return errors.Join(errs...)
}

// Close stops the worker pool after pending work completes.
func (f *Fleet[S]) Close() {
	f.pool.StopAndWait()
}
