package statemachine

import (
	"context"
	"log/slog"
	"time"
)

// Logger receives the lifecycle events of machines. The engine itself never
// prints; a machine without a Logger is silent.
type Logger interface {
	StateEntered(ctx context.Context, machine string, state StateTag)
	StateExited(ctx context.Context, machine string, state StateTag, dwell time.Duration)
	TransitionExecuted(ctx context.Context, machine string, from, to StateTag, cmd Command)
	CommandRejected(ctx context.Context, machine string, state StateTag, cmd Command)
	HookFailed(ctx context.Context, machine string, state StateTag, err error)
}

// DefaultLogger implements Logger using slog.
type DefaultLogger struct {
	logger *slog.Logger
}

// NewDefaultLogger creates a logger writing to slog.Default().
func NewDefaultLogger() *DefaultLogger {
	return NewSlogLogger(slog.Default())
}

// NewSlogLogger creates a logger writing to l.
func NewSlogLogger(l *slog.Logger) *DefaultLogger {
	if l == nil {
		l = slog.Default()
	}

	return &DefaultLogger{
		logger: l,
	}
}

// fields returns the instance attributes carried by ctx.
func fields(ctx context.Context, machine string, extra ...any) []any {
	out := []any{"machine", machine}

	if labels, ok := GetLabels(ctx); ok {
		out = append(out, "instance_id", labels.InstanceID)
	}

	return append(out, extra...)
}

func (l *DefaultLogger) StateEntered(ctx context.Context, machine string, state StateTag) {
	l.logger.DebugContext(ctx, "State entered", fields(ctx, machine, "state", state)...)
}

func (l *DefaultLogger) StateExited(ctx context.Context, machine string, state StateTag, dwell time.Duration) {
	l.logger.DebugContext(ctx, "State exited",
		fields(ctx, machine, "state", state, "dwell_ms", dwell.Milliseconds())...)
}

func (l *DefaultLogger) TransitionExecuted(ctx context.Context, machine string, from, to StateTag, cmd Command) {
	l.logger.InfoContext(ctx, "Transition executed",
		fields(ctx, machine, "from", from, "to", to, "command", cmd)...)
}

func (l *DefaultLogger) CommandRejected(ctx context.Context, machine string, state StateTag, cmd Command) {
	l.logger.WarnContext(ctx, "Command rejected",
		fields(ctx, machine, "state", state, "command", cmd)...)
}

func (l *DefaultLogger) HookFailed(ctx context.Context, machine string, state StateTag, err error) {
	l.logger.ErrorContext(ctx, "Hook failed, machine is unusable",
		fields(ctx, machine, "state", state, "error", err)...)
}
