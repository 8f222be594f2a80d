package statemachine

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "statemachine"

// startExecuteSpan creates the span of one Execute call.
// The caller is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller
func startExecuteSpan(
	ctx context.Context,
	machine, instanceID string,
	state StateTag,
	cmd Command,
) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "statemachine.execute")
	span.SetAttributes(
		attribute.String("machine", machine),
		attribute.String("instance_id", instanceID),
		attribute.String("state", string(state)),
		attribute.String("command", string(cmd)),
	)
	logSpanDebug(ctx, "statemachine.execute", span)

	return ctx, span
}

// startHookSpan creates a child span for user code.
// The caller is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller
func startHookSpan(ctx context.Context, state StateTag, hook Hook, cmd Command) (context.Context, trace.Span) {
	spanName := "hook." + string(hook)
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName)
	span.SetAttributes(
		attribute.String("state", string(state)),
		attribute.String("hook", string(hook)),
	)

	if cmd != "" {
		span.SetAttributes(attribute.String("command", string(cmd)))
	}

	if labels, ok := GetLabels(ctx); ok {
		span.SetAttributes(
			attribute.String("machine", labels.Machine),
			attribute.String("instance_id", labels.InstanceID),
		)
	}

	logSpanDebug(ctx, spanName, span)

	return ctx, span
}

// endSpan records err, if any, and ends the span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "completed")
	}

	span.End()
}

// setExecuteOutcome annotates the execute span without ending it.
func setExecuteOutcome(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("outcome", outcome))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return
	}

	span.SetStatus(codes.Ok, outcome)
}

// logSpanDebug logs span creation when FSM_DEBUG is set.
func logSpanDebug(ctx context.Context, spanName string, span trace.Span) {
	if !isDebugMode() {
		return
	}

	spanCtx := span.SpanContext()
	slog.DebugContext(ctx, "OTEL Span started",
		"span_name", spanName,
		"trace_id", spanCtx.TraceID().String(),
		"span_id", spanCtx.SpanID().String(),
	)
}

// isDebugMode checks if FSM_DEBUG mode is enabled.
func isDebugMode() bool {
	return strings.EqualFold(os.Getenv("FSM_DEBUG"), "1") ||
		strings.EqualFold(os.Getenv("FSM_DEBUG"), "true")
}
