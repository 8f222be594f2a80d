package statemachine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTestTracer creates a test tracer with an in-memory exporter.
func setupTestTracer(t *testing.T) (*tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)

	oldProvider := otel.GetTracerProvider()

	otel.SetTracerProvider(tp)

	cleanup := func() {
		otel.SetTracerProvider(oldProvider)
	}

	return exporter, cleanup
}

func attributes(span tracetest.SpanStub) map[string]any {
	attrMap := make(map[string]any)
	for _, attr := range span.Attributes {
		attrMap[string(attr.Key)] = attr.Value.AsInterface()
	}

	return attrMap
}

func spanNamed(t *testing.T, spans tracetest.SpanStubs, name string) tracetest.SpanStub {
	t.Helper()

	for _, span := range spans {
		if span.Name == name {
			return span
		}
	}

	require.Failf(t, "span not found", "no span named %q", name)

	return tracetest.SpanStub{}
}

// TestExecuteSpans verifies the execute span and its hook children.
// Note: Cannot use t.Parallel() because setupTestTracer modifies global OTEL tracer provider.
//
//nolint:paralleltest // Test modifies global OTEL tracer provider
func TestExecuteSpans(t *testing.T) {
	exporter, cleanup := setupTestTracer(t)
	t.Cleanup(cleanup)

	m := MustNew(configMachine(t), WithInstanceID[journal]("instance-1"))

	exporter.Reset()

	require.NoError(t, m.ExecuteContext(context.Background(), cmdConfigure))

	spans := exporter.GetSpans()

	exec := spanNamed(t, spans, "statemachine.execute")
	attrs := attributes(exec)
	assert.Equal(t, "Mach1", attrs["machine"])
	assert.Equal(t, "instance-1", attrs["instance_id"])
	assert.Equal(t, string(stNew), attrs["state"])
	assert.Equal(t, string(cmdConfigure), attrs["command"])
	assert.Equal(t, "transitioned", attrs["outcome"])
	assert.Equal(t, codes.Ok, exec.Status.Code)

	for _, name := range []string{"hook.callback", "hook.initializer", "hook.leave", "hook.enter"} {
		hook := spanNamed(t, spans, name)
		assert.Equal(t, exec.SpanContext.SpanID(), hook.Parent.SpanID(), name)
		assert.Equal(t, "instance-1", attributes(hook)["instance_id"], name)
	}

	enter := attributes(spanNamed(t, spans, "hook.enter"))
	assert.Equal(t, string(stInConfig), enter["state"])
}

// TestRejectedSpan verifies that rejections are recorded as span errors.
//
//nolint:paralleltest // Test modifies global OTEL tracer provider
func TestRejectedSpan(t *testing.T) {
	exporter, cleanup := setupTestTracer(t)
	t.Cleanup(cleanup)

	m := MustNew(cycleMachine(t))

	exporter.Reset()

	require.ErrorIs(t, m.Execute(cmdToState3), ErrInvalidCommand)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	assert.Equal(t, "rejected", attributes(spans[0])["outcome"])
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.NotEmpty(t, spans[0].Events)
}

// TestHookErrorSpan verifies that a failing hook marks its span.
//
//nolint:paralleltest // Test modifies global OTEL tracer provider
func TestHookErrorSpan(t *testing.T) {
	exporter, cleanup := setupTestTracer(t)
	t.Cleanup(cleanup)

	def, err := NewBuilder[NoShared]("span-failure").
		AddState(
			NewState[emptyContext, NoShared](stState1,
				OnLeave(func(*emptyContext, *NoShared) error { return assert.AnError }),
				Handle(cmdToState1, GotoDefault[emptyContext, NoShared](stState1)),
			),
		).
		WithInitialState(stState1, nil).
		Build()
	require.NoError(t, err)

	m := MustNew(def)

	exporter.Reset()

	hookErr := recoverHookError(t, func() { _ = m.Execute(cmdToState1) })
	require.NotNil(t, hookErr)
	assert.Equal(t, HookLeave, hookErr.Hook)

	spans := exporter.GetSpans()

	leave := spanNamed(t, spans, "hook.leave")
	assert.Equal(t, codes.Error, leave.Status.Code)

	exec := spanNamed(t, spans, "statemachine.execute")
	assert.Equal(t, outcomeFailed, attributes(exec)["outcome"])
	assert.Equal(t, codes.Error, exec.Status.Code)
}

func TestIsDebugMode(t *testing.T) {
	t.Setenv("FSM_DEBUG", "true")
	assert.True(t, isDebugMode())

	t.Setenv("FSM_DEBUG", "1")
	assert.True(t, isDebugMode())

	t.Setenv("FSM_DEBUG", "")
	assert.False(t, isDebugMode())
}
