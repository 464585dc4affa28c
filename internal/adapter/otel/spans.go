package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "forgebot"

// StartRequestSpan starts a span for one inbound request.
func StartRequestSpan(ctx context.Context, requestID, intent string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "request",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("request.intent", intent),
		),
	)
}

// StartIterationSpan starts a span for one agent loop iteration.
func StartIterationSpan(ctx context.Context, iteration int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "iteration",
		trace.WithAttributes(attribute.Int("loop.iteration", iteration)),
	)
}

// StartToolCallSpan starts a span for an action execution.
func StartToolCallSpan(ctx context.Context, callID, action string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.id", callID),
			attribute.String("toolcall.action", action),
		),
	)
}

// StartModelSpan starts a span for a model invocation.
func StartModelSpan(ctx context.Context, model string, maxTokens int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "model",
		trace.WithAttributes(
			attribute.String("model.id", model),
			attribute.Int("model.max_tokens", maxTokens),
		),
	)
}

// StartBuildSpan starts a span for a build pipeline run.
func StartBuildSpan(ctx context.Context, buildID, contentType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "build",
		trace.WithAttributes(
			attribute.String("build.id", buildID),
			attribute.String("build.type", contentType),
		),
	)
}

// StartStageSpan starts a span for one build stage.
func StartStageSpan(ctx context.Context, stage string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "stage."+stage,
		trace.WithAttributes(attribute.Int("build.attempt", attempt)),
	)
}
