package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "forgebot"

// Metrics holds all ForgeBot metric instruments.
type Metrics struct {
	RequestsRouted   metric.Int64Counter
	LoopTerminations metric.Int64Counter
	LoopIterations   metric.Int64Histogram
	ToolCalls        metric.Int64Counter
	ArgumentHeals    metric.Int64Counter
	ModelCalls       metric.Int64Counter
	ModelFallbacks   metric.Int64Counter
	QuotaRetries     metric.Int64Counter
	BuildsStarted    metric.Int64Counter
	BuildsFinished   metric.Int64Counter
	BuildAttempts    metric.Int64Histogram
	BuildScore       metric.Int64Histogram
	ModelLatency     metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.RequestsRouted, err = meter.Int64Counter("forgebot.requests.routed",
		metric.WithDescription("Requests classified, by intent and rule")); err != nil {
		return nil, err
	}
	if m.LoopTerminations, err = meter.Int64Counter("forgebot.loop.terminations",
		metric.WithDescription("Agent loop exits, by termination reason")); err != nil {
		return nil, err
	}
	if m.LoopIterations, err = meter.Int64Histogram("forgebot.loop.iterations",
		metric.WithDescription("Iterations per agent loop run")); err != nil {
		return nil, err
	}
	if m.ToolCalls, err = meter.Int64Counter("forgebot.toolcalls",
		metric.WithDescription("Action executions, by action and outcome")); err != nil {
		return nil, err
	}
	if m.ArgumentHeals, err = meter.Int64Counter("forgebot.arguments.healed",
		metric.WithDescription("Malformed argument payloads, by heal outcome")); err != nil {
		return nil, err
	}
	if m.ModelCalls, err = meter.Int64Counter("forgebot.model.calls",
		metric.WithDescription("Model invocations, by model and outcome")); err != nil {
		return nil, err
	}
	if m.ModelFallbacks, err = meter.Int64Counter("forgebot.model.fallbacks",
		metric.WithDescription("Switches to a fallback model")); err != nil {
		return nil, err
	}
	if m.QuotaRetries, err = meter.Int64Counter("forgebot.model.quota_retries",
		metric.WithDescription("Quota renegotiation attempts, by outcome")); err != nil {
		return nil, err
	}
	if m.BuildsStarted, err = meter.Int64Counter("forgebot.builds.started",
		metric.WithDescription("Build pipeline runs started")); err != nil {
		return nil, err
	}
	if m.BuildsFinished, err = meter.Int64Counter("forgebot.builds.finished",
		metric.WithDescription("Build pipeline runs finished, by terminal stage")); err != nil {
		return nil, err
	}
	if m.BuildAttempts, err = meter.Int64Histogram("forgebot.build.attempts",
		metric.WithDescription("Build attempts per run")); err != nil {
		return nil, err
	}
	if m.BuildScore, err = meter.Int64Histogram("forgebot.build.score",
		metric.WithDescription("Test stage quality score")); err != nil {
		return nil, err
	}
	if m.ModelLatency, err = meter.Float64Histogram("forgebot.model.latency_seconds",
		metric.WithDescription("Model call latency in seconds")); err != nil {
		return nil, err
	}

	return m, nil
}
