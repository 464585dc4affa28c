package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	fbotel "github.com/Strob0t/ForgeBot/internal/adapter/otel"
	"github.com/Strob0t/ForgeBot/internal/port/llm"
	"github.com/Strob0t/ForgeBot/internal/resilience"
)

// InvokerConfig tunes model-level resilience.
type InvokerConfig struct {
	// MaxModelAttempts bounds attempts across all models for one call.
	MaxModelAttempts int
	// FallbackAfter is the consecutive-failure count for a model at which
	// the invoker switches to a fallback.
	FallbackAfter int
	// FallbackModels are tried in order, skipping the failing model.
	FallbackModels []string
	// MinUsableTokens is the floor a renegotiated quota budget must exceed.
	MinUsableTokens int
}

// Quota renegotiation keeps this share of the affordable budget.
const quotaBudgetPercent = 80

// ModelInvoker wraps a model with fallback and quota renegotiation. Transient
// transport retries happen below it, inside the model adapter.
type ModelInvoker struct {
	model    llm.Model
	counters resilience.FailureCounters
	cfg      InvokerConfig
	metrics  *fbotel.Metrics
}

// NewModelInvoker creates an invoker. counters is shared across requests.
func NewModelInvoker(model llm.Model, counters resilience.FailureCounters, cfg InvokerConfig) *ModelInvoker {
	if cfg.MaxModelAttempts < 1 {
		cfg.MaxModelAttempts = 1
	}
	if cfg.FallbackAfter < 1 {
		cfg.FallbackAfter = 1
	}
	return &ModelInvoker{model: model, counters: counters, cfg: cfg}
}

// SetMetrics enables metric recording.
func (inv *ModelInvoker) SetMetrics(m *fbotel.Metrics) { inv.metrics = m }

// Invoke completes req, switching to a fallback model when the current one
// keeps failing transiently. Quota and client-invalid errors escalate
// without fallback. Response.Served names the model id that answered.
//
// Quota is renegotiated at most once per Invoke. Once the output budget has
// been reduced, later attempts (fallback models included) keep the reduced
// budget, and a further quota error escalates.
func (inv *ModelInvoker) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	current := req.Model
	maxTokens := req.MaxTokens
	renegotiated := false
	var lastErr error

	for attempt := 1; attempt <= inv.cfg.MaxModelAttempts; attempt++ {
		r := req
		r.Model = current
		r.MaxTokens = maxTokens

		start := time.Now()
		resp, reduced, err := inv.completeWithQuota(ctx, r, !renegotiated)
		inv.recordCall(ctx, current, err, time.Since(start))
		if reduced > 0 {
			renegotiated = true
			maxTokens = reduced
		}

		if err == nil {
			inv.counters.Reset(current)
			resp.Served = current
			if resp.Model == "" {
				resp.Model = current
			}
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil || !llm.IsTransient(err) {
			return nil, err
		}

		failures := inv.counters.Increment(current)
		slog.WarnContext(ctx, "model call failed",
			"model", current, "attempt", attempt, "consecutive_failures", failures, "error", err)

		if failures >= inv.cfg.FallbackAfter {
			if next := inv.fallbackFor(current); next != "" {
				slog.InfoContext(ctx, "switching to fallback model", "from", current, "to", next)
				if inv.metrics != nil {
					inv.metrics.ModelFallbacks.Add(ctx, 1, metric.WithAttributes(
						attribute.String("from", current), attribute.String("to", next)))
				}
				current = next
			}
		}
	}
	return nil, fmt.Errorf("model invocation failed after %d attempts: %w", inv.cfg.MaxModelAttempts, lastErr)
}

// completeWithQuota is the explicit two-step quota transition: the original
// call, then, when renegotiate is set, at most one call with a reduced output
// budget. reduced is that budget when the second call was issued, else 0.
func (inv *ModelInvoker) completeWithQuota(ctx context.Context, req llm.Request, renegotiate bool) (resp *llm.Response, reduced int, err error) {
	ctx, span := fbotel.StartModelSpan(ctx, req.Model, req.MaxTokens)
	defer span.End()

	resp, err = inv.model.Complete(ctx, req)
	q, ok := llm.AsQuota(err)
	if !ok || !renegotiate || q.AffordableTokens <= 0 {
		return resp, 0, err
	}

	budget := q.AffordableTokens * quotaBudgetPercent / 100
	if budget <= inv.cfg.MinUsableTokens {
		inv.recordQuota(ctx, "infeasible")
		slog.WarnContext(ctx, "quota budget below usable floor",
			"model", req.Model, "affordable", q.AffordableTokens, "budget", budget, "floor", inv.cfg.MinUsableTokens)
		return nil, 0, err
	}

	slog.InfoContext(ctx, "renegotiating quota", "model", req.Model, "affordable", q.AffordableTokens, "budget", budget)
	retry := req
	retry.MaxTokens = budget
	resp, err = inv.model.Complete(ctx, retry)
	if err != nil {
		inv.recordQuota(ctx, "failed")
		return nil, budget, fmt.Errorf("after quota renegotiation to %d tokens: %w", budget, err)
	}
	inv.recordQuota(ctx, "ok")
	return resp, budget, nil
}

func (inv *ModelInvoker) fallbackFor(failing string) string {
	for _, m := range inv.cfg.FallbackModels {
		if m != failing {
			return m
		}
	}
	return ""
}

func (inv *ModelInvoker) recordCall(ctx context.Context, model string, err error, elapsed time.Duration) {
	if inv.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("model", model), attribute.String("outcome", outcome))
	inv.metrics.ModelCalls.Add(ctx, 1, attrs)
	inv.metrics.ModelLatency.Record(ctx, elapsed.Seconds(), attrs)
}

func (inv *ModelInvoker) recordQuota(ctx context.Context, outcome string) {
	if inv.metrics != nil {
		inv.metrics.QuotaRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
