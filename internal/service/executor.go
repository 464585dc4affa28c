package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	fbotel "github.com/Strob0t/ForgeBot/internal/adapter/otel"
	"github.com/Strob0t/ForgeBot/internal/domain/action"
	"github.com/Strob0t/ForgeBot/internal/domain/conversation"
	"github.com/Strob0t/ForgeBot/internal/domain/heal"
)

// ToolOutcome is the result of executing one model-requested action. Content
// is always suitable as tool-result text for the model.
type ToolOutcome struct {
	CallID  string
	Action  string
	Content string
	// Failed is set when Content describes an error.
	Failed bool
	// Mutated is the file a successful mutating action changed, if any.
	Mutated string
	Repairs []string
}

// Executor resolves model-requested actions against the registry and runs
// them. It never returns an error: every failure becomes tool-result text.
type Executor struct {
	registry *action.Registry
	metrics  *fbotel.Metrics
}

// NewExecutor creates an executor over a static action registry.
func NewExecutor(reg *action.Registry) *Executor {
	return &Executor{registry: reg}
}

// SetMetrics enables metric recording.
func (e *Executor) SetMetrics(m *fbotel.Metrics) { e.metrics = m }

// Registry returns the action registry the executor resolves against.
func (e *Executor) Registry() *action.Registry { return e.registry }

// Execute heals the call's arguments, resolves the action, enforces the
// scope guard and runs the handler.
func (e *Executor) Execute(ctx context.Context, state *conversation.State, call conversation.ToolCall) ToolOutcome {
	ctx, span := fbotel.StartToolCallSpan(ctx, call.ID, call.Name)
	defer span.End()

	out := e.execute(ctx, state, call)
	span.SetAttributes(attribute.Bool("toolcall.failed", out.Failed))

	outcome := "ok"
	if out.Failed {
		outcome = "error"
	}
	if e.metrics != nil {
		e.metrics.ToolCalls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", call.Name),
			attribute.String("outcome", outcome),
		))
	}
	return out
}

func (e *Executor) execute(ctx context.Context, state *conversation.State, call conversation.ToolCall) ToolOutcome {
	out := ToolOutcome{CallID: call.ID, Action: call.Name}

	raw := strings.TrimSpace(call.Arguments)
	if raw == "" {
		raw = "{}"
	}
	res := heal.Heal(raw)
	out.Repairs = res.Repairs
	switch {
	case !res.OK():
		e.recordHeal(ctx, "failed")
		slog.WarnContext(ctx, "unparseable action arguments",
			"action", call.Name, "call_id", call.ID, "repairs", res.Repairs, "error", res.Err)
		return out.fail(parseFailureText(call.Name, res))
	case res.Healed:
		e.recordHeal(ctx, "healed")
		slog.DebugContext(ctx, "healed action arguments", "action", call.Name, "call_id", call.ID, "repairs", res.Repairs)
	}

	args := res.Object()
	if args == nil {
		return out.fail(fmt.Sprintf("Error: arguments for %s must be a JSON object, got %T.", call.Name, res.Parsed))
	}

	reg, err := e.registry.Lookup(call.Name)
	if err != nil {
		return out.fail(fmt.Sprintf("Error: unknown action %q. Available actions: %s.",
			call.Name, strings.Join(e.registry.Names(), ", ")))
	}

	if err := reg.ValidateArgs(args); err != nil {
		return out.fail(fmt.Sprintf("Error: %s: %v.", call.Name, err))
	}

	path := reg.TargetPath(args)
	if !reg.IsReadOnly() {
		if err := state.GuardMutation(path); err != nil {
			return out.fail(fmt.Sprintf(
				"Error: %v. Each file may be changed once per request; the earlier change to %s stands.", err, path))
		}
	}

	text, err := runHandler(ctx, reg, args)
	if err != nil {
		return out.fail("Error: " + err.Error())
	}

	if !reg.IsReadOnly() && path != "" {
		state.RecordMutation(path)
		out.Mutated = path
	}
	out.Content = text
	return out
}

func (o ToolOutcome) fail(text string) ToolOutcome {
	o.Failed = true
	o.Content = text
	return o
}

func (e *Executor) recordHeal(ctx context.Context, outcome string) {
	if e.metrics != nil {
		e.metrics.ArgumentHeals.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func parseFailureText(name string, res heal.Result) string {
	repairs := "none"
	if len(res.Repairs) > 0 {
		repairs = strings.Join(res.Repairs, ", ")
	}
	return fmt.Sprintf("Error: could not parse arguments for %s (repairs tried: %s): %s. "+
		"Call the action again with arguments as a single valid JSON object.", name, repairs, res.Err)
}

var errHandlerPanic = errors.New("action handler panicked")

// runHandler shields the loop from handler panics.
func runHandler(ctx context.Context, reg *action.Registration, args map[string]any) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "action handler panic", "action", reg.Name, "panic", r)
			err = fmt.Errorf("%w: %v", errHandlerPanic, r)
		}
	}()
	return reg.Handler(ctx, args)
}
