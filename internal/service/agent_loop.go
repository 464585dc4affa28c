package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	fbotel "github.com/Strob0t/ForgeBot/internal/adapter/otel"
	"github.com/Strob0t/ForgeBot/internal/adapter/ws"
	"github.com/Strob0t/ForgeBot/internal/domain/conversation"
	"github.com/Strob0t/ForgeBot/internal/domain/routing"
	"github.com/Strob0t/ForgeBot/internal/logger"
	"github.com/Strob0t/ForgeBot/internal/port/broadcast"
	"github.com/Strob0t/ForgeBot/internal/port/llm"
)

// TerminationReason explains why the agent loop stopped.
type TerminationReason string

const (
	TerminationNatural              TerminationReason = "natural-completion"
	TerminationMaxIterations        TerminationReason = "max-iterations"
	TerminationInsufficientProgress TerminationReason = "insufficient-progress"
)

// LoopConfig holds the loop ceilings and per-call model parameters.
type LoopConfig struct {
	MaxIterations   int
	ReadOnlyCeiling int
	DefaultModel    string
	MaxTokens       int
	Temperature     float64
	Private         bool
	SystemPrompt    string
}

// DefaultSystemPrompt frames the model as a file-editing assistant.
const DefaultSystemPrompt = "You are ForgeBot, an assistant that builds and edits small web pages and games. " +
	"Use the provided actions to inspect and change files. Prefer one complete edit over many small ones. " +
	"When the task is done, reply to the user without requesting further actions."

// LoopInput is one agent loop invocation.
type LoopInput struct {
	Message     string
	Prior       []conversation.Message
	Plan        *routing.Plan
	RecentFiles []string
	Model       string
	// EditScoped enables the one-mutation-per-file scope guard.
	EditScoped bool
}

// LoopResult is the outcome of a completed loop.
type LoopResult struct {
	Text              string            `json:"text"`
	ActionsUsed       []string          `json:"actions_used"`
	Iterations        int               `json:"iterations"`
	TerminationReason TerminationReason `json:"termination_reason"`
	// Model is the model that produced the last turn.
	Model string `json:"model"`
	// RecentFiles is the updated most-recent-first file list.
	RecentFiles []string `json:"recent_files,omitempty"`
}

// IterationError reports an escalated model failure together with the
// iteration it happened in.
type IterationError struct {
	Iteration int
	Err       error
}

func (e *IterationError) Error() string {
	return fmt.Sprintf("agent loop iteration %d: %v", e.Iteration, e.Err)
}

func (e *IterationError) Unwrap() error { return e.Err }

// AgentLoop drives model invocation and action execution to convergence
// under hard iteration ceilings.
type AgentLoop struct {
	invoker  *ModelInvoker
	executor *Executor
	cfg      LoopConfig
	metrics  *fbotel.Metrics
	hub      broadcast.Broadcaster
}

// NewAgentLoop creates an agent loop.
func NewAgentLoop(invoker *ModelInvoker, executor *Executor, cfg LoopConfig) *AgentLoop {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 12
	}
	if cfg.ReadOnlyCeiling < 1 {
		cfg.ReadOnlyCeiling = 5
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &AgentLoop{invoker: invoker, executor: executor, cfg: cfg}
}

// SetMetrics enables metric recording.
func (l *AgentLoop) SetMetrics(m *fbotel.Metrics) { l.metrics = m }

// SetHub streams AG-UI run and tool events to live clients.
func (l *AgentLoop) SetHub(h broadcast.Broadcaster) { l.hub = h }

func (l *AgentLoop) emit(ctx context.Context, eventType string, payload any) {
	if l.hub != nil {
		l.hub.BroadcastEvent(ctx, eventType, payload)
	}
}

// Run executes the loop. Action failures are fed back to the model; only an
// escalated model failure returns an error, as *IterationError.
func (l *AgentLoop) Run(ctx context.Context, in LoopInput) (*LoopResult, error) {
	state := conversation.NewState(nil, in.RecentFiles, in.EditScoped)
	state.Append(conversation.Message{Role: conversation.RoleSystem, Content: l.cfg.SystemPrompt})
	state.Append(in.Prior...)
	if hint := routeHint(in.Plan); hint != "" {
		state.Append(conversation.Message{Role: conversation.RoleSystem, Content: hint})
	}
	state.Append(conversation.Message{Role: conversation.RoleUser, Content: in.Message})

	model := in.Model
	if model == "" {
		model = l.cfg.DefaultModel
	}
	tools := l.executor.Registry().Specs()
	var actions []string

	runID := logger.RequestID(ctx)
	if runID == "" {
		runID = uuid.NewString()
	}
	l.emit(ctx, ws.AGUIRunStarted, ws.AGUIRunStartedEvent{RunID: runID, Model: model})

	for state.IterationCount < l.cfg.MaxIterations {
		iteration := state.IterationCount + 1
		iterCtx, span := fbotel.StartIterationSpan(ctx, iteration)

		resp, err := l.invoker.Invoke(iterCtx, llm.Request{
			Model:       model,
			Messages:    turnMessages(state),
			Tools:       tools,
			MaxTokens:   l.cfg.MaxTokens,
			Temperature: l.cfg.Temperature,
			Private:     l.cfg.Private,
		})
		if err != nil {
			span.End()
			slog.ErrorContext(ctx, "agent loop model failure", "iteration", iteration, "error", err)
			l.recordTermination(ctx, "error", iteration)
			l.emit(ctx, ws.AGUIRunFinished, ws.AGUIRunFinishedEvent{RunID: runID, Status: "failed", Iterations: iteration})
			return nil, &IterationError{Iteration: iteration, Err: err}
		}
		// Stay on the model id that answered for the rest of this request.
		// resp.Model may be a provider snapshot id the proxy would reject.
		model = resp.Served

		if len(resp.ToolCalls) == 0 {
			state.RecordIteration(false)
			state.Append(conversation.Message{Role: conversation.RoleAssistant, Content: resp.Content})
			span.End()
			return l.finish(ctx, runID, state, actions, model, TerminationNatural, resp.Content), nil
		}

		calls := slices.Clone(resp.ToolCalls)
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = "call_" + uuid.NewString()
			}
		}
		state.Append(conversation.Message{Role: conversation.RoleAssistant, Content: resp.Content, ToolCalls: calls})

		readOnly := true
		for _, call := range calls {
			if !l.executor.Registry().IsReadOnly(call.Name) {
				readOnly = false
			}
			l.emit(ctx, ws.AGUIToolCall, ws.AGUIToolCallEvent{
				RunID: runID, CallID: call.ID, Name: call.Name, Args: call.Arguments, Iteration: iteration,
			})
			out := l.executor.Execute(iterCtx, state, call)
			l.emit(ctx, ws.AGUIToolResult, ws.AGUIToolResultEvent{
				RunID: runID, CallID: call.ID, Result: out.Content, Error: out.Failed,
			})
			state.Append(conversation.Message{
				Role:       conversation.RoleTool,
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    out.Content,
			})
			actions = append(actions, call.Name)
		}
		state.RecordIteration(readOnly)
		span.SetAttributes(attribute.Bool("loop.read_only", readOnly))
		span.End()

		if state.ReadOnlyIterationCount >= l.cfg.ReadOnlyCeiling && !state.HasMutated() {
			slog.WarnContext(ctx, "agent loop stopped without progress",
				"iterations", state.IterationCount, "read_only_iterations", state.ReadOnlyIterationCount)
			return l.finish(ctx, runID, state, actions, model, TerminationInsufficientProgress,
				insufficientProgressText(state.IterationCount)), nil
		}
	}

	return l.finish(ctx, runID, state, actions, model, TerminationMaxIterations,
		maxIterationsText(state)), nil
}

func (l *AgentLoop) finish(ctx context.Context, runID string, state *conversation.State, actions []string, model string, reason TerminationReason, text string) *LoopResult {
	l.recordTermination(ctx, string(reason), state.IterationCount)
	l.emit(ctx, ws.AGUITextMessage, ws.AGUITextMessageEvent{RunID: runID, Role: conversation.RoleAssistant, Content: text})
	l.emit(ctx, ws.AGUIRunFinished, ws.AGUIRunFinishedEvent{RunID: runID, Status: string(reason), Iterations: state.IterationCount})
	slog.InfoContext(ctx, "agent loop finished",
		"reason", reason, "iterations", state.IterationCount, "actions", len(actions), "model", model)
	return &LoopResult{
		Text:              text,
		ActionsUsed:       actions,
		Iterations:        state.IterationCount,
		TerminationReason: reason,
		Model:             model,
		RecentFiles:       slices.Clone(state.RecentFiles),
	}
}

func (l *AgentLoop) recordTermination(ctx context.Context, reason string, iterations int) {
	if l.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("reason", reason))
	l.metrics.LoopTerminations.Add(ctx, 1, attrs)
	l.metrics.LoopIterations.Record(ctx, int64(iterations), attrs)
}

// turnMessages returns the history for the next model call. After a
// mutation, a transient hint naming the last mutated file is added so that
// pronouns in follow-ups resolve to it; the hint is not kept in the state.
func turnMessages(state *conversation.State) []conversation.Message {
	last := state.LastMutation()
	if last == "" {
		return state.Messages
	}
	msgs := make([]conversation.Message, 0, len(state.Messages)+1)
	msgs = append(msgs, state.Messages...)
	return append(msgs, conversation.Message{
		Role:    conversation.RoleSystem,
		Content: fmt.Sprintf("Most recently modified file: %s. References like \"it\" or \"the page\" mean this file.", last),
	})
}

// routeHint renders the router's advisory plan as a system message.
func routeHint(p *routing.Plan) string {
	if p == nil || len(p.ActionSequence) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Routing hint (advisory, deviate if needed): intent=%s; suggested actions: %s",
		p.Intent, strings.Join(p.ActionSequence, " -> "))

	keys := make([]string, 0, len(p.ParameterHints))
	for k := range p.ParameterHints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var hints []string
	for _, a := range keys {
		params := p.ParameterHints[a]
		names := make([]string, 0, len(params))
		for n := range params {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			hints = append(hints, fmt.Sprintf("%s.%s=%s", a, n, params[n]))
		}
	}
	if len(hints) > 0 {
		b.WriteString("; parameters: ")
		b.WriteString(strings.Join(hints, ", "))
	}
	b.WriteByte('.')
	return b.String()
}

func insufficientProgressText(iterations int) string {
	return fmt.Sprintf("I kept looking around without making a change, so I stopped. "+
		"Tell me which file to change and what it should do, and I'll go straight to it. (stopped after %d steps)", iterations)
}

func maxIterationsText(state *conversation.State) string {
	text := fmt.Sprintf("I reached the limit of %d steps before finishing.", state.IterationCount)
	if f := state.LastMutation(); f != "" {
		text += fmt.Sprintf(" The last file I changed was %s.", f)
	}
	return text + " Ask me to continue if you want me to keep going."
}
