package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	fbotel "github.com/Strob0t/ForgeBot/internal/adapter/otel"
	"github.com/Strob0t/ForgeBot/internal/adapter/ws"
	"github.com/Strob0t/ForgeBot/internal/domain"
	"github.com/Strob0t/ForgeBot/internal/domain/build"
	"github.com/Strob0t/ForgeBot/internal/domain/conversation"
	"github.com/Strob0t/ForgeBot/internal/domain/routing"
	"github.com/Strob0t/ForgeBot/internal/logger"
	"github.com/Strob0t/ForgeBot/internal/port/broadcast"
	"github.com/Strob0t/ForgeBot/internal/port/llm"
)

// Request is one inbound user message with its caller-held context.
type Request struct {
	ID          string                 `json:"id,omitempty"`
	Message     string                 `json:"message"`
	Prior       []conversation.Message `json:"prior,omitempty"`
	RecentFiles []string               `json:"recent_files,omitempty"`
	Model       string                 `json:"model,omitempty"`
}

// Reply is the user-facing outcome of a request.
type Reply struct {
	RequestID         string            `json:"request_id"`
	Text              string            `json:"text"`
	Intent            routing.Intent    `json:"intent"`
	ActionsUsed       []string          `json:"actions_used"`
	Iterations        int               `json:"iterations"`
	TerminationReason TerminationReason `json:"termination_reason,omitempty"`
	BuildID           string            `json:"build_id,omitempty"`
	BuildStage        build.Stage       `json:"build_stage,omitempty"`
	Artifacts         []build.Artifact  `json:"artifacts,omitempty"`
	RecentFiles       []string          `json:"recent_files,omitempty"`
}

// AssistantConfig tunes request dispatch.
type AssistantConfig struct {
	DefaultModel     string
	MaxTokens        int
	Temperature      float64
	Private          bool
	BuildMaxAttempts int
}

// Assistant dispatches a request to the clarifying question, the fast
// conversational path, the build pipeline or the agent loop.
type Assistant struct {
	router   *routing.Router
	loop     *AgentLoop
	invoker  *ModelInvoker
	pipeline *BuildPipeline
	cfg      AssistantConfig
	metrics  *fbotel.Metrics
	hub      broadcast.Broadcaster
	selector *ModelSelector
}

// NewAssistant creates an assistant. pipeline may be nil, in which case
// create requests go through the agent loop.
func NewAssistant(router *routing.Router, loop *AgentLoop, invoker *ModelInvoker, pipeline *BuildPipeline, cfg AssistantConfig) *Assistant {
	if cfg.BuildMaxAttempts < 1 {
		cfg.BuildMaxAttempts = build.DefaultMaxAttempts
	}
	return &Assistant{router: router, loop: loop, invoker: invoker, pipeline: pipeline, cfg: cfg}
}

// SetMetrics enables metric recording.
func (a *Assistant) SetMetrics(m *fbotel.Metrics) { a.metrics = m }

// SetSelector lets a switchable default model override DefaultModel.
func (a *Assistant) SetSelector(s *ModelSelector) { a.selector = s }

// model resolves the model for a request: explicit, then selected, then
// configured default.
func (a *Assistant) model(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	if a.selector != nil {
		if m := a.selector.Current(); m != "" {
			return m
		}
	}
	return a.cfg.DefaultModel
}

// SetHub announces every served reply to live clients.
func (a *Assistant) SetHub(h broadcast.Broadcaster) { a.hub = h }

// Route classifies a message without acting on it.
func (a *Assistant) Route(msg string, recentFiles []string) routing.Plan {
	return a.router.Classify(msg, routing.Context{RecentFiles: recentFiles})
}

// Handle classifies and serves one request.
func (a *Assistant) Handle(ctx context.Context, req Request) (*Reply, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("handle request: empty message: %w", domain.ErrInvalidInput)
	}
	if req.ID == "" {
		req.ID = logger.RequestID(ctx)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ctx = logger.WithRequestID(ctx, req.ID)

	plan := a.Route(req.Message, req.RecentFiles)
	ctx, span := fbotel.StartRequestSpan(ctx, req.ID, string(plan.Intent))
	defer span.End()

	path := a.path(plan)
	span.SetAttributes(attribute.String("request.path", path), attribute.String("request.rule", plan.Rule))
	if a.metrics != nil {
		a.metrics.RequestsRouted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("intent", string(plan.Intent)),
			attribute.String("rule", plan.Rule),
			attribute.String("path", path),
		))
	}
	slog.InfoContext(ctx, "request routed",
		"intent", plan.Intent, "rule", plan.Rule, "confidence", plan.Confidence, "path", path)

	reply := &Reply{RequestID: req.ID, Intent: plan.Intent, ActionsUsed: []string{}, RecentFiles: req.RecentFiles}
	var err error
	switch path {
	case "clarify":
		reply.Text = plan.ClarifyQuestion
	case "build":
		reply, err = a.build(ctx, req, plan, reply)
	case "fast":
		reply, err = a.chat(ctx, req, reply)
	default:
		reply, err = a.agent(ctx, req, plan, reply)
	}
	if err != nil {
		return nil, err
	}
	if a.hub != nil {
		a.hub.BroadcastEvent(ctx, ws.EventAssistantReply, ws.AssistantReplyEvent{
			RequestID: reply.RequestID,
			Intent:    string(reply.Intent),
			Path:      path,
			BuildID:   reply.BuildID,
			Text:      reply.Text,
		})
	}
	return reply, nil
}

func (a *Assistant) path(plan routing.Plan) string {
	switch {
	case plan.ClarifyFirst:
		return "clarify"
	case plan.Intent == routing.IntentCreate && a.pipeline != nil:
		return "build"
	case a.router.FastPath(plan):
		return "fast"
	default:
		return "agent"
	}
}

func (a *Assistant) build(ctx context.Context, req Request, plan routing.Plan, reply *Reply) (*Reply, error) {
	run, err := a.pipeline.Run(ctx, req.Message, plan.PreferredType, a.cfg.BuildMaxAttempts)
	if err != nil {
		if run != nil {
			return nil, fmt.Errorf("build %s: %w", run.ID, err)
		}
		return nil, err
	}
	reply.BuildID = run.ID
	reply.BuildStage = run.Stage
	reply.Artifacts = run.Artifacts
	reply.Iterations = len(run.Attempts)
	reply.Text = buildReplyText(run)
	for _, art := range run.Artifacts {
		reply.RecentFiles = prependFile(reply.RecentFiles, art.Path)
	}
	return reply, nil
}

func (a *Assistant) chat(ctx context.Context, req Request, reply *Reply) (*Reply, error) {
	msgs := make([]conversation.Message, 0, len(req.Prior)+2)
	msgs = append(msgs, conversation.Message{Role: conversation.RoleSystem, Content: DefaultSystemPrompt})
	msgs = append(msgs, req.Prior...)
	msgs = append(msgs, conversation.Message{Role: conversation.RoleUser, Content: req.Message})

	resp, err := a.invoker.Invoke(ctx, llm.Request{
		Model:       a.model(req),
		Messages:    msgs,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		Private:     a.cfg.Private,
	})
	if err != nil {
		return nil, &IterationError{Iteration: 1, Err: err}
	}
	reply.Text = resp.Content
	reply.Iterations = 1
	reply.TerminationReason = TerminationNatural
	return reply, nil
}

func (a *Assistant) agent(ctx context.Context, req Request, plan routing.Plan, reply *Reply) (*Reply, error) {
	res, err := a.loop.Run(ctx, LoopInput{
		Message:     req.Message,
		Prior:       req.Prior,
		Plan:        &plan,
		RecentFiles: req.RecentFiles,
		Model:       a.model(req),
		EditScoped:  plan.Intent == routing.IntentEdit,
	})
	if err != nil {
		return nil, err
	}
	reply.Text = res.Text
	if res.ActionsUsed != nil {
		reply.ActionsUsed = res.ActionsUsed
	}
	reply.Iterations = res.Iterations
	reply.TerminationReason = res.TerminationReason
	reply.RecentFiles = res.RecentFiles
	return reply, nil
}

func buildReplyText(run *build.Run) string {
	var b strings.Builder
	switch run.Stage {
	case build.StageSuccess:
		title := run.ID
		if run.Plan != nil {
			title = run.Plan.Title
		}
		fmt.Fprintf(&b, "Built %q in %d attempt(s).", title, len(run.Attempts))
		for _, art := range run.Artifacts {
			fmt.Fprintf(&b, "\n- %s (%d bytes)", art.Path, art.Bytes)
		}
		if last := run.LastAttempt(); last != nil {
			fmt.Fprintf(&b, "\nQuality score: %d/%d.", last.Result.Score, build.MaxScore)
		}
		if run.DocRef != "" {
			fmt.Fprintf(&b, "\nNotes: %s", run.DocRef)
		}
	default:
		fmt.Fprintf(&b, "The build did not pass validation after %d attempt(s).", len(run.Attempts))
		if last := run.LastAttempt(); last != nil {
			for _, is := range last.Result.Issues {
				fmt.Fprintf(&b, "\n- %s", is)
			}
		}
		fmt.Fprintf(&b, "\nBuild ID: %s", run.ID)
	}
	return b.String()
}

func prependFile(files []string, path string) []string {
	out := make([]string, 0, len(files)+1)
	out = append(out, path)
	for _, f := range files {
		if f != path {
			out = append(out, f)
		}
	}
	return out
}
