package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	fbotel "github.com/Strob0t/ForgeBot/internal/adapter/otel"
	"github.com/Strob0t/ForgeBot/internal/adapter/ws"
	"github.com/Strob0t/ForgeBot/internal/domain/build"
	"github.com/Strob0t/ForgeBot/internal/logger"
	"github.com/Strob0t/ForgeBot/internal/port/broadcast"
	"github.com/Strob0t/ForgeBot/internal/port/buildlog"
	"github.com/Strob0t/ForgeBot/internal/port/messagequeue"
)

// PlanInput is what the planning stage works from.
type PlanInput struct {
	Prompt        string
	PreferredType string
	// RecentIssues are the most frequent issue codes across recent runs.
	RecentIssues []build.IssueCount
}

// BuildInput is what one build attempt works from.
type BuildInput struct {
	Prompt   string
	Plan     build.Plan
	Attempt  int
	Feedback []build.Issue
	// Previous holds the prior attempt's artifacts, if any.
	Previous []build.Artifact
}

// Planner produces the plan snapshot for a run.
type Planner interface {
	Plan(ctx context.Context, in PlanInput) (build.Plan, error)
}

// Builder produces artifacts for one attempt.
type Builder interface {
	Build(ctx context.Context, in BuildInput) ([]build.Artifact, error)
}

// Tester validates an attempt's artifacts.
type Tester interface {
	Test(ctx context.Context, plan build.Plan, artifacts []build.Artifact) (build.TestResult, error)
}

// Documenter writes documentation for a successful run and returns a
// reference to it.
type Documenter interface {
	Document(ctx context.Context, run *build.Run) (string, error)
}

// BuildStages are the four injected pipeline stages.
type BuildStages struct {
	Planner    Planner
	Builder    Builder
	Tester     Tester
	Documenter Documenter
}

// FileStore persists generated files.
type FileStore interface {
	WriteFile(ctx context.Context, path, content string) error
}

// IssueSummarizer supplies the rolling summary of recent issue codes.
type IssueSummarizer interface {
	RecentIssues(ctx context.Context) ([]build.IssueCount, error)
}

// invalidator is implemented by summarizers that cache.
type invalidator interface {
	Invalidate(ctx context.Context)
}

// EventBuildStage is the broadcast type of every logged stage transition.
const EventBuildStage = ws.EventBuildStage

// BuildPipeline runs the plan, build, test and document state machine with
// bounded, strictly sequential retries.
type BuildPipeline struct {
	stages  BuildStages
	log     buildlog.Store
	summary IssueSummarizer
	hub     broadcast.Broadcaster
	queue   messagequeue.Queue
	files   FileStore
	metrics *fbotel.Metrics
	newID   func() string
	now     func() time.Time
}

// NewBuildPipeline creates a pipeline over the given stages and build log.
func NewBuildPipeline(stages BuildStages, log buildlog.Store) *BuildPipeline {
	return &BuildPipeline{
		stages: stages,
		log:    log,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// SetSummarizer sets the recent-issue source consulted during planning.
func (p *BuildPipeline) SetSummarizer(s IssueSummarizer) { p.summary = s }

// SetHub sets the live progress broadcaster.
func (p *BuildPipeline) SetHub(h broadcast.Broadcaster) { p.hub = h }

// SetQueue sets the queue that receives stage events.
func (p *BuildPipeline) SetQueue(q messagequeue.Queue) { p.queue = q }

// SetFileStore sets where the artifacts of a passing attempt are saved.
func (p *BuildPipeline) SetFileStore(f FileStore) { p.files = f }

// SetMetrics enables metric recording.
func (p *BuildPipeline) SetMetrics(m *fbotel.Metrics) { p.metrics = m }

// ErrBuildLog is returned when a stage transition cannot be logged; the run
// stops rather than continue with an illegible trace.
var ErrBuildLog = errors.New("build log append failed")

// Run executes the pipeline. Validation failures drive retries and are not
// errors; the returned run ends in StageSuccess or StageFailed. An error is
// returned only for stage or log failures, together with the partial run.
func (p *BuildPipeline) Run(ctx context.Context, prompt, preferredType string, maxAttempts int) (*build.Run, error) {
	if maxAttempts < 1 {
		maxAttempts = build.DefaultMaxAttempts
	}
	run := &build.Run{
		ID:          p.newID(),
		Prompt:      prompt,
		Type:        preferredType,
		Stage:       build.StagePlanning,
		MaxAttempts: maxAttempts,
		Attempts:    []build.Attempt{},
		StartedAt:   p.now(),
	}
	ctx = logger.WithBuildID(ctx, run.ID)
	ctx, span := fbotel.StartBuildSpan(ctx, run.ID, preferredType)
	defer span.End()

	if p.metrics != nil {
		p.metrics.BuildsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("type", preferredType)))
	}
	slog.InfoContext(ctx, "build started", "type", preferredType, "max_attempts", maxAttempts)

	err := p.execute(ctx, run)
	if err != nil {
		slog.ErrorContext(ctx, "build aborted", "stage", run.Stage, "error", err)
		if run.Stage != build.StageFailed {
			run.Stage = build.StageFailed
			_ = p.record(ctx, run, 0, "aborted: "+err.Error(), nil, nil)
		}
	}

	finished := p.now()
	run.FinishedAt = &finished
	if inv, ok := p.summary.(invalidator); ok {
		inv.Invalidate(ctx)
	}
	span.SetAttributes(attribute.String("build.stage", string(run.Stage)), attribute.Int("build.attempts", len(run.Attempts)))
	if p.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("stage", string(run.Stage)))
		p.metrics.BuildsFinished.Add(ctx, 1, attrs)
		p.metrics.BuildAttempts.Record(ctx, int64(len(run.Attempts)), attrs)
	}
	slog.InfoContext(ctx, "build finished", "stage", run.Stage, "attempts", len(run.Attempts))
	if err != nil {
		return run, fmt.Errorf("build %s: %w", run.ID, err)
	}
	return run, nil
}

func (p *BuildPipeline) execute(ctx context.Context, run *build.Run) error {
	if err := p.record(ctx, run, 0, "planning started", nil, nil); err != nil {
		return err
	}
	plan, err := p.plan(ctx, run)
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}
	run.Plan = &plan

	stage, attempt := build.Next(build.StagePlanning, false, 0, run.MaxAttempts)
	var feedback []build.Issue
	var previous []build.Artifact

	for !stage.Terminal() {
		run.Stage = stage
		switch stage {
		case build.StageBuilding:
			if err := p.record(ctx, run, attempt, fmt.Sprintf("attempt %d of %d", attempt, run.MaxAttempts), codesOf(feedback), nil); err != nil {
				return err
			}
			sctx, sspan := fbotel.StartStageSpan(ctx, string(stage), attempt)
			artifacts, err := p.stages.Builder.Build(sctx, BuildInput{
				Prompt:   run.Prompt,
				Plan:     plan,
				Attempt:  attempt,
				Feedback: feedback,
				Previous: previous,
			})
			sspan.End()
			if err != nil {
				return fmt.Errorf("building attempt %d: %w", attempt, err)
			}
			run.Attempts = append(run.Attempts, build.Attempt{Number: attempt, Plan: plan, Artifacts: artifacts})
			previous = artifacts
			stage, attempt = build.Next(stage, false, attempt, run.MaxAttempts)

		case build.StageTesting:
			if err := p.record(ctx, run, attempt, "testing", nil, nil); err != nil {
				return err
			}
			current := run.LastAttempt()
			sctx, sspan := fbotel.StartStageSpan(ctx, string(stage), attempt)
			result, err := p.stages.Tester.Test(sctx, plan, current.Artifacts)
			sspan.End()
			if err != nil {
				return fmt.Errorf("testing attempt %d: %w", attempt, err)
			}
			current.Result = result
			if p.metrics != nil {
				p.metrics.BuildScore.Record(ctx, int64(result.Score))
			}
			if !result.OK {
				current.Feedback = append(append([]build.Issue{}, result.Issues...), result.Warnings...)
				feedback = current.Feedback
			}
			score := result.Score
			detail := fmt.Sprintf("attempt %d: %d critical, %d warnings", attempt, len(result.Issues), len(result.Warnings))
			if err := p.record(ctx, run, attempt, detail, result.Codes(), &score); err != nil {
				return err
			}
			slog.InfoContext(ctx, "build attempt tested", "attempt", attempt, "ok", result.OK, "score", score)
			stage, attempt = build.Next(stage, result.OK, attempt, run.MaxAttempts)

		case build.StageDocumenting:
			if err := p.record(ctx, run, attempt, "documenting", nil, nil); err != nil {
				return err
			}
			run.Artifacts = run.LastAttempt().Artifacts
			if p.files != nil {
				for _, a := range run.Artifacts {
					if err := p.files.WriteFile(ctx, a.Path, a.Content); err != nil {
						return fmt.Errorf("saving %s: %w", a.Path, err)
					}
				}
			}
			sctx, sspan := fbotel.StartStageSpan(ctx, string(stage), attempt)
			ref, err := p.stages.Documenter.Document(sctx, run)
			sspan.End()
			if err != nil {
				return fmt.Errorf("documenting: %w", err)
			}
			run.DocRef = ref
			stage, attempt = build.Next(stage, true, attempt, run.MaxAttempts)
		}
	}

	run.Stage = stage
	detail := "build succeeded"
	var codes []string
	if stage == build.StageFailed {
		last := run.LastAttempt()
		detail = fmt.Sprintf("build failed after %d attempts", len(run.Attempts))
		codes = last.Result.Codes()
		run.Artifacts = last.Artifacts
	}
	return p.record(ctx, run, attempt, detail, codes, nil)
}

func (p *BuildPipeline) plan(ctx context.Context, run *build.Run) (build.Plan, error) {
	var recent []build.IssueCount
	if p.summary != nil {
		var err error
		recent, err = p.summary.RecentIssues(ctx)
		if err != nil {
			// The summary only biases planning; a missing one is not fatal.
			slog.WarnContext(ctx, "recent issue summary unavailable", "error", err)
			recent = nil
		}
	}
	sctx, span := fbotel.StartStageSpan(ctx, string(build.StagePlanning), 0)
	defer span.End()
	return p.stages.Planner.Plan(sctx, PlanInput{
		Prompt:        run.Prompt,
		PreferredType: run.Type,
		RecentIssues:  recent,
	})
}

// record appends a stage transition to the build log before the stage runs,
// then fans it out to live listeners.
func (p *BuildPipeline) record(ctx context.Context, run *build.Run, attempt int, detail string, codes []string, score *int) error {
	rec := build.Record{
		BuildID:    run.ID,
		Seq:        run.NextSeq(),
		Stage:      run.Stage,
		Attempt:    attempt,
		Detail:     detail,
		IssueCodes: codes,
		Score:      score,
		At:         p.now(),
	}
	if err := p.log.Append(ctx, rec); err != nil {
		return fmt.Errorf("%w: %w", ErrBuildLog, err)
	}
	run.Log = append(run.Log, rec)

	payload := messagequeue.BuildStagePayload{
		BuildID:    rec.BuildID,
		Seq:        rec.Seq,
		Stage:      string(rec.Stage),
		Attempt:    rec.Attempt,
		Detail:     rec.Detail,
		IssueCodes: rec.IssueCodes,
		Score:      rec.Score,
	}
	if p.hub != nil {
		p.hub.BroadcastEvent(ctx, EventBuildStage, payload)
	}
	if p.queue != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			err = p.queue.Publish(ctx, messagequeue.SubjectBuildStage+"."+run.ID, data)
		}
		if err != nil {
			slog.WarnContext(ctx, "build stage publish failed", "seq", rec.Seq, "error", err)
		}
	}
	return nil
}

func codesOf(issues []build.Issue) []string {
	if len(issues) == 0 {
		return nil
	}
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Code
	}
	return out
}
