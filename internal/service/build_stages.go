package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Strob0t/ForgeBot/internal/domain/build"
	"github.com/Strob0t/ForgeBot/internal/domain/conversation"
	"github.com/Strob0t/ForgeBot/internal/domain/heal"
	"github.com/Strob0t/ForgeBot/internal/port/llm"
)

// StageModelConfig tunes the model-backed build stages.
type StageModelConfig struct {
	Model          string
	MaxTokens      int
	BuildMaxTokens int
	Private        bool
	ContentDir     string
	DocsDir        string
}

func (c StageModelConfig) withDefaults() StageModelConfig {
	if c.ContentDir == "" {
		c.ContentDir = "src/"
	}
	if !strings.HasSuffix(c.ContentDir, "/") {
		c.ContentDir += "/"
	}
	if c.DocsDir == "" {
		c.DocsDir = "docs/"
	}
	if c.BuildMaxTokens == 0 {
		c.BuildMaxTokens = c.MaxTokens
	}
	return c
}

// NewModelStages returns model-backed planner, builder and documenter with
// the static HTML tester.
func NewModelStages(invoker *ModelInvoker, files FileStore, cfg StageModelConfig) BuildStages {
	cfg = cfg.withDefaults()
	return BuildStages{
		Planner:    &ModelPlanner{invoker: invoker, cfg: cfg},
		Builder:    &ModelBuilder{invoker: invoker, cfg: cfg},
		Tester:     NewStaticTester(),
		Documenter: &ModelDocumenter{invoker: invoker, files: files, cfg: cfg},
	}
}

// ModelPlanner asks the model for a JSON plan and falls back to a plan
// derived from the prompt when the reply is unusable.
type ModelPlanner struct {
	invoker *ModelInvoker
	cfg     StageModelConfig
}

const plannerPrompt = `You plan small self-contained web games and pages.
Reply with one JSON object only: {"title": string, "slug": kebab-case string, "type": "game" or "page", "features": [short strings]}.
List at most 8 concrete features.`

// Plan implements Planner.
func (p *ModelPlanner) Plan(ctx context.Context, in PlanInput) (build.Plan, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Request: %s\n", quotePrompt(in.Prompt))
	if in.PreferredType != "" {
		fmt.Fprintf(&user, "Preferred type: %s\n", in.PreferredType)
	}
	avoid := make([]string, 0, len(in.RecentIssues))
	for _, ic := range in.RecentIssues {
		avoid = append(avoid, ic.Code)
	}
	if len(avoid) > 0 {
		fmt.Fprintf(&user, "Recent builds kept failing on: %s. Plan to avoid these.\n", strings.Join(avoid, ", "))
	}

	resp, err := p.invoker.Invoke(ctx, llm.Request{
		Model: p.cfg.Model,
		Messages: []conversation.Message{
			{Role: conversation.RoleSystem, Content: plannerPrompt},
			{Role: conversation.RoleUser, Content: user.String()},
		},
		MaxTokens: p.cfg.MaxTokens,
		Private:   p.cfg.Private,
	})
	if err != nil {
		return build.Plan{}, err
	}

	plan := fallbackPlan(in)
	res := heal.Heal(resp.Content)
	obj := res.Object()
	if obj == nil {
		slog.WarnContext(ctx, "planner reply unusable, using derived plan", "repairs", res.Repairs, "error", res.Err)
	} else {
		if s, _ := obj["title"].(string); s != "" {
			plan.Title = s
		}
		if s, _ := obj["slug"].(string); slugify(s) != "" {
			plan.Slug = slugify(s)
		}
		// The router's type hint wins; the model only fills it in.
		if s, _ := obj["type"].(string); in.PreferredType == "" && (s == "game" || s == "page") {
			plan.Type = s
		}
		if fs, ok := obj["features"].([]any); ok {
			plan.Features = plan.Features[:0]
			for _, f := range fs {
				if s, ok := f.(string); ok && s != "" {
					plan.Features = append(plan.Features, s)
				}
			}
		}
	}
	plan.Avoid = avoid
	return plan, nil
}

func fallbackPlan(in PlanInput) build.Plan {
	typ := in.PreferredType
	if typ == "" {
		typ = "page"
	}
	title := strings.TrimSpace(in.Prompt)
	if len(title) > 60 {
		title = title[:60]
	}
	slug := slugify(title)
	if slug == "" {
		slug = typ
	}
	return build.Plan{Title: title, Slug: slug, Type: typ, Features: []string{}}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	s = strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(s) > 48 {
		s = strings.TrimRight(s[:48], "-")
	}
	return s
}

// ModelBuilder asks the model for one self-contained HTML document.
type ModelBuilder struct {
	invoker *ModelInvoker
	cfg     StageModelConfig
}

const builderPrompt = `You write complete, self-contained HTML5 documents with inline CSS and JavaScript.
No external scripts, stylesheets or images. Include <!DOCTYPE html>, a <title>, a viewport meta tag and lang on <html>.
Reply with the HTML document only.`

// Build implements Builder.
func (b *ModelBuilder) Build(ctx context.Context, in BuildInput) ([]build.Artifact, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Request: %s\nTitle: %s\nType: %s\n", quotePrompt(in.Prompt), in.Plan.Title, in.Plan.Type)
	if len(in.Plan.Features) > 0 {
		fmt.Fprintf(&user, "Features:\n- %s\n", strings.Join(in.Plan.Features, "\n- "))
	}
	if len(in.Plan.Avoid) > 0 {
		fmt.Fprintf(&user, "Avoid these recurring problems: %s\n", strings.Join(in.Plan.Avoid, ", "))
	}
	if len(in.Feedback) > 0 {
		fmt.Fprintf(&user, "\nAttempt %d. The previous attempt failed validation:\n", in.Attempt)
		for _, is := range in.Feedback {
			fmt.Fprintf(&user, "- %s\n", is)
		}
		if len(in.Previous) > 0 {
			fmt.Fprintf(&user, "\nPrevious document:\n%s\n", in.Previous[0].Content)
		}
		user.WriteString("Fix every listed problem and return the full corrected document.\n")
	}

	resp, err := b.invoker.Invoke(ctx, llm.Request{
		Model: b.cfg.Model,
		Messages: []conversation.Message{
			{Role: conversation.RoleSystem, Content: builderPrompt},
			{Role: conversation.RoleUser, Content: user.String()},
		},
		MaxTokens: b.cfg.BuildMaxTokens,
		Private:   b.cfg.Private,
	})
	if err != nil {
		return nil, err
	}

	doc := extractHTML(resp.Content)
	return []build.Artifact{{
		Path:    b.cfg.ContentDir + in.Plan.Slug + ".html",
		Content: doc,
		Bytes:   len(doc),
	}}, nil
}

var htmlFenceRe = regexp.MustCompile("(?s)```(?:html)?\\s*\\n(.*?)```")

// extractHTML strips code fences and leading prose from a model reply.
func extractHTML(reply string) string {
	if m := htmlFenceRe.FindStringSubmatch(reply); m != nil {
		reply = m[1]
	}
	lower := strings.ToLower(reply)
	for _, marker := range []string{"<!doctype", "<html"} {
		if i := strings.Index(lower, marker); i >= 0 {
			reply = reply[i:]
			break
		}
	}
	return strings.TrimSpace(reply)
}

// ModelDocumenter writes a short markdown summary of a successful build.
type ModelDocumenter struct {
	invoker *ModelInvoker
	files   FileStore
	cfg     StageModelConfig
}

const documenterPrompt = `Write a short markdown README for the described web build: a title, one paragraph, a "How to use" list and a "Features" list. Reply with markdown only.`

// Document implements Documenter.
func (d *ModelDocumenter) Document(ctx context.Context, run *build.Run) (string, error) {
	if run.Plan == nil {
		return "", fmt.Errorf("document: run %s has no plan", run.ID)
	}
	var user strings.Builder
	fmt.Fprintf(&user, "Title: %s\nType: %s\nRequest: %s\n", run.Plan.Title, run.Plan.Type, quotePrompt(run.Prompt))
	for _, a := range run.Artifacts {
		fmt.Fprintf(&user, "File: %s (%d bytes)\n", a.Path, a.Bytes)
	}
	if len(run.Plan.Features) > 0 {
		fmt.Fprintf(&user, "Features:\n- %s\n", strings.Join(run.Plan.Features, "\n- "))
	}

	resp, err := d.invoker.Invoke(ctx, llm.Request{
		Model: d.cfg.Model,
		Messages: []conversation.Message{
			{Role: conversation.RoleSystem, Content: documenterPrompt},
			{Role: conversation.RoleUser, Content: user.String()},
		},
		MaxTokens: d.cfg.MaxTokens,
		Private:   d.cfg.Private,
	})
	if err != nil {
		return "", err
	}

	ref := d.cfg.DocsDir + run.Plan.Slug + ".md"
	if d.files != nil {
		if err := d.files.WriteFile(ctx, ref, strings.TrimSpace(resp.Content)+"\n"); err != nil {
			return "", fmt.Errorf("write %s: %w", ref, err)
		}
	}
	return ref, nil
}
