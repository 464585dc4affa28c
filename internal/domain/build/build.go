// Package build defines the build-validate-retry pipeline model: stages,
// attempts, test results and the append-only stage log.
package build

import (
	"fmt"
	"time"
)

// Stage is the pipeline state.
type Stage string

const (
	StagePlanning    Stage = "planning"
	StageBuilding    Stage = "building"
	StageTesting     Stage = "testing"
	StageDocumenting Stage = "documenting"
	StageSuccess     Stage = "success"
	StageFailed      Stage = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageSuccess || s == StageFailed
}

// DefaultMaxAttempts is used when a caller passes a non-positive attempt budget.
const DefaultMaxAttempts = 3

// Next computes the transition out of stage. testOK is only consulted when
// leaving StageTesting. The returned attempt is the attempt number the next
// stage runs under.
func Next(stage Stage, testOK bool, attempt, maxAttempts int) (Stage, int) {
	switch stage {
	case StagePlanning:
		return StageBuilding, 1
	case StageBuilding:
		return StageTesting, attempt
	case StageTesting:
		switch {
		case testOK:
			return StageDocumenting, attempt
		case attempt < maxAttempts:
			return StageBuilding, attempt + 1
		default:
			return StageFailed, attempt
		}
	case StageDocumenting:
		return StageSuccess, attempt
	default:
		return stage, attempt
	}
}

// Issue is a single finding from the test stage.
type Issue struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Critical bool   `json:"critical"`
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s", i.Code, i.Message)
}

// Scoring schedule.
const (
	MaxScore        = 100
	CriticalPenalty = 25
	WarningPenalty  = 5
	BonusPoints     = 5
)

// TestResult is the outcome of one test stage.
type TestResult struct {
	OK       bool     `json:"ok"`
	Issues   []Issue  `json:"issues"`
	Warnings []Issue  `json:"warnings"`
	Bonuses  []string `json:"bonuses,omitempty"`
	Score    int      `json:"score"`
}

// NewTestResult partitions findings by severity and applies the scoring
// schedule. OK requires zero critical issues; warnings never block.
func NewTestResult(findings []Issue, bonuses []string) TestResult {
	r := TestResult{Issues: []Issue{}, Warnings: []Issue{}, Bonuses: bonuses}
	for _, f := range findings {
		if f.Critical {
			r.Issues = append(r.Issues, f)
		} else {
			r.Warnings = append(r.Warnings, f)
		}
	}
	r.OK = len(r.Issues) == 0
	r.Score = Score(len(r.Issues), len(r.Warnings), len(bonuses))
	return r
}

// Score applies the fixed deduction schedule, clamped to [0, MaxScore].
func Score(critical, warnings, bonuses int) int {
	s := MaxScore - critical*CriticalPenalty - warnings*WarningPenalty + bonuses*BonusPoints
	return min(max(s, 0), MaxScore)
}

// Codes returns the codes of all critical issues and warnings.
func (r TestResult) Codes() []string {
	out := make([]string, 0, len(r.Issues)+len(r.Warnings))
	for _, i := range r.Issues {
		out = append(out, i.Code)
	}
	for _, w := range r.Warnings {
		out = append(out, w.Code)
	}
	return out
}

// Plan is the planning-stage snapshot that the build stage works from.
type Plan struct {
	Title    string   `json:"title"`
	Slug     string   `json:"slug"`
	Type     string   `json:"type"`
	Features []string `json:"features"`
	// Avoid lists issue codes recently seen across runs.
	Avoid []string `json:"avoid,omitempty"`
}

// Artifact is a produced file.
type Artifact struct {
	Path    string `json:"path"`
	Content string `json:"-"`
	Bytes   int    `json:"bytes"`
}

// Attempt is one build-then-test pass.
type Attempt struct {
	Number    int        `json:"number"`
	Plan      Plan       `json:"plan"`
	Artifacts []Artifact `json:"artifacts"`
	Result    TestResult `json:"result"`
	// Feedback carries this attempt's issues into the next build.
	Feedback []Issue `json:"feedback,omitempty"`
}

// Record is one immutable stage-log entry.
type Record struct {
	BuildID    string    `json:"build_id"`
	Seq        int       `json:"seq"`
	Stage      Stage     `json:"stage"`
	Attempt    int       `json:"attempt"`
	Detail     string    `json:"detail"`
	IssueCodes []string  `json:"issue_codes,omitempty"`
	Score      *int      `json:"score,omitempty"`
	At         time.Time `json:"at"`
}

// Run is one pipeline execution.
type Run struct {
	ID          string     `json:"id"`
	Prompt      string     `json:"prompt"`
	Type        string     `json:"type"`
	Stage       Stage      `json:"stage"`
	MaxAttempts int        `json:"max_attempts"`
	Plan        *Plan      `json:"plan,omitempty"`
	Attempts    []Attempt  `json:"attempts"`
	Log         []Record   `json:"log"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	DocRef      string     `json:"doc_ref,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// LastAttempt returns the most recent attempt, or nil.
func (r *Run) LastAttempt() *Attempt {
	if len(r.Attempts) == 0 {
		return nil
	}
	return &r.Attempts[len(r.Attempts)-1]
}

// NextSeq returns the sequence number for the next log record.
func (r *Run) NextSeq() int { return len(r.Log) + 1 }

// IssueCount is one row of the recent-issue summary.
type IssueCount struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}
