// Package gitlocal commits and pushes the generated workspace with the local
// git CLI.
package gitlocal

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/sync/semaphore"
)

// Status is a snapshot of the workspace repository.
type Status struct {
	Branch     string   `json:"branch"`
	CommitHash string   `json:"commit_hash"`
	Dirty      []string `json:"dirty,omitempty"`
}

// Repo runs git commands against one working tree. Commands are serialized:
// concurrent commit_push calls would otherwise race on the index.
type Repo struct {
	dir    string
	remote string
	branch string
	sem    *semaphore.Weighted
}

// NewRepo creates a Repo for dir. An empty remote disables pushing; an empty
// branch pushes the current branch.
func NewRepo(dir, remote, branch string) *Repo {
	return &Repo{dir: dir, remote: remote, branch: branch, sem: semaphore.NewWeighted(1)}
}

func (r *Repo) run(ctx context.Context, fn func() error) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)
	return fn()
}

// Status returns the current branch, HEAD and uncommitted paths.
func (r *Repo) Status(ctx context.Context) (*Status, error) {
	var st *Status
	err := r.run(ctx, func() error {
		var err error
		st, err = r.status(ctx)
		return err
	})
	return st, err
}

func (r *Repo) status(ctx context.Context) (*Status, error) {
	st := &Status{}
	branch, err := runGit(ctx, r.dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("gitlocal: get branch: %w", err)
	}
	st.Branch = strings.TrimSpace(branch)

	// A fresh repository has no HEAD yet.
	if hash, err := runGit(ctx, r.dir, "rev-parse", "--short", "HEAD"); err == nil {
		st.CommitHash = strings.TrimSpace(hash)
	}

	porcelain, err := runGit(ctx, r.dir, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("gitlocal: status: %w", err)
	}
	for _, line := range strings.Split(porcelain, "\n") {
		if len(line) > 3 {
			st.Dirty = append(st.Dirty, strings.TrimSpace(line[3:]))
		}
	}
	return st, nil
}

// CommitPush stages every change, commits it with message and pushes when a
// remote is configured. It returns a one-line summary for the model.
func (r *Repo) CommitPush(ctx context.Context, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "Update generated content"
	}

	var summary string
	err := r.run(ctx, func() error {
		if _, err := runGit(ctx, r.dir, "add", "-A"); err != nil {
			return fmt.Errorf("gitlocal: add: %w", err)
		}
		st, err := r.status(ctx)
		if err != nil {
			return err
		}
		if len(st.Dirty) == 0 {
			summary = "nothing to commit, working tree clean"
			return nil
		}
		if _, err := runGit(ctx, r.dir, "commit", "-m", message); err != nil {
			return fmt.Errorf("gitlocal: commit: %w", err)
		}
		hash, err := runGit(ctx, r.dir, "rev-parse", "--short", "HEAD")
		if err != nil {
			return fmt.Errorf("gitlocal: rev-parse: %w", err)
		}
		summary = fmt.Sprintf("committed %d file(s) as %s", len(st.Dirty), strings.TrimSpace(hash))

		if r.remote == "" {
			return nil
		}
		branch := r.branch
		if branch == "" {
			branch = st.Branch
		}
		if _, err := runGit(ctx, r.dir, "push", r.remote, "HEAD:"+branch); err != nil {
			return fmt.Errorf("gitlocal: push %s %s: %w", r.remote, branch, err)
		}
		summary += fmt.Sprintf(", pushed to %s/%s", r.remote, branch)
		return nil
	})
	return summary, err
}

// runGit executes a git command and returns its stdout.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}
