package gitlocal_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Strob0t/ForgeBot/internal/adapter/gitlocal"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available in test environment")
	}
}

func TestCommitPush_CommitsAndPushes(t *testing.T) {
	requireGit(t)
	ctx := context.Background()

	remote := t.TempDir()
	runGitCmd(t, remote, "init", "--bare")
	dir := initTestRepo(t)
	runGitCmd(t, dir, "remote", "add", "origin", remote)

	if err := os.WriteFile(filepath.Join(dir, "snake.html"), []byte("<html></html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	repo := gitlocal.NewRepo(dir, "origin", "main")
	summary, err := repo.CommitPush(ctx, "Add snake")
	if err != nil {
		t.Fatalf("CommitPush failed: %v", err)
	}
	if !strings.Contains(summary, "committed 1 file(s)") || !strings.Contains(summary, "origin/main") {
		t.Fatalf("unexpected summary %q", summary)
	}

	out, err := exec.Command("git", "--git-dir", remote, "log", "-1", "--format=%s", "main").Output()
	if err != nil {
		t.Fatalf("remote log: %v", err)
	}
	if strings.TrimSpace(string(out)) != "Add snake" {
		t.Fatalf("remote head subject = %q", out)
	}

	st, err := repo.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(st.Dirty) != 0 || st.CommitHash == "" {
		t.Fatalf("status after commit = %+v", st)
	}
}

func TestCommitPush_CleanTree(t *testing.T) {
	requireGit(t)
	repo := gitlocal.NewRepo(initTestRepo(t), "", "")

	summary, err := repo.CommitPush(context.Background(), "")
	if err != nil {
		t.Fatalf("CommitPush failed: %v", err)
	}
	if !strings.Contains(summary, "nothing to commit") {
		t.Fatalf("unexpected summary %q", summary)
	}
}

func TestStatus_ReportsDirtyFiles(t *testing.T) {
	requireGit(t)
	dir := initTestRepo(t)
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := gitlocal.NewRepo(dir, "", "").Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Branch == "" || len(st.Dirty) != 1 || st.Dirty[0] != "hello.txt" {
		t.Fatalf("status = %+v", st)
	}
}

func TestCommitPush_NotARepo(t *testing.T) {
	requireGit(t)
	if _, err := gitlocal.NewRepo(t.TempDir(), "", "").CommitPush(context.Background(), "x"); err == nil {
		t.Fatal("expected error outside a git repository")
	}
}

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGitCmd(t, dir, "init")
	runGitCmd(t, dir, "config", "user.email", "test@test.com")
	runGitCmd(t, dir, "config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGitCmd(t, dir, "add", ".")
	runGitCmd(t, dir, "commit", "-m", "initial commit")
	return dir
}

func runGitCmd(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}
