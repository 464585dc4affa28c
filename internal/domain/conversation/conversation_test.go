package conversation

import (
	"errors"
	"testing"
)

func TestState_ScopeGuardOnlyInEditScope(t *testing.T) {
	s := NewState(nil, nil, true)
	if err := s.GuardMutation("src/a.html"); err != nil {
		t.Fatalf("first mutation should pass: %v", err)
	}
	s.RecordMutation("src/a.html")
	if err := s.GuardMutation("src/a.html"); !errors.Is(err, ErrAlreadyModified) {
		t.Fatalf("expected ErrAlreadyModified, got %v", err)
	}
	if err := s.GuardMutation("src/b.html"); err != nil {
		t.Fatalf("other file should pass: %v", err)
	}

	open := NewState(nil, nil, false)
	open.RecordMutation("src/a.html")
	if err := open.GuardMutation("src/a.html"); err != nil {
		t.Fatalf("guard should be off outside edit scope: %v", err)
	}
}

func TestState_RecordIterationCounters(t *testing.T) {
	s := NewState(nil, nil, false)
	s.RecordIteration(true)
	s.RecordIteration(false)
	s.RecordIteration(true)
	if s.IterationCount != 3 {
		t.Fatalf("expected 3 iterations, got %d", s.IterationCount)
	}
	if s.ReadOnlyIterationCount != 2 {
		t.Fatalf("expected 2 read-only iterations, got %d", s.ReadOnlyIterationCount)
	}
}

func TestState_RecentFilesMostRecentFirst(t *testing.T) {
	s := NewState(nil, []string{"src/a.html", "src/b.html"}, false)
	s.RecordMutation("src/b.html")
	if got := s.MostRecentFile(); got != "src/b.html" {
		t.Fatalf("MostRecentFile = %q", got)
	}
	if len(s.RecentFiles) != 2 || s.RecentFiles[1] != "src/a.html" {
		t.Fatalf("unexpected recent files %v", s.RecentFiles)
	}
	if s.LastMutation() != "src/b.html" || !s.HasMutated() {
		t.Fatal("mutation not recorded")
	}

	for i := range 20 {
		s.TouchFile(string(rune('a'+i)) + ".html")
	}
	if len(s.RecentFiles) != maxRecentFiles {
		t.Fatalf("recent files not bounded: %d", len(s.RecentFiles))
	}
}

func TestNewState_DoesNotAliasPrior(t *testing.T) {
	prior := []Message{{Role: RoleUser, Content: "hi"}}
	s := NewState(prior, nil, false)
	s.Append(Message{Role: RoleAssistant, Content: "hello"})
	s.Messages[0].Content = "changed"
	if prior[0].Content != "hi" {
		t.Fatal("state mutated caller's prior messages")
	}
}
