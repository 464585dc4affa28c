// Package conversation holds the per-request message history and loop state.
package conversation

import (
	"errors"
	"fmt"
	"slices"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// maxRecentFiles bounds the recent-file list kept for pronoun resolution.
const maxRecentFiles = 10

// ErrAlreadyModified is returned by the scope guard when a file is mutated a
// second time within one edit-focused conversation.
var ErrAlreadyModified = errors.New("file already modified in this conversation")

// ToolCall is a model-requested action invocation. Arguments is the raw,
// possibly malformed, argument text.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a single entry in the conversation history.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// State is the mutable state of one request/response cycle. It is not safe
// for concurrent use; one agent loop owns it.
type State struct {
	Messages               []Message
	IterationCount         int
	ReadOnlyIterationCount int
	// RecentFiles is most-recent-first.
	RecentFiles []string
	// EditScoped enables the one-mutation-per-file scope guard.
	EditScoped bool

	mutated      map[string]bool
	lastMutation string
}

// NewState seeds a state with prior turns and caller-supplied recent files.
func NewState(prior []Message, recentFiles []string, editScoped bool) *State {
	s := &State{
		Messages:    slices.Clone(prior),
		RecentFiles: slices.Clone(recentFiles),
		EditScoped:  editScoped,
		mutated:     make(map[string]bool),
	}
	if len(s.RecentFiles) > maxRecentFiles {
		s.RecentFiles = s.RecentFiles[:maxRecentFiles]
	}
	return s
}

// Append adds messages to the history.
func (s *State) Append(msgs ...Message) {
	s.Messages = append(s.Messages, msgs...)
}

// RecordIteration advances the iteration counters. readOnly marks an
// iteration whose requested actions were all non-mutating.
func (s *State) RecordIteration(readOnly bool) {
	s.IterationCount++
	if readOnly {
		s.ReadOnlyIterationCount++
	}
}

// GuardMutation enforces the scope guard for path. It is a no-op outside
// edit-scoped conversations.
func (s *State) GuardMutation(path string) error {
	if !s.EditScoped || path == "" {
		return nil
	}
	if s.mutated[path] {
		return fmt.Errorf("%w: %s", ErrAlreadyModified, path)
	}
	return nil
}

// RecordMutation marks path as mutated and moves it to the front of the
// recent-file list.
func (s *State) RecordMutation(path string) {
	if path == "" {
		return
	}
	if s.mutated == nil {
		s.mutated = make(map[string]bool)
	}
	s.mutated[path] = true
	s.lastMutation = path
	s.TouchFile(path)
}

// HasMutated reports whether any mutating action succeeded in this state.
func (s *State) HasMutated() bool { return len(s.mutated) > 0 }

// LastMutation returns the most recently mutated file, or "".
func (s *State) LastMutation() string { return s.lastMutation }

// TouchFile moves path to the front of RecentFiles.
func (s *State) TouchFile(path string) {
	if path == "" {
		return
	}
	s.RecentFiles = slices.DeleteFunc(s.RecentFiles, func(p string) bool { return p == path })
	s.RecentFiles = slices.Insert(s.RecentFiles, 0, path)
	if len(s.RecentFiles) > maxRecentFiles {
		s.RecentFiles = s.RecentFiles[:maxRecentFiles]
	}
}

// MostRecentFile returns the head of RecentFiles, or "".
func (s *State) MostRecentFile() string {
	if len(s.RecentFiles) == 0 {
		return ""
	}
	return s.RecentFiles[0]
}
