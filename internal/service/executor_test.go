package service

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/Strob0t/ForgeBot/internal/domain/conversation"
	"github.com/Strob0t/ForgeBot/internal/logger"
)

func TestExecutor_Execute(t *testing.T) {
	tests := []struct {
		name        string
		call        conversation.ToolCall
		wantFailed  bool
		wantContent string
	}{
		{
			name:        "valid read",
			call:        conversation.ToolCall{ID: "1", Name: "read_file", Arguments: `{"path":"src/a.html"}`},
			wantContent: "<p>a</p>",
		},
		{
			name:        "healed single quotes and trailing comma",
			call:        conversation.ToolCall{ID: "2", Name: "read_file", Arguments: `{'path': 'src/a.html',}`},
			wantContent: "<p>a</p>",
		},
		{
			name:        "unknown action lists available",
			call:        conversation.ToolCall{ID: "3", Name: "delete_everything", Arguments: `{}`},
			wantFailed:  true,
			wantContent: "Available actions: read_file, list_files, write_file, explode",
		},
		{
			name:        "missing required param",
			call:        conversation.ToolCall{ID: "4", Name: "read_file", Arguments: `{}`},
			wantFailed:  true,
			wantContent: "missing required parameter: path",
		},
		{
			name:        "empty arguments read as empty object",
			call:        conversation.ToolCall{ID: "5", Name: "list_files", Arguments: ""},
			wantContent: "[src/a.html]",
		},
		{
			name:        "handler error becomes text",
			call:        conversation.ToolCall{ID: "6", Name: "read_file", Arguments: `{"path":"src/missing.html"}`},
			wantFailed:  true,
			wantContent: "Error: src/missing.html: not found",
		},
		{
			name:        "handler panic is contained",
			call:        conversation.ToolCall{ID: "7", Name: "explode", Arguments: `{}`},
			wantFailed:  true,
			wantContent: "action handler panicked",
		},
		{
			name:        "non-object arguments",
			call:        conversation.ToolCall{ID: "8", Name: "list_files", Arguments: `[1, 2]`},
			wantFailed:  true,
			wantContent: "must be a JSON object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := NewExecutor(testRegistry(map[string]string{"src/a.html": "<p>a</p>"}))
			state := conversation.NewState(nil, nil, false)

			out := exec.Execute(context.Background(), state, tt.call)
			if out.Failed != tt.wantFailed {
				t.Fatalf("Failed = %v, want %v (content %q)", out.Failed, tt.wantFailed, out.Content)
			}
			if !strings.Contains(out.Content, tt.wantContent) {
				t.Errorf("content %q does not contain %q", out.Content, tt.wantContent)
			}
			if out.CallID != tt.call.ID {
				t.Errorf("CallID = %q, want %q", out.CallID, tt.call.ID)
			}
		})
	}
}

func TestExecutor_UnparseableArgumentsNeverPanic(t *testing.T) {
	exec := NewExecutor(testRegistry(map[string]string{}))
	state := conversation.NewState(nil, nil, false)
	for _, raw := range []string{"%%%", "{{{{", `{"path": `, "\x00\x01"} {
		out := exec.Execute(context.Background(), state, conversation.ToolCall{Name: "read_file", Arguments: raw})
		if !out.Failed {
			t.Errorf("args %q: expected failure, got %q", raw, out.Content)
		}
		if !strings.HasPrefix(out.Content, "Error:") {
			t.Errorf("args %q: content %q should start with Error:", raw, out.Content)
		}
	}
}

func TestExecutor_ScopeGuard(t *testing.T) {
	files := map[string]string{}
	exec := NewExecutor(testRegistry(files))
	write := conversation.ToolCall{Name: "write_file", Arguments: `{"path":"src/a.html","content":"x"}`}

	scoped := conversation.NewState(nil, nil, true)
	if out := exec.Execute(context.Background(), scoped, write); out.Failed {
		t.Fatalf("first write failed: %s", out.Content)
	}
	out := exec.Execute(context.Background(), scoped, write)
	if !out.Failed || !strings.Contains(out.Content, "already modified") {
		t.Fatalf("second scoped write should be refused, got %+v", out)
	}

	free := conversation.NewState(nil, nil, false)
	for i := range 2 {
		if out := exec.Execute(context.Background(), free, write); out.Failed {
			t.Fatalf("unscoped write %d failed: %s", i+1, out.Content)
		}
	}
}

func TestExecutor_ScopeGuardSeesThroughPathSpellings(t *testing.T) {
	exec := NewExecutor(testRegistry(map[string]string{}))
	state := conversation.NewState(nil, nil, true)

	spellings := []string{"src/a.html", "./src/a.html", "src//a.html", "/src/a.html", "src/img/../a.html"}
	for i, p := range spellings {
		out := exec.Execute(context.Background(), state, conversation.ToolCall{
			Name: "write_file", Arguments: `{"path":"` + p + `","content":"x"}`,
		})
		if wantFailed := i > 0; out.Failed != wantFailed {
			t.Fatalf("write to %q: failed = %v, want %v (%s)", p, out.Failed, wantFailed, out.Content)
		}
	}
	if !slices.Equal(state.RecentFiles, []string{"src/a.html"}) {
		t.Fatalf("recent files = %v", state.RecentFiles)
	}
}

func TestExecutor_MutationRecorded(t *testing.T) {
	exec := NewExecutor(testRegistry(map[string]string{}))
	state := conversation.NewState(nil, []string{"src/old.html"}, false)

	out := exec.Execute(context.Background(), state, conversation.ToolCall{
		Name: "write_file", Arguments: `{"path":"src/new.html","content":"<p>n</p>"}`,
	})
	if out.Mutated != "src/new.html" {
		t.Fatalf("Mutated = %q", out.Mutated)
	}
	if !state.HasMutated() || state.LastMutation() != "src/new.html" {
		t.Fatalf("state not updated: %+v", state)
	}
	if state.MostRecentFile() != "src/new.html" {
		t.Fatalf("recent files = %v", state.RecentFiles)
	}
}

// requestIDCapture records the request ID carried by each logged record's
// context.
type requestIDCapture struct {
	mu  sync.Mutex
	ids map[string]string
}

func (c *requestIDCapture) Enabled(context.Context, slog.Level) bool { return true }

func (c *requestIDCapture) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler signature
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[rec.Message] = logger.RequestID(ctx)
	return nil
}

func (c *requestIDCapture) WithAttrs([]slog.Attr) slog.Handler { return c }
func (c *requestIDCapture) WithGroup(string) slog.Handler      { return c }

func TestExecutor_LogsCarryRequestID(t *testing.T) {
	capture := &requestIDCapture{ids: map[string]string{}}
	prev := slog.Default()
	slog.SetDefault(slog.New(capture))
	defer slog.SetDefault(prev)

	exec := NewExecutor(testRegistry(map[string]string{"src/a.html": "a"}))
	state := conversation.NewState(nil, nil, false)
	ctx := logger.WithRequestID(context.Background(), "r-42")
	for _, call := range []conversation.ToolCall{
		{Name: "read_file", Arguments: `{'path': 'src/a.html',}`},
		{Name: "explode", Arguments: `{}`},
	} {
		exec.Execute(ctx, state, call)
	}

	for _, msg := range []string{"healed action arguments", "action handler panic"} {
		if got, ok := capture.ids[msg]; !ok || got != "r-42" {
			t.Errorf("%q logged with request id %q (logged %v)", msg, got, ok)
		}
	}
}
