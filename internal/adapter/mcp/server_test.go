package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	fbmcp "github.com/Strob0t/ForgeBot/internal/adapter/mcp"
	"github.com/Strob0t/ForgeBot/internal/domain"
	"github.com/Strob0t/ForgeBot/internal/domain/build"
	"github.com/Strob0t/ForgeBot/internal/domain/routing"
	"github.com/Strob0t/ForgeBot/internal/service"
)

// --- Mocks ---

type mockRequests struct {
	got service.Request
	err error
}

func (m *mockRequests) Handle(_ context.Context, req service.Request) (*service.Reply, error) {
	m.got = req
	if m.err != nil {
		return nil, m.err
	}
	return &service.Reply{RequestID: "r1", Text: "done: " + req.Message, Intent: routing.IntentChat}, nil
}

func (m *mockRequests) Route(msg string, _ []string) routing.Plan {
	return routing.Plan{Intent: routing.IntentSearch, Reasoning: msg}
}

type mockBuildLog struct{ recs map[string][]build.Record }

func (m *mockBuildLog) List(_ context.Context, id string) ([]build.Record, error) {
	r, ok := m.recs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

type mockIssues struct{}

func (mockIssues) RecentIssues(context.Context) ([]build.IssueCount, error) {
	return []build.IssueCount{{Code: "truncated", Count: 3}}, nil
}

func callTool(t *testing.T, s *fbmcp.Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool, ok := s.MCPServer().ListTools()[name]
	if !ok {
		t.Fatalf("%s tool not found", name)
	}
	req := mcplib.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := tool.Handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return res
}

func resultText(t *testing.T, res *mcplib.CallToolResult) string {
	t.Helper()
	text, ok := res.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", res.Content[0])
	}
	return text.Text
}

// --- Tests ---

func TestToolRegistration(t *testing.T) {
	s := fbmcp.NewServer(fbmcp.ServerConfig{}, fbmcp.ServerDeps{})
	tools := s.MCPServer().ListTools()
	for _, name := range []string{"handle_request", "route_message", "get_build_log"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("expected tool %q not registered", name)
		}
	}
	if len(tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(tools))
	}
}

func TestHandleRequestTool(t *testing.T) {
	reqs := &mockRequests{}
	s := fbmcp.NewServer(fbmcp.ServerConfig{}, fbmcp.ServerDeps{Requests: reqs})

	res := callTool(t, s, "handle_request", map[string]any{
		"message":      "hello",
		"recent_files": []any{"src/a.html"},
	})
	if res.IsError {
		t.Fatalf("tool returned error: %v", res.Content)
	}
	var reply service.Reply
	if err := json.Unmarshal([]byte(resultText(t, res)), &reply); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if reply.Text != "done: hello" || len(reqs.got.RecentFiles) != 1 {
		t.Fatalf("reply %+v, request %+v", reply, reqs.got)
	}

	if res := callTool(t, s, "handle_request", map[string]any{}); !res.IsError {
		t.Fatal("missing message must be a tool error")
	}

	reqs.err = &service.IterationError{Iteration: 2, Err: errors.New("quota")}
	res = callTool(t, s, "handle_request", map[string]any{"message": "x"})
	if !res.IsError || !strings.Contains(resultText(t, res), "iteration 2") {
		t.Fatalf("expected iteration diagnostic, got %v", res.Content)
	}
}

func TestBuildLogTool(t *testing.T) {
	s := fbmcp.NewServer(fbmcp.ServerConfig{}, fbmcp.ServerDeps{
		BuildLog: &mockBuildLog{recs: map[string][]build.Record{"b1": {{BuildID: "b1", Seq: 1, Stage: build.StagePlanning}}}},
	})

	res := callTool(t, s, "get_build_log", map[string]any{"build_id": "b1"})
	if res.IsError || !strings.Contains(resultText(t, res), `"b1"`) {
		t.Fatalf("unexpected result %v", res.Content)
	}
	if res := callTool(t, s, "get_build_log", map[string]any{"build_id": "nope"}); !res.IsError {
		t.Fatal("unknown build must be a tool error")
	}
}

func TestToolsWithoutDeps(t *testing.T) {
	s := fbmcp.NewServer(fbmcp.ServerConfig{}, fbmcp.ServerDeps{})
	for _, name := range []string{"handle_request", "route_message", "get_build_log"} {
		if res := callTool(t, s, name, map[string]any{"message": "x", "build_id": "x"}); !res.IsError {
			t.Errorf("%s without deps must be a tool error", name)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := fbmcp.AuthMiddleware("secret", ok)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"bearer", "Bearer secret", http.StatusNoContent},
		{"bare key", "secret", http.StatusNoContent},
		{"wrong", "Bearer nope", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	if fbmcp.AuthMiddleware("", ok) == nil {
		t.Fatal("empty key must pass through")
	}
}
