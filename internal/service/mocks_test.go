package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Strob0t/ForgeBot/internal/domain"
	"github.com/Strob0t/ForgeBot/internal/domain/action"
	"github.com/Strob0t/ForgeBot/internal/domain/build"
	"github.com/Strob0t/ForgeBot/internal/port/broadcast"
	"github.com/Strob0t/ForgeBot/internal/port/buildlog"
	"github.com/Strob0t/ForgeBot/internal/port/llm"
	"github.com/Strob0t/ForgeBot/internal/port/messagequeue"
)

// Ensure mock types implement their interfaces at compile time.
var (
	_ llm.Model             = (*mockModel)(nil)
	_ buildlog.Store        = (*mockBuildLog)(nil)
	_ broadcast.Broadcaster = (*mockHub)(nil)
	_ FileStore             = (*mockFiles)(nil)
	_ messagequeue.Queue    = (*mockQueue)(nil)
)

// mockModel answers from reply; calls records every request in order.
type mockModel struct {
	mu    sync.Mutex
	calls []llm.Request
	reply func(n int, req llm.Request) (*llm.Response, error)
}

func (m *mockModel) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	n := len(m.calls)
	m.mu.Unlock()
	return m.reply(n, req)
}

func (m *mockModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func textReply(s string) *llm.Response {
	return &llm.Response{Content: s, FinishReason: "stop"}
}

func transientErr(model string) error {
	return &llm.Error{Category: llm.CategoryTransient, Model: model, Err: errors.New("503 service unavailable")}
}

// mockBuildLog is an in-memory build log.
type mockBuildLog struct {
	records   []build.Record
	appendErr error
}

func (m *mockBuildLog) Append(_ context.Context, rec build.Record) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *mockBuildLog) List(_ context.Context, buildID string) ([]build.Record, error) {
	var out []build.Record
	for _, r := range m.records {
		if r.BuildID == buildID {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound
	}
	return out, nil
}

func (m *mockBuildLog) SummarizeIssueCodes(_ context.Context, _, limit int) ([]build.IssueCount, error) {
	counts := map[string]int{}
	for _, r := range m.records {
		for _, c := range r.IssueCodes {
			counts[c]++
		}
	}
	out := make([]build.IssueCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, build.IssueCount{Code: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type mockHub struct {
	mu     sync.Mutex
	events []string
}

func (m *mockHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
}

type published struct {
	subject string
	data    []byte
}

// mockQueue records publishes and keeps the last subscribed handler so a
// test can deliver messages to it.
type mockQueue struct {
	mu         sync.Mutex
	published  []published
	handler    messagequeue.Handler
	publishErr error
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	if q.publishErr != nil {
		return q.publishErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, published{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, _ string, h messagequeue.Handler) (func(), error) {
	q.handler = h
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

type mockFiles struct {
	files map[string]string
}

func (m *mockFiles) WriteFile(_ context.Context, path, content string) error {
	if m.files == nil {
		m.files = map[string]string{}
	}
	m.files[path] = content
	return nil
}

// testRegistry returns read_file, list_files and write_file over an
// in-memory file map.
func testRegistry(files map[string]string) *action.Registry {
	reg, err := action.NewRegistry(
		action.Registration{
			Name:       action.ReadFile,
			SideEffect: action.ReadOnly,
			Params:     []action.Param{{Name: "path", Type: "string", Required: true}},
			PathParam:  "path",
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				p, _ := args["path"].(string)
				c, ok := files[p]
				if !ok {
					return "", fmt.Errorf("%s: %w", p, domain.ErrNotFound)
				}
				return c, nil
			},
		},
		action.Registration{
			Name:       action.ListFiles,
			SideEffect: action.ReadOnly,
			Handler: func(context.Context, map[string]any) (string, error) {
				names := make([]string, 0, len(files))
				for n := range files {
					names = append(names, n)
				}
				sort.Strings(names)
				return fmt.Sprint(names), nil
			},
		},
		action.Registration{
			Name:       action.WriteFile,
			SideEffect: action.Mutating,
			Params: []action.Param{
				{Name: "path", Type: "string", Required: true},
				{Name: "content", Type: "string", Required: true},
			},
			PathParam: "path",
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				p, _ := args["path"].(string)
				files[p], _ = args["content"].(string)
				return "wrote " + p, nil
			},
		},
		action.Registration{
			Name:       "explode",
			SideEffect: action.ReadOnly,
			Handler: func(context.Context, map[string]any) (string, error) {
				panic("boom")
			},
		},
	)
	if err != nil {
		panic(err)
	}
	return reg
}
