package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/ForgeBot/internal/service"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.handleRequestTool(),
		s.routeMessageTool(),
		s.buildLogTool(),
	)
}

func (s *Server) handleRequestTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("handle_request",
		mcplib.WithDescription("Send a message to ForgeBot and get its reply; creation requests run the build pipeline"),
		mcplib.WithString("message", mcplib.Required(), mcplib.Description("The user message")),
		mcplib.WithString("model", mcplib.Description("Model override for this request")),
		mcplib.WithArray("recent_files", mcplib.Description("Recently touched files, most recent first"),
			mcplib.Items(map[string]any{"type": "string"})),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleRequest}
}

func (s *Server) routeMessageTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("route_message",
		mcplib.WithDescription("Classify a message into an intent and an advisory action sequence without acting on it"),
		mcplib.WithString("message", mcplib.Required(), mcplib.Description("The user message")),
		mcplib.WithReadOnlyHintAnnotation(true),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleRouteMessage}
}

func (s *Server) buildLogTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_build_log",
		mcplib.WithDescription("Get every logged stage transition of a build"),
		mcplib.WithString("build_id", mcplib.Required(), mcplib.Description("The build ID from a reply")),
		mcplib.WithReadOnlyHintAnnotation(true),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleBuildLog}
}

func (s *Server) handleRequest(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Requests == nil {
		return mcplib.NewToolResultError("request handler not configured"), nil
	}
	msg, err := req.RequireString("message")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	reply, err := s.deps.Requests.Handle(ctx, service.Request{
		Message:     msg,
		Model:       req.GetString("model", ""),
		RecentFiles: req.GetStringSlice("recent_files", nil),
	})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("request failed", err), nil
	}
	return jsonResult(reply)
}

func (s *Server) handleRouteMessage(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Requests == nil {
		return mcplib.NewToolResultError("request handler not configured"), nil
	}
	msg, err := req.RequireString("message")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.deps.Requests.Route(msg, nil))
}

func (s *Server) handleBuildLog(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.BuildLog == nil {
		return mcplib.NewToolResultError("build log not configured"), nil
	}
	id, err := req.RequireString("build_id")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	recs, err := s.deps.BuildLog.List(ctx, id)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to read build log "+id, err), nil
	}
	return jsonResult(recs)
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
