package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const recentIssuesURI = "forgebot://issues/recent"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			recentIssuesURI,
			"Recent Issues",
			mcplib.WithResourceDescription("Most frequent validation issue codes across recent builds"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentIssuesResource,
	)
}

func (s *Server) handleRecentIssuesResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	text := `{"error":"issue summary not configured"}`
	if s.deps.Issues != nil {
		issues, err := s.deps.Issues.RecentIssues(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(issues)
		if err != nil {
			return nil, err
		}
		text = string(data)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     text,
		},
	}, nil
}
