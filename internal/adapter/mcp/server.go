// Package mcp connects ForgeBot to the Model Context Protocol in both
// directions: tools of external MCP servers are imported as actions, and
// ForgeBot's own request handling is exposed as an MCP server.
package mcp

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/ForgeBot/internal/domain/build"
	"github.com/Strob0t/ForgeBot/internal/domain/routing"
	"github.com/Strob0t/ForgeBot/internal/service"
)

// RequestHandler serves a user request end to end.
type RequestHandler interface {
	Handle(ctx context.Context, req service.Request) (*service.Reply, error)
	Route(msg string, recentFiles []string) routing.Plan
}

// BuildLogReader reads the per-build stage log.
type BuildLogReader interface {
	List(ctx context.Context, buildID string) ([]build.Record, error)
}

// IssueReader supplies the rolling summary of recent issue codes.
type IssueReader interface {
	RecentIssues(ctx context.Context) ([]build.IssueCount, error)
}

// ServerConfig holds the MCP server identity.
type ServerConfig struct {
	Name    string
	Version string
	APIKey  string
}

// ServerDeps holds the services the MCP tools call into. Nil fields turn the
// matching tools into configuration errors.
type ServerDeps struct {
	Requests RequestHandler
	BuildLog BuildLogReader
	Issues   IssueReader
}

// Server exposes ForgeBot over MCP's streamable HTTP transport.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
}

// NewServer creates the MCP server and registers its tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	if cfg.Name == "" {
		cfg.Name = "forgebot"
	}
	if cfg.Version == "" {
		cfg.Version = clientVersion
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the authenticated streamable HTTP handler, ready to mount.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer))
}
