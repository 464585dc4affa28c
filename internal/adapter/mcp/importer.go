package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/ForgeBot/internal/config"
	"github.com/Strob0t/ForgeBot/internal/domain/action"
)

// clientVersion is reported to MCP servers during the handshake.
const clientVersion = "1.0.0"

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Toolset holds the MCP clients whose tools were imported as actions.
type Toolset struct {
	clients []mcpclient.MCPClient
	regs    []action.Registration
}

// Registrations returns the imported actions.
func (t *Toolset) Registrations() []action.Registration { return t.regs }

// Close closes every client. Errors are logged; shutdown continues.
func (t *Toolset) Close() {
	for _, c := range t.clients {
		if err := c.Close(); err != nil {
			slog.Warn("mcp client close failed", "error", err)
		}
	}
}

// Import starts every configured stdio server and imports its tools. A server
// that fails to start is skipped with a warning so one broken tool source
// does not keep the assistant down.
func Import(ctx context.Context, cfg config.MCP) *Toolset {
	ts := &Toolset{}
	for _, srv := range cfg.Servers {
		c, err := mcpclient.NewStdioMCPClient(srv.Command, srv.Env, srv.Args...)
		if err != nil {
			slog.WarnContext(ctx, "mcp server start failed", "server", srv.Name, "error", err)
			continue
		}
		regs, err := ImportClient(ctx, srv.Name, c, srv.Mutating, cfg.CallTimeout)
		if err != nil {
			slog.WarnContext(ctx, "mcp tool import failed", "server", srv.Name, "error", err)
			_ = c.Close()
			continue
		}
		ts.clients = append(ts.clients, c)
		ts.regs = append(ts.regs, regs...)
		slog.InfoContext(ctx, "mcp tools imported", "server", srv.Name, "tools", len(regs))
	}
	return ts
}

// ImportClient performs the MCP handshake on an already started client and
// maps each listed tool to an action registration named "<server>_<tool>".
func ImportClient(ctx context.Context, server string, c mcpclient.MCPClient, mutating []string, timeout time.Duration) ([]action.Registration, error) {
	initReq := mcplib.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcplib.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcplib.Implementation{Name: "forgebot", Version: clientVersion}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", server, err)
	}

	listed, err := c.ListTools(ctx, mcplib.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools %s: %w", server, err)
	}

	regs := make([]action.Registration, 0, len(listed.Tools))
	for i := range listed.Tools {
		tool := listed.Tools[i]
		schema, err := toolSchema(tool)
		if err != nil {
			return nil, fmt.Errorf("tool %s/%s: %w", server, tool.Name, err)
		}
		regs = append(regs, action.Registration{
			Name:        actionName(server, tool.Name),
			Description: tool.Description,
			SideEffect:  sideEffect(tool, mutating),
			Params:      requiredParams(tool),
			Schema:      schema,
			Handler:     callHandler(c, tool.Name, timeout),
		})
	}
	return regs, nil
}

func actionName(server, tool string) string {
	name := unsafeName.ReplaceAllString(server+"_"+tool, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// sideEffect classifies an imported tool. The configured mutating list wins;
// otherwise the server's annotations decide, defaulting to read-only.
func sideEffect(tool mcplib.Tool, mutating []string) action.SideEffect { //nolint:gocritic // hugeParam: mcp-go value type
	if slices.Contains(mutating, tool.Name) {
		return action.Mutating
	}
	a := tool.Annotations
	if a.ReadOnlyHint != nil && *a.ReadOnlyHint {
		return action.ReadOnly
	}
	if a.DestructiveHint != nil && *a.DestructiveHint {
		return action.Mutating
	}
	if a.ReadOnlyHint != nil {
		return action.Mutating
	}
	return action.ReadOnly
}

func toolSchema(tool mcplib.Tool) (json.RawMessage, error) { //nolint:gocritic // hugeParam: mcp-go value type
	if len(tool.RawInputSchema) > 0 {
		return tool.RawInputSchema, nil
	}
	data, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal input schema: %w", err)
	}
	return data, nil
}

func requiredParams(tool mcplib.Tool) []action.Param { //nolint:gocritic // hugeParam: mcp-go value type
	params := make([]action.Param, 0, len(tool.InputSchema.Required))
	for _, name := range tool.InputSchema.Required {
		typ := "string"
		if prop, ok := tool.InputSchema.Properties[name].(map[string]any); ok {
			if t, ok := prop["type"].(string); ok {
				typ = t
			}
		}
		params = append(params, action.Param{Name: name, Type: typ, Required: true})
	}
	return params
}

func callHandler(c mcpclient.MCPClient, tool string, timeout time.Duration) action.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		req := mcplib.CallToolRequest{}
		req.Params.Name = tool
		req.Params.Arguments = args
		res, err := c.CallTool(ctx, req)
		if err != nil {
			return "", fmt.Errorf("mcp call %s: %w", tool, err)
		}
		text := resultText(res)
		if res.IsError {
			return "", fmt.Errorf("mcp tool %s: %s", tool, text)
		}
		return text, nil
	}
}

func resultText(res *mcplib.CallToolResult) string {
	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		if tc, ok := mcplib.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
			continue
		}
		if data, err := json.Marshal(c); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n")
}
