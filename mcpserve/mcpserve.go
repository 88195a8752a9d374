// Package mcpserve exposes a tool registry as an MCP server.
package mcpserve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"patchwork.dev/tools"
)

// Server serves the tools of a registry, all bound to one Env.
type Server struct {
	reg *tools.Registry
	env *tools.Env
	mcp *server.MCPServer
}

// New returns a server advertising every tool registered in reg.
// Tools registered after New are not served.
func New(reg *tools.Registry, env *tools.Env, version string) *Server {
	s := &Server{
		reg: reg,
		env: env,
		mcp: server.NewMCPServer("patchwork", version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	for _, d := range reg.Describe() {
		s.mcp.AddTool(mcp.NewToolWithRawSchema(d.Name, d.Description, d.InputSchema), s.handler(d.Name))
	}
	return s
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ServeStdio serves MCP over stdin and stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	slog.Info("mcp_serving", "root", s.env.Root.String(), "tools", len(s.reg.Describe()))
	return server.ServeStdio(s.mcp)
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		return toCallResult(s.reg.Execute(ctx, s.env, name, args)), nil
	}
}

// toCallResult converts a registry result. Failures become MCP tool
// errors rather than protocol errors, so the model sees them.
func toCallResult(res *tools.Result) *mcp.CallToolResult {
	if !res.OK {
		msg := res.Error
		if res.Output != "" {
			msg += "\n" + res.Output
		}
		return mcp.NewToolResultError(msg)
	}
	text := res.Output
	if text == "" && res.Data != nil {
		b, err := json.Marshal(res.Data)
		if err == nil {
			text = string(b)
		}
	}
	return mcp.NewToolResultText(text)
}
