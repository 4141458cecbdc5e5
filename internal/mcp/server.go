// Package mcp exposes the platform's tools over the Model Context Protocol,
// so external MCP clients can call the same registry the conversation agent
// uses.
package mcp

import (
	"context"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/tools"
)

// Router validates and executes tool invocations.
type Router interface {
	Invoke(ctx context.Context, name string, params map[string]any) (*tools.Result, error)
}

// Server bridges the tool registry onto an MCP server.
type Server struct {
	mcpServer *sdk.Server
	router    Router
	logger    log.Logger
}

// Config holds MCP server identity.
type Config struct {
	Name    string
	Version string
}

// NewServer creates an MCP server exposing every tool in registry through
// router. Tool schemas are passed through unchanged, so MCP clients see the
// same parameter contracts the model does.
func NewServer(cfg Config, registry *tools.Registry, router Router, logger log.Logger) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		mcpServer: mcpServer,
		router:    router,
		logger:    logger.With("component", "mcp"),
	}
	for _, def := range registry.Definitions() {
		s.register(def)
	}
	return s, nil
}

// register adds one tool definition to the MCP server. Handler failures are
// reported as error results, not protocol errors, so clients can retry with
// corrected parameters.
func (s *Server) register(def tools.Definition) {
	tool := &sdk.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: def.InputSchema,
	}

	sdk.AddTool(s.mcpServer, tool, func(ctx context.Context, req *sdk.CallToolRequest, in map[string]any) (*sdk.CallToolResult, any, error) {
		result, err := s.router.Invoke(ctx, def.Name, in)
		if err != nil {
			s.logger.Warn("tool invocation failed", "tool", def.Name, "error", err)
			return &sdk.CallToolResult{
				Content: []sdk.Content{&sdk.TextContent{Text: result.Err}},
				IsError: true,
			}, nil, nil
		}
		return &sdk.CallToolResult{
			Content: []sdk.Content{&sdk.TextContent{Text: result.Payload}},
		}, nil, nil
	})
}

// Run serves MCP on the given transport until ctx is cancelled. Blocking.
func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	s.logger.Info("starting MCP server")
	return s.mcpServer.Run(ctx, transport)
}
