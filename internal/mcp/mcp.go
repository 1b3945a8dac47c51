// Package mcp exposes the arena over the Model Context Protocol, so an
// MCP-capable agent can list tools, launch benchmark runs and read history.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
)

// Runner is the single-run surface of the repo test controller
type Runner interface {
	ListTools() []domain.CodingTool
	Run(ctx context.Context, req domain.RepoTestRequest, onProgress domain.ProgressFunc) (*domain.RepoTestResult, error)
	History(ctx context.Context, limit int) ([]*domain.RunRecord, error)
	GetRun(ctx context.Context, id int64) (*domain.RunRecord, error)
}

// BatchRunner runs one request against several models
type BatchRunner interface {
	RunBatch(ctx context.Context, req domain.BatchRequest, onProgress domain.ProgressFunc) (*domain.BatchResult, error)
}

// Server wraps the mcp-go server with the arena's run controller.
type Server struct {
	mcpServer *mcpserver.MCPServer
	runner    Runner
	batch     BatchRunner
	logger    *slog.Logger
}

// New creates an MCP server with all tools registered. batch may be nil,
// in which case run_repo_batch is not offered.
func New(runner Runner, batch BatchRunner, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runner: runner,
		batch:  batch,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"llm-arena",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves the protocol over stdin/stdout until the client hangs up.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

// progress relays run events to the calling client as log notifications.
// Clients without a session simply miss them.
func (s *Server) progress(ctx context.Context) domain.ProgressFunc {
	return func(ev domain.ProgressEvent) {
		params := map[string]any{
			"level":  "info",
			"logger": "llm-arena",
			"data":   ev,
		}
		if ev.Type == domain.EventError || ev.Type == domain.EventModelError {
			params["level"] = "error"
		}
		if err := s.mcpServer.SendNotificationToClient(ctx, "notifications/message", params); err != nil {
			s.logger.Debug("mcp progress not delivered", "type", ev.Type, "error", err)
		}
	}
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("failed to encode result: " + err.Error()), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
