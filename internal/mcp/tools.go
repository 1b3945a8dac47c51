package mcp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
	"github.com/marvijo-code/ultimate-llm-arena/internal/repotest"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("list_coding_tools",
			mcplib.WithDescription("List the coding tools a benchmark run can drive, with their ids and kinds."),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleListTools,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("run_repo_test",
			mcplib.WithDescription(`Clone a repository, let a coding tool attempt a task with a model, and run the
test command. The tool gets one retry with the failing test output when the
first attempt does not pass. Blocks until the run finishes and returns the
full result with per-iteration test counts.`),
			mcplib.WithString("repo_url", mcplib.Description("Git URL of the repository to clone"), mcplib.Required()),
			mcplib.WithString("ref", mcplib.Description("Branch, tag or commit to check out"), mcplib.Required()),
			mcplib.WithString("prompt", mcplib.Description("Task description handed to the coding tool"), mcplib.Required()),
			mcplib.WithString("test_command", mcplib.Description("Shell command that runs the test suite, e.g. 'npm test'"), mcplib.Required()),
			mcplib.WithString("tool", mcplib.Description("Coding tool id from list_coding_tools"), mcplib.Required()),
			mcplib.WithString("model", mcplib.Description("Model identifier passed to the tool"), mcplib.Required()),
		),
		s.handleRunRepoTest,
	)

	if s.batch != nil {
		s.mcpServer.AddTool(
			mcplib.NewTool("run_repo_batch",
				mcplib.WithDescription("Run the same repo test against several models concurrently and return a ranked leaderboard."),
				mcplib.WithString("repo_url", mcplib.Description("Git URL of the repository to clone"), mcplib.Required()),
				mcplib.WithString("ref", mcplib.Description("Branch, tag or commit to check out"), mcplib.Required()),
				mcplib.WithString("prompt", mcplib.Description("Task description handed to the coding tool"), mcplib.Required()),
				mcplib.WithString("test_command", mcplib.Description("Shell command that runs the test suite"), mcplib.Required()),
				mcplib.WithString("tool", mcplib.Description("Coding tool id from list_coding_tools"), mcplib.Required()),
				mcplib.WithString("models", mcplib.Description("Comma-separated model identifiers"), mcplib.Required()),
			),
			s.handleRunRepoBatch,
		)
	}

	s.mcpServer.AddTool(
		mcplib.NewTool("get_run_history",
			mcplib.WithDescription("List recent benchmark runs, newest first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of runs to return"),
				mcplib.Min(1),
				mcplib.Max(500),
				mcplib.DefaultNumber(repotest.DefaultHistoryLimit),
			),
		),
		s.handleRunHistory,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_run",
			mcplib.WithDescription("Fetch one benchmark run by id, including test output and iterations."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("id", mcplib.Description("Run id"), mcplib.Required()),
		),
		s.handleGetRun,
	)
}

func (s *Server) handleListTools(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return jsonResult(s.runner.ListTools())
}

func repoTestRequest(request mcplib.CallToolRequest) domain.RepoTestRequest {
	return domain.RepoTestRequest{
		RepoURL:     strings.TrimSpace(request.GetString("repo_url", "")),
		Ref:         strings.TrimSpace(request.GetString("ref", "")),
		Prompt:      request.GetString("prompt", ""),
		TestCommand: strings.TrimSpace(request.GetString("test_command", "")),
		Tool:        strings.TrimSpace(request.GetString("tool", "")),
		Model:       strings.TrimSpace(request.GetString("model", "")),
	}
}

func (s *Server) handleRunRepoTest(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := repoTestRequest(request)
	if err := req.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	result, err := s.runner.Run(ctx, req, s.progress(ctx))
	if err != nil {
		var runErr *repotest.RunError
		if errors.As(err, &runErr) {
			return errorResult(fmt.Sprintf("run %d failed: %v", runErr.RunID, runErr.Err)), nil
		}
		return errorResult(err.Error()), nil
	}

	s.logger.Info("mcp: repo test finished",
		"run_id", result.RunID,
		"model", result.Model,
		"status", result.Status)

	return jsonResult(result)
}

func (s *Server) handleRunRepoBatch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	single := repoTestRequest(request)
	req := domain.BatchRequest{
		RepoURL:     single.RepoURL,
		Ref:         single.Ref,
		Prompt:      single.Prompt,
		TestCommand: single.TestCommand,
		Tool:        single.Tool,
		Models:      strings.Split(request.GetString("models", ""), ","),
	}

	result, err := s.batch.RunBatch(ctx, req, s.progress(ctx))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleRunHistory(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := request.GetInt("limit", repotest.DefaultHistoryLimit)
	if limit < 1 {
		limit = repotest.DefaultHistoryLimit
	}

	runs, err := s.runner.History(ctx, limit)
	if err != nil {
		return errorResult("failed to load history: " + err.Error()), nil
	}
	if runs == nil {
		runs = []*domain.RunRecord{}
	}
	return jsonResult(runs)
}

func (s *Server) handleGetRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	raw := strings.TrimSpace(request.GetString("id", ""))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return errorResult(fmt.Sprintf("invalid run id %q", raw)), nil
	}

	run, err := s.runner.GetRun(ctx, id)
	if err != nil {
		return errorResult("failed to load run: " + err.Error()), nil
	}
	if run == nil {
		return errorResult(fmt.Sprintf("run %d not found", id)), nil
	}
	return jsonResult(run)
}
