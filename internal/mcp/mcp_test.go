package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
	"github.com/marvijo-code/ultimate-llm-arena/internal/repotest"
)

type fakeRunner struct {
	tools   []domain.CodingTool
	lastReq domain.RepoTestRequest
	result  *domain.RepoTestResult
	err     error
	limit   int
	runs    map[int64]*domain.RunRecord
}

func (f *fakeRunner) ListTools() []domain.CodingTool { return f.tools }

func (f *fakeRunner) Run(_ context.Context, req domain.RepoTestRequest, onProgress domain.ProgressFunc) (*domain.RepoTestResult, error) {
	f.lastReq = req
	onProgress.Emit(domain.ProgressEvent{Type: domain.EventStatus, Message: "Starting repo test run..."})
	return f.result, f.err
}

func (f *fakeRunner) History(_ context.Context, limit int) ([]*domain.RunRecord, error) {
	f.limit = limit
	var out []*domain.RunRecord
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRunner) GetRun(_ context.Context, id int64) (*domain.RunRecord, error) {
	return f.runs[id], nil
}

type fakeBatch struct {
	lastReq domain.BatchRequest
}

func (f *fakeBatch) RunBatch(_ context.Context, req domain.BatchRequest, _ domain.ProgressFunc) (*domain.BatchResult, error) {
	f.lastReq = req
	req = req.Normalized()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &domain.BatchResult{BatchID: "b-1", Leaderboard: []domain.LeaderboardEntry{{Rank: 1, Model: req.Models[0]}}}, nil
}

func callRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

func runArgs() map[string]any {
	return map[string]any{
		"repo_url":     " https://example.com/repo.git ",
		"ref":          "main",
		"prompt":       "Fix the bug",
		"test_command": "npm test",
		"tool":         "direct",
		"model":        "openai/gpt-4o",
	}
}

func TestHandleListTools(t *testing.T) {
	runner := &fakeRunner{tools: []domain.CodingTool{{ID: "direct", Name: "Direct LLM"}}}
	s := New(runner, nil, "test", nil)

	result, err := s.handleListTools(context.Background(), callRequest("list_coding_tools", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var tools []domain.CodingTool
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &tools))
	require.Len(t, tools, 1)
	assert.Equal(t, "direct", tools[0].ID)
}

func TestHandleRunRepoTest(t *testing.T) {
	runner := &fakeRunner{result: &domain.RepoTestResult{RunID: 7, Model: "openai/gpt-4o", Status: domain.RunSuccess}}
	s := New(runner, nil, "test", nil)

	result, err := s.handleRunRepoTest(context.Background(), callRequest("run_repo_test", runArgs()))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	assert.Equal(t, "https://example.com/repo.git", runner.lastReq.RepoURL)

	var got domain.RepoTestResult
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &got))
	assert.Equal(t, int64(7), got.RunID)
	assert.Equal(t, domain.RunSuccess, got.Status)
}

func TestHandleRunRepoTest_MissingFields(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, nil, "test", nil)

	args := runArgs()
	delete(args, "model")
	result, err := s.handleRunRepoTest(context.Background(), callRequest("run_repo_test", args))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "model")
	assert.Empty(t, runner.lastReq.RepoURL, "runner must not be called")
}

func TestHandleRunRepoTest_RunError(t *testing.T) {
	runner := &fakeRunner{err: &repotest.RunError{RunID: 3, Err: errors.New("Git clone failed: not found")}}
	s := New(runner, nil, "test", nil)

	result, err := s.handleRunRepoTest(context.Background(), callRequest("run_repo_test", runArgs()))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Equal(t, "run 3 failed: Git clone failed: not found", parseToolText(t, result))
}

func TestHandleRunRepoBatch(t *testing.T) {
	batch := &fakeBatch{}
	s := New(&fakeRunner{}, batch, "test", nil)

	args := runArgs()
	delete(args, "model")
	args["models"] = "a/one, b/two"
	result, err := s.handleRunRepoBatch(context.Background(), callRequest("run_repo_batch", args))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))
	assert.Equal(t, []string{"a/one", " b/two"}, batch.lastReq.Models)

	var got domain.BatchResult
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &got))
	assert.Equal(t, "b-1", got.BatchID)
	assert.Equal(t, "a/one", got.Leaderboard[0].Model)

	args["models"] = " , "
	result, err = s.handleRunRepoBatch(context.Background(), callRequest("run_repo_batch", args))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRunHistory(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, nil, "test", nil)

	result, err := s.handleRunHistory(context.Background(), callRequest("get_run_history", map[string]any{"limit": 5}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, 5, runner.limit)
	assert.Equal(t, "[]", parseToolText(t, result))

	_, err = s.handleRunHistory(context.Background(), callRequest("get_run_history", map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, repotest.DefaultHistoryLimit, runner.limit)
}

func TestHandleGetRun(t *testing.T) {
	runner := &fakeRunner{runs: map[int64]*domain.RunRecord{
		4: {ID: 4, Model: "m", Status: domain.RunPartial},
	}}
	s := New(runner, nil, "test", nil)

	result, err := s.handleGetRun(context.Background(), callRequest("get_run", map[string]any{"id": "4"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var got domain.RunRecord
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &got))
	assert.Equal(t, domain.RunPartial, got.Status)

	result, err = s.handleGetRun(context.Background(), callRequest("get_run", map[string]any{"id": "99"}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Equal(t, "run 99 not found", parseToolText(t, result))

	result, err = s.handleGetRun(context.Background(), callRequest("get_run", map[string]any{"id": "abc"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
