package runstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRequest(model string) domain.RepoTestRequest {
	return domain.RepoTestRequest{
		RepoURL:     "https://example.com/r.git",
		Ref:         "main",
		Prompt:      "fix the bug",
		TestCommand: "npm test",
		Tool:        "aider",
		Model:       model,
	}
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateRun(ctx, testRequest("m1"), "")
	require.NoError(t, err)
	assert.Positive(t, id)

	rec, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, domain.RunRunning, rec.Status)
	assert.Equal(t, "m1", rec.Model)
	assert.Equal(t, "npm test", rec.TestCommand)
	assert.Empty(t, rec.Iterations)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestGetRun_Missing(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.GetRun(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestUpdateRun_Partial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateRun(ctx, testRequest("m1"), "")
	require.NoError(t, err)

	require.NoError(t, s.UpdateRun(ctx, id, domain.RunUpdate{CloneDurationMS: domain.Ptr(int64(120))}))

	iters := []domain.IterationResult{
		{Iteration: 1, TestExitCode: 1, TestsPassed: 3, TestsFailed: 2, TestsTotal: 5},
		{Iteration: 2, TestExitCode: 0, TestsPassed: 5, TestsTotal: 5},
	}
	require.NoError(t, s.UpdateRun(ctx, id, domain.RunUpdate{
		Status:      domain.Ptr(domain.RunSuccess),
		TestsPassed: domain.Ptr(5),
		TestsTotal:  domain.Ptr(5),
		ToolOutput:  domain.Ptr("--- Iteration 1 ---\nx\n\n--- Iteration 2 ---\ny"),
		Iterations:  iters,
	}))

	rec, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.RunSuccess, rec.Status)
	assert.Equal(t, int64(120), rec.CloneDurationMS, "earlier fields survive later partial updates")
	assert.Equal(t, 5, rec.TestsPassed)
	assert.Equal(t, 0, rec.TestsFailed)
	assert.Equal(t, iters, rec.Iterations)
	assert.Contains(t, rec.ToolOutput, "--- Iteration 2 ---")
}

func TestUpdateRun_Empty(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.UpdateRun(context.Background(), 7, domain.RunUpdate{}))
}

func TestUpdateRun_Missing(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateRun(context.Background(), 7, domain.RunUpdate{Error: domain.Ptr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, m := range []string{"a", "b", "c"} {
		_, err := s.CreateRun(ctx, testRequest(m), "")
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].Model)
	assert.Equal(t, "b", runs[1].Model)
}

func TestListBatchRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, testRequest("solo"), "")
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, testRequest("a"), "batch-1")
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, testRequest("b"), "batch-1")
	require.NoError(t, err)

	runs, err := s.ListBatchRuns(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "a", runs[0].Model)
	assert.Equal(t, "batch-1", runs[1].BatchID)
}

func TestConcurrentWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.CreateRun(ctx, testRequest("m"), "b")
			if err != nil {
				errs <- err
				return
			}
			errs <- s.UpdateRun(ctx, id, domain.RunUpdate{Status: domain.Ptr(domain.RunFail)})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	runs, err := s.ListBatchRuns(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, runs, n)
	for _, r := range runs {
		assert.Equal(t, domain.RunFail, r.Status)
	}
}

func TestNew_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "arena.db")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// reopening skips already applied migrations
	s, err = New(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestCredentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetCredential(ctx, "OPENROUTER_API_KEY", "OpenRouter")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetCredential(ctx, "OPENROUTER_API_KEY", "OpenRouter", "sk-old"))
	require.NoError(t, s.SetCredential(ctx, "OPENROUTER_API_KEY", "OpenRouter", "sk-or-12345678"))

	v, err = s.GetCredential(ctx, "OPENROUTER_API_KEY", "OpenRouter")
	require.NoError(t, err)
	assert.Equal(t, "sk-or-12345678", v)

	// same key name under another provider is distinct
	v, err = s.GetCredential(ctx, "OPENROUTER_API_KEY", "Other")
	require.NoError(t, err)
	assert.Empty(t, v)

	list, err := s.ListCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "****5678", list[0].Masked)

	require.NoError(t, s.DeleteCredential(ctx, "OPENROUTER_API_KEY", "OpenRouter"))
	assert.ErrorIs(t, s.DeleteCredential(ctx, "OPENROUTER_API_KEY", "OpenRouter"), ErrNotFound)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "****", Mask("abc"))
	assert.Equal(t, "****", Mask(""))
	assert.Equal(t, "****wxyz", Mask("abcdwxyz"))
}
