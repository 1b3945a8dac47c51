package testrun

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX shell syntax")
	}
}

func TestRunner_ExitCodeIsData(t *testing.T) {
	skipOnWindows(t)
	r := NewRunner(0)

	res, err := r.Run(context.Background(), "echo '2 passed, 1 failed'; echo boom >&2; exit 3", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "2 passed, 1 failed\n", res.Stdout)
	assert.Equal(t, "boom\n", res.Stderr)
	assert.Equal(t, domain.TestCounts{Passed: 2, Failed: 1, Total: 3}, res.Counts)
	assert.Equal(t, "pytest", res.Framework)
}

func TestRunner_RunsInWorkspace(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("15 passed"), 0644))

	res, err := NewRunner(0).Run(context.Background(), "cat marker.txt", dir)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, 15, res.Counts.Passed)
}

func TestRunner_ParsesBeforeTruncating(t *testing.T) {
	skipOnWindows(t)
	r := NewRunner(100)

	// The summary line sits past the cap
	res, err := r.Run(context.Background(), "head -c 500 /dev/zero | tr '\\0' x; echo; echo '7 passed'", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 7, res.Counts.Passed)
	assert.True(t, strings.HasPrefix(res.Stdout, strings.Repeat("x", 100)))
	assert.Contains(t, res.Stdout, "[output truncated:")
	assert.NotContains(t, res.Stdout, "7 passed")
}

func TestRunner_CancelledContext(t *testing.T) {
	skipOnWindows(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewRunner(0).Run(ctx, "sleep 5", t.TempDir())
	assert.Error(t, err)
}

func TestRunner_TimeoutKillsChildrenAndKeepsOutput(t *testing.T) {
	skipOnWindows(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := NewRunner(0).Run(ctx, "echo '3 passed'; sleep 5; echo done", t.TempDir())
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, "3 passed\n", res.Stdout)
	assert.Equal(t, 3, res.Counts.Passed)
}

func TestRunner_MissingDirectory(t *testing.T) {
	_, err := NewRunner(0).Run(context.Background(), "true", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "anything", Truncate("anything", 0))

	got := Truncate(strings.Repeat("a", 20), 5)
	assert.Equal(t, "aaaaa\n[output truncated: 15 B omitted]", got)

	// never split a multi-byte rune
	got = Truncate("aé", 2)
	assert.True(t, strings.HasPrefix(got, "a\n"))
}
