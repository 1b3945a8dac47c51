package workspace

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %s", args, out)
	}
}

func setupGitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()

	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "test@test.com")
	runGit(t, dir, "config", "user.name", "Test")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test"), 0644))
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "Initial commit")
	runGit(t, dir, "branch", "-M", "main")

	runGit(t, dir, "checkout", "-b", "feature")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.txt"), []byte("feature"), 0644))
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "Feature commit")
	runGit(t, dir, "tag", "v1")
	runGit(t, dir, "checkout", "main")

	return dir
}

func TestManager_PrepareBranch(t *testing.T) {
	repo := setupGitRepo(t)
	mgr := NewManager(t.TempDir(), WithoutInstall())

	dir, err := mgr.Prepare(context.Background(), repo, "main")
	require.NoError(t, err)
	defer mgr.Dispose(dir)

	assert.FileExists(t, filepath.Join(dir, "README.md"))
	assert.NoFileExists(t, filepath.Join(dir, "feature.txt"))
	assert.True(t, strings.HasPrefix(dir, mgr.Root()))
}

func TestManager_PrepareRemoteBranchAndTag(t *testing.T) {
	repo := setupGitRepo(t)
	mgr := NewManager(t.TempDir(), WithoutInstall())

	for _, ref := range []string{"feature", "v1"} {
		dir, err := mgr.Prepare(context.Background(), repo, ref)
		require.NoError(t, err, ref)
		assert.FileExists(t, filepath.Join(dir, "feature.txt"), ref)
		mgr.Dispose(dir)
		assert.NoDirExists(t, dir)
	}
}

func TestManager_PrepareUnknownRef(t *testing.T) {
	repo := setupGitRepo(t)
	root := t.TempDir()
	mgr := NewManager(root, WithoutInstall())

	_, err := mgr.Prepare(context.Background(), repo, "does-not-exist")
	require.Error(t, err)

	var wsErr *Error
	require.True(t, errors.As(err, &wsErr))
	assert.Equal(t, "checkout", wsErr.Stage)
	assert.Contains(t, err.Error(), "Git checkout failed for ref 'does-not-exist'")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial workspace should be removed")
}

func TestManager_PrepareCloneFailure(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	mgr := NewManager(t.TempDir(), WithoutInstall())

	_, err := mgr.Prepare(context.Background(), filepath.Join(t.TempDir(), "missing"), "main")
	var wsErr *Error
	require.True(t, errors.As(err, &wsErr))
	assert.Equal(t, "clone", wsErr.Stage)
}

func TestManager_UniqueDirectories(t *testing.T) {
	repo := setupGitRepo(t)
	mgr := NewManager(t.TempDir(), WithoutInstall())

	a, err := mgr.Prepare(context.Background(), repo, "main")
	require.NoError(t, err)
	b, err := mgr.Prepare(context.Background(), repo, "main")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestManager_DisposeOutsideRoot(t *testing.T) {
	mgr := NewManager(t.TempDir())
	outside := t.TempDir()
	keep := filepath.Join(outside, "keep.txt")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0644))

	mgr.Dispose(outside)
	mgr.Dispose(mgr.Root())
	mgr.Dispose(filepath.Join(mgr.Root(), "..", filepath.Base(outside)))

	assert.FileExists(t, keep)
	assert.DirExists(t, mgr.Root())
}

func TestInstallPlan(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  [][]string
	}{
		{"empty", nil, nil},
		{"npm default", []string{"package.json"}, [][]string{{"npm", "install"}}},
		{"yarn", []string{"package.json", "yarn.lock"}, [][]string{{"yarn", "install", "--frozen-lockfile"}}},
		{"pnpm", []string{"package.json", "pnpm-lock.yaml"}, [][]string{{"pnpm", "install", "--frozen-lockfile"}}},
		{"lockfile without manifest", []string{"yarn.lock"}, nil},
		{"python", []string{"requirements.txt"}, [][]string{{"pip", "install", "-r", "requirements.txt"}}},
		{"both", []string{"package.json", "requirements.txt"}, [][]string{{"npm", "install"}, {"pip", "install", "-r", "requirements.txt"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tt.files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, f), nil, 0644))
			}
			assert.Equal(t, tt.want, installPlan(dir))
		})
	}
}
