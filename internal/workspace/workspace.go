// Package workspace prepares ephemeral git checkouts for benchmark runs.
package workspace

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/marvijo-code/ultimate-llm-arena/internal/procgroup"
)

// DefaultCloneDepth bounds the history fetched by Prepare
const DefaultCloneDepth = 50

// Error is returned when a clone or checkout fails after all fallbacks
type Error struct {
	Stage  string // "clone" or "checkout"
	Ref    string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	switch e.Stage {
	case "checkout":
		return fmt.Sprintf("Git checkout failed for ref '%s': %s", e.Ref, strings.TrimSpace(e.Stderr))
	case "clone":
		return fmt.Sprintf("Git clone failed: %s", strings.TrimSpace(e.Stderr))
	default:
		return fmt.Sprintf("workspace %s: %v", e.Stage, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Manager creates and removes workspaces under a scratch root
type Manager struct {
	root       string
	cloneDepth int
	install    bool
	logger     *slog.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithCloneDepth overrides the shallow clone depth
func WithCloneDepth(depth int) Option {
	return func(m *Manager) {
		if depth > 0 {
			m.cloneDepth = depth
		}
	}
}

// WithoutInstall disables the dependency install step
func WithoutInstall() Option {
	return func(m *Manager) { m.install = false }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager rooted at root
func NewManager(root string, opts ...Option) *Manager {
	m := &Manager{
		root:       root,
		cloneDepth: DefaultCloneDepth,
		install:    true,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Root returns the scratch root
func (m *Manager) Root() string {
	return m.root
}

// Prepare clones repoURL into a fresh directory, checks out ref and installs
// dependencies. The directory is removed again when Prepare fails.
func (m *Manager) Prepare(ctx context.Context, repoURL, ref string) (string, error) {
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return "", fmt.Errorf("creating scratch dir: %w", err)
	}

	dir := filepath.Join(m.root, fmt.Sprintf("%d_%s", time.Now().UnixMilli(), randomSuffix()))

	if _, stderr, err := m.git(ctx, "", "clone", "--depth", fmt.Sprint(m.cloneDepth), repoURL, dir); err != nil {
		os.RemoveAll(dir)
		return "", &Error{Stage: "clone", Ref: ref, Stderr: stderr, Err: err}
	}

	if err := m.checkout(ctx, dir, ref); err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	if m.install {
		m.installDependencies(ctx, dir)
	}

	return dir, nil
}

// checkout resolves ref in three steps: a direct checkout, a fetch followed
// by checkout for refs missing from the shallow clone, and finally FETCH_HEAD.
func (m *Manager) checkout(ctx context.Context, dir, ref string) error {
	if _, _, err := m.git(ctx, dir, "checkout", ref); err == nil {
		return nil
	}

	_, stderr, err := m.git(ctx, dir, "fetch", "origin", ref)
	if err == nil {
		if _, _, err := m.git(ctx, dir, "checkout", ref); err == nil {
			return nil
		}
		_, stderr, err = m.git(ctx, dir, "checkout", "FETCH_HEAD")
		if err == nil {
			return nil
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &Error{Stage: "checkout", Ref: ref, Stderr: stderr, Err: err}
}

type installStep struct {
	marker string
	args   []string
}

// installPlan picks install commands from the files present in dir
func installPlan(dir string) [][]string {
	var plan [][]string

	if exists(filepath.Join(dir, "package.json")) {
		node := []installStep{
			{"yarn.lock", []string{"yarn", "install", "--frozen-lockfile"}},
			{"pnpm-lock.yaml", []string{"pnpm", "install", "--frozen-lockfile"}},
			{"bun.lockb", []string{"bun", "install"}},
		}
		args := []string{"npm", "install"}
		for _, step := range node {
			if exists(filepath.Join(dir, step.marker)) {
				args = step.args
				break
			}
		}
		plan = append(plan, args)
	}

	if exists(filepath.Join(dir, "requirements.txt")) {
		plan = append(plan, []string{"pip", "install", "-r", "requirements.txt"})
	}

	return plan
}

// installDependencies is best effort: a missing toolchain shows up later as
// a failing test command.
func (m *Manager) installDependencies(ctx context.Context, dir string) {
	for _, args := range installPlan(dir) {
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Dir = dir
		procgroup.Configure(cmd)
		if out, err := cmd.CombinedOutput(); err != nil {
			m.logger.Debug("dependency install failed",
				"command", strings.Join(args, " "),
				"error", err,
				"output", truncate(string(out), 500))
		}
	}
}

// Dispose removes a workspace. Errors are logged, never returned.
func (m *Manager) Dispose(path string) {
	if path == "" {
		return
	}
	if !m.owns(path) {
		m.logger.Warn("refusing to remove path outside scratch root", "path", path, "root", m.root)
		return
	}
	if err := os.RemoveAll(path); err != nil {
		m.logger.Warn("failed to clean up workspace", "path", path, "error", err)
	}
}

func (m *Manager) owns(path string) bool {
	root, err := filepath.Abs(m.root)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	procgroup.Configure(cmd)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func randomSuffix() string {
	b := make([]byte, 3)
	rand.Read(b)
	return hex.EncodeToString(b)
}
