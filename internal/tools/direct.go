package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
	"github.com/marvijo-code/ultimate-llm-arena/internal/llm"
	"github.com/marvijo-code/ultimate-llm-arena/internal/prompts"
)

// Completer sends chat completions; *llm.Client satisfies it
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Completion, error)
}

// DirectSettings bounds the context sent to the model. A nil Temperature
// uses the default; zero is a valid setting.
type DirectSettings struct {
	Temperature *float64
	MaxTokens   int
	TreeDepth   int
	MaxFiles    int
	MaxLines    int
	Prompts     *prompts.Loader
}

// DefaultDirectSettings returns the stock context limits
func DefaultDirectSettings() DirectSettings {
	temperature := 0.2
	return DirectSettings{
		Temperature: &temperature,
		MaxTokens:   4096,
		TreeDepth:   3,
		MaxFiles:    10,
		MaxLines:    200,
	}
}

func (s DirectSettings) withDefaults() DirectSettings {
	d := DefaultDirectSettings()
	if s.MaxTokens > 0 {
		d.MaxTokens = s.MaxTokens
	}
	if s.Temperature != nil {
		t := *s.Temperature
		d.Temperature = &t
	}
	if s.TreeDepth > 0 {
		d.TreeDepth = s.TreeDepth
	}
	if s.MaxFiles > 0 {
		d.MaxFiles = s.MaxFiles
	}
	if s.MaxLines > 0 {
		d.MaxLines = s.MaxLines
	}
	d.Prompts = s.Prompts
	if d.Prompts == nil {
		d.Prompts = prompts.GetDefaultLoader()
	}
	return d
}

var (
	sourceExtensions = map[string]bool{
		".ts": true, ".js": true, ".py": true, ".rs": true, ".go": true, ".java": true,
		".c": true, ".cpp": true, ".rb": true, ".ex": true, ".exs": true,
	}
	skippedDirs = map[string]bool{
		"node_modules": true, "__pycache__": true, "venv": true,
	}
)

// DirectInvoker asks a model for whole-file edits and applies them to the
// workspace without spawning a process.
type DirectInvoker struct {
	tool        domain.CodingTool
	completer   Completer
	credentials CredentialSource
	settings    DirectSettings
	logger      *slog.Logger
}

// NewDirectInvoker creates the in-process tool strategy
func NewDirectInvoker(tool domain.CodingTool, completer Completer, creds CredentialSource, settings DirectSettings, logger *slog.Logger) *DirectInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	if tool.CredentialKey == "" {
		tool.CredentialKey = DefaultCredentialKey
		tool.CredentialProvider = DefaultCredentialProvider
	}
	return &DirectInvoker{
		tool:        tool,
		completer:   completer,
		credentials: creds,
		settings:    settings.withDefaults(),
		logger:      logger,
	}
}

func (d *DirectInvoker) apiKey(ctx context.Context) (string, error) {
	if d.credentials == nil {
		return "", llm.ErrNoAPIKey
	}
	key, err := d.credentials.GetCredential(ctx, d.tool.CredentialKey, d.tool.CredentialProvider)
	if err != nil {
		return "", fmt.Errorf("looking up %s: %w", d.tool.CredentialKey, err)
	}
	if key == "" {
		return "", llm.ErrNoAPIKey
	}
	return key, nil
}

// Preflight fails when no API key is configured
func (d *DirectInvoker) Preflight(ctx context.Context) error {
	_, err := d.apiKey(ctx)
	return err
}

// Invoke sends the workspace context and prompt to the model, applies the
// returned edits and returns the raw response.
func (d *DirectInvoker) Invoke(ctx context.Context, inv Invocation) (string, error) {
	key, err := d.apiKey(ctx)
	if err != nil {
		return "", &InvocationError{Tool: d.tool.ID, Err: err}
	}

	system, err := d.settings.Prompts.BuildDirectSystemPrompt(prompts.DirectSystemData{
		FileTree:    FileTree(inv.Workdir, d.settings.TreeDepth),
		SourceFiles: SourceContext(inv.Workdir, d.settings.MaxFiles, d.settings.MaxLines),
	})
	if err != nil {
		return "", err
	}

	completion, err := d.completer.Complete(ctx, llm.Request{
		Model: inv.Model,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: inv.Prompt},
		},
		Temperature: *d.settings.Temperature,
		MaxTokens:   d.settings.MaxTokens,
		APIKey:      key,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &InvocationError{Tool: d.tool.ID, Err: err}
	}

	written, err := ApplyEdits(inv.Workdir, ParseEdits(completion.Text), d.logger)
	if err != nil {
		return completion.Display(), &InvocationError{Tool: d.tool.ID, Err: err}
	}
	d.logger.Debug("applied model edits", "tool", d.tool.ID, "model", inv.Model, "files", len(written))

	return completion.Display(), nil
}

func skipEntry(name string) bool {
	return strings.HasPrefix(name, ".") || skippedDirs[name]
}

// FileTree lists the workspace to maxDepth levels, indenting two spaces per level
func FileTree(root string, maxDepth int) string {
	var lines []string
	var walk func(dir, prefix string, depth int)
	walk = func(dir, prefix string, depth int) {
		if depth >= maxDepth {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if skipEntry(e.Name()) {
				continue
			}
			if e.IsDir() {
				lines = append(lines, prefix+e.Name()+"/")
				walk(filepath.Join(dir, e.Name()), prefix+"  ", depth+1)
				continue
			}
			lines = append(lines, prefix+e.Name())
		}
	}
	walk(root, "", 0)
	return strings.Join(lines, "\n")
}

// testDirs hold test code without a marker in the directory name
var testDirs = map[string]bool{
	"e2e":           true,
	"__mocks__":     true,
	"__snapshots__": true,
	"fixtures":      true,
}

// isTestFile matches names carrying a test marker
func isTestFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "test") || strings.Contains(lower, "spec")
}

// isTestDir reports directories whose whole subtree is test code
func isTestDir(name string) bool {
	return isTestFile(name) || testDirs[strings.ToLower(name)]
}

// SourceContext returns up to maxFiles non-test source files, each cut to
// maxLines lines, formatted as "--- rel/path ---" sections.
func SourceContext(root string, maxFiles, maxLines int) string {
	var files []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			return nil
		}
		if skipEntry(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if isTestDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if sourceExtensions[filepath.Ext(d.Name())] && !isTestFile(d.Name()) {
			files = append(files, path)
		}
		if len(files) >= maxFiles {
			return filepath.SkipAll
		}
		return nil
	})

	parts := make([]string, 0, len(files))
	for _, path := range files {
		head, err := headLines(path, maxLines)
		if err != nil {
			continue
		}
		rel, _ := filepath.Rel(root, path)
		parts = append(parts, fmt.Sprintf("--- %s ---\n%s\n", filepath.ToSlash(rel), head))
	}
	return strings.Join(parts, "\n")
}

func headLines(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for len(lines) < n && scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return strings.Join(lines, "\n"), scanner.Err()
}
