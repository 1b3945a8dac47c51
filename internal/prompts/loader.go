package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

const (
	RetryTemplate        = "repotest/retry.md"
	DirectSystemTemplate = "repotest/direct_system.md"
)

// Loader manages prompt templates with override support.
type Loader struct {
	overrideDirs []string // Directories to check for overrides (in priority order)
	cache        map[string]*template.Template
	metaCache    map[string]*TemplateMeta
	mu           sync.RWMutex
}

// TemplateMeta holds frontmatter metadata.
type TemplateMeta struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// NewLoader creates a loader with the given override directories.
// Directories are checked in order; first match wins.
func NewLoader(overrideDirs ...string) *Loader {
	var dirs []string
	for _, d := range overrideDirs {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return &Loader{
		overrideDirs: dirs,
		cache:        make(map[string]*template.Template),
		metaCache:    make(map[string]*TemplateMeta),
	}
}

// DefaultLoader creates a loader that checks configDir first and then
// ~/.config/llm-arena/prompts/.
func DefaultLoader(configDir string) *Loader {
	home, _ := os.UserHomeDir()
	return NewLoader(configDir, filepath.Join(home, ".config", "llm-arena", "prompts"))
}

// loadContent loads raw content from override dirs or embedded FS.
func (l *Loader) loadContent(path string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, path)); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, path)
}

// parseFrontmatter splits content into frontmatter and body.
func parseFrontmatter(content []byte) (*TemplateMeta, string, error) {
	str := strings.ReplaceAll(string(content), "\r\n", "\n")

	if !strings.HasPrefix(str, "---\n") {
		return nil, str, nil
	}

	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return nil, str, nil // Malformed, treat as no frontmatter
	}

	frontmatter := str[4 : 4+end]
	body := str[4+end+5:]

	var meta TemplateMeta
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}

	return &meta, body, nil
}

// LoadTemplate loads and parses a template by path (e.g., "repotest/retry.md").
func (l *Loader) LoadTemplate(path string) (*template.Template, *TemplateMeta, error) {
	l.mu.RLock()
	if tmpl, ok := l.cache[path]; ok {
		meta := l.metaCache[path]
		l.mu.RUnlock()
		return tmpl, meta, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", path, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}

	tmpl, err := template.New(path).Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, nil, fmt.Errorf("compile template %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = tmpl
	l.metaCache[path] = meta
	l.mu.Unlock()

	return tmpl, meta, nil
}

// Execute loads and executes a template with the given data.
func (l *Loader) Execute(path string, data any) (string, error) {
	tmpl, _, err := l.LoadTemplate(path)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", path, err)
	}

	return buf.String(), nil
}

// RetryData holds template variables for the retry prompt.
type RetryData struct {
	Prompt       string
	Passed       int
	Failed       int
	Total        int
	ExitCode     int
	Inconclusive bool
	Excerpt      string
}

// DirectSystemData holds template variables for the direct edit system prompt.
type DirectSystemData struct {
	FileTree    string
	SourceFiles string
}

// BuildRetryPrompt renders the prompt for iterations after the first.
func (l *Loader) BuildRetryPrompt(data RetryData) (string, error) {
	out, err := l.Execute(RetryTemplate, data)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

// BuildDirectSystemPrompt renders the system message for the direct tool.
func (l *Loader) BuildDirectSystemPrompt(data DirectSystemData) (string, error) {
	return l.Execute(DirectSystemTemplate, data)
}

// Global default loader (initialized lazily)
var (
	defaultLoader     *Loader
	defaultLoaderOnce sync.Once
)

// GetDefaultLoader returns the global default loader.
func GetDefaultLoader() *Loader {
	defaultLoaderOnce.Do(func() {
		if defaultLoader == nil {
			defaultLoader = DefaultLoader("")
		}
	})
	return defaultLoader
}

// SetDefaultLoader allows overriding the default loader.
func SetDefaultLoader(loader *Loader) {
	defaultLoader = loader
}
