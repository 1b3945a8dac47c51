// Package config loads the arena configuration from TOML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	OpenRouter    OpenRouterConfig    `toml:"openrouter"`
	Runner        RunnerConfig        `toml:"runner"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
	Telemetry     TelemetryConfig     `toml:"telemetry"`
	Schedule      ScheduleConfig      `toml:"schedule"`
}

// GeneralConfig holds file locations
type GeneralConfig struct {
	ScratchDir   string `toml:"scratch_dir"`
	DatabasePath string `toml:"database_path"`
	ToolsFile    string `toml:"tools_file"`
	PromptsDir   string `toml:"prompts_dir"`
}

// OpenRouterConfig holds LLM provider settings used by the direct tool
type OpenRouterConfig struct {
	BaseURL     string   `toml:"base_url"`
	Temperature float64  `toml:"temperature"`
	MaxTokens   int      `toml:"max_tokens"`
	Referer     string   `toml:"referer"`
	Title       string   `toml:"title"`
	Timeout     Duration `toml:"timeout"`
}

// RunnerConfig bounds benchmark runs
type RunnerConfig struct {
	MaxOutput    int      `toml:"max_output"`
	RetryExcerpt int      `toml:"retry_excerpt"`
	ToolExcerpt  int      `toml:"tool_excerpt"`
	ContextFiles int      `toml:"context_files"`
	ContextLines int      `toml:"context_lines"`
	TreeDepth    int      `toml:"tree_depth"`
	CloneDepth   int      `toml:"clone_depth"`
	SkipInstall  bool     `toml:"skip_install"`
	MaxParallel  int      `toml:"max_parallel"`
	StepTimeout  Duration `toml:"step_timeout"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds API server settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// TelemetryConfig configures OTLP export; an empty endpoint disables it
type TelemetryConfig struct {
	Endpoint    string `toml:"endpoint"`
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
}

// ScheduleConfig points at the scheduled suites file
type ScheduleConfig struct {
	Enabled    bool   `toml:"enabled"`
	SuitesFile string `toml:"suites_file"`
}

// Duration is a time.Duration written as a Go duration string ("90s", "10m")
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" || s == "0" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".llm-arena")
	return &Config{
		General: GeneralConfig{
			ScratchDir:   filepath.Join(os.TempDir(), "llm-arena-repos"),
			DatabasePath: filepath.Join(base, "arena.db"),
		},
		OpenRouter: OpenRouterConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			Temperature: 0.2,
			MaxTokens:   4096,
			Referer:     "https://github.com/marvijo-code/ultimate-llm-arena",
			Title:       "Ultimate LLM Arena",
			Timeout:     Duration{5 * time.Minute},
		},
		Runner: RunnerConfig{
			MaxOutput:    50000,
			RetryExcerpt: 4000,
			ToolExcerpt:  2000,
			ContextFiles: 10,
			ContextLines: 200,
			TreeDepth:    3,
			CloneDepth:   50,
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "llm-arena",
		},
		Schedule: ScheduleConfig{
			SuitesFile: filepath.Join(base, "suites.toml"),
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandPaths()
	return cfg, nil
}

func (c *Config) expandPaths() {
	c.General.ScratchDir = ExpandPath(c.General.ScratchDir)
	c.General.DatabasePath = ExpandPath(c.General.DatabasePath)
	c.General.ToolsFile = ExpandPath(c.General.ToolsFile)
	c.General.PromptsDir = ExpandPath(c.General.PromptsDir)
	c.Schedule.SuitesFile = ExpandPath(c.Schedule.SuitesFile)
}

// ApplyEnv overrides file settings with environment variables
func (c *Config) ApplyEnv() {
	c.General.ScratchDir = envStr("ARENA_SCRATCH_DIR", c.General.ScratchDir)
	c.General.DatabasePath = envStr("ARENA_DB_PATH", c.General.DatabasePath)
	c.General.ToolsFile = envStr("ARENA_TOOLS_FILE", c.General.ToolsFile)
	c.General.PromptsDir = envStr("ARENA_PROMPTS_DIR", c.General.PromptsDir)

	c.OpenRouter.BaseURL = envStr("OPENROUTER_BASE_URL", c.OpenRouter.BaseURL)

	c.Runner.MaxParallel = envInt("ARENA_MAX_PARALLEL", c.Runner.MaxParallel)
	c.Runner.StepTimeout.Duration = envDuration("ARENA_STEP_TIMEOUT", c.Runner.StepTimeout.Duration)

	c.Notifications.SlackWebhook = envStr("SLACK_WEBHOOK_URL", c.Notifications.SlackWebhook)

	c.Web.Host = envStr("ARENA_WEB_HOST", c.Web.Host)
	c.Web.Port = envInt("ARENA_WEB_PORT", c.Web.Port)

	c.Telemetry.Endpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.Endpoint)
	c.Telemetry.Insecure = envBool("OTEL_EXPORTER_OTLP_INSECURE", c.Telemetry.Insecure)

	c.expandPaths()
}

// Validate checks for invalid configuration values.
func (c *Config) Validate() error {
	var errs []error
	if c.General.ScratchDir == "" {
		errs = append(errs, errors.New("config: general.scratch_dir is required"))
	}
	if c.General.DatabasePath == "" {
		errs = append(errs, errors.New("config: general.database_path is required"))
	}
	if c.OpenRouter.BaseURL == "" {
		errs = append(errs, errors.New("config: openrouter.base_url is required"))
	}
	if c.OpenRouter.Temperature < 0 || c.OpenRouter.Temperature > 2 {
		errs = append(errs, fmt.Errorf("config: openrouter.temperature must be within [0, 2], got %v", c.OpenRouter.Temperature))
	}
	for name, v := range map[string]int{
		"openrouter.max_tokens": c.OpenRouter.MaxTokens,
		"runner.max_output":     c.Runner.MaxOutput,
		"runner.retry_excerpt":  c.Runner.RetryExcerpt,
		"runner.tool_excerpt":   c.Runner.ToolExcerpt,
		"runner.context_files":  c.Runner.ContextFiles,
		"runner.context_lines":  c.Runner.ContextLines,
		"runner.tree_depth":     c.Runner.TreeDepth,
		"runner.clone_depth":    c.Runner.CloneDepth,
		"runner.max_parallel":   c.Runner.MaxParallel,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("config: %s must be non-negative, got %d", name, v))
		}
	}
	if c.Runner.StepTimeout.Duration < 0 {
		errs = append(errs, errors.New("config: runner.step_timeout must be non-negative"))
	}
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: web.port must be within [1, 65535], got %d", c.Web.Port))
	}
	if c.Schedule.Enabled && c.Schedule.SuitesFile == "" {
		errs = append(errs, errors.New("config: schedule.suites_file is required when the schedule is enabled"))
	}
	return errors.Join(errs...)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "llm-arena", "config.toml")
}

// ConfigDir returns the directory holding the config file
func ConfigDir() string {
	return filepath.Dir(DefaultConfigPath())
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
