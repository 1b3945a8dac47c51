package tools

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
	"github.com/marvijo-code/ultimate-llm-arena/internal/procgroup"
)

// PromptFileName is written into the workspace for tools that read the task from a file
const PromptFileName = ".llm-arena-prompt.md"

// CommandInvoker runs an external coding agent CLI in the workspace
type CommandInvoker struct {
	tool        domain.CodingTool
	credentials CredentialSource
	baseURL     string
	logger      *slog.Logger
}

// NewCommandInvoker creates an invoker for a command-template tool
func NewCommandInvoker(tool domain.CodingTool, creds CredentialSource, providerBaseURL string, logger *slog.Logger) *CommandInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandInvoker{
		tool:        tool,
		credentials: creds,
		baseURL:     providerBaseURL,
		logger:      logger,
	}
}

// Invoke writes the prompt file, runs the tool and returns stdout followed by
// any stderr. A non-zero exit is reported through the output; a process that
// cannot be launched yields an embedded error string.
func (c *CommandInvoker) Invoke(ctx context.Context, inv Invocation) (string, error) {
	if len(c.tool.Command) == 0 {
		return "", &InvocationError{Tool: c.tool.ID, Err: errors.New("empty command template")}
	}

	promptFile := filepath.Join(inv.Workdir, PromptFileName)
	if err := os.WriteFile(promptFile, []byte(inv.Prompt), 0644); err != nil {
		return ExecutionErrorText(err), nil
	}
	defer os.Remove(promptFile)

	args := ExpandCommand(c.tool.Command, map[string]string{
		domain.PlaceholderModel:         inv.Model,
		domain.PlaceholderPromptFile:    promptFile,
		domain.PlaceholderPromptContent: inv.Prompt,
		domain.PlaceholderWorkdir:       inv.Workdir,
	})

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = inv.Workdir
	cmd.Env = c.environment(ctx)
	procgroup.Configure(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil && ctx.Err() != nil {
		return combineOutput(stdout.String(), stderr.String()), ctx.Err()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		c.logger.Warn("tool failed to launch", "tool", c.tool.ID, "error", err)
		return ExecutionErrorText(err), nil
	}

	return combineOutput(stdout.String(), stderr.String()), nil
}

// environment is the process env plus static tool vars and the API key
func (c *CommandInvoker) environment(ctx context.Context) []string {
	env := os.Environ()
	for k, v := range c.tool.Env {
		env = append(env, k+"="+v)
	}

	if c.tool.APIKeyEnv == "" || c.credentials == nil {
		return env
	}
	key, err := c.credentials.GetCredential(ctx, c.tool.CredentialKey, c.tool.CredentialProvider)
	if err != nil {
		c.logger.Warn("credential lookup failed", "tool", c.tool.ID, "key", c.tool.CredentialKey, "error", err)
		return env
	}
	if key == "" {
		return env
	}

	env = append(env, c.tool.APIKeyEnv+"="+key)
	if c.tool.OpenAICompatible && c.baseURL != "" {
		env = append(env, "OPENAI_API_BASE="+c.baseURL, "OPENAI_API_KEY="+key)
	}
	return env
}

// ExpandCommand substitutes placeholders in every argument of a command template
func ExpandCommand(template []string, values map[string]string) []string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, k, v)
	}
	r := strings.NewReplacer(pairs...)

	out := make([]string, len(template))
	for i, arg := range template {
		out[i] = r.Replace(arg)
	}
	return out
}

func combineOutput(stdout, stderr string) string {
	if stderr == "" {
		return stdout
	}
	return stdout + "\n[STDERR]\n" + stderr
}
