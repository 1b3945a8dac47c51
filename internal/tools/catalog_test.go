package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinDefinitions(t *testing.T) {
	defs, err := BuiltinDefinitions()
	require.NoError(t, err)

	var ids []string
	for _, d := range defs {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"aider", "opencode", "claude-code", "copilot-cli", "openrouter-direct"}, ids)

	byID := make(map[string]int)
	for i, d := range defs {
		byID[d.ID] = i
	}

	aider := defs[byID["aider"]]
	assert.True(t, aider.OpenAICompatible)
	assert.Equal(t, "OPENROUTER_API_KEY", aider.APIKeyEnv)
	assert.Equal(t, DefaultCredentialKey, aider.CredentialKey)
	assert.Contains(t, aider.Command, "{prompt_file}")

	claude := defs[byID["claude-code"]]
	assert.Equal(t, "ANTHROPIC_API_KEY", claude.CredentialKey)
	assert.Equal(t, "Anthropic", claude.CredentialProvider)

	copilot := defs[byID["copilot-cli"]]
	assert.Empty(t, copilot.APIKeyEnv)
	assert.Empty(t, copilot.CredentialKey)

	direct := defs[byID["openrouter-direct"]]
	assert.True(t, direct.IsDirect())
	for _, d := range defs {
		if d.ID != "openrouter-direct" {
			assert.False(t, d.IsDirect(), d.ID)
		}
	}
}

func TestLoadDefinitions_MissingCustomFile(t *testing.T) {
	builtin, err := BuiltinDefinitions()
	require.NoError(t, err)

	defs, err := LoadDefinitions(filepath.Join(t.TempDir(), "tools.yaml"))
	require.NoError(t, err)
	assert.Equal(t, builtin, defs)

	defs, err = LoadDefinitions("")
	require.NoError(t, err)
	assert.Equal(t, builtin, defs)
}

func TestLoadDefinitions_YAMLOverrideAndAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- id: aider
  name: Aider (pinned)
  command: [aider, --model, "{model}", --message-file, "{prompt_file}"]
- id: Codex
  command: [codex, exec, "{prompt_content}"]
  env:
    CODEX_QUIET: "1"
`), 0644))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs, 6)

	assert.Equal(t, "aider", defs[0].ID)
	assert.Equal(t, "Aider (pinned)", defs[0].Name)
	assert.False(t, defs[0].OpenAICompatible, "override replaces the whole entry")

	last := defs[5]
	assert.Equal(t, "codex", last.ID)
	assert.Equal(t, "codex", last.Name)
	assert.Equal(t, map[string]string{"CODEX_QUIET": "1"}, last.Env)
}

func TestLoadDefinitions_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "goose", "name": "Goose", "command": ["goose", "run", "-t", "{prompt_content}"]}]`), 0644))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	assert.Equal(t, "goose", defs[len(defs)-1].ID)
	assert.Equal(t, []string{"goose", "run", "-t", "{prompt_content}"}, defs[len(defs)-1].Command)
}

func TestLoadDefinitions_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[tool]]
id = "cursor"
name = "Cursor Agent"
command = ["cursor-agent", "-p", "{prompt_content}"]
api_key_env = "CURSOR_API_KEY"
credential_key = "CURSOR_API_KEY"
credential_provider = "Cursor"
`), 0644))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	last := defs[len(defs)-1]
	assert.Equal(t, "cursor", last.ID)
	assert.Equal(t, "CURSOR_API_KEY", last.APIKeyEnv)
	assert.Equal(t, "Cursor", last.CredentialProvider)
}

func TestLoadDefinitions_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing id.yaml":   "- name: nothing\n  command: [x]\n",
		"duplicate.yaml":    "- id: a\n  command: [x]\n- id: a\n  command: [y]\n",
		"openai.yaml":       "- id: a\n  command: [x]\n  openai_compatible: true\n",
		"broken.json":       "[{",
		"unsupported.ini":   "id=a",
		"whitespace id.yml": "- id: has space\n  command: [x]\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err := LoadDefinitions(path)
			assert.Error(t, err)
		})
	}
}
