package domain

// Placeholders substituted into a tool's command template
const (
	PlaceholderModel         = "{model}"
	PlaceholderPromptFile    = "{prompt_file}"
	PlaceholderPromptContent = "{prompt_content}"
	PlaceholderWorkdir       = "{workdir}"
)

// CodingTool is a registry entry describing how to drive one coding agent.
// An empty Command marks the in-process direct tool.
type CodingTool struct {
	ID          string   `yaml:"id" json:"id" toml:"id"`
	Name        string   `yaml:"name" json:"name" toml:"name"`
	Description string   `yaml:"description" json:"description" toml:"description"`
	Command     []string `yaml:"command" json:"command" toml:"command"`
	APIKeyEnv   string   `yaml:"api_key_env" json:"apiKeyEnvVar,omitempty" toml:"api_key_env"`

	Env                map[string]string `yaml:"env" json:"env,omitempty" toml:"env"`
	CredentialKey      string            `yaml:"credential_key" json:"-" toml:"credential_key"`
	CredentialProvider string            `yaml:"credential_provider" json:"-" toml:"credential_provider"`
	OpenAICompatible   bool              `yaml:"openai_compatible" json:"openai_compatible,omitempty" toml:"openai_compatible"`
}

// IsDirect reports whether the tool is handled in-process
func (t CodingTool) IsDirect() bool {
	return len(t.Command) == 0
}
