package tools

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
)

//go:embed builtin/tools.yaml
var builtinFS embed.FS

const (
	// DefaultCredentialKey is the stored key used when a definition names none
	DefaultCredentialKey = "OPENROUTER_API_KEY"
	// DefaultCredentialProvider is the provider label paired with DefaultCredentialKey
	DefaultCredentialProvider = "OpenRouter"
)

// tomlDefinitions is the layout of a .toml custom definitions file
type tomlDefinitions struct {
	Tools []domain.CodingTool `toml:"tool"`
}

// BuiltinDefinitions returns the embedded tool table
func BuiltinDefinitions() ([]domain.CodingTool, error) {
	payload, err := builtinFS.ReadFile("builtin/tools.yaml")
	if err != nil {
		return nil, fmt.Errorf("read builtin tool definitions: %w", err)
	}
	defs, err := parseDefinitions(payload, ".yaml")
	if err != nil {
		return nil, fmt.Errorf("parse builtin tool definitions: %w", err)
	}
	return defs, nil
}

// LoadDefinitions returns the builtin table merged with the definitions in
// customPath. Custom entries override builtin ones with the same id and new
// ids are appended. An empty or missing customPath yields the builtin table.
func LoadDefinitions(customPath string) ([]domain.CodingTool, error) {
	defs, err := BuiltinDefinitions()
	if err != nil {
		return nil, err
	}

	customPath = strings.TrimSpace(customPath)
	if customPath == "" {
		return defs, nil
	}

	payload, err := os.ReadFile(customPath)
	if err != nil {
		if os.IsNotExist(err) {
			return defs, nil
		}
		return nil, fmt.Errorf("read custom tool definitions %q: %w", customPath, err)
	}

	custom, err := parseDefinitions(payload, strings.ToLower(filepath.Ext(customPath)))
	if err != nil {
		return nil, fmt.Errorf("parse custom tool definitions %q: %w", customPath, err)
	}

	return mergeDefinitions(defs, custom), nil
}

func parseDefinitions(payload []byte, extension string) ([]domain.CodingTool, error) {
	if strings.TrimSpace(string(payload)) == "" {
		return nil, nil
	}

	var defs []domain.CodingTool
	switch extension {
	case ".toml":
		var doc tomlDefinitions
		if err := toml.Unmarshal(payload, &doc); err != nil {
			return nil, err
		}
		defs = doc.Tools
	case ".yaml", ".yml", ".json":
		if err := yaml.Unmarshal(payload, &defs); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported definitions format %q", extension)
	}

	seen := make(map[string]bool, len(defs))
	for i := range defs {
		defs[i] = normalizeDefinition(defs[i])
		if err := validateDefinition(defs[i]); err != nil {
			return nil, fmt.Errorf("tool %d: %w", i+1, err)
		}
		if seen[defs[i].ID] {
			return nil, fmt.Errorf("duplicate tool id %q", defs[i].ID)
		}
		seen[defs[i].ID] = true
	}
	return defs, nil
}

func normalizeDefinition(def domain.CodingTool) domain.CodingTool {
	def.ID = strings.ToLower(strings.TrimSpace(def.ID))
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		def.Name = def.ID
	}
	def.APIKeyEnv = strings.TrimSpace(def.APIKeyEnv)

	if def.APIKeyEnv != "" || def.IsDirect() {
		if def.CredentialKey == "" {
			def.CredentialKey = DefaultCredentialKey
		}
		if def.CredentialProvider == "" {
			def.CredentialProvider = DefaultCredentialProvider
		}
	}

	args := make([]string, 0, len(def.Command))
	for _, a := range def.Command {
		if a != "" {
			args = append(args, a)
		}
	}
	def.Command = args
	return def
}

func validateDefinition(def domain.CodingTool) error {
	if def.ID == "" {
		return fmt.Errorf("tool id is required")
	}
	if strings.ContainsAny(def.ID, " \t\n") {
		return fmt.Errorf("tool id %q must not contain whitespace", def.ID)
	}
	if def.OpenAICompatible && def.APIKeyEnv == "" {
		return fmt.Errorf("tool %q: openai_compatible requires api_key_env", def.ID)
	}
	return nil
}

func mergeDefinitions(base, overrides []domain.CodingTool) []domain.CodingTool {
	out := append([]domain.CodingTool(nil), base...)
	index := make(map[string]int, len(out))
	for i, def := range out {
		index[def.ID] = i
	}
	for _, def := range overrides {
		if i, ok := index[def.ID]; ok {
			out[i] = def
			continue
		}
		index[def.ID] = len(out)
		out = append(out, def)
	}
	return out
}
