// Package schedule runs benchmark suites on cron schedules.
package schedule

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
)

// Suite is a batch benchmark that runs on a cron schedule
type Suite struct {
	Name        string   `toml:"name"`
	Cron        string   `toml:"cron"`
	RepoURL     string   `toml:"repo_url"`
	Ref         string   `toml:"ref"`
	Prompt      string   `toml:"prompt"`
	TestCommand string   `toml:"test_command"`
	Tool        string   `toml:"tool"`
	Models      []string `toml:"models"`
	Notify      bool     `toml:"notify"`
}

// SuitesFile is the on-disk layout: a list of [[suite]] tables
type SuitesFile struct {
	Suites []Suite `toml:"suite"`
}

// BatchRequest returns the batch the suite runs
func (s Suite) BatchRequest() domain.BatchRequest {
	return domain.BatchRequest{
		RepoURL:     s.RepoURL,
		Ref:         s.Ref,
		Prompt:      s.Prompt,
		TestCommand: s.TestCommand,
		Tool:        s.Tool,
		Models:      s.Models,
	}.Normalized()
}

// Validate checks if the suite is runnable
func (s Suite) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("suite name is required")
	}
	if s.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(s.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return s.BatchRequest().Validate()
}

// LoadSuites reads suites from a TOML file. A missing file yields no suites.
func LoadSuites(path string) ([]Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var file SuitesFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Suites))
	for i, s := range file.Suites {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("suite %d: %w", i, err)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("suite %d: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
	}

	return file.Suites, nil
}
