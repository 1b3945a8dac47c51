package domain

import (
	"fmt"
	"strings"
)

// BatchRequest runs the same task against several models
type BatchRequest struct {
	RepoURL     string   `json:"repo_url"`
	Ref         string   `json:"ref"`
	Prompt      string   `json:"prompt"`
	TestCommand string   `json:"test_command"`
	Tool        string   `json:"tool"`
	Models      []string `json:"models"`
}

// Normalized trims model ids and drops duplicates, keeping first occurrence order
func (b BatchRequest) Normalized() BatchRequest {
	seen := make(map[string]bool, len(b.Models))
	models := make([]string, 0, len(b.Models))
	for _, m := range b.Models {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		models = append(models, m)
	}
	b.Models = models
	return b
}

// Validate checks the shared fields and that every model id is set
func (b BatchRequest) Validate() error {
	if len(b.Models) == 0 {
		return fmt.Errorf("%w: models must not be empty", ErrInvalidRequest)
	}
	for i, m := range b.Models {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("%w: models[%d] is empty", ErrInvalidRequest, i)
		}
	}
	return b.ForModel(b.Models[0]).Validate()
}

// ForModel returns the single-run request for one model
func (b BatchRequest) ForModel(model string) RepoTestRequest {
	return RepoTestRequest{
		RepoURL:     b.RepoURL,
		Ref:         b.Ref,
		Prompt:      b.Prompt,
		TestCommand: b.TestCommand,
		Tool:        b.Tool,
		Model:       model,
	}
}

// LeaderboardEntry is one ranked row derived from a model outcome
type LeaderboardEntry struct {
	Rank        int       `json:"rank"`
	Model       string    `json:"model"`
	Status      RunStatus `json:"status"`
	TestsPassed int       `json:"tests_passed"`
	TestsFailed int       `json:"tests_failed"`
	TestsTotal  int       `json:"tests_total"`
	DurationMS  int64     `json:"duration_ms"`
	Iterations  int       `json:"iterations"`
	Error       string    `json:"error,omitempty"`
	RunID       int64     `json:"run_id,omitempty"`
}

// PassRate returns passed/total, 0 when total is 0
func (e LeaderboardEntry) PassRate() float64 {
	return TestCounts{Passed: e.TestsPassed, Failed: e.TestsFailed, Total: e.TestsTotal}.PassRate()
}

// ModelOutcome is what one model's run produced: a result or an error
type ModelOutcome struct {
	Model  string          `json:"model"`
	RunID  int64           `json:"run_id,omitempty"`
	Result *RepoTestResult `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// BatchResult is the aggregate of a finished batch
type BatchResult struct {
	BatchID     string             `json:"batch_id"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	Results     []ModelOutcome     `json:"results"`
	DurationMS  int64              `json:"duration_ms"`
}

// Winner returns the top leaderboard entry unless every model errored
func (r BatchResult) Winner() (LeaderboardEntry, bool) {
	if len(r.Leaderboard) == 0 || r.Leaderboard[0].Status == RunError {
		return LeaderboardEntry{}, false
	}
	return r.Leaderboard[0], true
}
