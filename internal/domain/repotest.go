package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRequest is returned when a request is missing required fields
var ErrInvalidRequest = errors.New("invalid request")

// RepoTestRequest describes one benchmark: which repo to clone, what to ask
// the tool to do, and how to check the result.
type RepoTestRequest struct {
	RepoURL     string `json:"repo_url"`
	Ref         string `json:"ref"`
	Prompt      string `json:"prompt"`
	TestCommand string `json:"test_command"`
	Tool        string `json:"tool"`
	Model       string `json:"model"`
}

// Validate checks that all fields are present
func (r RepoTestRequest) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"repo_url", r.RepoURL},
		{"ref", r.Ref},
		{"prompt", r.Prompt},
		{"test_command", r.TestCommand},
		{"tool", r.Tool},
		{"model", r.Model},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// TestCounts is the parsed summary of a test run
type TestCounts struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// Unknown reports the all-zero sentinel used when no known summary was found
func (c TestCounts) Unknown() bool {
	return c.Passed == 0 && c.Failed == 0 && c.Total == 0
}

// PassRate returns passed/total, or 0 when nothing was counted
func (c TestCounts) PassRate() float64 {
	if c.Total <= 0 {
		return 0
	}
	return float64(c.Passed) / float64(c.Total)
}

// IterationResult is the immutable record of one tool+test attempt
type IterationResult struct {
	Iteration      int    `json:"iteration"`
	ToolOutput     string `json:"tool_output"`
	TestExitCode   int    `json:"test_exit_code"`
	TestStdout     string `json:"test_stdout"`
	TestStderr     string `json:"test_stderr"`
	TestsPassed    int    `json:"tests_passed"`
	TestsFailed    int    `json:"tests_failed"`
	TestsTotal     int    `json:"tests_total"`
	DurationMS     int64  `json:"duration_ms"`
	ToolDurationMS int64  `json:"tool_duration_ms"`
	TestDurationMS int64  `json:"test_duration_ms"`
}

// Counts returns the parsed counts of the iteration
func (it IterationResult) Counts() TestCounts {
	return TestCounts{Passed: it.TestsPassed, Failed: it.TestsFailed, Total: it.TestsTotal}
}

// AllPassed reports the early-stop condition: clean exit and no failures
func (it IterationResult) AllPassed() bool {
	return it.TestExitCode == 0 && it.TestsFailed == 0
}

// RepoTestResult is the final record of a run
type RepoTestResult struct {
	RunID            int64             `json:"run_id"`
	RepoURL          string            `json:"repo_url"`
	Ref              string            `json:"ref"`
	Prompt           string            `json:"prompt"`
	TestCommand      string            `json:"test_command"`
	Tool             string            `json:"tool"`
	Model            string            `json:"model"`
	Status           RunStatus         `json:"status"`
	Iterations       []IterationResult `json:"iterations"`
	CloneDurationMS  int64             `json:"clone_duration_ms"`
	TotalDurationMS  int64             `json:"total_duration_ms"`
	FinalTestsPassed int               `json:"final_tests_passed"`
	FinalTestsFailed int               `json:"final_tests_failed"`
	FinalTestsTotal  int               `json:"final_tests_total"`
	Error            string            `json:"error,omitempty"`
}

// ClassifyStatus derives the terminal status from the last iteration:
// success on a clean exit with no failures, partial when anything passed,
// fail otherwise.
func ClassifyStatus(last IterationResult) RunStatus {
	switch {
	case last.AllPassed():
		return RunSuccess
	case last.TestsPassed > 0:
		return RunPartial
	default:
		return RunFail
	}
}

// RunRecord is a persisted run as stored in the run log
type RunRecord struct {
	ID              int64             `json:"id"`
	BatchID         string            `json:"batch_id,omitempty"`
	RepoURL         string            `json:"repo_url"`
	Ref             string            `json:"ref"`
	Prompt          string            `json:"prompt"`
	TestCommand     string            `json:"test_command"`
	Tool            string            `json:"tool"`
	Model           string            `json:"model"`
	Status          RunStatus         `json:"status"`
	CloneDurationMS int64             `json:"clone_duration_ms"`
	ToolDurationMS  int64             `json:"tool_duration_ms"`
	TestDurationMS  int64             `json:"test_duration_ms"`
	TotalDurationMS int64             `json:"total_duration_ms"`
	TestsPassed     int               `json:"tests_passed"`
	TestsFailed     int               `json:"tests_failed"`
	TestsTotal      int               `json:"tests_total"`
	TestOutput      string            `json:"test_output,omitempty"`
	ToolOutput      string            `json:"tool_output,omitempty"`
	Iterations      []IterationResult `json:"iterations,omitempty"`
	Error           string            `json:"error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// RunUpdate carries a partial update of a run record. Nil fields are left untouched.
type RunUpdate struct {
	Status          *RunStatus
	CloneDurationMS *int64
	ToolDurationMS  *int64
	TestDurationMS  *int64
	TotalDurationMS *int64
	TestsPassed     *int
	TestsFailed     *int
	TestsTotal      *int
	TestOutput      *string
	ToolOutput      *string
	Iterations      []IterationResult
	Error           *string
}

// Ptr returns a pointer to v, for building RunUpdate values
func Ptr[T any](v T) *T {
	return &v
}
