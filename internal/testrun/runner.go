// Package testrun executes test commands in a workspace and parses their
// output into pass/fail counts.
package testrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
	"github.com/marvijo-code/ultimate-llm-arena/internal/procgroup"
)

// DefaultMaxOutput caps each captured stream
const DefaultMaxOutput = 50000

// Result holds the outcome of a single test command execution
type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Counts    domain.TestCounts
	Framework string
	Duration  time.Duration
}

// Runner runs shell test commands
type Runner struct {
	maxOutput int
	matchers  []Matcher
}

// NewRunner creates a Runner. maxOutput <= 0 uses DefaultMaxOutput.
func NewRunner(maxOutput int) *Runner {
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	return &Runner{maxOutput: maxOutput, matchers: DefaultMatchers}
}

// shellCommand returns the platform shell invocation for command
func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

// Run executes command in dir. A non-zero exit code is returned as data; only
// a failure to start the shell or a cancelled context produce an error. On
// cancellation the output captured so far is returned with the error.
func (r *Runner) Run(ctx context.Context, command, dir string) (Result, error) {
	start := time.Now()

	cmd := shellCommand(ctx, command)
	cmd.Dir = dir
	procgroup.Configure(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := Result{Duration: time.Since(start)}
	if err != nil {
		if ctx.Err() != nil {
			result.ExitCode = -1
			result.Framework, result.Counts = ParseWith(r.matchers, stdout.String()+"\n"+stderr.String())
			result.Stdout = Truncate(stdout.String(), r.maxOutput)
			result.Stderr = Truncate(stderr.String(), r.maxOutput)
			return result, fmt.Errorf("running tests: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result, fmt.Errorf("running tests: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	// Counts come from the full output; only the stored copies are capped.
	result.Framework, result.Counts = ParseWith(r.matchers, stdout.String()+"\n"+stderr.String())
	result.Stdout = Truncate(stdout.String(), r.maxOutput)
	result.Stderr = Truncate(stderr.String(), r.maxOutput)

	return result, nil
}

// Truncate cuts s to at most limit bytes plus a marker naming how much was dropped
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	omitted := uint64(len(s) - cut)
	return s[:cut] + fmt.Sprintf("\n[output truncated: %s omitted]", humanize.Bytes(omitted))
}
