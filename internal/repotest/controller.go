// Package repotest drives benchmark runs: clone a repository, let a coding
// tool work on it, run the tests, retry once with the failure output, and
// classify the outcome.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
	"github.com/marvijo-code/ultimate-llm-arena/internal/prompts"
	"github.com/marvijo-code/ultimate-llm-arena/internal/telemetry"
	"github.com/marvijo-code/ultimate-llm-arena/internal/testrun"
	"github.com/marvijo-code/ultimate-llm-arena/internal/tools"
)

// ErrUnknownTool is returned when the request names a tool that is not registered
var ErrUnknownTool = errors.New("unknown tool")

const (
	DefaultMaxIterations = 2
	DefaultRetryExcerpt  = 4000
	DefaultToolExcerpt   = 2000
	DefaultHistoryLimit  = 50
)

// RunStore persists run records
type RunStore interface {
	CreateRun(ctx context.Context, req domain.RepoTestRequest, batchID string) (int64, error)
	UpdateRun(ctx context.Context, id int64, u domain.RunUpdate) error
	GetRun(ctx context.Context, id int64) (*domain.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error)
}

// Workspace prepares and removes per-run checkouts
type Workspace interface {
	Prepare(ctx context.Context, repoURL, ref string) (string, error)
	Dispose(path string)
}

// TestRunner executes the test command in a workspace
type TestRunner interface {
	Run(ctx context.Context, command, dir string) (testrun.Result, error)
}

// Options tunes a Controller. Zero values select the defaults.
type Options struct {
	MaxIterations int
	RetryExcerpt  int
	ToolExcerpt   int
	// StepTimeout bounds each tool invocation and test run; 0 disables it
	StepTimeout time.Duration
	Prompts     *prompts.Loader
	Logger      *slog.Logger
}

// RunError is returned when a run ends in the error state after its record
// was created. It unwraps to the cause.
type RunError struct {
	RunID int64
	Err   error
}

func (e *RunError) Error() string { return e.Err.Error() }

func (e *RunError) Unwrap() error { return e.Err }

// Controller runs single benchmark requests
type Controller struct {
	tools     *tools.Registry
	workspace Workspace
	tests     TestRunner
	store     RunStore
	opts      Options
	logger    *slog.Logger

	tracer      trace.Tracer
	runCounter  metric.Int64Counter
	runDuration metric.Float64Histogram
}

// NewController wires a controller from its collaborators
func NewController(registry *tools.Registry, ws Workspace, tests TestRunner, store RunStore, opts Options) *Controller {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.RetryExcerpt <= 0 {
		opts.RetryExcerpt = DefaultRetryExcerpt
	}
	if opts.ToolExcerpt <= 0 {
		opts.ToolExcerpt = DefaultToolExcerpt
	}
	if opts.Prompts == nil {
		opts.Prompts = prompts.GetDefaultLoader()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		tools:     registry,
		workspace: ws,
		tests:     tests,
		store:     store,
		opts:      opts,
		logger:    logger,
		tracer:    telemetry.Tracer(),
	}

	meter := telemetry.Meter()
	var err error
	if c.runCounter, err = meter.Int64Counter("arena.runs",
		metric.WithDescription("Finished benchmark runs by status")); err != nil {
		logger.Warn("creating run counter", "error", err)
	}
	if c.runDuration, err = meter.Float64Histogram("arena.run.duration",
		metric.WithDescription("Benchmark run wall time"), metric.WithUnit("ms")); err != nil {
		logger.Warn("creating run duration histogram", "error", err)
	}
	return c
}

// ListTools returns the registered tool definitions
func (c *Controller) ListTools() []domain.CodingTool {
	return c.tools.List()
}

// History returns recent runs, newest first
func (c *Controller) History(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return c.store.ListRuns(ctx, limit)
}

// GetRun returns one run record, or nil when it does not exist
func (c *Controller) GetRun(ctx context.Context, id int64) (*domain.RunRecord, error) {
	return c.store.GetRun(ctx, id)
}

// Run executes one benchmark request and reports progress through onProgress
func (c *Controller) Run(ctx context.Context, req domain.RepoTestRequest, onProgress domain.ProgressFunc) (*domain.RepoTestResult, error) {
	return c.run(ctx, req, "", onProgress)
}

// run is the per-run state machine. batchID tags the record for leaderboards.
func (c *Controller) run(ctx context.Context, req domain.RepoTestRequest, batchID string, emit domain.ProgressFunc) (*domain.RepoTestResult, error) {
	totalStart := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	entry, ok := c.tools.Lookup(req.Tool)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, req.Tool)
	}

	ctx, span := c.tracer.Start(ctx, "repotest.run", trace.WithAttributes(
		attribute.String("arena.tool", req.Tool),
		attribute.String("arena.model", req.Model),
	))
	defer span.End()

	runID, err := c.store.CreateRun(ctx, req, batchID)
	if err != nil {
		return nil, fmt.Errorf("creating run record: %w", err)
	}
	span.SetAttributes(attribute.Int64("arena.run_id", runID))
	log := c.logger.With("run_id", runID, "tool", req.Tool, "model", req.Model)

	emit.Emit(domain.ProgressEvent{Type: domain.EventStatus, Message: "Starting repo test run..."})

	fail := func(cause error) (*domain.RepoTestResult, error) {
		msg := cause.Error()
		total := time.Since(totalStart).Milliseconds()
		// the record must reach a terminal state even when ctx was cancelled
		if err := c.store.UpdateRun(context.WithoutCancel(ctx), runID, domain.RunUpdate{
			Status:          domain.Ptr(domain.RunError),
			Error:           &msg,
			TotalDurationMS: &total,
		}); err != nil {
			log.Error("persisting failed run", "error", err)
		}
		log.Warn("run errored", "error", cause)
		span.RecordError(cause)
		span.SetStatus(codes.Error, msg)
		c.record(ctx, domain.RunError, total)
		emit.Emit(domain.ProgressEvent{Type: domain.EventError, Message: msg})
		return nil, &RunError{RunID: runID, Err: cause}
	}

	if pf, ok := entry.Invoker.(tools.Preflighter); ok {
		if err := pf.Preflight(ctx); err != nil {
			return fail(err)
		}
	}

	emit.Emit(domain.ProgressEvent{Type: domain.EventClone, Message: fmt.Sprintf("Cloning %s...", req.RepoURL)})
	cloneStart := time.Now()
	workdir, err := c.workspace.Prepare(ctx, req.RepoURL, req.Ref)
	if err != nil {
		return fail(err)
	}
	defer c.workspace.Dispose(workdir)

	cloneMS := time.Since(cloneStart).Milliseconds()
	emit.Emit(domain.ProgressEvent{
		Type:    domain.EventClone,
		Message: fmt.Sprintf("Cloned in %dms", cloneMS),
		Data:    map[string]int64{"duration_ms": cloneMS},
	})
	if err := c.store.UpdateRun(ctx, runID, domain.RunUpdate{CloneDurationMS: &cloneMS}); err != nil {
		return fail(err)
	}
	log.Debug("workspace ready", "dir", workdir, "clone_ms", cloneMS)

	var iterations []domain.IterationResult
	for i := 1; i <= c.opts.MaxIterations; i++ {
		emit.Emit(domain.ProgressEvent{
			Type:    domain.EventIterationStart,
			Message: fmt.Sprintf("Iteration %d/%d", i, c.opts.MaxIterations),
			Data:    map[string]int{"iteration": i},
		})

		prompt := req.Prompt
		if i > 1 {
			prompt, err = c.retryPrompt(req.Prompt, iterations[len(iterations)-1])
			if err != nil {
				return fail(err)
			}
		}

		it, err := c.iterate(ctx, i, entry, req, prompt, workdir, emit, log)
		if err != nil {
			return fail(err)
		}
		iterations = append(iterations, it)

		if it.AllPassed() {
			emit.Emit(domain.ProgressEvent{Type: domain.EventStatus, Message: "All tests passed!"})
			break
		}
		if i == c.opts.MaxIterations {
			emit.Emit(domain.ProgressEvent{
				Type:    domain.EventStatus,
				Message: fmt.Sprintf("Tests still failing after %d iterations", c.opts.MaxIterations),
			})
		}
	}

	last := iterations[len(iterations)-1]
	status := domain.ClassifyStatus(last)
	totalMS := time.Since(totalStart).Milliseconds()

	var toolMS, testMS int64
	blocks := make([]string, 0, len(iterations))
	for _, it := range iterations {
		toolMS += it.ToolDurationMS
		testMS += it.TestDurationMS
		blocks = append(blocks, fmt.Sprintf("--- Iteration %d ---\n%s", it.Iteration, it.ToolOutput))
	}

	if err := c.store.UpdateRun(ctx, runID, domain.RunUpdate{
		Status:          &status,
		ToolDurationMS:  &toolMS,
		TestDurationMS:  &testMS,
		TotalDurationMS: &totalMS,
		TestsPassed:     &last.TestsPassed,
		TestsFailed:     &last.TestsFailed,
		TestsTotal:      &last.TestsTotal,
		TestOutput:      domain.Ptr(last.TestStdout + "\n" + last.TestStderr),
		ToolOutput:      domain.Ptr(strings.Join(blocks, "\n\n")),
		Iterations:      iterations,
	}); err != nil {
		return fail(err)
	}

	result := &domain.RepoTestResult{
		RunID:            runID,
		RepoURL:          req.RepoURL,
		Ref:              req.Ref,
		Prompt:           req.Prompt,
		TestCommand:      req.TestCommand,
		Tool:             req.Tool,
		Model:            req.Model,
		Status:           status,
		Iterations:       iterations,
		CloneDurationMS:  cloneMS,
		TotalDurationMS:  totalMS,
		FinalTestsPassed: last.TestsPassed,
		FinalTestsFailed: last.TestsFailed,
		FinalTestsTotal:  last.TestsTotal,
	}

	span.SetAttributes(attribute.String("arena.status", string(status)))
	c.record(ctx, status, totalMS)
	log.Info("run complete", "status", status, "iterations", len(iterations),
		"passed", last.TestsPassed, "total", last.TestsTotal, "duration_ms", totalMS)

	emit.Emit(domain.ProgressEvent{Type: domain.EventComplete, Message: "Run complete", Data: result})
	return result, nil
}

// iterate performs one tool invocation followed by one test run
func (c *Controller) iterate(
	ctx context.Context,
	i int,
	entry tools.Entry,
	req domain.RepoTestRequest,
	prompt, workdir string,
	emit domain.ProgressFunc,
	log *slog.Logger,
) (domain.IterationResult, error) {
	ctx, span := c.tracer.Start(ctx, "repotest.iteration", trace.WithAttributes(attribute.Int("arena.iteration", i)))
	defer span.End()

	iterStart := time.Now()
	log = log.With("iteration", i)

	toolCtx, cancel := c.stepContext(ctx)
	output, err := entry.Invoker.Invoke(toolCtx, tools.Invocation{Model: req.Model, Prompt: prompt, Workdir: workdir})
	timedOut := errors.Is(toolCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()
	if err != nil {
		var invErr *tools.InvocationError
		switch {
		case errors.As(err, &invErr):
			log.Warn("tool invocation failed", "error", err)
			output = appendTranscript(output, tools.ExecutionErrorText(invErr.Err))
		case timedOut:
			log.Warn("tool timed out", "timeout", c.opts.StepTimeout)
			output = appendTranscript(output, tools.ExecutionErrorText(fmt.Errorf("timed out after %s", c.opts.StepTimeout)))
		default:
			return domain.IterationResult{}, err
		}
	}
	toolMS := time.Since(iterStart).Milliseconds()

	emit.Emit(domain.ProgressEvent{
		Type:    domain.EventToolOutput,
		Message: fmt.Sprintf("Tool output (iteration %d)", i),
		Data:    map[string]any{"iteration": i, "output": excerpt(output, c.opts.ToolExcerpt)},
	})
	emit.Emit(domain.ProgressEvent{Type: domain.EventStatus, Message: fmt.Sprintf("Running tests (iteration %d)...", i)})

	testCtx, cancel := c.stepContext(ctx)
	res, err := c.tests.Run(testCtx, req.TestCommand, workdir)
	timedOut = errors.Is(testCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()
	if err != nil {
		if !timedOut {
			return domain.IterationResult{}, err
		}
		log.Warn("test command timed out", "timeout", c.opts.StepTimeout)
		res = testrun.Result{
			ExitCode: -1,
			Stdout:   res.Stdout,
			Stderr:   appendTranscript(res.Stderr, fmt.Sprintf("test command timed out after %s", c.opts.StepTimeout)),
			Counts:   res.Counts,
		}
	}

	it := domain.IterationResult{
		Iteration:      i,
		ToolOutput:     output,
		TestExitCode:   res.ExitCode,
		TestStdout:     res.Stdout,
		TestStderr:     res.Stderr,
		TestsPassed:    res.Counts.Passed,
		TestsFailed:    res.Counts.Failed,
		TestsTotal:     res.Counts.Total,
		DurationMS:     time.Since(iterStart).Milliseconds(),
		ToolDurationMS: toolMS,
	}
	it.TestDurationMS = it.DurationMS - toolMS

	span.SetAttributes(
		attribute.Int("arena.tests_passed", it.TestsPassed),
		attribute.Int("arena.tests_failed", it.TestsFailed),
		attribute.Int("arena.test_exit_code", it.TestExitCode),
	)
	log.Debug("iteration finished", "exit_code", it.TestExitCode, "framework", res.Framework,
		"passed", it.TestsPassed, "failed", it.TestsFailed, "total", it.TestsTotal)

	emit.Emit(domain.ProgressEvent{
		Type:    domain.EventTestResult,
		Message: fmt.Sprintf("Iteration %d: %d/%d tests passed", i, it.TestsPassed, it.TestsTotal),
		Data:    it,
	})
	return it, nil
}

// retryPrompt adds the previous attempt's counts and failure output to the
// task. Test sources are never included.
func (c *Controller) retryPrompt(task string, prev domain.IterationResult) (string, error) {
	out := prev.TestStderr
	if out == "" {
		out = prev.TestStdout
	}
	return c.opts.Prompts.BuildRetryPrompt(prompts.RetryData{
		Prompt:       task,
		Passed:       prev.TestsPassed,
		Failed:       prev.TestsFailed,
		Total:        prev.TestsTotal,
		ExitCode:     prev.TestExitCode,
		Inconclusive: prev.Counts().Unknown(),
		Excerpt:      excerpt(out, c.opts.RetryExcerpt),
	})
}

func (c *Controller) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.StepTimeout > 0 {
		return context.WithTimeout(ctx, c.opts.StepTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Controller) record(ctx context.Context, status domain.RunStatus, totalMS int64) {
	attrs := metric.WithAttributes(attribute.String("status", string(status)))
	if c.runCounter != nil {
		c.runCounter.Add(ctx, 1, attrs)
	}
	if c.runDuration != nil {
		c.runDuration.Record(ctx, float64(totalMS), attrs)
	}
}

func appendTranscript(output, line string) string {
	if output == "" {
		return line
	}
	return output + "\n" + line
}

// excerpt returns at most limit bytes of s without splitting a rune
func excerpt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
