package schedule

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RunFunc executes one suite
type RunFunc func(ctx context.Context, s Suite) error

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler decides which suites are due and runs them without overlap
type Scheduler struct {
	suites  map[string]Suite
	lastRun map[string]time.Time
	running map[string]bool
	started time.Time
	logger  *slog.Logger
	now     func() time.Time

	mu sync.RWMutex
	wg sync.WaitGroup
}

// NewScheduler creates a scheduler; suites become due from their first cron
// tick after creation.
func NewScheduler(suites []Suite, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		lastRun: make(map[string]time.Time),
		running: make(map[string]bool),
		logger:  logger,
		now:     time.Now,
	}
	s.started = s.now()
	if err := s.Replace(suites); err != nil {
		return nil, err
	}
	return s, nil
}

// Replace swaps in a new suite set. Run history of suites that keep their
// name is preserved.
func (s *Scheduler) Replace(suites []Suite) error {
	next := make(map[string]Suite, len(suites))
	for _, suite := range suites {
		if err := suite.Validate(); err != nil {
			return err
		}
		next[suite.Name] = suite
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.suites = next
	for name := range s.lastRun {
		if _, ok := next[name]; !ok {
			delete(s.lastRun, name)
		}
	}
	return nil
}

// NextRun returns the next scheduled run time for a suite
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suite, ok := s.suites[name]
	if !ok {
		return time.Time{}
	}
	sched, err := ParseCron(suite.Cron)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(s.now())
}

// dueLocked reports whether a suite is due and not already running
func (s *Scheduler) dueLocked(name string) bool {
	suite, ok := s.suites[name]
	if !ok || s.running[name] {
		return false
	}
	sched, err := ParseCron(suite.Cron)
	if err != nil {
		return false
	}

	last := s.lastRun[name]
	if last.IsZero() {
		last = s.started
	}
	return !s.now().Before(sched.Next(last))
}

// MarkComplete marks a suite as complete
func (s *Scheduler) MarkComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = s.now()
}

// List returns all suites sorted by name
func (s *Scheduler) List() []Suite {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Suite, 0, len(s.suites))
	for _, suite := range s.suites {
		out = append(out, suite)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunDue starts every due suite in its own goroutine and returns their names
func (s *Scheduler) RunDue(ctx context.Context, run RunFunc) []string {
	s.mu.Lock()
	var due []Suite
	for name, suite := range s.suites {
		if s.dueLocked(name) {
			s.running[name] = true
			due = append(due, suite)
		}
	}
	s.mu.Unlock()

	names := make([]string, 0, len(due))
	for _, suite := range due {
		names = append(names, suite.Name)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info("running scheduled suite", "suite", suite.Name, "models", len(suite.Models))
			if err := run(ctx, suite); err != nil {
				s.logger.Error("scheduled suite failed", "suite", suite.Name, "error", err)
			}
			s.MarkComplete(suite.Name)
		}()
	}
	sort.Strings(names)
	return names
}

// Start checks for due suites every minute until ctx is cancelled, then
// waits for in-flight suites.
func (s *Scheduler) Start(ctx context.Context, run RunFunc) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.RunDue(ctx, run)
		}
	}
}

// LogPlan logs the next run time of every suite
func (s *Scheduler) LogPlan() {
	for _, suite := range s.List() {
		s.logger.Info("suite scheduled", "suite", suite.Name, "cron", suite.Cron, "next_run", s.NextRun(suite.Name))
	}
}

// Wait blocks until all started suites have finished
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
