package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
)

func TestRenderLeaderboard(t *testing.T) {
	out := renderLeaderboard("Leaderboard", []domain.LeaderboardEntry{
		{Rank: 1, Model: "openai/gpt-4o", Status: domain.RunSuccess, TestsPassed: 10, TestsTotal: 10, Iterations: 1, DurationMS: 12300},
		{Rank: 2, Model: "boom", Status: domain.RunError, Error: "Git clone failed: nope"},
	})

	assert.Contains(t, out, "Leaderboard")
	assert.Contains(t, out, "1st")
	assert.Contains(t, out, "2nd")
	assert.Contains(t, out, "openai/gpt-4o")
	assert.Contains(t, out, "10/10")
	assert.Contains(t, out, "12.3s")
	assert.Contains(t, out, "Git clone failed: nope")
	assert.Less(t, strings.Index(out, "openai/gpt-4o"), strings.Index(out, "boom"))
}

func TestRenderLeaderboard_Empty(t *testing.T) {
	assert.Contains(t, renderLeaderboard("x", nil), "No results")
}

func TestRenderHistory(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := renderHistory([]*domain.RunRecord{
		{ID: 12, Tool: "direct", Model: "m1", Status: domain.RunPartial, TestsPassed: 2, TestsTotal: 3, CreatedAt: now.Add(-3 * time.Hour)},
	}, now)

	assert.Contains(t, out, "12")
	assert.Contains(t, out, "partial")
	assert.Contains(t, out, "2/3")
	assert.Contains(t, out, "3 hours ago")
	assert.Contains(t, renderHistory(nil, now), "No runs yet")
}

func TestRenderRun(t *testing.T) {
	now := time.Now()
	out := renderRun(&domain.RunRecord{
		ID:          5,
		RepoURL:     "https://example.com/r.git",
		Ref:         "main",
		Tool:        "direct",
		Model:       "m1",
		Status:      domain.RunFail,
		TestsFailed: 4,
		TestsTotal:  4,
		BatchID:     "b-42",
		Iterations: []domain.IterationResult{
			{Iteration: 1, TestsTotal: 4, TestExitCode: 1},
			{Iteration: 2, TestsTotal: 4, TestExitCode: 1},
		},
		CreatedAt: now,
	}, now)

	assert.Contains(t, out, "Run #5")
	assert.Contains(t, out, "https://example.com/r.git @ main")
	assert.Contains(t, out, "0 passed, 4 failed, 4 total")
	assert.Contains(t, out, "Iteration 2:")
	assert.Contains(t, out, "b-42")
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := progressPrinter(&buf)

	p(domain.ProgressEvent{Type: domain.EventClone, Message: "Cloning https://example.com/r.git..."})
	inner := domain.ProgressEvent{Type: domain.EventTestResult, Message: "Iteration 1: 2/3 tests passed"}
	p(domain.ProgressEvent{Type: domain.EventModelProgress, Message: inner.Message, Data: inner, Model: "m1"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[clone]")
	assert.Contains(t, lines[1], "[test_result] m1 Iteration 1: 2/3 tests passed")
}
