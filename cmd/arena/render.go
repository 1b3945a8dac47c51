package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205"))

	headerStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("255"))

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

func statusStyle(s domain.RunStatus) lipgloss.Style {
	switch s {
	case domain.RunSuccess:
		return successStyle
	case domain.RunPartial:
		return partialStyle
	case domain.RunFail, domain.RunError:
		return failStyle
	default:
		return mutedStyle
	}
}

// padRight pads a possibly styled cell to width visible columns
func padRight(s string, width int) string {
	if gap := width - lipgloss.Width(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}

func row(widths []int, cells ...string) string {
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = padRight(c, widths[i])
	}
	return strings.TrimRight(strings.Join(parts, "  "), " ")
}

func formatMS(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(100 * time.Millisecond).String()
}

func renderLeaderboard(title string, entries []domain.LeaderboardEntry) string {
	if len(entries) == 0 {
		return mutedStyle.Render("No results")
	}

	widths := []int{5, len("MODEL"), 8, 7, 6, 10}
	for _, e := range entries {
		widths[1] = max(widths[1], len(e.Model))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")
	b.WriteString(headerStyle.Render(row(widths, "RANK", "MODEL", "STATUS", "TESTS", "ITER", "DURATION")))
	b.WriteString("\n")
	for _, e := range entries {
		tests := fmt.Sprintf("%d/%d", e.TestsPassed, e.TestsTotal)
		if e.Status == domain.RunError {
			tests = "-"
		}
		b.WriteString(row(widths,
			humanize.Ordinal(e.Rank),
			e.Model,
			statusStyle(e.Status).Render(string(e.Status)),
			tests,
			fmt.Sprintf("%d", e.Iterations),
			formatMS(e.DurationMS),
		))
		b.WriteString("\n")
		if e.Error != "" {
			b.WriteString(mutedStyle.Render("      " + e.Error))
			b.WriteString("\n")
		}
	}
	return sectionStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderHistory(runs []*domain.RunRecord, now time.Time) string {
	if len(runs) == 0 {
		return mutedStyle.Render("No runs yet")
	}

	widths := []int{4, 4, len("MODEL"), 8, 7, 14}
	for _, r := range runs {
		widths[0] = max(widths[0], len(fmt.Sprint(r.ID)))
		widths[1] = max(widths[1], len(r.Tool))
		widths[2] = max(widths[2], len(r.Model))
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(row(widths, "ID", "TOOL", "MODEL", "STATUS", "TESTS", "STARTED")))
	b.WriteString("\n")
	for _, r := range runs {
		b.WriteString(row(widths,
			fmt.Sprint(r.ID),
			r.Tool,
			r.Model,
			statusStyle(r.Status).Render(string(r.Status)),
			fmt.Sprintf("%d/%d", r.TestsPassed, r.TestsTotal),
			humanize.RelTime(r.CreatedAt, now, "ago", "from now"),
		))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderRun(r *domain.RunRecord, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", titleStyle.Render(fmt.Sprintf("Run #%d", r.ID)))
	field := func(k, v string) {
		fmt.Fprintf(&b, "%s %s\n", headerStyle.Render(padRight(k+":", 10)), v)
	}
	field("Repo", r.RepoURL+" @ "+r.Ref)
	field("Tool", r.Tool)
	field("Model", r.Model)
	field("Status", statusStyle(r.Status).Render(string(r.Status)))
	field("Tests", fmt.Sprintf("%d passed, %d failed, %d total", r.TestsPassed, r.TestsFailed, r.TestsTotal))
	field("Timing", fmt.Sprintf("clone %s, tool %s, tests %s, total %s",
		formatMS(r.CloneDurationMS), formatMS(r.ToolDurationMS), formatMS(r.TestDurationMS), formatMS(r.TotalDurationMS)))
	field("Started", humanize.RelTime(r.CreatedAt, now, "ago", "from now"))
	if r.BatchID != "" {
		field("Batch", r.BatchID)
	}
	if r.Error != "" {
		field("Error", failStyle.Render(r.Error))
	}

	for _, it := range r.Iterations {
		fmt.Fprintf(&b, "\n%s %d/%d passed, exit %d, tool %s, tests %s\n",
			headerStyle.Render(fmt.Sprintf("Iteration %d:", it.Iteration)),
			it.TestsPassed, it.TestsTotal, it.TestExitCode,
			formatMS(it.ToolDurationMS), formatMS(it.TestDurationMS))
	}
	return sectionStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// progressPrinter writes one line per event; batch events carry the model
func progressPrinter(w io.Writer) domain.ProgressFunc {
	return func(ev domain.ProgressEvent) {
		msg := ev.Message
		label := ev.Type
		if inner, ok := ev.Data.(domain.ProgressEvent); ok && ev.Type == domain.EventModelProgress {
			label = inner.Type
		}
		prefix := mutedStyle.Render(fmt.Sprintf("[%s]", label))
		if ev.Model != "" {
			prefix += " " + headerStyle.Render(ev.Model)
		}
		switch ev.Type {
		case domain.EventError, domain.EventModelError:
			msg = failStyle.Render(msg)
		case domain.EventComplete, domain.EventModelComplete, domain.EventBatchComplete:
			msg = successStyle.Render(msg)
		}
		fmt.Fprintf(w, "%s %s\n", prefix, msg)
	}
}
