package repotest

import (
	"sort"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
)

// EntryFromOutcome derives the leaderboard row for one model's outcome
func EntryFromOutcome(o domain.ModelOutcome) domain.LeaderboardEntry {
	e := domain.LeaderboardEntry{Model: o.Model, RunID: o.RunID}
	if o.Result == nil {
		e.Status = domain.RunError
		e.Error = o.Error
		return e
	}

	r := o.Result
	e.Status = r.Status
	e.TestsPassed = r.FinalTestsPassed
	e.TestsFailed = r.FinalTestsFailed
	e.TestsTotal = r.FinalTestsTotal
	e.DurationMS = r.TotalDurationMS
	e.Iterations = len(r.Iterations)
	e.Error = r.Error
	if e.RunID == 0 {
		e.RunID = r.RunID
	}
	return e
}

// RankLeaderboard orders entries in place: successful runs first, then by
// pass rate, then by passed count. Errored runs sort after anything else they
// tie with, and remaining ties keep their input order. Ranks are assigned
// 1..n afterwards.
func RankLeaderboard(entries []domain.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		as, bs := a.Status == domain.RunSuccess, b.Status == domain.RunSuccess
		if as != bs {
			return as
		}
		if ar, br := a.PassRate(), b.PassRate(); ar != br {
			return ar > br
		}
		if a.TestsPassed != b.TestsPassed {
			return a.TestsPassed > b.TestsPassed
		}
		return a.Status != domain.RunError && b.Status == domain.RunError
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

// BuildLeaderboard derives and ranks the leaderboard for a set of outcomes
func BuildLeaderboard(outcomes []domain.ModelOutcome) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(outcomes))
	for _, o := range outcomes {
		entries = append(entries, EntryFromOutcome(o))
	}
	RankLeaderboard(entries)
	return entries
}

// LeaderboardFromRecords rebuilds a leaderboard from persisted batch runs
func LeaderboardFromRecords(records []*domain.RunRecord) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, domain.LeaderboardEntry{
			Model:       r.Model,
			Status:      r.Status,
			TestsPassed: r.TestsPassed,
			TestsFailed: r.TestsFailed,
			TestsTotal:  r.TestsTotal,
			DurationMS:  r.TotalDurationMS,
			Iterations:  len(r.Iterations),
			Error:       r.Error,
			RunID:       r.ID,
		})
	}
	RankLeaderboard(entries)
	return entries
}
