// Package stats turns a page of crash reports into grouped counts, a ranking
// of the most frequent errors and a time distribution.
package stats

import (
	"sort"
	"time"

	"github.com/kinbiko/crashpipe"
)

// TopErrorsLimit is the number of errors kept in Result.TopErrors.
const TopErrorsLimit = 10

// Unknown is the key reports without a platform or version are counted
// under. Errors are counted under their exact message, the empty one
// included.
const Unknown = "unknown"

// Result is the outcome of Aggregate. It is derived data and never persisted.
type Result struct {
	TotalCrashes     int              `json:"total_crashes"`
	UniqueUsers      int              `json:"unique_users"`
	UniqueSessions   int              `json:"unique_sessions"`
	Platforms        map[string]int   `json:"platforms"`
	Versions         map[string]int   `json:"versions"`
	TopErrors        []ErrorCount     `json:"top_errors"`
	TimeDistribution TimeDistribution `json:"time_distribution"`

	// SkippedTimestamps counts reports left out of TimeDistribution because
	// their crash_timestamp was missing or unparsable. They are still part of
	// every other figure.
	SkippedTimestamps int `json:"skipped_timestamps"`
}

// ErrorCount is a single entry of the top errors ranking.
type ErrorCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// TimeDistribution holds cumulative counts: a crash in the last 24 hours is
// also counted in the last 7 and 30 days.
type TimeDistribution struct {
	Last24h int `json:"last_24h"`
	Last7d  int `json:"last_7d"`
	Last30d int `json:"last_30d"`
}

const day = 24 * time.Hour

// Aggregate computes statistics over reports relative to now in a single
// pass. Errors are ranked by descending count; errors with equal counts keep
// the order in which they first appear in reports.
func Aggregate(reports []crashpipe.CrashReport, now time.Time) *Result {
	res := &Result{
		TotalCrashes: len(reports),
		Platforms:    map[string]int{},
		Versions:     map[string]int{},
		TopErrors:    []ErrorCount{},
	}

	var (
		users    = map[string]struct{}{}
		sessions = map[string]struct{}{}

		errorCounts = map[string]int{}
		errorOrder  []string

		last24h = now.Add(-day)
		last7d  = now.Add(-7 * day)
		last30d = now.Add(-30 * day)
	)

	for i := range reports {
		r := &reports[i]

		res.Platforms[orUnknown(string(r.Platform))]++
		res.Versions[orUnknown(r.AppVersion)]++

		msg := r.ErrorMessage
		if _, seen := errorCounts[msg]; !seen {
			errorOrder = append(errorOrder, msg)
		}
		errorCounts[msg]++

		if r.UserID != "" {
			users[r.UserID] = struct{}{}
		}
		if r.SessionID != "" {
			sessions[r.SessionID] = struct{}{}
		}

		t, err := r.Time()
		if err != nil {
			res.SkippedTimestamps++
			continue
		}
		if !t.Before(last24h) {
			res.TimeDistribution.Last24h++
		}
		if !t.Before(last7d) {
			res.TimeDistribution.Last7d++
		}
		if !t.Before(last30d) {
			res.TimeDistribution.Last30d++
		}
	}

	res.UniqueUsers = len(users)
	res.UniqueSessions = len(sessions)
	res.TopErrors = topErrors(errorOrder, errorCounts, TopErrorsLimit)
	return res
}

// topErrors ranks the messages in order (first-seen order) by descending
// count. The stable sort keeps first-seen order among equal counts.
func topErrors(order []string, counts map[string]int, k int) []ErrorCount {
	ranked := make([]ErrorCount, len(order))
	for i, msg := range order {
		ranked[i] = ErrorCount{Message: msg, Count: counts[msg]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
