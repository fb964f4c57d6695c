package domain

import "time"

// TopDeniedLimit caps the top-denied rankings in Statistics.
const TopDeniedLimit = 10

// DeniedCount is one entry in a top-denied ranking: an entity and how many
// times it was denied. Rankings order by count descending with ties broken by
// first-seen insertion order, so results are deterministic.
type DeniedCount struct {
	ID    string `json:"id"`
	Type  string `json:"type,omitempty"`
	Count int64  `json:"count"`
}

// Statistics aggregates decision records over a time window. An empty window
// yields zero counts and a 0.0 average, never an error.
type Statistics struct {
	TotalDecisions int64 `json:"total_decisions"`
	Allowed        int64 `json:"allowed"`
	Denied         int64 `json:"denied"`
	Errors         int64 `json:"errors"`

	UniqueSubjects  int64 `json:"unique_subjects"`
	UniqueResources int64 `json:"unique_resources"`
	UniqueActions   int64 `json:"unique_actions"`

	AvgDurationMs float64 `json:"avg_duration_ms"`

	TopDeniedResources []DeniedCount `json:"top_denied_resources"`
	TopDeniedSubjects  []DeniedCount `json:"top_denied_subjects"`

	TimeRangeStart *time.Time `json:"time_range_start,omitempty"`
	TimeRangeEnd   *time.Time `json:"time_range_end,omitempty"`
}
