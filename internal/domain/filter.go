package domain

import "time"

// DefaultLimit is the page size used when a filter does not specify one.
const DefaultLimit = 100

// MaxLimit is the largest page size a filter may request.
const MaxLimit = 1000

// Sort directions accepted by DecisionFilter.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// DefaultSortColumn is the fallback ordering for queries.
const DefaultSortColumn = "timestamp"

// sortableColumns is the allow-list of columns a caller may sort by. Any
// other value falls back to the default so filter input never reaches SQL
// unchecked.
var sortableColumns = map[string]struct{}{
	"timestamp":     {},
	"action":        {},
	"decision":      {},
	"severity":      {},
	"risk_score":    {},
	"subject_email": {},
	"resource_type": {},
}

// SortableColumn reports whether name may appear in an ORDER BY clause.
func SortableColumn(name string) bool {
	_, ok := sortableColumns[name]
	return ok
}

// DecisionFilter is a conjunction of optional predicates over decision
// records, plus pagination and sorting. Nil pointer fields mean "no filter on
// this column".
type DecisionFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	SubjectID    *string
	SubjectEmail *string
	ResourceID   *string
	ResourceType *string
	Action       *string
	Decision     *Decision
	Severity     *string
	MinRiskScore *int

	Limit  int
	Offset int

	SortBy    string
	SortOrder string
}

// EffectiveLimit clamps the requested page size to [1, MaxLimit], defaulting
// when unset.
func (f DecisionFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	if f.Limit > MaxLimit {
		return MaxLimit
	}
	return f.Limit
}

// EffectiveOffset clamps the offset to be non-negative.
func (f DecisionFilter) EffectiveOffset() int {
	if f.Offset < 0 {
		return 0
	}
	return f.Offset
}

// EffectiveSort resolves the sort column and direction against the allow-list,
// falling back to timestamp descending for anything unrecognised.
func (f DecisionFilter) EffectiveSort() (column, order string) {
	column = f.SortBy
	if !SortableColumn(column) {
		column = DefaultSortColumn
	}
	order = f.SortOrder
	if order != SortAsc && order != SortDesc {
		order = SortDesc
	}
	return column, order
}

// TimeRange bounds a statistics computation. Nil ends are unbounded.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}
