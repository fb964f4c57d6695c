package domain

import (
	"context"
	"time"
)

// DecisionRepository is the durable, queryable store for decision records.
// Implementations must make Insert atomic per record and safe for concurrent
// callers; DeleteOlderThan must not block concurrent inserts or queries.
type DecisionRepository interface {
	// Insert durably writes one record. Returns ConflictError when the id
	// already exists and UnavailableError when storage cannot be reached.
	Insert(ctx context.Context, record *DecisionRecord) error

	// Query returns records matching every predicate in the filter, ordered
	// per the filter's sort spec and paginated.
	Query(ctx context.Context, filter DecisionFilter) ([]DecisionRecord, error)

	// Statistics aggregates over the time window. Correct for empty windows:
	// zero counts, zero average duration.
	Statistics(ctx context.Context, window TimeRange) (*Statistics, error)

	// DeleteOlderThan removes records whose timestamp precedes now minus age
	// and reports how many were removed.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
