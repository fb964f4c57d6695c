package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyaudit/internal/config"
	"policyaudit/internal/db"
	"policyaudit/internal/db/repository"
	"policyaudit/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fullAuditConfig() config.AuditConfig {
	return config.AuditConfig{
		Enabled:            true,
		LogAllowed:         true,
		LogDenied:          true,
		IncludeContext:     true,
		IncludeExplanation: true,
	}
}

func newTestService(t *testing.T, cfg config.AuditConfig, pipeline Pipeline) (*Service, domain.DecisionRepository) {
	t.Helper()
	writeDB, readDB := db.OpenTestSQLite(t)
	repo := repository.NewDecisionRepo(writeDB, readDB)
	return NewService(repo, pipeline, nil, cfg, "test-node", testLogger()), repo
}

// capturePipeline records everything enqueued for export.
type capturePipeline struct {
	mu      sync.Mutex
	records []*domain.DecisionRecord
}

func (p *capturePipeline) Add(r *domain.DecisionRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, r)
}

func (p *capturePipeline) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// failingRepo simulates a store that cannot complete writes.
type failingRepo struct{}

func (failingRepo) Insert(context.Context, *domain.DecisionRecord) error {
	return domain.ErrUnavailable(errors.New("disk full"), "audit store unavailable")
}

func (failingRepo) Query(context.Context, domain.DecisionFilter) ([]domain.DecisionRecord, error) {
	return nil, nil
}

func (failingRepo) Statistics(context.Context, domain.TimeRange) (*domain.Statistics, error) {
	return nil, nil
}

func (failingRepo) DeleteOlderThan(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func newRecord(decision domain.Decision) *domain.DecisionRecord {
	return &domain.DecisionRecord{
		Subject:  &domain.Subject{Type: "user", ID: "u-1", Attributes: domain.Attributes{"dept": "eng"}},
		Action:   "tools.call",
		Resource: &domain.Resource{Type: "tool", ID: "search"},
		Decision: decision,
		Reason:   "matched allow-all",
		MatchingPolicies: []domain.PolicyMatch{
			{ID: "p-1", Name: "allow-all", Engine: "builtin", Result: string(decision), Explanation: "everyone may call tools"},
		},
		Context: &domain.RequestContext{IPAddress: "10.0.0.1", MFAVerified: true},
	}
}

func TestService_Record(t *testing.T) {
	t.Run("stamps_defaults_and_persists", func(t *testing.T) {
		svc, repo := newTestService(t, fullAuditConfig(), nil)

		rec := svc.Record(context.Background(), newRecord(domain.DecisionAllow))

		assert.NotEmpty(t, rec.ID)
		assert.False(t, rec.Timestamp.IsZero())
		assert.Equal(t, "test-node", rec.GatewayNode)
		assert.Equal(t, "info", rec.Severity)
		assert.True(t, rec.Persisted)

		got, err := repo.Query(context.Background(), domain.DecisionFilter{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, rec.ID, got[0].ID)
	})

	t.Run("keeps_caller_supplied_fields", func(t *testing.T) {
		svc, _ := newTestService(t, fullAuditConfig(), nil)

		in := newRecord(domain.DecisionDeny)
		in.ID = "caller-id"
		in.Timestamp = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		in.GatewayNode = "edge-9"
		in.Severity = "critical"

		rec := svc.Record(context.Background(), in)
		assert.Equal(t, "caller-id", rec.ID)
		assert.Equal(t, "edge-9", rec.GatewayNode)
		assert.Equal(t, "critical", rec.Severity)
	})

	t.Run("disabled_auditing_suppresses_everything", func(t *testing.T) {
		cfg := fullAuditConfig()
		cfg.Enabled = false
		pipeline := &capturePipeline{}
		svc, repo := newTestService(t, cfg, pipeline)

		rec := svc.Record(context.Background(), newRecord(domain.DecisionDeny))
		assert.False(t, rec.Persisted)
		assert.NotEmpty(t, rec.ID, "suppressed records are still stamped")

		got, err := repo.Query(context.Background(), domain.DecisionFilter{})
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Zero(t, pipeline.count())
	})

	t.Run("allow_suppression_keeps_denials", func(t *testing.T) {
		cfg := fullAuditConfig()
		cfg.LogAllowed = false
		svc, repo := newTestService(t, cfg, nil)

		allowed := svc.Record(context.Background(), newRecord(domain.DecisionAllow))
		denied := svc.Record(context.Background(), newRecord(domain.DecisionDeny))

		assert.False(t, allowed.Persisted)
		assert.True(t, denied.Persisted)

		got, err := repo.Query(context.Background(), domain.DecisionFilter{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, domain.DecisionDeny, got[0].Decision)
	})

	t.Run("indeterminate_always_recorded", func(t *testing.T) {
		cfg := fullAuditConfig()
		cfg.LogAllowed = false
		cfg.LogDenied = false
		svc, _ := newTestService(t, cfg, nil)

		rec := svc.Record(context.Background(), newRecord(domain.DecisionIndeterminate))
		assert.True(t, rec.Persisted)
	})

	t.Run("context_redaction", func(t *testing.T) {
		cfg := fullAuditConfig()
		cfg.IncludeContext = false
		svc, _ := newTestService(t, cfg, nil)

		rec := svc.Record(context.Background(), newRecord(domain.DecisionAllow))
		assert.Nil(t, rec.Context)
		assert.Nil(t, rec.Subject.Attributes)
	})

	t.Run("explanation_redaction", func(t *testing.T) {
		cfg := fullAuditConfig()
		cfg.IncludeExplanation = false
		svc, _ := newTestService(t, cfg, nil)

		rec := svc.Record(context.Background(), newRecord(domain.DecisionDeny))
		assert.Empty(t, rec.Reason)
		require.Len(t, rec.MatchingPolicies, 1)
		assert.Empty(t, rec.MatchingPolicies[0].Explanation)
	})

	t.Run("records_reach_export_pipeline", func(t *testing.T) {
		pipeline := &capturePipeline{}
		svc, _ := newTestService(t, fullAuditConfig(), pipeline)

		svc.Record(context.Background(), newRecord(domain.DecisionAllow))
		svc.Record(context.Background(), newRecord(domain.DecisionDeny))
		assert.Equal(t, 2, pipeline.count())
	})

	t.Run("store_failure_is_total", func(t *testing.T) {
		pipeline := &capturePipeline{}
		svc := NewService(failingRepo{}, pipeline, nil, fullAuditConfig(), "test-node", testLogger())

		rec := svc.Record(context.Background(), newRecord(domain.DecisionDeny))
		assert.False(t, rec.Persisted)
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, 1, pipeline.count(), "export does not depend on the store write")
	})
}

func TestService_Query(t *testing.T) {
	svc, _ := newTestService(t, fullAuditConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := newRecord(domain.DecisionAllow)
		rec.Subject.ID = fmt.Sprintf("u-%d", i%2)
		svc.Record(ctx, rec)
	}

	t.Run("filters_by_subject", func(t *testing.T) {
		subject := "u-0"
		got, err := svc.Query(ctx, domain.DecisionFilter{SubjectID: &subject})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("rejects_invalid_decision_filter", func(t *testing.T) {
		bad := domain.Decision("maybe")
		_, err := svc.Query(ctx, domain.DecisionFilter{Decision: &bad})
		var vErr *domain.ValidationError
		require.ErrorAs(t, err, &vErr)
	})

	t.Run("rejects_invalid_severity_filter", func(t *testing.T) {
		bad := "catastrophic"
		_, err := svc.Query(ctx, domain.DecisionFilter{Severity: &bad})
		var vErr *domain.ValidationError
		require.ErrorAs(t, err, &vErr)
	})

	t.Run("rejects_inverted_time_window", func(t *testing.T) {
		start := time.Now()
		end := start.Add(-time.Hour)
		_, err := svc.Query(ctx, domain.DecisionFilter{StartTime: &start, EndTime: &end})
		var vErr *domain.ValidationError
		require.ErrorAs(t, err, &vErr)
	})

	t.Run("hostile_sort_column_falls_back_to_timestamp", func(t *testing.T) {
		got, err := svc.Query(ctx, domain.DecisionFilter{SortBy: "timestamp; DROP TABLE decision_records--"})
		require.NoError(t, err)
		assert.Len(t, got, 5)

		// The table must still exist afterwards.
		again, err := svc.Query(ctx, domain.DecisionFilter{})
		require.NoError(t, err)
		assert.Len(t, again, 5)
	})
}

func TestService_Statistics(t *testing.T) {
	t.Run("aggregates_mixed_traffic", func(t *testing.T) {
		svc, _ := newTestService(t, fullAuditConfig(), nil)
		ctx := context.Background()

		// 20 records alternating allow/deny across 5 subjects and 3 resources,
		// with durations 0, 2, 4, ... 38.
		for i := 0; i < 20; i++ {
			decision := domain.DecisionAllow
			if i%2 == 1 {
				decision = domain.DecisionDeny
			}
			rec := newRecord(decision)
			rec.Subject.ID = fmt.Sprintf("u-%d", i%5)
			rec.Resource.ID = fmt.Sprintf("res-%d", i%3)
			rec.DurationMs = float64(i * 2)
			svc.Record(ctx, rec)
		}

		stats, err := svc.Statistics(ctx, domain.TimeRange{})
		require.NoError(t, err)

		assert.Equal(t, int64(20), stats.TotalDecisions)
		assert.Equal(t, int64(10), stats.Allowed)
		assert.Equal(t, int64(10), stats.Denied)
		assert.Equal(t, int64(0), stats.Errors)
		assert.Equal(t, int64(5), stats.UniqueSubjects)
		assert.Equal(t, int64(3), stats.UniqueResources)
		assert.Equal(t, int64(1), stats.UniqueActions)
		assert.InDelta(t, 19.0, stats.AvgDurationMs, 0.001)
		require.NotNil(t, stats.TimeRangeStart)
		require.NotNil(t, stats.TimeRangeEnd)
		assert.False(t, stats.TimeRangeEnd.Before(*stats.TimeRangeStart))
	})

	t.Run("rejects_inverted_window", func(t *testing.T) {
		svc, _ := newTestService(t, fullAuditConfig(), nil)
		start := time.Now()
		end := start.Add(-time.Minute)
		_, err := svc.Statistics(context.Background(), domain.TimeRange{Start: &start, End: &end})
		var vErr *domain.ValidationError
		require.ErrorAs(t, err, &vErr)
	})
}

func TestService_DeleteOlderThan(t *testing.T) {
	t.Run("purges_only_old_records", func(t *testing.T) {
		svc, _ := newTestService(t, fullAuditConfig(), nil)
		ctx := context.Background()

		old := newRecord(domain.DecisionAllow)
		old.Timestamp = time.Now().UTC().Add(-48 * time.Hour)
		svc.Record(ctx, old)
		svc.Record(ctx, newRecord(domain.DecisionDeny))

		deleted, err := svc.DeleteOlderThan(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		got, err := svc.Query(ctx, domain.DecisionFilter{})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("rejects_nonpositive_days", func(t *testing.T) {
		svc, _ := newTestService(t, fullAuditConfig(), nil)
		_, err := svc.DeleteOlderThan(context.Background(), 0)
		var vErr *domain.ValidationError
		require.ErrorAs(t, err, &vErr)
	})
}

func TestService_ExporterHealth(t *testing.T) {
	svc, _ := newTestService(t, fullAuditConfig(), nil)
	err := svc.ExporterHealth(context.Background())
	var nfErr *domain.NotFoundError
	require.ErrorAs(t, err, &nfErr)
}
