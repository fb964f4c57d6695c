package retention

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyaudit/internal/audit"
	"policyaudit/internal/config"
	"policyaudit/internal/db"
	"policyaudit/internal/db/repository"
	"policyaudit/internal/domain"
)

func newTestSweeper(t *testing.T, retentionDays int) (*Sweeper, *audit.Service) {
	t.Helper()
	writeDB, readDB := db.OpenTestSQLite(t)
	repo := repository.NewDecisionRepo(writeDB, readDB)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.AuditConfig{Enabled: true, LogAllowed: true, LogDenied: true, IncludeContext: true, IncludeExplanation: true}
	svc := audit.NewService(repo, nil, nil, cfg, "test-node", logger)
	return NewSweeper(svc, retentionDays, logger), svc
}

func TestSweeper(t *testing.T) {
	t.Run("sweep_purges_expired_records", func(t *testing.T) {
		sweeper, svc := newTestSweeper(t, 30)
		ctx := context.Background()

		expired := &domain.DecisionRecord{
			Action:    "tools.call",
			Decision:  domain.DecisionAllow,
			Timestamp: time.Now().UTC().Add(-31 * 24 * time.Hour),
		}
		svc.Record(ctx, expired)
		svc.Record(ctx, &domain.DecisionRecord{Action: "tools.call", Decision: domain.DecisionDeny})

		deleted, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		remaining, err := svc.Query(ctx, domain.DecisionFilter{})
		require.NoError(t, err)
		assert.Len(t, remaining, 1)
	})

	t.Run("sweep_is_idempotent", func(t *testing.T) {
		sweeper, svc := newTestSweeper(t, 30)
		ctx := context.Background()

		old := &domain.DecisionRecord{
			Action:    "tools.call",
			Decision:  domain.DecisionAllow,
			Timestamp: time.Now().UTC().Add(-60 * 24 * time.Hour),
		}
		svc.Record(ctx, old)

		deleted, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		deleted, err = sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})

	t.Run("invalid_schedule_fails_start", func(t *testing.T) {
		sweeper, _ := newTestSweeper(t, 30)
		require.Error(t, sweeper.Start("not a cron spec"))
	})

	t.Run("nonpositive_retention_disables_start", func(t *testing.T) {
		sweeper, _ := newTestSweeper(t, 0)
		require.NoError(t, sweeper.Start("not even parsed"))
	})
}
