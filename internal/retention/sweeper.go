// Package retention runs scheduled purges of expired decision records.
package retention

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"policyaudit/internal/audit"
)

// Sweeper deletes records older than the retention window on a cron
// schedule. A sweep that fails is logged and retried at the next tick; the
// store is never left in a partial state because the purge is one DELETE.
type Sweeper struct {
	cron *cron.Cron
	svc  *audit.Service
	days int
	log  *slog.Logger
}

func NewSweeper(svc *audit.Service, retentionDays int, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		cron: cron.New(),
		svc:  svc,
		days: retentionDays,
		log:  logger,
	}
}

// Start registers the sweep on the given cron schedule and starts the
// scheduler. With a non-positive retention window the sweeper stays idle.
func (s *Sweeper) Start(schedule string) error {
	if s.days <= 0 {
		s.log.Info("retention sweeps disabled", "retention_days", s.days)
		return nil
	}

	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("retention sweeper started", "schedule", schedule, "retention_days", s.days)
	return nil
}

// Stop halts the scheduler and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("retention sweeper stopped")
}

// Sweep runs one purge immediately, outside the schedule.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	return s.svc.DeleteOlderThan(ctx, s.days)
}

func (s *Sweeper) sweep() {
	deleted, err := s.svc.DeleteOlderThan(context.Background(), s.days)
	if err != nil {
		s.log.Warn("retention sweep failed", "error", err)
		return
	}
	s.log.Info("retention sweep complete", "deleted", deleted)
}
