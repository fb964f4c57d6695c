// Package audit implements the decision audit service: total ingest with
// suppression and redaction, filtered queries, aggregate statistics, and
// retention purges.
package audit

import (
	"context"
	"log/slog"
	"time"

	"policyaudit/internal/config"
	"policyaudit/internal/domain"
	"policyaudit/internal/export"
)

// Pipeline is the slice of the export processor the service needs. Enqueue
// must never block on network I/O.
type Pipeline interface {
	Add(record *domain.DecisionRecord)
}

// Service coordinates the audit store and the export pipeline. The export
// side is optional; with a nil pipeline records are stored only.
type Service struct {
	repo     domain.DecisionRepository
	pipeline Pipeline
	exporter export.Exporter
	cfg      config.AuditConfig
	node     string
	log      *slog.Logger
}

func NewService(repo domain.DecisionRepository, pipeline Pipeline, exporter export.Exporter, cfg config.AuditConfig, gatewayNode string, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		pipeline: pipeline,
		exporter: exporter,
		cfg:      cfg,
		node:     gatewayNode,
		log:      logger,
	}
}

// Record ingests one decision. The call is total: it always returns the
// record, stamped with id, timestamp, node, and severity defaults, and never
// an error. Persisted reports whether the durable write succeeded; a store
// failure is logged and must not block the caller's request path.
//
// Suppression runs before anything touches the store: with auditing disabled,
// or with the record's decision class toggled off, the record is returned
// untouched and unpersisted.
func (s *Service) Record(ctx context.Context, rec *domain.DecisionRecord) *domain.DecisionRecord {
	if rec.ID == "" {
		rec.ID = domain.NewID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.GatewayNode == "" {
		rec.GatewayNode = s.node
	}
	if rec.Severity == "" {
		rec.Severity = domain.DefaultSeverity
	}

	if s.suppressed(rec.Decision) {
		return rec
	}

	s.redact(rec)

	if err := s.repo.Insert(ctx, rec); err != nil {
		s.log.Error("decision record not persisted",
			"record_id", rec.ID,
			"decision", rec.Decision,
			"error", err)
	} else {
		rec.Persisted = true
	}

	if s.pipeline != nil {
		s.pipeline.Add(rec)
	}

	return rec
}

// Query returns records matching the filter. Predicate values are validated
// here, at the service boundary; pagination clamps and the sort allow-list
// are applied by the filter itself on the way into SQL.
func (s *Service) Query(ctx context.Context, filter domain.DecisionFilter) ([]domain.DecisionRecord, error) {
	if filter.Decision != nil && !filter.Decision.Valid() {
		return nil, domain.ErrValidation("invalid decision filter %q", *filter.Decision)
	}
	if filter.Severity != nil && !domain.ValidSeverity(*filter.Severity) {
		return nil, domain.ErrValidation("invalid severity filter %q", *filter.Severity)
	}
	if filter.StartTime != nil && filter.EndTime != nil && filter.EndTime.Before(*filter.StartTime) {
		return nil, domain.ErrValidation("end_time precedes start_time")
	}
	return s.repo.Query(ctx, filter)
}

// Statistics aggregates decision counts, unique entities, latency, and the
// top denied resources and subjects over the given window.
func (s *Service) Statistics(ctx context.Context, window domain.TimeRange) (*domain.Statistics, error) {
	if window.Start != nil && window.End != nil && window.End.Before(*window.Start) {
		return nil, domain.ErrValidation("end_time precedes start_time")
	}
	return s.repo.Statistics(ctx, window)
}

// DeleteOlderThan purges records older than the given number of days and
// returns how many were removed.
func (s *Service) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, domain.ErrValidation("retention days must be positive, got %d", days)
	}
	deleted, err := s.repo.DeleteOlderThan(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.log.Info("purged decision records", "deleted", deleted, "older_than_days", days)
	}
	return deleted, nil
}

// ExporterHealth probes the configured SIEM backend.
func (s *Service) ExporterHealth(ctx context.Context) error {
	if s.exporter == nil {
		return domain.ErrNotFound("no SIEM exporter configured")
	}
	return s.exporter.HealthCheck(ctx)
}

func (s *Service) suppressed(d domain.Decision) bool {
	if !s.cfg.Enabled {
		return true
	}
	switch d {
	case domain.DecisionAllow:
		return !s.cfg.LogAllowed
	case domain.DecisionDeny:
		return !s.cfg.LogDenied
	}
	return false
}

// redact strips detail the deployment has opted out of keeping. The record
// itself always survives; only its payload shrinks.
func (s *Service) redact(rec *domain.DecisionRecord) {
	if !s.cfg.IncludeContext {
		rec.Context = nil
		if rec.Subject != nil {
			rec.Subject.Attributes = nil
		}
		if rec.Resource != nil {
			rec.Resource.Attributes = nil
		}
	}
	if !s.cfg.IncludeExplanation {
		rec.Reason = ""
		for i := range rec.MatchingPolicies {
			rec.MatchingPolicies[i].Explanation = ""
			rec.MatchingPolicies[i].ConditionsMet = nil
			rec.MatchingPolicies[i].ConditionsFailed = nil
		}
	}
}
