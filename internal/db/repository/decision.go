package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"policyaudit/internal/domain"
)

// DecisionRepo stores policy decision records in SQLite. Writes go through
// the single-connection write pool; queries and statistics run on the read
// pool so a heavy dashboard cannot stall ingest.
type DecisionRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewDecisionRepo creates a DecisionRepo on a write/read pool pair. Passing
// the same pool twice is fine for tests and single-connection setups.
func NewDecisionRepo(writeDB, readDB *sql.DB) *DecisionRepo {
	return &DecisionRepo{write: writeDB, read: readDB}
}

var _ domain.DecisionRepository = (*DecisionRepo)(nil)

const insertDecisionSQL = `
INSERT INTO decision_records (
    id, timestamp, request_id, gateway_node,
    subject_type, subject_id, subject_email, subject_json,
    action,
    resource_type, resource_id, resource_server, resource_json,
    decision, reason,
    matching_policies, context_json,
    duration_ms,
    severity, risk_score, anomaly_detected, compliance_frameworks, metadata
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Insert durably writes one record. Atomic per record: the single-connection
// write pool plus SQLite's transaction per statement means a record is either
// fully visible or absent.
func (r *DecisionRepo) Insert(ctx context.Context, rec *domain.DecisionRecord) error {
	if !rec.Decision.Valid() {
		return domain.ErrValidation("invalid decision %q", rec.Decision)
	}

	var subjectType, subjectID, subjectEmail any
	subjectJSON, err := marshalOrNull(nilIfNoSubject(rec.Subject))
	if err != nil {
		return err
	}
	if rec.Subject != nil {
		subjectType = nullStr(rec.Subject.Type)
		subjectID = nullStr(rec.Subject.ID)
		subjectEmail = nullStr(rec.Subject.Email)
	}

	var resourceType, resourceID, resourceServer any
	resourceJSON, err := marshalOrNull(nilIfNoResource(rec.Resource))
	if err != nil {
		return err
	}
	if rec.Resource != nil {
		resourceType = nullStr(rec.Resource.Type)
		resourceID = nullStr(rec.Resource.ID)
		resourceServer = nullStr(rec.Resource.Server)
	}

	policies := rec.MatchingPolicies
	if policies == nil {
		policies = []domain.PolicyMatch{}
	}
	policiesJSON, err := marshalOrNull(policies)
	if err != nil {
		return err
	}

	contextJSON, err := marshalOrNull(nilIfNoContext(rec.Context))
	if err != nil {
		return err
	}
	frameworksJSON, err := marshalOrNull(nilIfEmptySlice(rec.ComplianceFrameworks))
	if err != nil {
		return err
	}
	metadataJSON, err := marshalOrNull(nilIfEmptyAttrs(rec.Metadata))
	if err != nil {
		return err
	}

	_, err = r.write.ExecContext(ctx, insertDecisionSQL,
		rec.ID, formatTime(rec.Timestamp), nullStr(rec.RequestID), nullStr(rec.GatewayNode),
		subjectType, subjectID, subjectEmail, subjectJSON,
		rec.Action,
		resourceType, resourceID, resourceServer, resourceJSON,
		string(rec.Decision), rec.Reason,
		policiesJSON, contextJSON,
		rec.DurationMs,
		rec.Severity, rec.RiskScore, boolToInt(rec.AnomalyDetected), frameworksJSON, metadataJSON,
	)
	return mapDBError(err)
}

const selectDecisionColumns = `
    id, timestamp, request_id, gateway_node,
    subject_json, action, resource_json,
    decision, reason, matching_policies, context_json,
    duration_ms, severity, risk_score, anomaly_detected,
    compliance_frameworks, metadata`

// Query returns records matching every predicate in the filter. Predicates
// hit the indexed extraction columns; the sort column has already been
// resolved against the allow-list by EffectiveSort.
func (r *DecisionRepo) Query(ctx context.Context, filter domain.DecisionFilter) ([]domain.DecisionRecord, error) {
	where, params := buildWhere(decisionPredicates(filter))

	column, order := filter.EffectiveSort()
	query := fmt.Sprintf(
		"SELECT %s FROM decision_records WHERE %s ORDER BY %s %s LIMIT ? OFFSET ?",
		selectDecisionColumns, where, column, strings.ToUpper(order),
	)
	params = append(params, filter.EffectiveLimit(), filter.EffectiveOffset())

	rows, err := r.read.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close()

	var records []domain.DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, mapDBError(rows.Err())
}

// Statistics aggregates over the time window. All aggregates coalesce to
// zero on an empty window.
func (r *DecisionRepo) Statistics(ctx context.Context, window domain.TimeRange) (*domain.Statistics, error) {
	where, params := buildWhere(windowPredicates(window))
	stats := &domain.Statistics{
		TopDeniedResources: []domain.DeniedCount{},
		TopDeniedSubjects:  []domain.DeniedCount{},
	}

	// Counts by decision outcome.
	rows, err := r.read.QueryContext(ctx, fmt.Sprintf(
		"SELECT decision, COUNT(*) FROM decision_records WHERE %s GROUP BY decision", where,
	), params...)
	if err != nil {
		return nil, mapDBError(err)
	}
	for rows.Next() {
		var decision string
		var count int64
		if err := rows.Scan(&decision, &count); err != nil {
			rows.Close()
			return nil, mapDBError(err)
		}
		stats.TotalDecisions += count
		switch domain.Decision(decision) {
		case domain.DecisionAllow:
			stats.Allowed = count
		case domain.DecisionDeny:
			stats.Denied = count
		default:
			stats.Errors += count
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapDBError(err)
	}

	err = r.read.QueryRowContext(ctx, fmt.Sprintf(`
        SELECT COUNT(DISTINCT subject_id), COUNT(DISTINCT resource_id),
               COUNT(DISTINCT action), COALESCE(AVG(duration_ms), 0)
        FROM decision_records WHERE %s`, where,
	), params...).Scan(&stats.UniqueSubjects, &stats.UniqueResources, &stats.UniqueActions, &stats.AvgDurationMs)
	if err != nil {
		return nil, mapDBError(err)
	}

	stats.TopDeniedResources, err = r.topDenied(ctx, where, params, "resource_id", "resource_type")
	if err != nil {
		return nil, err
	}
	stats.TopDeniedSubjects, err = r.topDenied(ctx, where, params, "subject_id", "subject_type")
	if err != nil {
		return nil, err
	}

	if stats.TotalDecisions > 0 {
		var minTS, maxTS string
		err = r.read.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT MIN(timestamp), MAX(timestamp) FROM decision_records WHERE %s", where,
		), params...).Scan(&minTS, &maxTS)
		if err != nil {
			return nil, mapDBError(err)
		}
		start, err := parseTime(minTS)
		if err != nil {
			return nil, err
		}
		end, err := parseTime(maxTS)
		if err != nil {
			return nil, err
		}
		stats.TimeRangeStart = &start
		stats.TimeRangeEnd = &end
	}

	return stats, nil
}

// topDenied ranks denied decisions by the given id column. Ties break on
// first insertion (MIN(rowid)) so the ranking is stable and deterministic.
func (r *DecisionRepo) topDenied(ctx context.Context, where string, params []any, idCol, typeCol string) ([]domain.DeniedCount, error) {
	query := fmt.Sprintf(`
        SELECT %[1]s, COALESCE(%[2]s, ''), COUNT(*) AS denied
        FROM decision_records
        WHERE %[3]s AND decision = 'deny' AND %[1]s IS NOT NULL
        GROUP BY %[1]s, %[2]s
        ORDER BY denied DESC, MIN(rowid) ASC
        LIMIT %[4]d`, idCol, typeCol, where, domain.TopDeniedLimit)

	rows, err := r.read.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close()

	ranked := []domain.DeniedCount{}
	for rows.Next() {
		var dc domain.DeniedCount
		if err := rows.Scan(&dc.ID, &dc.Type, &dc.Count); err != nil {
			return nil, mapDBError(err)
		}
		ranked = append(ranked, dc)
	}
	return ranked, mapDBError(rows.Err())
}

// DeleteOlderThan removes records whose timestamp precedes now minus age.
// Runs as a single DELETE so it never blocks more than SQLite's usual write
// serialization; concurrent inserts and reads proceed under WAL.
func (r *DecisionRepo) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().UTC().Add(-age))
	res, err := r.write.ExecContext(ctx,
		"DELETE FROM decision_records WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, mapDBError(err)
	}
	n, err := res.RowsAffected()
	return n, mapDBError(err)
}

// decisionPredicates translates filter fields into WHERE fragments.
func decisionPredicates(f domain.DecisionFilter) ([]string, []any) {
	var parts []string
	var params []any

	add := func(cond string, v any) {
		parts = append(parts, cond)
		params = append(params, v)
	}

	if f.StartTime != nil {
		add("timestamp >= ?", formatTime(*f.StartTime))
	}
	if f.EndTime != nil {
		add("timestamp <= ?", formatTime(*f.EndTime))
	}
	if f.SubjectID != nil {
		add("subject_id = ?", *f.SubjectID)
	}
	if f.SubjectEmail != nil {
		add("subject_email = ?", *f.SubjectEmail)
	}
	if f.ResourceID != nil {
		add("resource_id = ?", *f.ResourceID)
	}
	if f.ResourceType != nil {
		add("resource_type = ?", *f.ResourceType)
	}
	if f.Action != nil {
		add("action = ?", *f.Action)
	}
	if f.Decision != nil {
		add("decision = ?", string(*f.Decision))
	}
	if f.Severity != nil {
		add("severity = ?", *f.Severity)
	}
	if f.MinRiskScore != nil {
		add("risk_score >= ?", *f.MinRiskScore)
	}
	return parts, params
}

func windowPredicates(w domain.TimeRange) ([]string, []any) {
	var parts []string
	var params []any
	if w.Start != nil {
		parts = append(parts, "timestamp >= ?")
		params = append(params, formatTime(*w.Start))
	}
	if w.End != nil {
		parts = append(parts, "timestamp <= ?")
		params = append(params, formatTime(*w.End))
	}
	return parts, params
}

func buildWhere(parts []string, params []any) (string, []any) {
	if len(parts) == 0 {
		return "1=1", params
	}
	return strings.Join(parts, " AND "), params
}

// scanDecision rebuilds a full record from one row.
func scanDecision(rows *sql.Rows) (*domain.DecisionRecord, error) {
	var (
		rec                      domain.DecisionRecord
		ts                       string
		requestID, gatewayNode   sql.NullString
		subjectJSON              sql.NullString
		resourceJSON             sql.NullString
		decision                 string
		policiesJSON             sql.NullString
		contextJSON              sql.NullString
		anomaly                  int64
		frameworksJSON, metaJSON sql.NullString
	)

	err := rows.Scan(
		&rec.ID, &ts, &requestID, &gatewayNode,
		&subjectJSON, &rec.Action, &resourceJSON,
		&decision, &rec.Reason, &policiesJSON, &contextJSON,
		&rec.DurationMs, &rec.Severity, &rec.RiskScore, &anomaly,
		&frameworksJSON, &metaJSON,
	)
	if err != nil {
		return nil, mapDBError(err)
	}

	rec.Timestamp, err = parseTime(ts)
	if err != nil {
		return nil, err
	}
	rec.RequestID = requestID.String
	rec.GatewayNode = gatewayNode.String
	rec.Decision = domain.Decision(decision)
	rec.AnomalyDetected = anomaly != 0
	rec.Persisted = true

	if subjectJSON.Valid {
		rec.Subject = &domain.Subject{}
		if err := unmarshalInto(subjectJSON, rec.Subject); err != nil {
			return nil, fmt.Errorf("decode subject: %w", err)
		}
	}
	if resourceJSON.Valid {
		rec.Resource = &domain.Resource{}
		if err := unmarshalInto(resourceJSON, rec.Resource); err != nil {
			return nil, fmt.Errorf("decode resource: %w", err)
		}
	}
	rec.MatchingPolicies = []domain.PolicyMatch{}
	if err := unmarshalInto(policiesJSON, &rec.MatchingPolicies); err != nil {
		return nil, fmt.Errorf("decode matching policies: %w", err)
	}
	if contextJSON.Valid {
		rec.Context = &domain.RequestContext{}
		if err := unmarshalInto(contextJSON, rec.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
	}
	if err := unmarshalInto(frameworksJSON, &rec.ComplianceFrameworks); err != nil {
		return nil, fmt.Errorf("decode compliance frameworks: %w", err)
	}
	if err := unmarshalInto(metaJSON, &rec.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	return &rec, nil
}

func nilIfNoSubject(s *domain.Subject) any {
	if s == nil {
		return nil
	}
	return s
}

func nilIfNoResource(r *domain.Resource) any {
	if r == nil {
		return nil
	}
	return r
}

func nilIfNoContext(c *domain.RequestContext) any {
	if c == nil {
		return nil
	}
	return c
}

func nilIfEmptySlice(s []string) any {
	if len(s) == 0 {
		return nil
	}
	return s
}

func nilIfEmptyAttrs(a domain.Attributes) any {
	if len(a) == 0 {
		return nil
	}
	return a
}
