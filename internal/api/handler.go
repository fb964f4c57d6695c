// Package api provides HTTP handlers for the decision audit REST API.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"policyaudit/internal/audit"
	"policyaudit/internal/domain"
	"policyaudit/internal/middleware"
)

// Handler serves the decision audit endpoints.
type Handler struct {
	svc *audit.Service
}

func NewHandler(svc *audit.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts all audit endpoints on a fresh router. The optional
// queryLimiter wraps only the read and purge endpoints: the gateway's own
// ingest path must never be throttled by a polling dashboard.
func (h *Handler) Routes(queryLimiter func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/decisions", h.recordDecision)
	r.Group(func(r chi.Router) {
		if queryLimiter != nil {
			r.Use(queryLimiter)
		}
		r.Get("/decisions", h.queryDecisions)
		r.Post("/decisions/search", h.searchDecisions)
		r.Get("/decisions/stats", h.decisionStats)
		r.Delete("/decisions", h.purgeDecisions)
		r.Get("/export/health", h.exportHealth)
	})
	return r
}

// decisionRequest is the ingest payload. Field names match the canonical
// record map, so a gateway can round-trip what it reads back from queries.
type decisionRequest struct {
	ID        string     `json:"id"`
	Timestamp *time.Time `json:"timestamp"`
	RequestID string     `json:"request_id"`

	Subject  *domain.Subject  `json:"subject"`
	Action   string           `json:"action"`
	Resource *domain.Resource `json:"resource"`

	Decision string `json:"decision"`
	Reason   string `json:"reason"`

	MatchingPolicies []domain.PolicyMatch   `json:"matching_policies"`
	Context          *domain.RequestContext `json:"context"`

	DurationMs float64 `json:"duration_ms"`

	Severity             string            `json:"severity"`
	RiskScore            int               `json:"risk_score"`
	AnomalyDetected      bool              `json:"anomaly_detected"`
	ComplianceFrameworks []string          `json:"compliance_frameworks"`
	Metadata             domain.Attributes `json:"metadata"`
}

func (h *Handler) recordDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	decision, err := domain.ParseDecision(req.Decision)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}
	if req.Severity != "" && !domain.ValidSeverity(req.Severity) {
		writeError(w, http.StatusBadRequest, "invalid severity "+strconv.Quote(req.Severity))
		return
	}

	rec := &domain.DecisionRecord{
		ID:                   req.ID,
		RequestID:            req.RequestID,
		Subject:              req.Subject,
		Action:               req.Action,
		Resource:             req.Resource,
		Decision:             decision,
		Reason:               req.Reason,
		MatchingPolicies:     req.MatchingPolicies,
		Context:              req.Context,
		DurationMs:           req.DurationMs,
		Severity:             req.Severity,
		RiskScore:            req.RiskScore,
		AnomalyDetected:      req.AnomalyDetected,
		ComplianceFrameworks: req.ComplianceFrameworks,
		Metadata:             req.Metadata,
	}
	if req.Timestamp != nil {
		rec.Timestamp = *req.Timestamp
	}
	if rec.RequestID == "" {
		rec.RequestID = middleware.RequestIDFromContext(r.Context())
	}

	rec = h.svc.Record(r.Context(), rec)

	body := rec.Map()
	body["persisted"] = rec.Persisted
	writeJSON(w, http.StatusCreated, body)
}

func (h *Handler) queryDecisions(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	records, err := h.svc.Query(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	decisions := make([]map[string]any, len(records))
	for i := range records {
		decisions[i] = records[i].Map()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": decisions,
		"count":     len(decisions),
		"limit":     filter.EffectiveLimit(),
		"offset":    filter.EffectiveOffset(),
	})
}

// searchRequest is the filter body for POST /decisions/search. It covers the
// same predicates as the GET query parameters, for callers whose filters are
// easier to build as a document.
type searchRequest struct {
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`

	SubjectID    *string `json:"subject_id"`
	SubjectEmail *string `json:"subject_email"`
	ResourceID   *string `json:"resource_id"`
	ResourceType *string `json:"resource_type"`
	Action       *string `json:"action"`
	Decision     *string `json:"decision"`
	Severity     *string `json:"severity"`
	MinRiskScore *int    `json:"min_risk_score"`

	Limit  int `json:"limit"`
	Offset int `json:"offset"`

	SortBy    string `json:"sort_by"`
	SortOrder string `json:"sort_order"`
}

func (h *Handler) searchDecisions(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	filter := domain.DecisionFilter{
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		SubjectID:    req.SubjectID,
		SubjectEmail: req.SubjectEmail,
		ResourceID:   req.ResourceID,
		ResourceType: req.ResourceType,
		Action:       req.Action,
		Severity:     req.Severity,
		MinRiskScore: req.MinRiskScore,
		Limit:        req.Limit,
		Offset:       req.Offset,
		SortBy:       req.SortBy,
		SortOrder:    req.SortOrder,
	}
	if req.Decision != nil {
		d := domain.Decision(*req.Decision)
		filter.Decision = &d
	}

	records, err := h.svc.Query(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	decisions := make([]map[string]any, len(records))
	for i := range records {
		decisions[i] = records[i].Map()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": decisions,
		"count":     len(decisions),
		"limit":     filter.EffectiveLimit(),
		"offset":    filter.EffectiveOffset(),
	})
}

func (h *Handler) decisionStats(w http.ResponseWriter, r *http.Request) {
	window, err := windowFromQuery(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	stats, err := h.svc.Statistics(r.Context(), window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) purgeDecisions(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("older_than_days")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "older_than_days is required")
		return
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "older_than_days must be an integer")
		return
	}

	deleted, err := h.svc.DeleteOlderThan(r.Context(), days)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (h *Handler) exportHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ExporterHealth(r.Context()); err != nil {
		code := httpStatusFromDomainError(err)
		if code == http.StatusInternalServerError {
			// Probe failures are a sink problem, not ours.
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

// filterFromQuery builds a DecisionFilter from URL parameters. Time bounds
// must be RFC3339; everything else is passed to the service, which owns
// predicate validation.
func filterFromQuery(r *http.Request) (domain.DecisionFilter, error) {
	q := r.URL.Query()
	var f domain.DecisionFilter

	var err error
	if f.StartTime, err = parseTimeParam(q.Get("start_time"), "start_time"); err != nil {
		return f, err
	}
	if f.EndTime, err = parseTimeParam(q.Get("end_time"), "end_time"); err != nil {
		return f, err
	}

	f.SubjectID = optStr(q.Get("subject_id"))
	f.SubjectEmail = optStr(q.Get("subject_email"))
	f.ResourceID = optStr(q.Get("resource_id"))
	f.ResourceType = optStr(q.Get("resource_type"))
	f.Action = optStr(q.Get("action"))
	f.Severity = optStr(q.Get("severity"))

	if v := q.Get("decision"); v != "" {
		d := domain.Decision(v)
		f.Decision = &d
	}
	if v := q.Get("min_risk_score"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, domain.ErrValidation("min_risk_score must be an integer")
		}
		f.MinRiskScore = &n
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			return f, domain.ErrValidation("limit must be an integer")
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil {
			return f, domain.ErrValidation("offset must be an integer")
		}
	}
	f.SortBy = q.Get("sort_by")
	f.SortOrder = q.Get("sort_order")

	return f, nil
}

func windowFromQuery(r *http.Request) (domain.TimeRange, error) {
	q := r.URL.Query()
	var w domain.TimeRange

	var err error
	if w.Start, err = parseTimeParam(q.Get("start_time"), "start_time"); err != nil {
		return w, err
	}
	if w.End, err = parseTimeParam(q.Get("end_time"), "end_time"); err != nil {
		return w, err
	}
	return w, nil
}

func parseTimeParam(raw, name string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, domain.ErrValidation("%s must be RFC3339, got %q", name, raw)
	}
	return &t, nil
}

func optStr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{"code": code, "message": message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, httpStatusFromDomainError(err), err.Error())
}
