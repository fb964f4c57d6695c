package domain

import "time"

// Decision is the outcome of a policy evaluation. The set is closed; the
// store and the query layer both reject anything else.
type Decision string

// Known decision outcomes, in their wire spelling.
const (
	DecisionAllow         Decision = "allow"
	DecisionDeny          Decision = "deny"
	DecisionNotApplicable Decision = "not_applicable"
	DecisionIndeterminate Decision = "indeterminate"
)

// Valid reports whether d is one of the four known outcomes.
func (d Decision) Valid() bool {
	switch d {
	case DecisionAllow, DecisionDeny, DecisionNotApplicable, DecisionIndeterminate:
		return true
	}
	return false
}

// ParseDecision validates a raw decision string.
func ParseDecision(s string) (Decision, error) {
	d := Decision(s)
	if !d.Valid() {
		return "", ErrValidation("invalid decision %q: must be one of allow, deny, not_applicable, indeterminate", s)
	}
	return d, nil
}

// severities is the set of record severities accepted by ingest and query
// filters.
var severities = map[string]struct{}{
	"debug":    {},
	"info":     {},
	"warning":  {},
	"error":    {},
	"critical": {},
}

// DefaultSeverity is stamped on records that arrive without one.
const DefaultSeverity = "info"

// ValidSeverity reports whether s is a known severity level.
func ValidSeverity(s string) bool {
	_, ok := severities[s]
	return ok
}

// Attributes is an open string-keyed extension map carried on subjects,
// resources, contexts, and record metadata. Values stay loosely typed but
// flat so they serialize cleanly into every sink format.
type Attributes map[string]any

// Subject identifies who requested the operation.
type Subject struct {
	Type           string     `json:"type"`
	ID             string     `json:"id"`
	Email          string     `json:"email,omitempty"`
	Roles          []string   `json:"roles,omitempty"`
	Teams          []string   `json:"teams,omitempty"`
	ClearanceLevel *int       `json:"clearance_level,omitempty"`
	Attributes     Attributes `json:"attributes,omitempty"`
}

// Resource identifies what the operation targeted.
type Resource struct {
	Type           string     `json:"type"`
	ID             string     `json:"id"`
	Server         string     `json:"server,omitempty"`
	Classification *int       `json:"classification,omitempty"`
	Owner          string     `json:"owner,omitempty"`
	Attributes     Attributes `json:"attributes,omitempty"`
}

// RequestContext carries ambient request details captured with the decision.
type RequestContext struct {
	IPAddress   string            `json:"ip_address,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	MFAVerified bool              `json:"mfa_verified"`
	GeoLocation map[string]string `json:"geo_location,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	Attributes  Attributes        `json:"attributes,omitempty"`
}

// PolicyMatch records one policy evaluated while reaching a decision. Slice
// order reflects evaluation order and is preserved through store and export.
type PolicyMatch struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Engine           string   `json:"engine"`
	Result           string   `json:"result"`
	Explanation      string   `json:"explanation"`
	ConditionsMet    []string `json:"conditions_met,omitempty"`
	ConditionsFailed []string `json:"conditions_failed,omitempty"`
	EvaluationTimeMs float64  `json:"evaluation_time_ms"`
}

// DecisionRecord is one immutable access-control decision. It is created
// once by the ingest path and never mutated; retention sweeps are the only
// way records leave the store.
type DecisionRecord struct {
	ID          string
	Timestamp   time.Time
	RequestID   string
	GatewayNode string

	Subject  *Subject
	Action   string
	Resource *Resource

	Decision Decision
	Reason   string

	MatchingPolicies []PolicyMatch
	Context          *RequestContext

	DurationMs float64

	Severity             string
	RiskScore            int
	AnomalyDetected      bool
	ComplianceFrameworks []string
	Metadata             Attributes

	// Persisted reports whether the durable write succeeded. The ingest call
	// always returns a record; this flag is the side channel for callers that
	// care. Never stored or exported.
	Persisted bool `json:"-"`
}

// Map renders the record as the canonical structured map shared by all
// export formats and the query API.
func (r *DecisionRecord) Map() map[string]any {
	m := map[string]any{
		"id":        r.ID,
		"timestamp": r.Timestamp.UTC().Format(time.RFC3339Nano),
		"action":    r.Action,
		"decision":  string(r.Decision),
		"reason":    r.Reason,
	}

	if r.RequestID != "" {
		m["request_id"] = r.RequestID
	}
	if r.GatewayNode != "" {
		m["gateway_node"] = r.GatewayNode
	}
	if r.Subject != nil {
		m["subject"] = r.Subject.Map()
	}
	if r.Resource != nil {
		m["resource"] = r.Resource.Map()
	}

	policies := make([]map[string]any, len(r.MatchingPolicies))
	for i, p := range r.MatchingPolicies {
		policies[i] = p.Map()
	}
	m["matching_policies"] = policies

	if r.Context != nil {
		m["context"] = r.Context.Map()
	}
	m["duration_ms"] = r.DurationMs

	meta := map[string]any{
		"severity":         r.Severity,
		"risk_score":       r.RiskScore,
		"anomaly_detected": r.AnomalyDetected,
	}
	if len(r.ComplianceFrameworks) > 0 {
		meta["compliance_frameworks"] = r.ComplianceFrameworks
	}
	for k, v := range r.Metadata {
		meta[k] = v
	}
	m["metadata"] = meta

	return m
}

// Map renders the subject with its extension attributes merged in.
func (s *Subject) Map() map[string]any {
	m := map[string]any{
		"type":  s.Type,
		"id":    s.ID,
		"roles": emptyIfNil(s.Roles),
		"teams": emptyIfNil(s.Teams),
	}
	if s.Email != "" {
		m["email"] = s.Email
	}
	if s.ClearanceLevel != nil {
		m["clearance_level"] = *s.ClearanceLevel
	}
	for k, v := range s.Attributes {
		m[k] = v
	}
	return m
}

// Map renders the resource with its extension attributes merged in.
func (r *Resource) Map() map[string]any {
	m := map[string]any{
		"type": r.Type,
		"id":   r.ID,
	}
	if r.Server != "" {
		m["server"] = r.Server
	}
	if r.Classification != nil {
		m["classification"] = *r.Classification
	}
	if r.Owner != "" {
		m["owner"] = r.Owner
	}
	for k, v := range r.Attributes {
		m[k] = v
	}
	return m
}

// Map renders the request context with its extension attributes merged in.
func (c *RequestContext) Map() map[string]any {
	m := map[string]any{
		"mfa_verified": c.MFAVerified,
	}
	if c.IPAddress != "" {
		m["ip_address"] = c.IPAddress
	}
	if c.UserAgent != "" {
		m["user_agent"] = c.UserAgent
	}
	if len(c.GeoLocation) > 0 {
		m["geo_location"] = c.GeoLocation
	}
	if c.SessionID != "" {
		m["session_id"] = c.SessionID
	}
	for k, v := range c.Attributes {
		m[k] = v
	}
	return m
}

// Map renders one evaluated policy.
func (p *PolicyMatch) Map() map[string]any {
	return map[string]any{
		"id":                 p.ID,
		"name":               p.Name,
		"engine":             p.Engine,
		"result":             p.Result,
		"explanation":        p.Explanation,
		"conditions_met":     emptyIfNil(p.ConditionsMet),
		"conditions_failed":  emptyIfNil(p.ConditionsFailed),
		"evaluation_time_ms": p.EvaluationTimeMs,
	}
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
