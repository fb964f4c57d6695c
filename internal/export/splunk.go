package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"policyaudit/internal/domain"
)

// HEC event envelope constants. These are the values collectors key their
// dashboards on, so they are fixed.
const (
	splunkSource     = "mcp-policy-engine"
	splunkSourcetype = "policy_decision"
)

// SplunkExporter delivers records to a Splunk HTTP Event Collector endpoint.
// Transient failures are retried with exponential backoff; a 403 means the
// token is bad and retrying cannot help.
type SplunkExporter struct {
	endpoint string
	token    string
	host     string
	attempts int
	client   *http.Client
	log      *slog.Logger
}

func NewSplunkExporter(endpoint, token, host string, attempts int, client *http.Client, logger *slog.Logger) *SplunkExporter {
	if attempts < 1 {
		attempts = 1
	}
	return &SplunkExporter{
		endpoint: endpoint,
		token:    token,
		host:     host,
		attempts: attempts,
		client:   client,
		log:      logger,
	}
}

// Send delivers a single record as a one-event batch.
func (e *SplunkExporter) Send(ctx context.Context, record *domain.DecisionRecord) error {
	return e.SendBatch(ctx, []*domain.DecisionRecord{record})
}

// SendBatch posts all records in one HEC request, newline-separated as the
// collector expects. Record order is preserved in the body.
func (e *SplunkExporter) SendBatch(ctx context.Context, records []*domain.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, r := range records {
		if err := enc.Encode(e.envelope(r)); err != nil {
			return fmt.Errorf("encode HEC event: %w", err)
		}
	}

	backoff := retry.WithMaxRetries(uint64(e.attempts-1), retry.NewExponential(time.Second))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body.Bytes()))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Splunk "+e.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			e.log.Warn("splunk delivery failed", "error", err, "batch_size", len(records))
			return retry.RetryableError(err)
		}
		defer drainAndClose(resp)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusForbidden:
			// Bad or expired token. Terminal for this batch.
			return fmt.Errorf("splunk rejected token (403)")
		default:
			e.log.Warn("splunk delivery failed", "status", resp.StatusCode, "batch_size", len(records))
			return retry.RetryableError(statusError("splunk", resp))
		}
	})
}

// HealthCheck probes the collector's health endpoint. Splunk answers 200 when
// healthy and 503 when busy but alive; both count as reachable.
func (e *SplunkExporter) HealthCheck(ctx context.Context) error {
	url := strings.Replace(e.endpoint, "/services/collector", "/services/collector/health", 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Splunk "+e.token)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("splunk health check: %w", err)
	}
	defer drainAndClose(resp)

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusServiceUnavailable {
		return nil
	}
	return statusError("splunk health check", resp)
}

func (e *SplunkExporter) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func (e *SplunkExporter) envelope(r *domain.DecisionRecord) map[string]any {
	return map[string]any{
		"time":       r.Timestamp.UTC().Unix(),
		"host":       e.host,
		"source":     splunkSource,
		"sourcetype": splunkSourcetype,
		"event":      r.Map(),
	}
}
