package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"policyaudit/internal/domain"
)

const webhookEventType = "policy.decision"

// WebhookExporter posts record batches to a generic HTTP collector. Any
// endpoint that answers 200, 201, or 202 works.
type WebhookExporter struct {
	endpoint string
	token    string
	attempts int
	client   *http.Client
	log      *slog.Logger
}

func NewWebhookExporter(endpoint, token string, attempts int, client *http.Client, logger *slog.Logger) *WebhookExporter {
	if attempts < 1 {
		attempts = 1
	}
	return &WebhookExporter{
		endpoint: endpoint,
		token:    token,
		attempts: attempts,
		client:   client,
		log:      logger,
	}
}

// Send delivers a single record as a one-event batch.
func (e *WebhookExporter) Send(ctx context.Context, record *domain.DecisionRecord) error {
	return e.SendBatch(ctx, []*domain.DecisionRecord{record})
}

// SendBatch posts all records as one JSON payload, in order.
func (e *WebhookExporter) SendBatch(ctx context.Context, records []*domain.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}

	events := make([]map[string]any, len(records))
	for i, r := range records {
		events[i] = map[string]any{
			"event_type": webhookEventType,
			"timestamp":  r.Timestamp.UTC().Format(time.RFC3339Nano),
			"data":       r.Map(),
		}
	}
	payload := map[string]any{
		"events":     events,
		"batch_size": len(records),
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	backoff := retry.WithMaxRetries(uint64(e.attempts-1), retry.NewExponential(time.Second))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if e.token != "" {
			req.Header.Set("Authorization", "Bearer "+e.token)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			e.log.Warn("webhook delivery failed", "error", err, "batch_size", len(records))
			return retry.RetryableError(err)
		}
		defer drainAndClose(resp)

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusAccepted:
			return nil
		default:
			e.log.Warn("webhook delivery failed", "status", resp.StatusCode, "batch_size", len(records))
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return retry.RetryableError(statusError("webhook", resp))
			}
			return statusError("webhook", resp)
		}
	})
}

// HealthCheck probes the endpoint with HEAD. Client errors still mean the
// endpoint is alive; only server errors or network failures count as down.
func (e *WebhookExporter) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, e.endpoint, nil)
	if err != nil {
		return err
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook health check: %w", err)
	}
	defer drainAndClose(resp)

	if resp.StatusCode < 500 {
		return nil
	}
	return statusError("webhook health check", resp)
}

func (e *WebhookExporter) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
