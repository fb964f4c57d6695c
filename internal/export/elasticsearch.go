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

const esIndex = "audit-decisions"

// ElasticsearchExporter delivers records to an Elasticsearch cluster.
// Single records go through the document API keyed by record id, so a
// redelivered record overwrites itself instead of duplicating. Batches use
// the bulk API with the same ids.
type ElasticsearchExporter struct {
	endpoint string
	token    string
	attempts int
	client   *http.Client
	log      *slog.Logger
}

func NewElasticsearchExporter(endpoint, token string, attempts int, client *http.Client, logger *slog.Logger) *ElasticsearchExporter {
	if attempts < 1 {
		attempts = 1
	}
	return &ElasticsearchExporter{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		attempts: attempts,
		client:   client,
		log:      logger,
	}
}

// Send indexes one record as a document keyed by its id.
func (e *ElasticsearchExporter) Send(ctx context.Context, record *domain.DecisionRecord) error {
	body, err := json.Marshal(e.document(record))
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	url := fmt.Sprintf("%s/%s/_doc/%s", e.endpoint, esIndex, record.ID)
	return e.doWithRetry(ctx, http.MethodPut, url, "application/json", body, nil)
}

// SendBatch indexes records through the bulk API. Any per-item error fails
// the whole batch so the caller can requeue it intact.
func (e *ElasticsearchExporter) SendBatch(ctx context.Context, records []*domain.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, r := range records {
		action := map[string]any{"index": map[string]any{"_index": esIndex, "_id": r.ID}}
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
		if err := enc.Encode(e.document(r)); err != nil {
			return fmt.Errorf("encode bulk document: %w", err)
		}
	}

	url := e.endpoint + "/_bulk"
	return e.doWithRetry(ctx, http.MethodPost, url, "application/x-ndjson", body.Bytes(), checkBulkResponse)
}

// HealthCheck asks the cluster health API. Any 200, whatever the cluster
// color, counts as reachable.
func (e *ElasticsearchExporter) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/_cluster/health", nil)
	if err != nil {
		return err
	}
	e.authorize(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("elasticsearch health check: %w", err)
	}
	defer drainAndClose(resp)

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return statusError("elasticsearch health check", resp)
}

func (e *ElasticsearchExporter) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// doWithRetry runs one delivery request under the retry policy. checkBody,
// when set, validates a 2xx response body; its errors are terminal because
// they report item-level rejections that a resend cannot fix.
func (e *ElasticsearchExporter) doWithRetry(ctx context.Context, method, url, contentType string, body []byte, checkBody func(*http.Response) error) error {
	backoff := retry.WithMaxRetries(uint64(e.attempts-1), retry.NewExponential(time.Second))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)
		e.authorize(req)

		resp, err := e.client.Do(req)
		if err != nil {
			e.log.Warn("elasticsearch delivery failed", "error", err)
			return retry.RetryableError(err)
		}
		defer drainAndClose(resp)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if checkBody != nil {
				return checkBody(resp)
			}
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("elasticsearch rejected credentials (%d)", resp.StatusCode)
		default:
			e.log.Warn("elasticsearch delivery failed", "status", resp.StatusCode)
			return retry.RetryableError(statusError("elasticsearch", resp))
		}
	})
}

func (e *ElasticsearchExporter) authorize(req *http.Request) {
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
}

func (e *ElasticsearchExporter) document(r *domain.DecisionRecord) map[string]any {
	doc := r.Map()
	doc["@timestamp"] = r.Timestamp.UTC().Format(time.RFC3339Nano)
	doc["event_type"] = "policy_decision"
	return doc
}

// checkBulkResponse inspects a 2xx bulk reply for item-level failures.
func checkBulkResponse(resp *http.Response) error {
	var result struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !result.Errors {
		return nil
	}
	for _, item := range result.Items {
		for op, detail := range item {
			if detail.Error != nil {
				return fmt.Errorf("bulk %s failed with status %d: %s: %s", op, detail.Status, detail.Error.Type, detail.Error.Reason)
			}
		}
	}
	return fmt.Errorf("bulk request reported item errors")
}
