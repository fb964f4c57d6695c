// Package export delivers decision records to external SIEM collectors.
//
// An Exporter is one delivery adapter (Splunk HEC, Elasticsearch bulk, or a
// generic webhook). The BatchProcessor sits in front of an adapter and turns
// per-record ingest into batched, ordered delivery with head-requeue on
// failure.
package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"policyaudit/internal/config"
	"policyaudit/internal/domain"
)

// Exporter delivers decision records to one SIEM backend.
type Exporter interface {
	// Send delivers a single record.
	Send(ctx context.Context, record *domain.DecisionRecord) error
	// SendBatch delivers records in order as one request. An error means the
	// whole batch failed and should be retried later.
	SendBatch(ctx context.Context, records []*domain.DecisionRecord) error
	// HealthCheck probes the backend for reachability.
	HealthCheck(ctx context.Context) error
	// Close releases client resources. Safe to call more than once.
	Close() error
}

// NewExporter constructs the adapter named by cfg.Type. The auth token is
// read from the environment variable named by cfg.TokenEnv so it never
// appears in config files or logs.
func NewExporter(cfg config.SIEMConfig, gatewayNode string, logger *slog.Logger) (Exporter, error) {
	token := os.Getenv(cfg.TokenEnv)
	if token == "" {
		logger.Warn("SIEM token env var is empty; exporting without authentication", "token_env", cfg.TokenEnv)
	}
	client := &http.Client{Timeout: cfg.Timeout}

	switch cfg.Type {
	case config.SinkSplunk:
		return NewSplunkExporter(cfg.Endpoint, token, gatewayNode, cfg.RetryAttempts, client, logger), nil
	case config.SinkElasticsearch:
		return NewElasticsearchExporter(cfg.Endpoint, token, cfg.RetryAttempts, client, logger), nil
	case config.SinkWebhook:
		return NewWebhookExporter(cfg.Endpoint, token, cfg.RetryAttempts, client, logger), nil
	default:
		return nil, domain.ErrConfiguration("unknown SIEM type %q", cfg.Type)
	}
}

// statusError reports a non-2xx response with enough of the body to debug.
func statusError(backend string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s returned status %d: %s", backend, resp.StatusCode, string(body))
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
