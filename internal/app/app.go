// Package app wires the audit pipeline together: store, service, export
// processor, retention sweeper, and HTTP router.
package app

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"policyaudit/internal/api"
	"policyaudit/internal/audit"
	"policyaudit/internal/config"
	"policyaudit/internal/db/repository"
	"policyaudit/internal/export"
	"policyaudit/internal/middleware"
	"policyaudit/internal/retention"
)

// Deps holds the external dependencies that main() must provide: database
// handles, config, and the logger.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Logger  *slog.Logger
}

// App is the fully wired application. Processor is nil when SIEM export is
// disabled.
type App struct {
	Audit     *audit.Service
	Processor *export.BatchProcessor
	Sweeper   *retention.Sweeper

	cfg *config.Config
	log *slog.Logger
}

// New wires repositories, the export pipeline, and services from deps.
func New(deps Deps) (*App, error) {
	cfg := deps.Cfg

	repo := repository.NewDecisionRepo(deps.WriteDB, deps.ReadDB)

	var (
		exporter  export.Exporter
		processor *export.BatchProcessor
		pipeline  audit.Pipeline
	)
	if cfg.SIEM.Enabled {
		var err error
		exporter, err = export.NewExporter(cfg.SIEM, cfg.GatewayNode, deps.Logger.With("component", "exporter"))
		if err != nil {
			return nil, err
		}
		processor = export.NewBatchProcessor(
			exporter, cfg.SIEM.BatchSize, cfg.SIEM.FlushInterval,
			deps.Logger.With("component", "export-processor"),
		)
		pipeline = processor
		deps.Logger.Info("SIEM export enabled",
			"type", cfg.SIEM.Type,
			"batch_size", cfg.SIEM.BatchSize,
			"flush_interval", cfg.SIEM.FlushInterval)
	}

	auditSvc := audit.NewService(repo, pipeline, exporter, cfg.Audit, cfg.GatewayNode, deps.Logger.With("component", "audit"))
	sweeper := retention.NewSweeper(auditSvc, cfg.Audit.RetentionDays, deps.Logger.With("component", "retention"))

	return &App{
		Audit:     auditSvc,
		Processor: processor,
		Sweeper:   sweeper,
		cfg:       cfg,
		log:       deps.Logger,
	}, nil
}

// Start launches the background parts: the export flush worker and the
// retention sweeper.
func (a *App) Start() error {
	if a.Processor != nil {
		a.Processor.Start()
	}
	return a.Sweeper.Start(a.cfg.Audit.RetentionSchedule)
}

// Stop shuts down background work: the sweeper first, then a final export
// flush so nothing queued at shutdown is silently dropped.
func (a *App) Stop(ctx context.Context) {
	a.Sweeper.Stop()
	if a.Processor != nil {
		a.Processor.Stop(ctx)
	}
}

// Router builds the HTTP surface: audit endpoints under /v1, liveness under
// /healthz, and Prometheus metrics under /metrics.
func (a *App) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	limiter := middleware.RateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.RateLimitRPS,
		Burst:             a.cfg.RateLimitBurst,
	})
	r.Mount("/v1", api.NewHandler(a.Audit).Routes(limiter))

	return r
}
