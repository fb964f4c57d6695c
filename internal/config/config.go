// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"policyaudit/internal/domain"
)

// Known SIEM sink types. The set is closed; NewExporter rejects anything else.
const (
	SinkSplunk        = "splunk"
	SinkElasticsearch = "elasticsearch"
	SinkWebhook       = "webhook"
)

// SIEMConfig holds export pipeline configuration. The token itself is never
// stored here, only the name of the environment variable holding it; the
// adapter reads it at construction time.
type SIEMConfig struct {
	Enabled       bool
	Type          string        // splunk, elasticsearch, webhook
	Endpoint      string        // collector URL
	TokenEnv      string        // env var holding the auth token (default: SIEM_TOKEN)
	BatchSize     int           // records per delivery call (default: 100)
	FlushInterval time.Duration // periodic flush cadence (default: 5s)
	Timeout       time.Duration // per-call HTTP timeout (default: 30s)
	RetryAttempts int           // adapter-level attempts before giving up (default: 3)
}

// Validate checks that an enabled SIEM configuration is usable. Fails fast
// at startup rather than per record.
func (s *SIEMConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	switch s.Type {
	case SinkSplunk, SinkElasticsearch, SinkWebhook:
	default:
		return domain.ErrConfiguration("unknown SIEM type %q: must be splunk, elasticsearch, or webhook", s.Type)
	}
	if s.Endpoint == "" {
		return domain.ErrConfiguration("SIEM_ENDPOINT is required when SIEM_ENABLED is set")
	}
	return nil
}

// AuditConfig controls which decision classes are recorded and how much of
// each record is kept.
type AuditConfig struct {
	Enabled            bool // master switch for decision logging
	LogAllowed         bool // record allow decisions
	LogDenied          bool // record deny decisions
	IncludeContext     bool // keep full subject/resource/context detail
	IncludeExplanation bool // keep the human-readable reason

	RetentionDays     int    // age after which records are swept (default: 365)
	RetentionSchedule string // cron spec for the sweep (default: daily at 03:00)
}

// Config holds the configuration for the audit gateway node.
type Config struct {
	DBPath      string // path to the SQLite audit store
	ListenAddr  string // HTTP listen address (default ":8080")
	LogLevel    string // debug, info, warn, error (default "info")
	Env         string // "development" (default) or "production"
	GatewayNode string // node identifier stamped on records and HEC events

	// Rate limiting for the query API
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins (default: ["*"])

	Audit AuditConfig
	SIEM  SIEMConfig

	// Warnings collects non-fatal issues found during loading. Logged by the
	// caller once the logger exists.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the node is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables and validates
// the SIEM section.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DBPath:      envDefault("AUDIT_DB_PATH", "policy_audit.sqlite"),
		ListenAddr:  envDefault("LISTEN_ADDR", ":8080"),
		LogLevel:    envDefault("LOG_LEVEL", "info"),
		Env:         envDefault("ENV", "development"),
		GatewayNode: os.Getenv("GATEWAY_NODE"),

		RateLimitRPS:   parseFloatEnvDefault("RATE_LIMIT_RPS", 100),
		RateLimitBurst: parseIntEnvDefault("RATE_LIMIT_BURST", 200),

		Audit: AuditConfig{
			Enabled:            parseBoolEnvDefault("AUDIT_ENABLED", true),
			LogAllowed:         parseBoolEnvDefault("AUDIT_LOG_ALLOWED", true),
			LogDenied:          parseBoolEnvDefault("AUDIT_LOG_DENIED", true),
			IncludeContext:     parseBoolEnvDefault("AUDIT_INCLUDE_CONTEXT", true),
			IncludeExplanation: parseBoolEnvDefault("AUDIT_INCLUDE_EXPLANATION", true),
			RetentionDays:      parseIntEnvDefault("AUDIT_RETENTION_DAYS", 365),
			RetentionSchedule:  envDefault("AUDIT_RETENTION_SCHEDULE", "0 3 * * *"),
		},

		SIEM: SIEMConfig{
			Enabled:       parseBoolEnvDefault("SIEM_ENABLED", false),
			Type:          envDefault("SIEM_TYPE", SinkSplunk),
			Endpoint:      os.Getenv("SIEM_ENDPOINT"),
			TokenEnv:      envDefault("SIEM_TOKEN_ENV", "SIEM_TOKEN"),
			BatchSize:     parseIntEnvDefault("SIEM_BATCH_SIZE", 100),
			FlushInterval: time.Duration(parseIntEnvDefault("SIEM_FLUSH_INTERVAL_SECONDS", 5)) * time.Second,
			Timeout:       time.Duration(parseIntEnvDefault("SIEM_TIMEOUT_SECONDS", 30)) * time.Second,
			RetryAttempts: parseIntEnvDefault("SIEM_RETRY_ATTEMPTS", 3),
		},
	}

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if o := strings.TrimSpace(origin); o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	} else {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	if cfg.GatewayNode == "" {
		host, err := os.Hostname()
		if err != nil {
			cfg.Warnings = append(cfg.Warnings, "GATEWAY_NODE unset and hostname lookup failed; records will have no node identifier")
		} else {
			cfg.GatewayNode = host
		}
	}

	if cfg.Audit.RetentionDays <= 0 {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("AUDIT_RETENTION_DAYS=%d is not positive; retention sweeps disabled", cfg.Audit.RetentionDays))
	}

	if err := cfg.SIEM.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the
// environment. Lines must be in KEY=VALUE format. Comments (#) and blank
// lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func envDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func parseIntEnvDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func parseFloatEnvDefault(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
