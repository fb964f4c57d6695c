package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyaudit/internal/domain"
)

func TestLoadFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadFromEnv()
		require.NoError(t, err)

		assert.Equal(t, "policy_audit.sqlite", cfg.DBPath)
		assert.Equal(t, ":8080", cfg.ListenAddr)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "development", cfg.Env)
		assert.False(t, cfg.IsProduction())
		assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)

		assert.True(t, cfg.Audit.Enabled)
		assert.True(t, cfg.Audit.LogAllowed)
		assert.True(t, cfg.Audit.LogDenied)
		assert.Equal(t, 365, cfg.Audit.RetentionDays)

		assert.False(t, cfg.SIEM.Enabled)
		assert.Equal(t, SinkSplunk, cfg.SIEM.Type)
		assert.Equal(t, "SIEM_TOKEN", cfg.SIEM.TokenEnv)
		assert.Equal(t, 100, cfg.SIEM.BatchSize)
		assert.Equal(t, 5*time.Second, cfg.SIEM.FlushInterval)
		assert.Equal(t, 30*time.Second, cfg.SIEM.Timeout)
		assert.Equal(t, 3, cfg.SIEM.RetryAttempts)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("AUDIT_DB_PATH", "/data/audit.db")
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("ENV", "production")
		t.Setenv("GATEWAY_NODE", "node-7")
		t.Setenv("AUDIT_LOG_ALLOWED", "false")
		t.Setenv("SIEM_ENABLED", "true")
		t.Setenv("SIEM_TYPE", "elasticsearch")
		t.Setenv("SIEM_ENDPOINT", "https://es.internal:9200")
		t.Setenv("SIEM_BATCH_SIZE", "50")
		t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

		cfg, err := LoadFromEnv()
		require.NoError(t, err)

		assert.Equal(t, "/data/audit.db", cfg.DBPath)
		assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
		assert.True(t, cfg.IsProduction())
		assert.Equal(t, "node-7", cfg.GatewayNode)
		assert.False(t, cfg.Audit.LogAllowed)
		assert.True(t, cfg.Audit.LogDenied)
		assert.Equal(t, "elasticsearch", cfg.SIEM.Type)
		assert.Equal(t, 50, cfg.SIEM.BatchSize)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	})

	t.Run("gateway_node_defaults_to_hostname", func(t *testing.T) {
		cfg, err := LoadFromEnv()
		require.NoError(t, err)

		host, err := os.Hostname()
		require.NoError(t, err)
		assert.Equal(t, host, cfg.GatewayNode)
	})

	t.Run("invalid_siem_type_fails", func(t *testing.T) {
		t.Setenv("SIEM_ENABLED", "true")
		t.Setenv("SIEM_TYPE", "kafka")
		t.Setenv("SIEM_ENDPOINT", "https://broker:9092")

		_, err := LoadFromEnv()
		require.Error(t, err)
		var cfgErr *domain.ConfigurationError
		assert.ErrorAs(t, err, &cfgErr)
	})

	t.Run("enabled_siem_requires_endpoint", func(t *testing.T) {
		t.Setenv("SIEM_ENABLED", "true")
		t.Setenv("SIEM_TYPE", "webhook")

		_, err := LoadFromEnv()
		require.Error(t, err)
		var cfgErr *domain.ConfigurationError
		assert.ErrorAs(t, err, &cfgErr)
	})

	t.Run("disabled_siem_skips_validation", func(t *testing.T) {
		t.Setenv("SIEM_TYPE", "bogus")

		cfg, err := LoadFromEnv()
		require.NoError(t, err)
		assert.False(t, cfg.SIEM.Enabled)
	})

	t.Run("nonpositive_retention_warns", func(t *testing.T) {
		t.Setenv("AUDIT_RETENTION_DAYS", "0")

		cfg, err := LoadFromEnv()
		require.NoError(t, err)
		assert.NotEmpty(t, cfg.Warnings)
	})
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("loads_and_respects_existing_env", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, ".env")
		content := "# comment line\n" +
			"DOTENV_TEST_A=hello\n" +
			"DOTENV_TEST_B=\"quoted value\"\n" +
			"DOTENV_TEST_C='single'\n" +
			"not a kv line\n" +
			"DOTENV_TEST_D=already-set-loses\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		t.Setenv("DOTENV_TEST_D", "env-wins")
		t.Setenv("DOTENV_TEST_A", "")
		t.Setenv("DOTENV_TEST_B", "")
		t.Setenv("DOTENV_TEST_C", "")

		require.NoError(t, LoadDotEnv(path))

		assert.Equal(t, "hello", os.Getenv("DOTENV_TEST_A"))
		assert.Equal(t, "quoted value", os.Getenv("DOTENV_TEST_B"))
		assert.Equal(t, "single", os.Getenv("DOTENV_TEST_C"))
		assert.Equal(t, "env-wins", os.Getenv("DOTENV_TEST_D"))
	})

	t.Run("missing_file_is_not_an_error", func(t *testing.T) {
		require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
	})
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), "level %q", in)
	}
}
