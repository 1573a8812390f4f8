package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "research.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestLoadConfig tests the configuration loading from environment and files
func TestLoadConfig(t *testing.T) {
	t.Setenv(EnvConfigPath, "")

	t.Run("Default configuration", func(t *testing.T) {
		cfg, err := NewLoader("", zaptest.NewLogger(t)).Load()
		require.NoError(t, err)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, 0.1, cfg.LLM.Temperature)
		assert.Equal(t, 10, cfg.Research.MaxResults)
		assert.Equal(t, 3, cfg.Research.MaxSubagents)
		assert.Equal(t, 200000, cfg.Research.MemoryLimitTokens)
		assert.Equal(t, 60*time.Second, cfg.Research.CallTimeout)
		assert.True(t, cfg.Research.SaveReports)
		assert.Equal(t, "file", cfg.Database.Driver)
		assert.False(t, cfg.SQLDriver())
		assert.False(t, cfg.Tracing.Enabled)
		assert.Equal(t, "research-orchestrator", cfg.Tracing.ServiceName)
	})

	t.Run("Prefixed environment override", func(t *testing.T) {
		t.Setenv("RESEARCH_LOGGING_LEVEL", "debug")
		t.Setenv("RESEARCH_RESEARCH_MAX_SUBAGENTS", "5")
		t.Setenv("RESEARCH_RESEARCH_MAX_DURATION", "90s")
		t.Setenv("RESEARCH_REDIS_ADDR", "redis-test:6380")

		cfg, err := NewLoader("", zaptest.NewLogger(t)).Load()
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 5, cfg.Research.MaxSubagents)
		assert.Equal(t, 90*time.Second, cfg.Research.MaxDuration)
		assert.Equal(t, "redis-test:6380", cfg.Redis.Addr)
	})

	t.Run("Legacy environment names", func(t *testing.T) {
		t.Setenv("MODEL_NAME", "claude-test")
		t.Setenv("TEMPERATURE", "0.5")
		t.Setenv("MAX_SEARCH_RESULTS", "7")
		t.Setenv("TAVILY_API_KEY", "tvly-test")

		cfg, err := NewLoader("", zaptest.NewLogger(t)).Load()
		require.NoError(t, err)
		assert.Equal(t, "claude-test", cfg.LLM.Model)
		assert.Equal(t, 0.5, cfg.LLM.Temperature)
		assert.Equal(t, 7, cfg.Research.MaxResults)
		assert.Equal(t, "tvly-test", cfg.Search.TavilyAPIKey)
	})

	t.Run("Prefixed name wins over legacy name", func(t *testing.T) {
		t.Setenv("MODEL_NAME", "legacy")
		t.Setenv("RESEARCH_LLM_MODEL", "prefixed")

		cfg, err := NewLoader("", zaptest.NewLogger(t)).Load()
		require.NoError(t, err)
		assert.Equal(t, "prefixed", cfg.LLM.Model)
	})

	t.Run("Config file", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), `
research:
  max_subagents: 4
  worker_cap: 2
  company_industry: fintech
llm:
  provider: openai
  model: gpt-test
database:
  driver: sqlite3
  dsn: file:reports.db
citation:
  keywords_path: /etc/research/keywords.yaml
`)
		cfg, err := NewLoader(path, zaptest.NewLogger(t)).Load()
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Research.MaxSubagents)
		assert.Equal(t, 2, cfg.Research.WorkerCap)
		assert.Equal(t, "fintech", cfg.Research.CompanyIndustry)
		assert.Equal(t, "openai", cfg.LLM.Provider)
		assert.Equal(t, "gpt-test", cfg.LLM.Model)
		assert.True(t, cfg.SQLDriver())
		assert.Equal(t, "/etc/research/keywords.yaml", cfg.Citation.KeywordsPath)
		// untouched keys keep defaults
		assert.Equal(t, 10, cfg.Research.MaxResults)
	})

	t.Run("Config path from environment", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "logging:\n  level: warn\n")
		t.Setenv(EnvConfigPath, path)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.Logging.Level)
	})

	t.Run("Missing explicit file", func(t *testing.T) {
		_, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml"), zaptest.NewLogger(t)).Load()
		assert.Error(t, err)
	})
}

// TestConfigValidation tests configuration validation
func TestConfigValidation(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Logging:  LoggingConfig{Level: "info"},
			LLM:      LLMConfig{Provider: "service", Temperature: 0.1},
			Database: DatabaseConfig{Driver: "file"},
		}
	}

	t.Run("Valid configuration", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"Invalid log level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"Unknown provider", func(c *Config) { c.LLM.Provider = "carrier-pigeon" }, "invalid llm provider"},
		{"Temperature out of range", func(c *Config) { c.LLM.Temperature = 3 }, "out of range"},
		{"Unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "invalid database driver"},
		{"SQL driver without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "requires a dsn"},
		{"Negative limits", func(c *Config) { c.Research.MaxSubagents = -1 }, "must not be negative"},
		{"Auth without secret", func(c *Config) { c.Auth.Enabled = true }, "jwt_secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestWatchReloadsConfig(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	dir := t.TempDir()
	path := writeConfig(t, dir, "research:\n  max_subagents: 2\n")

	// The watcher goroutine outlives the test, so it must not log to t.
	loader := NewLoader(path, zap.NewNop())
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Research.MaxSubagents)

	changes := make(chan *Config, 8)
	loader.Watch(func(c *Config) {
		select {
		case changes <- c:
		default:
		}
	})

	// An invalid edit is ignored; the next valid one is delivered.
	writeConfig(t, dir, "research:\n  max_subagents: 2\nllm:\n  provider: nope\n")
	writeConfig(t, dir, "research:\n  max_subagents: 6\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			assert.NotEqual(t, "nope", c.LLM.Provider)
			if c.Research.MaxSubagents == 6 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for config reload")
		}
	}
}

func TestWatchWithoutFileIsNoop(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	loader := NewLoader("", zaptest.NewLogger(t))
	_, err := loader.Load()
	require.NoError(t, err)
	loader.Watch(func(*Config) { t.Fatal("unexpected reload") })
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = NewLogger(LoggingConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = NewLogger(LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}
