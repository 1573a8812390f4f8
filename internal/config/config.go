package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/orchestrator"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

// EnvConfigPath names the variable holding an explicit config file path.
const EnvConfigPath = "RESEARCH_CONFIG"

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // service or openai
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SearchConfig struct {
	TavilyAPIKey string        `mapstructure:"tavily_api_key"`
	TavilyDepth  string        `mapstructure:"tavily_depth"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	BraveRPS     float64       `mapstructure:"brave_rps"`
	CacheSize    int           `mapstructure:"cache_size"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	SnapshotTTL  time.Duration `mapstructure:"snapshot_ttl"`
	StreamMaxLen int64         `mapstructure:"stream_max_len"`
	StreamTTL    time.Duration `mapstructure:"stream_ttl"`
}

// DatabaseConfig selects the report store. Driver "file" writes Markdown
// files under ReportsDir; "postgres" and "sqlite3" use the SQL store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	ReportsDir      string        `mapstructure:"reports_dir"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

type ServerConfig struct {
	Port        int           `mapstructure:"port"`
	AdminPort   int           `mapstructure:"admin_port"`
	MetricsPort int           `mapstructure:"metrics_port"`
	GRPCPort    int           `mapstructure:"grpc_port"`
	EventBuffer int           `mapstructure:"event_buffer"`
	MaxRuns     int           `mapstructure:"max_runs"`
	ShutdownTTL time.Duration `mapstructure:"shutdown_timeout"`
}

type AuthConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
}

type CitationConfig struct {
	KeywordsPath string `mapstructure:"keywords_path"`
}

// Config is the full process configuration.
type Config struct {
	Environment string              `mapstructure:"environment"`
	Logging     LoggingConfig       `mapstructure:"logging"`
	Research    orchestrator.Config `mapstructure:"research"`
	LLM         LLMConfig           `mapstructure:"llm"`
	Search      SearchConfig        `mapstructure:"search"`
	Redis       RedisConfig         `mapstructure:"redis"`
	Database    DatabaseConfig      `mapstructure:"database"`
	Server      ServerConfig        `mapstructure:"server"`
	Auth        AuthConfig          `mapstructure:"auth"`
	Citation    CitationConfig      `mapstructure:"citation"`
	Tracing     tracing.Config      `mapstructure:"tracing"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("research.max_subagents", orchestrator.DefaultMaxSubagents)
	v.SetDefault("research.max_subtasks", 0)
	v.SetDefault("research.worker_cap", 0)
	v.SetDefault("research.max_results", orchestrator.DefaultMaxResults)
	v.SetDefault("research.call_timeout", 60*time.Second)
	v.SetDefault("research.max_duration", 0)
	v.SetDefault("research.memory_limit_tokens", 200000)
	v.SetDefault("research.save_reports", true)
	v.SetDefault("research.company_industry", "")
	v.SetDefault("research.company_year", "")

	v.SetDefault("llm.provider", "service")
	v.SetDefault("llm.base_url", "http://llm-service:8000")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 4000)
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("search.tavily_api_key", "")
	v.SetDefault("search.tavily_depth", "advanced")
	v.SetDefault("search.brave_api_key", "")
	v.SetDefault("search.brave_rps", 1.0)
	v.SetDefault("search.cache_size", 512)
	v.SetDefault("search.cache_ttl", time.Hour)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.snapshot_ttl", 24*time.Hour)
	v.SetDefault("redis.stream_max_len", 1000)
	v.SetDefault("redis.stream_ttl", 24*time.Hour)

	v.SetDefault("database.driver", "file")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.reports_dir", "reports")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.idle_connections", 2)
	v.SetDefault("database.max_lifetime", 30*time.Minute)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.admin_port", 8081)
	v.SetDefault("server.metrics_port", 2112)
	v.SetDefault("server.grpc_port", 50052)
	v.SetDefault("server.event_buffer", 256)
	v.SetDefault("server.max_runs", 500)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_expiry", time.Hour)

	v.SetDefault("citation.keywords_path", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "research-orchestrator")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
}

// legacyEnv maps config keys to the unprefixed variable names deployments
// already export. RESEARCH_* names take precedence.
var legacyEnv = map[string]string{
	"llm.model":                    "MODEL_NAME",
	"llm.temperature":              "TEMPERATURE",
	"llm.base_url":                 "LLM_SERVICE_URL",
	"llm.api_key":                  "OPENAI_API_KEY",
	"research.max_results":         "MAX_SEARCH_RESULTS",
	"research.max_subagents":       "MAX_SUBAGENTS",
	"research.memory_limit_tokens": "MEMORY_LIMIT_TOKENS",
	"research.save_reports":        "SAVE_REPORTS",
	"search.tavily_api_key":        "TAVILY_API_KEY",
	"search.brave_api_key":         "BRAVE_API_KEY",
	"logging.level":                "LOG_LEVEL",
	"auth.jwt_secret":              "JWT_SECRET",
}

// Loader reads the config file and environment and can watch the file for
// changes.
type Loader struct {
	v      *viper.Viper
	logger *zap.Logger
	file   bool
}

// NewLoader creates a loader for path. An empty path uses RESEARCH_CONFIG,
// then research.yaml under ./config or the working directory.
func NewLoader(path string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("research")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		_ = v.BindEnv(key, "RESEARCH_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy)
	}

	return &Loader{v: v, logger: logger}
}

// Load reads the config. A missing research.yaml on the search path is not an
// error; a missing explicit file is.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		l.logger.Debug("No config file found, using defaults and environment")
	} else {
		l.file = true
		l.logger.Info("Loaded configuration", zap.String("file", l.v.ConfigFileUsed()))
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch calls onChange with each valid config after the file changes. Invalid
// edits are logged and ignored. It is a no-op when no file was loaded.
func (l *Loader) Watch(onChange func(*Config)) {
	if !l.file {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			l.logger.Warn("Ignoring invalid configuration change",
				zap.String("file", e.Name),
				zap.Error(err),
			)
			return
		}
		l.logger.Info("Configuration reloaded",
			zap.String("file", e.Name),
			zap.String("op", e.Op.String()),
		)
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Load is shorthand for NewLoader("", nil).Load().
func Load() (*Config, error) {
	return NewLoader("", nil).Load()
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	switch c.LLM.Provider {
	case "service", "openai":
	default:
		return fmt.Errorf("invalid llm provider %q", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm temperature %v out of range [0, 2]", c.LLM.Temperature)
	}
	switch c.Database.Driver {
	case "", "file":
	case "postgres", "sqlite3":
		if c.Database.DSN == "" {
			return fmt.Errorf("database driver %s requires a dsn", c.Database.Driver)
		}
	default:
		return fmt.Errorf("invalid database driver %q", c.Database.Driver)
	}
	if c.Research.MaxSubagents < 0 || c.Research.MaxResults < 0 || c.Research.MemoryLimitTokens < 0 {
		return errors.New("research limits must not be negative")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return errors.New("auth enabled without jwt_secret")
	}
	return nil
}

// SQLDriver reports whether reports go to a SQL store.
func (c *Config) SQLDriver() bool {
	return c.Database.Driver == "postgres" || c.Database.Driver == "sqlite3"
}
