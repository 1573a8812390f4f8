// Package app assembles the research stack from configuration. Both the
// server binary and the CLI build their orchestrator through it.
package app

import (
	"context"
	"errors"
	"fmt"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/citation"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/config"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/health"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/memory"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/orchestrator"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/persistence"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/search"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/streaming"
)

// ErrNoSearchProvider is returned when neither a Tavily nor a Brave key is set.
var ErrNoSearchProvider = errors.New("no search provider configured")

// App holds the constructed collaborators and the resources to release.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Events       *streaming.Manager
	Health       *health.Manager
	Reports      persistence.Reader
	// Snapshots is nil unless Redis is enabled.
	Snapshots *memory.RedisStore

	closers []func() error
	logger  *zap.Logger
}

// Options replace parts of the built stack. Tests use them to supply their
// own completion or search backends.
type Options struct {
	Completion llm.Completion
	Search     search.Searcher
}

// Build constructs the stack described by cfg. On error everything opened so
// far is closed.
func Build(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Events: streaming.NewManager(cfg.Server.EventBuffer, logger),
		Health: health.NewManager(logger),
		logger: logger,
	}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	completion := opts.Completion
	if completion == nil {
		client, err := llm.NewClient(llm.ClientConfig{
			Provider:    cfg.LLM.Provider,
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		completion = client
		if cfg.LLM.Provider == llm.ProviderService {
			a.register(health.NewLLMServiceHealthChecker(cfg.LLM.BaseURL, logger))
		}
	}

	var v8 *redisv8.Client
	if cfg.Redis.Enabled {
		v8 = redisv8.NewClient(&redisv8.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		wrapper := circuitbreaker.NewRedisWrapper(v8, logger)
		a.closers = append(a.closers, wrapper.Close)
		a.register(health.NewRedisHealthChecker(wrapper, false))

		streams := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, streams.Close)
		a.Events.SetMirror(streaming.NewRedisMirror(streams, cfg.Redis.StreamMaxLen, cfg.Redis.StreamTTL))

		a.Snapshots = memory.NewRedisStore(v8, cfg.Redis.SnapshotTTL, logger)
	}

	searcher := opts.Search
	if searcher == nil {
		s, err := buildSearcher(cfg, v8, logger)
		if err != nil {
			return nil, err
		}
		searcher = s
	}

	keywords, err := citation.LoadKeywords(cfg.Citation.KeywordsPath)
	if err != nil {
		return nil, err
	}

	persister, err := a.buildPersister(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	deps := orchestrator.Dependencies{
		Completion:       completion,
		Search:           searcher,
		CitationKeywords: keywords,
		Persister:        persister,
		Events:           a.Events,
	}
	if a.Snapshots != nil {
		deps.Snapshots = a.Snapshots
	}
	a.Orchestrator = orchestrator.New(cfg.Research, deps, logger)
	a.register(health.NewBreakerHealthChecker(circuitbreaker.Default))

	ok = true
	return a, nil
}

func buildSearcher(cfg *config.Config, v8 *redisv8.Client, logger *zap.Logger) (search.Searcher, error) {
	var providers []search.Searcher
	if cfg.Search.TavilyAPIKey != "" {
		providers = append(providers, search.NewTavily(search.TavilyConfig{
			APIKey: cfg.Search.TavilyAPIKey,
			Depth:  cfg.Search.TavilyDepth,
		}, logger))
	}
	if cfg.Search.BraveAPIKey != "" {
		providers = append(providers, search.NewBrave(search.BraveConfig{
			APIKey:            cfg.Search.BraveAPIKey,
			RequestsPerSecond: cfg.Search.BraveRPS,
		}, logger))
	}
	if len(providers) == 0 {
		return nil, ErrNoSearchProvider
	}

	next := providers[0]
	if len(providers) > 1 {
		next = search.NewFallback(logger, providers...)
	}
	// Keep shared an untyped nil when Redis is off.
	var shared search.ResultCache
	if v8 != nil {
		shared = search.NewRedisCache(v8, logger)
	}
	return search.NewCached(next, search.NewLocalLRU(cfg.Search.CacheSize), shared, cfg.Search.CacheTTL), nil
}

func (a *App) buildPersister(ctx context.Context, cfg *config.Config, logger *zap.Logger) (persistence.Persister, error) {
	if cfg.SQLDriver() {
		store, err := persistence.OpenSQLStore(ctx, persistence.SQLConfig{
			Driver:          cfg.Database.Driver,
			DSN:             cfg.Database.DSN,
			MaxConnections:  cfg.Database.MaxConnections,
			IdleConnections: cfg.Database.IdleConnections,
			MaxLifetime:     cfg.Database.MaxLifetime,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open report store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.register(health.NewDatabaseHealthChecker(store))
		a.Reports = store
		return store, nil
	}
	store, err := persistence.NewFileStore(cfg.Database.ReportsDir, logger)
	if err != nil {
		return nil, err
	}
	a.Reports = store
	return store, nil
}

func (a *App) register(c health.Checker) {
	if err := a.Health.RegisterChecker(c); err != nil {
		a.logger.Warn("Health checker not registered", zap.String("name", c.Name()), zap.Error(err))
	}
}

// ApplyConfig pushes reloaded tunables to the orchestrator. Connection
// settings take effect on restart.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.Orchestrator.UpdateConfig(cfg.Research)
	a.logger.Info("Research tunables updated",
		zap.Int("max_subagents", cfg.Research.MaxSubagents),
		zap.Int("max_results", cfg.Research.MaxResults),
		zap.Duration("max_duration", cfg.Research.MaxDuration),
	)
}

// Close releases clients in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
