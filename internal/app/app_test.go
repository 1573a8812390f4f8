package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/config"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/health"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/persistence"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/search"
)

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "research.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.NewLoader(path, zaptest.NewLogger(t)).Load()
	require.NoError(t, err)
	return cfg
}

var unavailable = llm.CompletionFunc(func(context.Context, string, string) (string, error) {
	return "", errors.New("completion service unavailable")
})

var oneResult = search.SearcherFunc(func(_ context.Context, query string, _ int) ([]research.EvidenceItem, error) {
	return []research.EvidenceItem{{
		Title:       "Grid storage overview",
		URL:         "https://energy.example/grid",
		Content:     "Grid storage research shows batteries smoothing renewable supply across regional networks.",
		SourceScore: 0.8,
	}}, nil
})

func TestBuildWithRedisAndSQLite(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	dsn := filepath.Join(t.TempDir(), "reports.db")
	cfg := loadConfig(t, fmt.Sprintf(`
redis:
  enabled: true
  addr: %s
database:
  driver: sqlite3
  dsn: %s
`, mr.Addr(), dsn))

	a, err := Build(context.Background(), cfg, Options{Completion: unavailable, Search: oneResult}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.Snapshots)

	result := a.Orchestrator.Run(context.Background(), "grid storage")
	require.True(t, result.Success, result.Error)
	assert.Contains(t, result.Degradations, research.PlanningDegraded)

	store, ok := a.Reports.(*persistence.SQLStore)
	require.True(t, ok)
	reports, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, strings.HasPrefix(reports[0].Name, "research_grid_storage_"))

	mem, err := a.Snapshots.Load(context.Background(), result.RunID, cfg.Research.MemoryLimitTokens)
	require.NoError(t, err)
	assert.Equal(t, "grid storage", mem.Query())

	assert.True(t, mr.Exists("research:events:"+result.RunID), "events mirrored to a Redis stream")
	assert.NotEmpty(t, a.Events.ReplaySince(result.RunID, 0))

	detailed := a.Health.GetDetailedHealth(context.Background())
	for _, name := range []string{"redis", "database", "circuit_breakers"} {
		assert.Contains(t, detailed.Components, name)
	}
	assert.Equal(t, health.StatusHealthy, detailed.Components["database"].Status)
}

func TestBuildFileStoreWithoutRedis(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, fmt.Sprintf("database:\n  driver: file\n  reports_dir: %s\n", dir))

	a, err := Build(context.Background(), cfg, Options{Completion: unavailable, Search: oneResult}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Snapshots)

	result := a.Orchestrator.Run(context.Background(), "grid storage")
	require.True(t, result.Success, result.Error)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "research_grid_storage_"))
}

func TestBuildRequiresSearchProvider(t *testing.T) {
	cfg := loadConfig(t, fmt.Sprintf("database:\n  reports_dir: %s\n", t.TempDir()))
	_, err := Build(context.Background(), cfg, Options{Completion: unavailable}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrNoSearchProvider)
}

func TestBuildRegistersLLMServiceCheck(t *testing.T) {
	cfg := loadConfig(t, fmt.Sprintf("search:\n  tavily_api_key: tvly-test\ndatabase:\n  reports_dir: %s\n", t.TempDir()))
	a, err := Build(context.Background(), cfg, Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.NoError(t, a.Health.UnregisterChecker("llm_service"), "service provider registers its health probe")
}

func TestApplyConfig(t *testing.T) {
	cfg := loadConfig(t, fmt.Sprintf("database:\n  reports_dir: %s\n", t.TempDir()))
	a, err := Build(context.Background(), cfg, Options{Completion: unavailable, Search: oneResult}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	next := *cfg
	next.Research.MaxSubagents = 5
	a.ApplyConfig(&next)
	assert.Equal(t, 5, a.Orchestrator.Config().MaxSubagents)
}
