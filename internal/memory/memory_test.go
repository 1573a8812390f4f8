package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

func fixedClock() func() time.Time {
	t := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestMemoryPlanAndResults(t *testing.T) {
	m := New(0)
	m.now = fixedClock()

	m.SavePlan(`{"analysis":"a"}`, "solar startups")
	m.AddResult(research.SubTaskResult{TaskID: 0, Name: "subagent_1", Summary: "s1"})
	m.AddResult(research.SubTaskResult{TaskID: 1, Name: "subagent_2", Summary: "s2"})

	assert.Equal(t, `{"analysis":"a"}`, m.Plan())
	assert.Equal(t, "solar startups", m.Query())

	results := m.Results()
	require.Len(t, results, 2)
	assert.Equal(t, "subagent_1", results[0].AgentID)
	assert.Equal(t, "s2", results[1].Result.Summary)

	s := m.Summary()
	assert.True(t, s.HasPlan)
	assert.Equal(t, 2, s.NumResults)
	assert.Greater(t, s.TokenCount, 0)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), s.CreatedAt)
}

func TestMemorySourcesSkipExactDuplicates(t *testing.T) {
	m := New(0)
	a := research.EvidenceItem{Title: "A", URL: "u1", SourceScore: 0.5}
	b := research.EvidenceItem{Title: "B", URL: "u2"}
	m.AddSources([]research.EvidenceItem{a, b})
	m.AddSources([]research.EvidenceItem{a, {Title: "A", URL: "u1", SourceScore: 0.9}})

	assert.Len(t, m.Sources(), 3)
}

func TestMemoryContext(t *testing.T) {
	m := New(0)
	require.NoError(t, m.SetContext(KeyFinalReport, "report body"))
	require.NoError(t, m.SetContext(KeyCompleted, true))

	var report string
	ok, err := m.Context(KeyFinalReport, &report)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "report body", report)

	var done bool
	ok, err = m.Context(KeyCompleted, &done)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, done)

	ok, err = m.Context("missing", &report)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, m.SetContext("bad", make(chan int)))
}

func TestMemoryCompact(t *testing.T) {
	m := New(1000)
	assert.False(t, m.Compact())

	big := strings.Repeat("x", 400)
	for i := 0; i < 8; i++ {
		m.AddResult(research.SubTaskResult{TaskID: i, Name: fmt.Sprintf("subagent_%d", i+1), Summary: big})
	}
	for i := 0; i < 25; i++ {
		m.AddSources([]research.EvidenceItem{{URL: fmt.Sprintf("https://s/%d", i)}})
	}
	require.True(t, m.IsFull())

	assert.True(t, m.Compact())
	results := m.Results()
	require.Len(t, results, 5)
	assert.Equal(t, 3, results[0].Result.TaskID)
	sources := m.Sources()
	require.Len(t, sources, 20)
	assert.Equal(t, "https://s/5", sources[0].URL)
}

func TestMemoryExportImport(t *testing.T) {
	m := New(0)
	m.SavePlan("plan", "query")
	m.AddResult(research.SubTaskResult{Name: "subagent_1", Summary: "done"})
	require.NoError(t, m.SetContext(KeyCompleted, true))

	data, err := m.Export()
	require.NoError(t, err)

	restored := New(0)
	require.NoError(t, restored.Import(data))
	assert.Equal(t, "plan", restored.Plan())
	assert.Equal(t, "query", restored.Query())
	require.Len(t, restored.Results(), 1)

	var done bool
	ok, err := restored.Context(KeyCompleted, &done)
	require.NoError(t, err)
	assert.True(t, ok && done)

	assert.Error(t, restored.Import([]byte("{not json")))
}

func TestMemoryConcurrentWrites(t *testing.T) {
	m := New(0)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.AddResult(research.SubTaskResult{TaskID: i})
			m.AddSources([]research.EvidenceItem{{URL: fmt.Sprintf("u%d", i)}})
		}(i)
	}
	wg.Wait()
	assert.Len(t, m.Results(), 20)
	assert.Len(t, m.Sources(), 20)
}

func TestRedisStore(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	store := NewRedisStore(client, time.Hour, zaptest.NewLogger(t))
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	m := New(0)
	m.SavePlan("plan", "quantum sensors")
	require.NoError(t, store.Save(ctx, "run-1", m))
	assert.True(t, s.Exists("research:memory:run-1"))
	assert.Equal(t, time.Hour, s.TTL("research:memory:run-1"))

	loaded, err := store.Load(ctx, "run-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "quantum sensors", loaded.Query())

	_, err = store.Load(ctx, "run-404", 0)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}
