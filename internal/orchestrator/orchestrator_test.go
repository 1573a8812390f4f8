package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/citation"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/memory"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/search"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/streaming"
)

// scriptedLLM answers by prompt kind; an empty answer is a failure.
type scriptedLLM struct {
	plan, strategy, summary, synthesis string
	calls                              atomic.Int32
}

func (s *scriptedLLM) Complete(_ context.Context, system, _ string) (string, error) {
	s.calls.Add(1)
	var out string
	switch {
	case strings.Contains(system, "lead researcher"):
		out = s.plan
	case strings.Contains(system, "web search strategy"):
		out = s.strategy
	case strings.Contains(system, "summarize web research"):
		out = s.summary
	case strings.Contains(system, "senior research analyst"):
		out = s.synthesis
	}
	if out == "" {
		return "", &llm.CompletionError{Provider: "scripted", Err: errors.New("unavailable")}
	}
	return out, nil
}

func planJSON(tasks ...string) string {
	var parts []string
	for i, task := range tasks {
		parts = append(parts, fmt.Sprintf(`{"id": "subagent_%d", "task": %q, "focus": "general"}`, i+1, task))
	}
	return fmt.Sprintf(`{"analysis": "test analysis", "research_aspects": ["a"], "subagent_tasks": [%s], "synthesis_strategy": "merge"}`,
		strings.Join(parts, ", "))
}

func noResults() search.Searcher {
	return search.SearcherFunc(func(context.Context, string, int) ([]research.EvidenceItem, error) {
		return nil, nil
	})
}

func byQuery(items map[string][]research.EvidenceItem) search.Searcher {
	return search.SearcherFunc(func(_ context.Context, query string, _ int) ([]research.EvidenceItem, error) {
		return items[query], nil
	})
}

type recordingPersister struct {
	mu    sync.Mutex
	names []string
	texts []string
}

func (p *recordingPersister) Save(_ context.Context, name, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append(p.names, name)
	p.texts = append(p.texts, text)
	return nil
}

type recordingSnapshots struct {
	runID string
	mem   *memory.ResearchMemory
}

func (s *recordingSnapshots) Save(_ context.Context, runID string, m *memory.ResearchMemory) error {
	s.runID, s.mem = runID, m
	return nil
}

var (
	acme = research.EvidenceItem{
		Title:       "Acme",
		URL:         "https://acme.example",
		Content:     "Acme offers X. Acme sells industrial widgets to customers in many countries.",
		SourceScore: 0.9,
	}
	weather = research.EvidenceItem{
		Title:       "Weather",
		URL:         "https://weather.example",
		Content:     "Hourly weather reports for the region, updated by the national service.",
		SourceScore: 0.5,
	}
)

func TestRunEmptyQuery(t *testing.T) {
	c := &scriptedLLM{}
	o := New(Config{}, Dependencies{Completion: c, Search: noResults()}, zaptest.NewLogger(t))

	result := o.Run(context.Background(), "   ")
	assert.False(t, result.Success)
	assert.Equal(t, "empty query", result.Error)
	assert.NotEmpty(t, result.RunID)
	assert.Empty(t, result.Report)
	assert.Equal(t, int32(0), c.calls.Load())
}

func TestRunMisconfigured(t *testing.T) {
	o := New(Config{}, Dependencies{Search: noResults()}, zaptest.NewLogger(t))
	result := o.Run(context.Background(), "anything")
	assert.False(t, result.Success)
	assert.Equal(t, research.ErrMisconfigured.Error(), result.Error)
}

func TestRunPlannerFallback(t *testing.T) {
	o := New(Config{}, Dependencies{Completion: &scriptedLLM{}, Search: noResults()}, zaptest.NewLogger(t))

	result := o.Run(context.Background(), "grid storage")
	require.True(t, result.Success, result.Error)
	require.Len(t, result.SubTaskResults, 1)
	assert.Equal(t, "grid storage", result.SubTaskResults[0].Task)
	assert.Equal(t, "subagent_1", result.SubTaskResults[0].Name)
	assert.Equal(t, "No results found for: grid storage", result.SubTaskResults[0].Summary)

	assert.Equal(t, []research.Degradation{
		research.PlanningDegraded,
		research.SearchDegraded,
		research.SynthesisDegraded,
	}, result.Degradations)
	assert.Contains(t, result.Report, "# Research Report: grid storage\n\n## Result 1\nNo results found for: grid storage")
	assert.Equal(t, 2, result.Metadata.Iterations)
	assert.Equal(t, 0, result.Metadata.NumSources)
}

func TestRunRoundTrip(t *testing.T) {
	c := &scriptedLLM{
		plan:      planJSON("acme offers"),
		strategy:  `{"queries": ["acme products"], "strategy": "direct"}`,
		summary:   "Acme offers X.",
		synthesis: "Acme offers X. Acme offers X. The sky is blue.",
	}
	persister := &recordingPersister{}
	snapshots := &recordingSnapshots{}
	events := streaming.NewManager(64, nil)

	o := New(Config{SaveReports: true}, Dependencies{
		Completion: c,
		Search:     byQuery(map[string][]research.EvidenceItem{"acme products": {acme, weather}}),
		Persister:  persister,
		Snapshots:  snapshots,
		Events:     events,
	}, zaptest.NewLogger(t))

	result := o.Run(context.Background(), "What does Acme offer?")
	require.True(t, result.Success, result.Error)
	assert.Empty(t, result.Degradations)

	require.Len(t, result.Sources, 2)
	assert.Equal(t, "https://acme.example", result.Sources[0].URL)

	body, refs, found := strings.Cut(result.Report, "## References")
	require.True(t, found)
	assert.Equal(t, 1, strings.Count(body, "[1]"))
	assert.Contains(t, body, "Acme offers X. [1] Acme offers X. The sky is blue.")
	assert.Contains(t, refs, "[1] Acme - https://acme.example")
	assert.Contains(t, refs, "[2] Weather - https://weather.example")
	assert.True(t, strings.HasPrefix(result.Report, "---\n**Multi-Agent Research Report**\n- Query: What does Acme offer?\n"))
	assert.Contains(t, result.Report, "- Sources consulted: 2\n")

	v := o.ValidateCitations(result.Report, len(result.Sources))
	assert.True(t, v.Valid)
	assert.Equal(t, 1, v.TotalCitations)
	assert.Equal(t, []string{"unused sources: 2"}, v.Issues)

	require.Len(t, persister.names, 1)
	assert.True(t, strings.HasPrefix(persister.names[0], "research_what_does_acme_offer_"))
	assert.Equal(t, result.Report, persister.texts[0])

	require.NotNil(t, snapshots.mem)
	assert.Equal(t, result.RunID, snapshots.runID)
	var stored string
	ok, err := snapshots.mem.Context(memory.KeyFinalReport, &stored)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, result.Report, stored)
	var completed bool
	ok, err = snapshots.mem.Context(memory.KeyCompleted, &completed)
	require.NoError(t, err)
	assert.True(t, ok && completed)
	assert.Contains(t, snapshots.mem.Plan(), "acme offers")

	evs := events.ReplaySince(result.RunID, 0)
	require.NotEmpty(t, evs)
	assert.Equal(t, streaming.EventRunStarted, evs[0].Type)
	assert.Equal(t, streaming.EventRunCompleted, evs[len(evs)-1].Type)
}

func TestRunStripsOutOfRangeMarkers(t *testing.T) {
	c := &scriptedLLM{
		plan:      planJSON("acme offers"),
		strategy:  `{"queries": ["acme products"]}`,
		summary:   "s",
		synthesis: "Acme offers X [7]. Unrelated closing line.",
	}
	o := New(Config{}, Dependencies{
		Completion: c,
		Search:     byQuery(map[string][]research.EvidenceItem{"acme products": {acme}}),
	}, zaptest.NewLogger(t))

	result := o.Run(context.Background(), "acme")
	require.True(t, result.Success)
	assert.NotContains(t, result.Report, "[7]")
	assert.True(t, citation.Validate(result.Report, len(result.Sources)).Valid)
}

func TestRunDuplicateURLKeepsHighestScore(t *testing.T) {
	low := research.EvidenceItem{Title: "Report", URL: "https://dup.example", Content: strings.Repeat("battery storage ", 5), SourceScore: 0.4}
	high := low
	high.SourceScore = 0.8

	c := &scriptedLLM{plan: planJSON("alpha", "beta"), summary: "summary", synthesis: "Draft."}
	o := New(Config{}, Dependencies{
		Completion: c,
		Search:     byQuery(map[string][]research.EvidenceItem{"alpha": {low}, "beta": {high}}),
	}, zaptest.NewLogger(t))

	result := o.Run(context.Background(), "batteries")
	require.True(t, result.Success)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, 0.8, result.Sources[0].SourceScore)

	// Round 0 runs both tasks in id order, round 1 only the odd-indexed one.
	var got []string
	for _, r := range result.SubTaskResults {
		got = append(got, fmt.Sprintf("%d@%d", r.TaskID, r.Round))
	}
	assert.Equal(t, []string{"0@0", "1@0", "1@1"}, got)
	assert.Equal(t, 2, result.Metadata.Iterations)
}

func TestRunAlternatesAndTerminates(t *testing.T) {
	c := &scriptedLLM{plan: planJSON("alpha", "beta", "gamma")}
	o := New(Config{MaxSubagents: 5}, Dependencies{Completion: c, Search: noResults()}, zaptest.NewLogger(t))

	result := o.Run(context.Background(), "q")
	require.True(t, result.Success)

	rounds := map[int][]int{}
	for _, r := range result.SubTaskResults {
		rounds[r.Round] = append(rounds[r.Round], r.TaskID)
	}
	assert.Equal(t, []int{0, 1, 2}, rounds[0])
	assert.Equal(t, []int{1}, rounds[1])
	assert.Equal(t, []int{0, 2}, rounds[2])
	assert.Equal(t, 3, result.Metadata.Iterations)
	assert.LessOrEqual(t, result.Metadata.Iterations, IterationCap(3))
}

func TestRunWorkerCap(t *testing.T) {
	var inflight, peak atomic.Int32
	searcher := search.SearcherFunc(func(context.Context, string, int) ([]research.EvidenceItem, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return nil, nil
	})

	c := &scriptedLLM{plan: planJSON("a", "b", "c", "d")}
	o := New(Config{MaxSubagents: 4, WorkerCap: 2}, Dependencies{Completion: c, Search: searcher}, zaptest.NewLogger(t))

	result := o.Run(context.Background(), "q")
	require.True(t, result.Success)
	assert.Len(t, result.SubTaskResults, 4)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestRunBudgetStopsFurtherRounds(t *testing.T) {
	newOrchestrator := func(budget time.Duration) *Orchestrator {
		c := &scriptedLLM{plan: planJSON("alpha", "beta")}
		o := New(Config{MaxSubagents: 5, MaxDuration: budget}, Dependencies{Completion: c, Search: noResults()}, zaptest.NewLogger(t))
		clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		o.now = func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		}
		return o
	}

	unbounded := newOrchestrator(0).Run(context.Background(), "q")
	assert.Equal(t, 4, unbounded.Metadata.Iterations)

	bounded := newOrchestrator(30 * time.Second).Run(context.Background(), "q")
	require.True(t, bounded.Success)
	assert.Equal(t, 1, bounded.Metadata.Iterations)
	assert.Len(t, bounded.SubTaskResults, 2, "the round in flight completes")
}

func TestRunRecoversSubagentPanic(t *testing.T) {
	searcher := search.SearcherFunc(func(_ context.Context, query string, _ int) ([]research.EvidenceItem, error) {
		if query == "boom" {
			panic("search exploded")
		}
		return nil, nil
	})
	c := &scriptedLLM{plan: planJSON("boom", "calm")}
	o := New(Config{}, Dependencies{Completion: c, Search: searcher}, zaptest.NewLogger(t))

	result := o.Run(context.Background(), "q")
	require.True(t, result.Success, result.Error)
	require.NotEmpty(t, result.SubTaskResults)
	for _, r := range result.SubTaskResults {
		assert.Equal(t, 1, r.TaskID)
	}
}

func TestUpdateConfig(t *testing.T) {
	o := New(Config{}, Dependencies{}, nil)
	assert.Equal(t, DefaultMaxSubagents, o.Config().WorkerCap)

	o.UpdateConfig(Config{MaxSubagents: 5, WorkerCap: 2})
	cfg := o.Config()
	assert.Equal(t, 5, cfg.MaxSubagents)
	assert.Equal(t, 2, cfg.WorkerCap)
	assert.Equal(t, 5, cfg.MaxSubTasks)
	assert.Equal(t, DefaultMaxResults, cfg.MaxResults)
}

func TestValidateCitationsFlagsOutOfRange(t *testing.T) {
	o := New(Config{}, Dependencies{}, zaptest.NewLogger(t))
	v := o.ValidateCitations("Claim [1]. Other claim [3].", 2)
	assert.False(t, v.Valid)
	assert.Equal(t, 3, v.MaxCitation)
	assert.Contains(t, v.Issues, "citation [3] has no matching source")
}
