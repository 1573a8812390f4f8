package subagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/search"
)

type fakeCompletion struct {
	strategy    string
	strategyErr error
	summary     string
	summaryErr  error

	mu            sync.Mutex
	summaryCalls  int
	summaryPrompt string
}

func (f *fakeCompletion) Complete(_ context.Context, system, user string) (string, error) {
	if system == strategyPrompt {
		return f.strategy, f.strategyErr
	}
	f.mu.Lock()
	f.summaryCalls++
	f.summaryPrompt = user
	f.mu.Unlock()
	return f.summary, f.summaryErr
}

type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]research.EvidenceItem
	errs    map[string]error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, q string, _ int) ([]research.EvidenceItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if err := f.errs[q]; err != nil {
		return nil, err
	}
	return f.results[q], nil
}

func longText(words ...string) string {
	return strings.Join(words, " ") + " " + strings.Repeat("filler ", 20)
}

func TestExecuteStopsOnceQualityIsReached(t *testing.T) {
	good := []research.EvidenceItem{
		{Title: "A", URL: "https://a", Content: longText("solar", "panels"), SourceScore: 0.8},
		{Title: "B", URL: "https://b", Content: longText("solar", "efficiency"), SourceScore: 0.9},
		{Title: "C", URL: "https://c", Content: longText("wind"), SourceScore: 0.75},
	}
	searcher := &fakeSearcher{results: map[string][]research.EvidenceItem{"q1": good}}
	completion := &fakeCompletion{
		strategy: `{"queries":["q1","q2","q3","q4"],"strategy":"s"}`,
		summary:  "Solar panels are getting more efficient.",
	}

	ex := New(completion, searcher, nil, Config{}, zaptest.NewLogger(t))
	spec := research.SubTaskSpec{ID: 2, Name: "subagent_3", Task: "solar panels", Focus: "efficiency"}
	res, err := ex.Execute(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, []string{"q1"}, searcher.queries, "later queries must not run once evidence is sufficient")
	assert.Equal(t, []string{"q1", "q2", "q3"}, res.Queries)
	assert.Equal(t, research.StatusCompleted, res.Status)
	assert.Equal(t, 2, res.TaskID)
	assert.Equal(t, "Solar panels are getting more efficient.", res.Summary)
	assert.Empty(t, res.Degradations)

	require.Len(t, res.Processed, 3)
	assert.Equal(t, "https://b", res.Processed[0].URL, "matches both task and focus words")
	for i, it := range res.Processed {
		assert.Equal(t, "subagent_3", it.ProcessedBy)
		if i > 0 {
			assert.GreaterOrEqual(t, res.Processed[i-1].RelevanceScore, it.RelevanceScore)
		}
	}
	assert.Contains(t, completion.summaryPrompt, "...")
}

func TestExecuteFallbacks(t *testing.T) {
	items := []research.EvidenceItem{
		{Title: "short", URL: "https://s", Content: "too short"},
		{Title: "dup-low", URL: "https://d", Content: longText("ocean"), SourceScore: 0.2},
		{Title: "dup-high", URL: "https://d", Content: longText("ocean"), SourceScore: 0.6},
	}
	searcher := &fakeSearcher{results: map[string][]research.EvidenceItem{"ocean acidification": items}}
	completion := &fakeCompletion{
		strategyErr: &llm.CompletionError{Provider: "test", Err: errors.New("down")},
		summaryErr:  &llm.CompletionError{Provider: "test", Err: errors.New("down")},
	}

	ex := New(completion, searcher, nil, Config{MaxResults: 5}, nil)
	res, err := ex.Execute(context.Background(), research.SubTaskSpec{Name: "subagent_1", Task: "ocean acidification", Focus: "general"})
	require.NoError(t, err)

	assert.Equal(t, []string{"ocean acidification"}, res.Queries)
	require.Len(t, res.Processed, 1)
	assert.Equal(t, "dup-high", res.Processed[0].Title)
	assert.Equal(t, "Found 1 results for: ocean acidification", res.Summary)
	assert.Equal(t, []research.Degradation{research.SearchDegraded, research.SummaryDegraded}, res.Degradations)
	assert.Equal(t, research.StatusCompleted, res.Status)
}

func TestExecuteNoResults(t *testing.T) {
	searcher := &fakeSearcher{errs: map[string]error{
		"a": &search.SearchError{Provider: "test", Query: "a", Err: errors.New("unreachable")},
		"b": &search.SearchError{Provider: "test", Query: "b", Err: errors.New("unreachable")},
	}}
	completion := &fakeCompletion{strategy: `{"queries":["a","b"]}`}

	res, err := New(completion, searcher, nil, Config{}, nil).Execute(context.Background(), research.SubTaskSpec{Name: "subagent_1", Task: "dark matter", Focus: "general"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, searcher.queries)
	assert.Empty(t, res.Processed)
	assert.Equal(t, "No results found for: dark matter", res.Summary)
	assert.Equal(t, 0, completion.summaryCalls)
	assert.Equal(t, research.StatusCompleted, res.Status)
	assert.Equal(t, []research.Degradation{research.SearchDegraded}, res.Degradations)
}

func TestExecuteUsesCompanySearchForCompanyTopics(t *testing.T) {
	general := &fakeSearcher{}
	company := &fakeSearcher{}
	completion := &fakeCompletion{strategy: `{"queries":["robot makers","top robotics companies"]}`}

	ex := New(completion, general, company, Config{}, nil)

	_, err := ex.Execute(context.Background(), research.SubTaskSpec{Name: "s1", Task: "robots", Focus: "market"})
	require.NoError(t, err)
	assert.Equal(t, []string{"robot makers"}, general.queries)
	assert.Equal(t, []string{"top robotics companies"}, company.queries)

	_, err = ex.Execute(context.Background(), research.SubTaskSpec{Name: "s2", Task: "robots", Focus: "Company profiles"})
	require.NoError(t, err)
	assert.Len(t, company.queries, 3)
}

func TestExecuteKeepsTopTen(t *testing.T) {
	var items []research.EvidenceItem
	for i := 0; i < 14; i++ {
		items = append(items, research.EvidenceItem{
			Title:   fmt.Sprintf("r%d", i),
			URL:     fmt.Sprintf("https://r/%d", i),
			Content: strings.Repeat("x", 60),
		})
	}
	searcher := &fakeSearcher{results: map[string][]research.EvidenceItem{"t": items}}
	completion := &fakeCompletion{strategyErr: errors.New("skip"), summary: "ok"}

	res, err := New(completion, searcher, nil, Config{}, nil).Execute(context.Background(), research.SubTaskSpec{Task: "t", Focus: "general"})
	require.NoError(t, err)
	assert.Len(t, res.Raw, 14)
	assert.Len(t, res.Processed, 10)
	assert.Equal(t, "r0", res.Processed[0].Title, "equal relevance keeps search order")
}

func TestExecuteCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(&fakeCompletion{}, &fakeSearcher{}, nil, Config{}, nil).Execute(ctx, research.SubTaskSpec{Task: "t"})
	assert.ErrorIs(t, err, context.Canceled)
}
