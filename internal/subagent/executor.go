package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/evidence"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/search"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

const (
	maxQueries       = 3
	qualityTarget    = 5
	minContentLength = 50
	maxProcessed     = 10
	summaryItems     = 5
	summarySnippet   = 200
)

const strategyPrompt = `You are an expert in web search strategy.
Given a research task and its focus, write 2-3 distinct search queries:
one broad, one specific or technical, one using alternative terms.

Respond with JSON only:
{"queries": ["query 1", "query 2", "query 3"], "strategy": "short description", "expected_sources": ["source type"]}`

const summaryPrompt = `You summarize web research findings.
Write a concise summary of what the results say about the task. Keep concrete
facts such as names, figures and dates. Do not invent information.`

// Config tunes an Executor.
type Config struct {
	MaxResults int
}

// Executor runs one SubTaskSpec: it plans queries, searches until the
// evidence is good enough, ranks what it found and summarizes it.
type Executor struct {
	completion llm.Completion
	general    search.Searcher
	company    search.Searcher
	maxResults int
	logger     *zap.Logger
}

// New creates an executor. company may be nil, in which case company topics
// use the general searcher.
func New(completion llm.Completion, general, company search.Searcher, cfg Config, logger *zap.Logger) *Executor {
	if company == nil {
		company = general
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		completion: completion,
		general:    general,
		company:    company,
		maxResults: cfg.MaxResults,
		logger:     logger,
	}
}

type strategy struct {
	Queries         []string `json:"queries"`
	Strategy        string   `json:"strategy"`
	ExpectedSources []string `json:"expected_sources"`
}

// Execute runs spec. Capability failures degrade the result instead of failing
// it; an error is returned only when ctx is already done.
func (e *Executor) Execute(ctx context.Context, spec research.SubTaskSpec) (research.SubTaskResult, error) {
	if err := ctx.Err(); err != nil {
		return research.SubTaskResult{}, err
	}
	start := time.Now()
	logger := e.logger.With(zap.String("subagent", spec.Name), zap.Int("task_id", spec.ID))

	result := research.SubTaskResult{
		TaskID: spec.ID,
		Name:   spec.Name,
		Task:   spec.Task,
		Focus:  spec.Focus,
		Status: research.StatusCompleted,
	}

	queries, ok := e.planQueries(ctx, spec)
	if !ok {
		result.Degradations = append(result.Degradations, research.SearchDegraded)
	}
	result.Queries = queries

	raw, failed := e.search(ctx, spec, queries, logger)
	if failed > 0 {
		result.Degradations = appendOnce(result.Degradations, research.SearchDegraded)
	}
	result.Raw = raw
	result.Processed = e.process(spec, raw)

	summary, ok := e.summarize(ctx, spec, result.Processed)
	if !ok {
		result.Degradations = append(result.Degradations, research.SummaryDegraded)
	}
	result.Summary = summary

	metrics.SubagentDuration.Observe(time.Since(start).Seconds())
	metrics.EvidenceProcessed.Observe(float64(len(result.Processed)))
	logger.Info("Subagent completed",
		zap.Int("queries", len(queries)),
		zap.Int("raw_results", len(raw)),
		zap.Int("processed_results", len(result.Processed)),
	)
	return result, nil
}

// planQueries asks for 1-3 queries. The task itself is the fallback query.
func (e *Executor) planQueries(ctx context.Context, spec research.SubTaskSpec) ([]string, bool) {
	fallback := []string{spec.Task}

	text, err := e.completion.Complete(ctx, strategyPrompt, fmt.Sprintf("Task: %s\nFocus: %s", spec.Task, spec.Focus))
	if err != nil {
		e.logger.Debug("Search strategy completion failed", zap.String("subagent", spec.Name), zap.Error(err))
		return fallback, false
	}
	var s strategy
	if err := json.Unmarshal([]byte(llm.StripCodeFence(text)), &s); err != nil {
		return fallback, false
	}

	var queries []string
	for _, q := range s.Queries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
		if len(queries) == maxQueries {
			break
		}
	}
	if len(queries) == 0 {
		return fallback, false
	}
	return queries, true
}

// search runs queries in order and stops once the accumulated evidence earns
// enough quality points. It returns the evidence and the number of failed queries.
func (e *Executor) search(ctx context.Context, spec research.SubTaskSpec, queries []string, logger *zap.Logger) ([]research.EvidenceItem, int) {
	var all []research.EvidenceItem
	failed := 0
	for _, q := range queries {
		if ctx.Err() != nil {
			failed++
			break
		}
		searcher := e.general
		if search.IsCompanyTopic(spec.Focus, q) {
			searcher = e.company
		}
		items, err := searcher.Search(ctx, q, e.maxResults)
		if err != nil {
			failed++
			logger.Warn("Search failed", zap.String("query", q), zap.Error(err))
			continue
		}
		all = append(all, evidence.Clean(items)...)
		if evidence.QualityPoints(all) >= qualityTarget {
			break
		}
	}
	return all, failed
}

// process deduplicates, drops thin content, ranks by relevance to the task
// and keeps the top results.
func (e *Executor) process(spec research.SubTaskSpec, raw []research.EvidenceItem) []research.EvidenceItem {
	items := evidence.DropShort(evidence.Deduplicate(raw), minContentLength)
	ranked := evidence.Rank(spec.Task+" "+spec.Focus, items)
	if len(ranked) > maxProcessed {
		ranked = ranked[:maxProcessed]
	}
	for i := range ranked {
		ranked[i].ProcessedBy = spec.Name
		ranked[i].ContentLength = len(ranked[i].Content)
	}
	return ranked
}

func (e *Executor) summarize(ctx context.Context, spec research.SubTaskSpec, processed []research.EvidenceItem) (string, bool) {
	if len(processed) == 0 {
		return "No results found for: " + spec.Task, true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nFocus: %s\n\nResults:\n", spec.Task, spec.Focus)
	for i, it := range processed {
		if i == summaryItems {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n%s\n\n", i+1, it.Title, util.TruncateRunes(it.Content, summarySnippet)+"...")
	}

	text, err := e.completion.Complete(ctx, summaryPrompt, b.String())
	if err != nil || strings.TrimSpace(text) == "" {
		return fmt.Sprintf("Found %d results for: %s", len(processed), spec.Task), false
	}
	return strings.TrimSpace(text), true
}

func appendOnce(list []research.Degradation, d research.Degradation) []research.Degradation {
	for _, x := range list {
		if x == d {
			return list
		}
	}
	return append(list, d)
}
