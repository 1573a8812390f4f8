package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/citation"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/evidence"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/formatting"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/memory"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/persistence"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/planner"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/search"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/subagent"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/synthesis"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

// SnapshotStore keeps the memory of a finished run.
type SnapshotStore interface {
	Save(ctx context.Context, runID string, m *memory.ResearchMemory) error
}

// EventSink receives run progress events.
type EventSink interface {
	Publish(runID string, evt streaming.Event)
}

// Dependencies are the capabilities a run uses. Completion and Search are
// required; the rest are optional.
type Dependencies struct {
	Completion llm.Completion
	Search     search.Searcher
	// CompanySearch replaces the company decorator built around Search.
	CompanySearch    search.Searcher
	CitationKeywords []string
	Persister        persistence.Persister
	Snapshots        SnapshotStore
	Events           EventSink
}

// Orchestrator drives research runs: plan, bounded rounds of subagents,
// synthesis, citation and finalization.
type Orchestrator struct {
	mu        sync.RWMutex
	cfg       Config
	deps      Dependencies
	citations *citation.Engine
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an orchestrator. Missing required dependencies are reported by
// Run as a failed result rather than here.
func New(cfg Config, deps Dependencies, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		deps:      deps,
		citations: citation.NewEngine(deps.CitationKeywords, logger),
		logger:    logger,
		now:       time.Now,
	}
}

// Config returns the configuration new runs will use.
func (o *Orchestrator) Config() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// UpdateConfig swaps the configuration for runs started afterwards.
func (o *Orchestrator) UpdateConfig(cfg Config) {
	cfg = cfg.withDefaults()
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
	o.logger.Info("Orchestrator configuration updated",
		zap.Int("max_subagents", cfg.MaxSubagents),
		zap.Int("worker_cap", cfg.WorkerCap),
		zap.Duration("max_duration", cfg.MaxDuration),
	)
}

// components are rebuilt per run so configuration changes apply to new runs only.
type components struct {
	planner     *planner.Planner
	executor    *subagent.Executor
	synthesizer *synthesis.Synthesizer
}

func (o *Orchestrator) build(cfg Config, logger *zap.Logger) components {
	completion := llm.WithTimeout(o.deps.Completion, cfg.CallTimeout)
	company := o.deps.CompanySearch
	if company == nil {
		company = search.NewCompanySearcher(o.deps.Search, cfg.CompanyIndustry, cfg.CompanyYear)
	}
	return components{
		planner: planner.New(completion, cfg.MaxSubTasks, logger),
		executor: subagent.New(
			completion,
			search.WithTimeout(o.deps.Search, cfg.CallTimeout),
			search.WithTimeout(company, cfg.CallTimeout),
			subagent.Config{MaxResults: cfg.MaxResults},
			logger,
		),
		synthesizer: synthesis.New(completion, logger),
	}
}

// Run executes one research run under a fresh run id.
func (o *Orchestrator) Run(ctx context.Context, query string) research.ResearchResult {
	return o.RunWithID(ctx, uuid.NewString(), query)
}

// RunWithID executes one research run under runID, so callers can subscribe
// to its events before it starts. It never panics and never returns an error:
// failures are reported through Success and Error.
func (o *Orchestrator) RunWithID(ctx context.Context, runID, query string) (result research.ResearchResult) {
	start := o.now()
	cfg := o.Config()
	logger := o.logger.With(zap.String("run_id", runID))
	result = research.ResearchResult{RunID: runID, Query: query}

	metrics.RunsStarted.Inc()
	o.publish(runID, streaming.Event{Type: streaming.EventRunStarted, Message: query})

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Research run panicked", zap.Any("panic", r), zap.Stack("stack"))
			result = research.ResearchResult{
				RunID: runID,
				Query: result.Query,
				Error: fmt.Sprintf("internal error: %v", r),
			}
		}
		result.Duration = o.now().Sub(start)
		o.finish(result, logger)
	}()

	q, err := research.NormalizeQuery(query)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Query = q
	if o.deps.Completion == nil || o.deps.Search == nil {
		logger.Error("Research run rejected", zap.Error(research.ErrMisconfigured))
		result.Error = research.ErrMisconfigured.Error()
		return result
	}

	ctx, span := tracing.StartSpan(ctx, "research.run",
		attribute.String("run_id", runID),
		attribute.String("query", q),
	)
	defer span.End()

	logger.Info("Research run started", zap.String("query", q))
	mem := memory.New(cfg.MemoryLimitTokens)
	st := o.execute(ctx, runID, q, cfg, mem, logger)

	result.Success = true
	result.Report = st.Report
	result.Sources = st.FinalSources
	result.SubTaskResults = st.Results
	result.Degradations = st.Degradations
	result.Metadata = research.ResultMetadata{
		Iterations:  st.Iteration,
		NumSources:  len(st.FinalSources),
		NumSubTasks: len(st.Results),
	}

	if cfg.SaveReports {
		o.persist(ctx, q, start, st.Report, logger)
	}
	o.snapshot(ctx, runID, mem, logger)
	return result
}

// execute runs the state machine to completion. Every phase has a fallback,
// so it always reaches PhaseDone.
func (o *Orchestrator) execute(ctx context.Context, runID, query string, cfg Config, mem *memory.ResearchMemory, logger *zap.Logger) *ResearchState {
	st := newState(query)
	c := o.build(cfg, logger)

	var deadline time.Time
	if cfg.MaxDuration > 0 {
		deadline = o.now().Add(cfg.MaxDuration)
	}

	for st.Phase != PhaseDone {
		phaseCtx, span := tracing.StartSpan(ctx, "research."+string(st.Phase),
			attribute.Int("iteration", st.Iteration),
		)
		var next Phase
		switch st.Phase {
		case PhasePlanning:
			next = o.plan(phaseCtx, runID, st, c, mem)
		case PhaseExecuting:
			next = o.executeRound(phaseCtx, runID, st, c, cfg, mem, logger)
		case PhaseEvaluating:
			next = o.evaluate(ctx, st, cfg, deadline, logger)
		case PhaseSynthesizing:
			next = o.synthesize(phaseCtx, runID, st, c, mem)
		case PhaseCiting:
			next = o.cite(runID, st, logger)
		case PhaseFinalizing:
			next = o.finalize(st, mem, logger)
		default:
			next = PhaseDone
		}
		span.End()
		logger.Debug("Phase completed", zap.String("phase", string(st.Phase)), zap.String("next", string(next)))
		st.Phase = next
	}
	return st
}

func (o *Orchestrator) plan(ctx context.Context, runID string, st *ResearchState, c components, mem *memory.ResearchMemory) Phase {
	st.Plan = c.planner.Plan(ctx, st.Query, mem)
	st.Cap = IterationCap(len(st.Plan.SubTasks))
	st.Iteration = 0
	st.Complete = false
	if st.Plan.Degraded {
		o.degrade(st, research.PlanningDegraded)
	}
	o.publish(runID, streaming.Event{
		Type:    streaming.EventPlanReady,
		Message: st.Plan.Analysis,
		Data:    map[string]interface{}{"subtasks": len(st.Plan.SubTasks), "iteration_cap": st.Cap},
	})
	return PhaseExecuting
}

func (o *Orchestrator) executeRound(ctx context.Context, runID string, st *ResearchState, c components, cfg Config, mem *memory.ResearchMemory, logger *zap.Logger) Phase {
	tasks := SelectTasks(st.Plan, st.Iteration)
	results := o.dispatch(ctx, runID, c.executor, tasks, st.Iteration, cfg.WorkerCap, logger)

	for _, r := range results {
		st.Results = append(st.Results, r)
		st.Evidence = append(st.Evidence, r.Processed...)
		mem.AddResult(r)
		mem.AddSources(r.Processed)
		for _, d := range r.Degradations {
			o.degrade(st, d)
		}
	}
	st.Iteration++

	if mem.IsFull() && mem.Compact() {
		logger.Info("Research memory compacted", zap.Int("tokens", mem.Summary().TokenCount))
	}
	o.publish(runID, streaming.Event{
		Type: streaming.EventRoundCompleted,
		Data: map[string]interface{}{"round": st.Iteration - 1, "results": len(results)},
	})
	return PhaseEvaluating
}

func (o *Orchestrator) evaluate(ctx context.Context, st *ResearchState, cfg Config, deadline time.Time, logger *zap.Logger) Phase {
	if ctx.Err() != nil {
		logger.Warn("Run context done, moving to synthesis", zap.Error(ctx.Err()))
		return PhaseSynthesizing
	}
	if !deadline.IsZero() && !o.now().Before(deadline) {
		logger.Info("Run budget exhausted, moving to synthesis",
			zap.Int("iteration", st.Iteration),
			zap.Duration("max_duration", cfg.MaxDuration),
		)
		return PhaseSynthesizing
	}
	if continueRounds(st, cfg.MaxSubagents) {
		return PhaseExecuting
	}
	return PhaseSynthesizing
}

// dispatch runs tasks with at most workers in flight. Failed or panicking
// subagents are logged and left out; the rest come back ordered by task id.
func (o *Orchestrator) dispatch(ctx context.Context, runID string, exec *subagent.Executor, tasks []research.SubTaskSpec, round, workers int, logger *zap.Logger) []research.SubTaskResult {
	if len(tasks) == 0 {
		return nil
	}
	o.publish(runID, streaming.Event{
		Type: streaming.EventRoundStarted,
		Data: map[string]interface{}{"round": round, "tasks": len(tasks)},
	})

	slots := make([]*research.SubTaskResult, len(tasks))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, spec := range tasks {
		g.Go(func() error {
			r, err := runSubagent(ctx, exec, spec)
			if err != nil {
				metrics.SubagentExecutions.WithLabelValues("failed").Inc()
				logger.Warn("Subagent failed",
					zap.String("subagent", spec.Name),
					zap.Int("task_id", spec.ID),
					zap.Error(err),
				)
				o.publish(runID, streaming.Event{Type: streaming.EventSubagentFailed, AgentID: spec.Name, Message: err.Error()})
				return nil
			}
			r.Round = round
			slots[i] = &r
			metrics.SubagentExecutions.WithLabelValues(string(r.Status)).Inc()
			o.publish(runID, streaming.Event{
				Type:    streaming.EventSubagentCompleted,
				AgentID: spec.Name,
				Message: r.Summary,
				Data:    map[string]interface{}{"processed": len(r.Processed)},
			})
			return nil
		})
	}
	_ = g.Wait()

	results := make([]research.SubTaskResult, 0, len(tasks))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].TaskID < results[j].TaskID })
	return results
}

func runSubagent(ctx context.Context, exec *subagent.Executor, spec research.SubTaskSpec) (result research.SubTaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subagent panicked: %v", r)
		}
	}()
	return exec.Execute(ctx, spec)
}

func (o *Orchestrator) synthesize(ctx context.Context, runID string, st *ResearchState, c components, mem *memory.ResearchMemory) Phase {
	draft, ok := c.synthesizer.Synthesize(ctx, st.Query, mem.Plan(), st.Results)
	if !ok {
		o.degrade(st, research.SynthesisDegraded)
	}
	st.Draft = draft
	o.publish(runID, streaming.Event{Type: streaming.EventSynthesisDone, Data: map[string]interface{}{"fallback": !ok}})
	return PhaseCiting
}

func (o *Orchestrator) cite(runID string, st *ResearchState, logger *zap.Logger) Phase {
	st.FinalSources = evidence.Deduplicate(st.Evidence)

	cited, citations, err := o.annotate(st.Draft, st.FinalSources)
	if err != nil {
		logger.Warn("Citation placement failed, listing sources instead", zap.Error(err))
		o.degrade(st, research.CitationDegraded)
		st.Cited = formatting.AppendSources(st.Draft, st.FinalSources, formatting.FallbackSourceLimit)
		return PhaseFinalizing
	}
	st.Cited = cited
	metrics.CitationsPlaced.Observe(float64(len(citations)))
	o.publish(runID, streaming.Event{
		Type: streaming.EventCitationsPlaced,
		Data: map[string]interface{}{"citations": len(citations), "sources": len(st.FinalSources)},
	})
	return PhaseFinalizing
}

func (o *Orchestrator) annotate(draft string, sources []research.EvidenceItem) (out string, citations []research.Citation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("citation engine panicked: %v", r)
		}
	}()
	cited, bibliography, citations, err := o.citations.Annotate(draft, sources)
	if err != nil {
		return "", nil, err
	}
	return formatting.AppendBibliography(cited, bibliography), citations, nil
}

func (o *Orchestrator) finalize(st *ResearchState, mem *memory.ResearchMemory, logger *zap.Logger) Phase {
	st.Report = formatting.WithMetadata(st.Cited, formatting.ReportMetadata{
		Query:      st.Query,
		SubTasks:   len(st.Results),
		Sources:    len(st.FinalSources),
		Iterations: st.Iteration,
	})
	if err := mem.SetContext(memory.KeyFinalReport, st.Report); err != nil {
		logger.Warn("Failed to store final report in memory", zap.Error(err))
	}
	if err := mem.SetContext(memory.KeyCompleted, true); err != nil {
		logger.Warn("Failed to mark research completed", zap.Error(err))
	}
	st.Complete = true
	return PhaseDone
}

func (o *Orchestrator) degrade(st *ResearchState, d research.Degradation) {
	if st.degrade(d) {
		metrics.Degradations.WithLabelValues(string(d)).Inc()
	}
}

func (o *Orchestrator) persist(ctx context.Context, query string, start time.Time, report string, logger *zap.Logger) {
	if o.deps.Persister == nil {
		return
	}
	name := persistence.ReportName(query, start)
	backend := backendName(o.deps.Persister)
	if err := o.deps.Persister.Save(ctx, name, report); err != nil {
		metrics.ReportsPersisted.WithLabelValues(backend, "error").Inc()
		logger.Warn("Failed to save report", zap.String("name", name), zap.Error(err))
		return
	}
	metrics.ReportsPersisted.WithLabelValues(backend, "ok").Inc()
	logger.Info("Report saved", zap.String("name", name), zap.String("backend", backend))
}

func backendName(p persistence.Persister) string {
	switch p.(type) {
	case *persistence.FileStore:
		return "file"
	case *persistence.SQLStore:
		return "sql"
	default:
		return "custom"
	}
}

func (o *Orchestrator) snapshot(ctx context.Context, runID string, mem *memory.ResearchMemory, logger *zap.Logger) {
	if o.deps.Snapshots == nil {
		return
	}
	if err := o.deps.Snapshots.Save(ctx, runID, mem); err != nil {
		logger.Warn("Failed to save memory snapshot", zap.Error(err))
	}
}

func (o *Orchestrator) finish(result research.ResearchResult, logger *zap.Logger) {
	status := "success"
	evt := streaming.Event{Type: streaming.EventRunCompleted}
	if !result.Success {
		status = "error"
		evt = streaming.Event{Type: streaming.EventRunFailed, Message: result.Error}
	}
	metrics.RunsCompleted.WithLabelValues(status).Inc()
	metrics.RunDuration.Observe(result.Duration.Seconds())
	if result.Success {
		metrics.RunIterations.Observe(float64(result.Metadata.Iterations))
	}
	o.publish(result.RunID, evt)

	logger.Info("Research run finished",
		zap.Bool("success", result.Success),
		zap.Int("iterations", result.Metadata.Iterations),
		zap.Int("sources", result.Metadata.NumSources),
		zap.Int("degradations", len(result.Degradations)),
		zap.Duration("duration", result.Duration),
		zap.String("error", result.Error),
	)
}

func (o *Orchestrator) publish(runID string, evt streaming.Event) {
	if o.deps.Events != nil {
		o.deps.Events.Publish(runID, evt)
	}
}

// ValidateCitations checks the citation markers of a report against the
// number of sources it was built from.
func (o *Orchestrator) ValidateCitations(cited string, totalSources int) research.CitationValidation {
	v := citation.Validate(cited, totalSources)
	if !v.Valid {
		o.logger.Warn("Citation validation failed", zap.Strings("issues", v.Issues))
	}
	return v
}
