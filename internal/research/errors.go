package research

import "errors"

var (
	// ErrEmptyQuery is returned for empty or whitespace-only queries.
	ErrEmptyQuery = errors.New("empty query")
	// ErrMisconfigured marks a missing or unusable capability at run start.
	ErrMisconfigured = errors.New("orchestrator misconfigured")
)

// Degradation names a fallback taken during a run. Degradations never fail a run.
type Degradation string

const (
	PlanningDegraded  Degradation = "planning_degraded"
	SearchDegraded    Degradation = "search_degraded"
	SummaryDegraded   Degradation = "summary_degraded"
	SynthesisDegraded Degradation = "synthesis_degraded"
	CitationDegraded  Degradation = "citation_degraded"
)
