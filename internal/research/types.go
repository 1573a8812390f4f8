package research

import (
	"strings"
	"time"
)

// SubTaskStatus is the terminal status of one subagent execution.
type SubTaskStatus string

const (
	StatusCompleted SubTaskStatus = "completed"
	StatusError     SubTaskStatus = "error"
)

// DefaultFocus is used when the planner does not name a focus area.
const DefaultFocus = "general"

// SubTaskSpec is one unit of research work produced by the planner.
// ID is the task's position inside the plan and is unique within it.
type SubTaskSpec struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Task  string `json:"task"`
	Focus string `json:"focus"`
}

// ResearchPlan is created once per query and never mutated afterwards.
type ResearchPlan struct {
	Analysis          string        `json:"analysis"`
	ResearchAspects   []string      `json:"research_aspects,omitempty"`
	SubTasks          []SubTaskSpec `json:"subagent_tasks"`
	SynthesisStrategy string        `json:"synthesis_strategy"`
	// Degraded is set when the plan came from the single-task fallback.
	Degraded bool `json:"degraded,omitempty"`
}

// EvidenceItem is a single search hit. An empty URL means the item has no
// deduplication key.
type EvidenceItem struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Content        string  `json:"content"`
	SourceScore    float64 `json:"score"`
	RelevanceScore float64 `json:"relevance_score,omitempty"`
	ContentLength  int     `json:"content_length,omitempty"`
	Domain         string  `json:"domain,omitempty"`
	ProcessedBy    string  `json:"processed_by,omitempty"`
}

// SubTaskResult is the outcome of one subagent execution.
type SubTaskResult struct {
	TaskID    int            `json:"task_id"`
	Name      string         `json:"subagent_id"`
	Task      string         `json:"task"`
	Focus     string         `json:"focus"`
	Queries   []string       `json:"search_queries"`
	Raw       []EvidenceItem `json:"raw_results"`
	Processed []EvidenceItem `json:"processed_results"`
	Summary   string         `json:"summary"`
	Status    SubTaskStatus  `json:"status"`
	Round     int            `json:"round"`

	// Degradations lists the fallbacks this execution took.
	Degradations []Degradation `json:"degradations,omitempty"`
}

// Citation binds a report statement to a 1-based index into the final sources.
type Citation struct {
	Statement string `json:"statement"`
	Index     int    `json:"index"`
}

// CitationValidation is the diagnostic record produced for a cited report.
type CitationValidation struct {
	TotalCitations  int      `json:"total_citations"`
	UniqueCitations int      `json:"unique_citations"`
	MaxCitation     int      `json:"max_citation"`
	TotalSources    int      `json:"total_sources"`
	Valid           bool     `json:"valid"`
	Issues          []string `json:"issues"`
}

// ResultMetadata summarises a finished run.
type ResultMetadata struct {
	Iterations  int `json:"iterations"`
	NumSources  int `json:"num_sources"`
	NumSubTasks int `json:"num_subtasks"`
}

// ResearchResult is the only value that crosses the run boundary.
type ResearchResult struct {
	RunID          string          `json:"run_id"`
	Success        bool            `json:"success"`
	Query          string          `json:"query"`
	Report         string          `json:"report,omitempty"`
	Sources        []EvidenceItem  `json:"sources,omitempty"`
	SubTaskResults []SubTaskResult `json:"subtask_results,omitempty"`
	Metadata       ResultMetadata  `json:"metadata"`
	Degradations   []Degradation   `json:"degradations,omitempty"`
	Duration       time.Duration   `json:"duration_ns"`
	Error          string          `json:"error,omitempty"`
}

// NormalizeQuery trims the query and rejects empty input.
func NormalizeQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", ErrEmptyQuery
	}
	return q, nil
}

// TotalProcessed counts processed evidence across results.
func TotalProcessed(results []SubTaskResult) int {
	n := 0
	for _, r := range results {
		n += len(r.Processed)
	}
	return n
}
