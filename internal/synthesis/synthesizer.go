package synthesis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

const (
	maxSummaryChars  = 1500
	sourcesPerResult = 3
)

const systemPrompt = `You are a senior research analyst writing the final report of a
multi-agent research effort.

Combine the findings below into a well-structured markdown report:
- start with a short executive summary
- organize the body by theme, not by agent
- keep concrete facts (names, figures, dates) and say where findings disagree
- do not add facts that are not in the findings
- do not add a references or sources section; it is added separately`

// Synthesizer merges subagent summaries into a draft report.
type Synthesizer struct {
	completion llm.Completion
	logger     *zap.Logger
}

// New creates a synthesizer.
func New(completion llm.Completion, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{completion: completion, logger: logger}
}

// Synthesize drafts the report. When the completion fails it returns the
// deterministic concatenation from FallbackReport and false.
func (s *Synthesizer) Synthesize(ctx context.Context, query, planText string, results []research.SubTaskResult) (string, bool) {
	text, err := s.completion.Complete(ctx, systemPrompt, buildContext(query, planText, results))
	if err != nil || strings.TrimSpace(text) == "" {
		s.logger.Warn("Synthesis completion failed, concatenating summaries",
			zap.Int("results", len(results)),
			zap.Error(err),
		)
		return FallbackReport(query, results), false
	}
	return strings.TrimSpace(text), true
}

// FallbackReport concatenates summaries under numbered headings in arrival order.
func FallbackReport(query string, results []research.SubTaskResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Report: %s\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "## Result %d\n%s\n\n", i+1, r.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func buildContext(query, planText string, results []research.SubTaskResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\n", query)
	if planText != "" {
		fmt.Fprintf(&b, "Research plan:\n%s\n\n", planText)
	}
	b.WriteString("Findings:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "\n### Finding %d (%s)\nTask: %s\nFocus: %s\n", i+1, r.Name, r.Task, r.Focus)
		fmt.Fprintf(&b, "Summary: %s\n", util.TruncateString(r.Summary, maxSummaryChars, true))
		for j, src := range r.Processed {
			if j == sourcesPerResult {
				break
			}
			fmt.Fprintf(&b, "- %s (%s)\n", src.Title, src.URL)
		}
	}
	return b.String()
}
