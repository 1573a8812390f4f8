package formatting

import (
	"fmt"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

// FallbackSourceLimit is the number of sources listed when citation placement
// fails.
const FallbackSourceLimit = 10

// ReportMetadata is the header prepended to every final report.
type ReportMetadata struct {
	Query      string
	SubTasks   int
	Sources    int
	Iterations int
}

// WithMetadata prepends the fixed metadata block to report.
func WithMetadata(report string, md ReportMetadata) string {
	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("**Multi-Agent Research Report**\n")
	fmt.Fprintf(&b, "- Query: %s\n", md.Query)
	fmt.Fprintf(&b, "- Subtasks executed: %d\n", md.SubTasks)
	fmt.Fprintf(&b, "- Sources consulted: %d\n", md.Sources)
	fmt.Fprintf(&b, "- Iterations: %d\n", md.Iterations)
	b.WriteString("---\n\n")
	b.WriteString(report)
	return b.String()
}

// AppendBibliography joins a cited report and its bibliography.
func AppendBibliography(cited, bibliography string) string {
	if strings.TrimSpace(bibliography) == "" {
		return cited
	}
	return strings.TrimRight(cited, "\n") + "\n\n" + bibliography
}

// AppendSources replaces any trailing "## Sources" section of report with a
// plain list of up to limit sources ("- title: url").
func AppendSources(report string, sources []research.EvidenceItem, limit int) string {
	s := strings.TrimRight(report, "\n")
	// Last occurrence only, so an earlier mention in the body survives.
	if idx := strings.LastIndex(strings.ToLower(s), "\n## sources"); idx != -1 {
		s = strings.TrimRight(s[:idx], "\n")
	}
	if len(sources) == 0 {
		return s
	}

	var b strings.Builder
	b.WriteString(s)
	b.WriteString("\n\n## Sources\n")
	for i, src := range sources {
		if i == limit {
			break
		}
		fmt.Fprintf(&b, "- %s: %s\n", src.Title, src.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}
