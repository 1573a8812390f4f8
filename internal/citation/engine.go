package citation

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/evidence"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

var (
	// citationNumberPattern matches inline citations like [1], [2].
	citationNumberPattern = regexp.MustCompile(`\[(\d+)\]`)
	spacedCitationPattern = regexp.MustCompile(`\s*\[\d+\]`)
)

const referencesHeading = "## References"

// Engine places citations against a report using keyword span detection and
// relevance scoring.
type Engine struct {
	keywords []string
	logger   *zap.Logger
}

// NewEngine creates an engine. A nil keyword list uses DefaultKeywords.
func NewEngine(keywords []string, logger *zap.Logger) *Engine {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	return &Engine{keywords: lowered, logger: logger}
}

// Annotate returns report with " [k]" appended to every claim that a source
// supports, the bibliography for sources, and the citations placed.
// Markers already present in report that fall outside [1, len(sources)] are
// removed first.
func (e *Engine) Annotate(report string, sources []research.EvidenceItem) (string, string, []research.Citation, error) {
	text := removeInvalidCitations(report, len(sources))
	bibliography := Bibliography(sources)
	if len(sources) == 0 {
		return text, bibliography, nil, nil
	}

	citations := e.mapStatements(text, sources)

	ordered := make([]research.Citation, len(citations))
	copy(ordered, citations)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Statement) > len(ordered[j].Statement)
	})
	for _, c := range ordered {
		idx := strings.Index(text, c.Statement)
		if idx < 0 {
			continue
		}
		end := idx + len(c.Statement)
		text = text[:end] + " [" + strconv.Itoa(c.Index) + "]" + text[end:]
	}

	if v := Validate(text, len(sources)); !v.Valid {
		return report, bibliography, nil, fmt.Errorf("citation placement produced invalid markers: %s", strings.Join(v.Issues, "; "))
	}

	e.logger.Debug("Citations placed",
		zap.Int("statements", len(citations)),
		zap.Int("sources", len(sources)),
	)
	return text, bibliography, citations, nil
}

// mapStatements pairs each distinct claim sentence with its best source.
func (e *Engine) mapStatements(text string, sources []research.EvidenceItem) []research.Citation {
	var out []research.Citation
	seen := make(map[string]bool)
	for _, sentence := range splitIntoSentences(text) {
		if seen[sentence] || !e.NeedsCitation(sentence) {
			continue
		}
		seen[sentence] = true
		idx, _, ok := evidence.BestMatch(sentence, sources)
		if !ok {
			continue
		}
		out = append(out, research.Citation{Statement: sentence, Index: idx + 1})
	}
	return out
}

// NeedsCitation reports whether sentence contains a claim keyword.
func (e *Engine) NeedsCitation(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, k := range e.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Bibliography renders the numbered reference list. No sources, no section.
func Bibliography(sources []research.EvidenceItem) string {
	if len(sources) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(referencesHeading)
	b.WriteString("\n\n")
	for i, s := range sources {
		if i > 0 {
			b.WriteString("\n")
		}
		title := s.Title
		if strings.TrimSpace(title) == "" {
			title = "Untitled Source"
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, title)
		if s.URL != "" {
			b.WriteString(" - ")
			b.WriteString(s.URL)
		}
	}
	return b.String()
}

// Validate checks the markers in cited against totalSources. A trailing
// references section is not counted. Unused sources are reported but do not
// make the report invalid.
func Validate(cited string, totalSources int) research.CitationValidation {
	body := stripReferences(cited)
	numbers := parseCitationNumbers(body)

	v := research.CitationValidation{
		TotalCitations: len(numbers),
		TotalSources:   totalSources,
		Valid:          true,
		Issues:         []string{},
	}

	used := make(map[int]bool)
	for _, n := range numbers {
		if n > v.MaxCitation {
			v.MaxCitation = n
		}
		used[n] = true
	}
	v.UniqueCitations = len(used)

	for _, raw := range validateCitationNumbers(body, totalSources) {
		v.Valid = false
		v.Issues = append(v.Issues, fmt.Sprintf("citation [%s] has no matching source", raw))
	}

	var unused []string
	for i := 1; i <= totalSources; i++ {
		if !used[i] {
			unused = append(unused, strconv.Itoa(i))
		}
	}
	if len(unused) > 0 {
		v.Issues = append(v.Issues, "unused sources: "+strings.Join(unused, ", "))
	}
	return v
}

// citationMarker is one inline [k] marker. Digits that overflow int parse
// as math.MaxInt so they always fall outside any source range.
type citationMarker struct {
	raw string
	n   int
}

func parseCitationMarkers(text string) []citationMarker {
	matches := citationNumberPattern.FindAllStringSubmatch(text, -1)
	out := make([]citationMarker, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			n = math.MaxInt
		}
		out = append(out, citationMarker{raw: m[1], n: n})
	}
	return out
}

func parseCitationNumbers(text string) []int {
	markers := parseCitationMarkers(text)
	out := make([]int, len(markers))
	for i, m := range markers {
		out[i] = m.n
	}
	return out
}

// validateCitationNumbers returns the distinct markers outside [1, max], as
// written in text.
func validateCitationNumbers(text string, max int) []string {
	var invalid []string
	seen := make(map[string]bool)
	for _, m := range parseCitationMarkers(text) {
		if (m.n < 1 || m.n > max) && !seen[m.raw] {
			invalid = append(invalid, m.raw)
			seen[m.raw] = true
		}
	}
	return invalid
}

// removeInvalidCitations strips every marker outside [1, max] together with
// the whitespace before it.
func removeInvalidCitations(text string, max int) string {
	return spacedCitationPattern.ReplaceAllStringFunc(text, func(match string) string {
		digits := citationNumberPattern.FindStringSubmatch(match)[1]
		n, err := strconv.Atoi(digits)
		if err != nil || n < 1 || n > max {
			return ""
		}
		return match
	})
}

func stripReferences(text string) string {
	if strings.HasPrefix(text, referencesHeading) {
		return ""
	}
	if idx := strings.LastIndex(text, "\n"+referencesHeading); idx != -1 {
		return text[:idx]
	}
	return text
}

// splitIntoSentences splits text at ., ! or ? followed by whitespace. Line
// breaks also end a sentence.
func splitIntoSentences(text string) []string {
	var sentences []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	for _, line := range strings.Split(text, "\n") {
		start := 0
		for i := 0; i < len(line)-1; i++ {
			switch line[i] {
			case '.', '!', '?':
				if isSpace(line[i+1]) {
					add(line[start : i+1])
					start = i + 1
				}
			}
		}
		add(line[start:])
	}
	return sentences
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\f' || b == '\v'
}
