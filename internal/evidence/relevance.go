package evidence

import (
	"sort"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

const (
	// AcceptThreshold is the minimum score for a source to back a statement.
	AcceptThreshold = 0.3
	// sourceWeight scales the provider score into the relevance score.
	sourceWeight = 0.2
)

// Words returns the set of case-folded whitespace tokens in s.
func Words(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Score estimates how well item supports statement. The result is the share of
// statement words present in the item's content or title, plus a small bonus
// from the provider score, clamped to [0, 1].
func Score(statement string, item research.EvidenceItem) float64 {
	want := Words(statement)
	if len(want) == 0 {
		return 0
	}
	have := Words(item.Content + " " + item.Title)

	common := 0
	for w := range want {
		if _, ok := have[w]; ok {
			common++
		}
	}
	return clamp(float64(common)/float64(len(want)) + sourceWeight*item.SourceScore)
}

// BestMatch returns the index of the highest scoring item, with ties going to
// the earliest item, and whether that score clears AcceptThreshold.
func BestMatch(statement string, items []research.EvidenceItem) (int, float64, bool) {
	best, bestScore := -1, 0.0
	for i, it := range items {
		s := Score(statement, it)
		if best == -1 || s > bestScore {
			best, bestScore = i, s
		}
	}
	if best == -1 {
		return -1, 0, false
	}
	return best, bestScore, bestScore > AcceptThreshold
}

// Rank assigns relevance against statement and returns the items ordered by
// descending relevance. The sort is stable so equal scores keep input order.
func Rank(statement string, items []research.EvidenceItem) []research.EvidenceItem {
	out := make([]research.EvidenceItem, len(items))
	for i, it := range items {
		it.RelevanceScore = Score(statement, it)
		out[i] = it
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RelevanceScore > out[j].RelevanceScore
	})
	return out
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
