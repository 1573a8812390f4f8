package evidence

import (
	"net/url"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

// Deduplicate collapses items sharing a URL into the one with the highest
// SourceScore. The survivor takes the position of the first occurrence. Items
// with an empty URL are always kept. Applying it twice yields the same result.
func Deduplicate(items []research.EvidenceItem) []research.EvidenceItem {
	out := make([]research.EvidenceItem, 0, len(items))
	seen := make(map[string]int, len(items))
	for _, it := range items {
		if it.URL == "" {
			out = append(out, it)
			continue
		}
		if idx, ok := seen[it.URL]; ok {
			if it.SourceScore > out[idx].SourceScore {
				out[idx] = it
			}
			continue
		}
		seen[it.URL] = len(out)
		out = append(out, it)
	}
	return out
}

// DropShort removes items whose content has fewer than min characters.
func DropShort(items []research.EvidenceItem, min int) []research.EvidenceItem {
	out := items[:0:0]
	for _, it := range items {
		if len(it.Content) >= min {
			out = append(out, it)
		}
	}
	return out
}

// QualityPoints awards one point per item with substantial content and one per
// item with a strong provider score.
func QualityPoints(items []research.EvidenceItem) int {
	points := 0
	for _, it := range items {
		if len(it.Content) > 100 {
			points++
		}
		if it.SourceScore > 0.7 {
			points++
		}
	}
	return points
}

// Clean normalises provider output: whitespace is collapsed, scores clamped,
// and the content length and domain filled in.
func Clean(items []research.EvidenceItem) []research.EvidenceItem {
	out := make([]research.EvidenceItem, 0, len(items))
	for _, it := range items {
		it.Title = strings.Join(strings.Fields(it.Title), " ")
		it.Content = strings.Join(strings.Fields(it.Content), " ")
		it.URL = strings.TrimSpace(it.URL)
		it.SourceScore = clamp(it.SourceScore)
		it.ContentLength = len(it.Content)
		if it.Domain == "" {
			it.Domain = Domain(it.URL)
		}
		out = append(out, it)
	}
	return out
}

// Domain extracts the host of rawURL without a leading "www.".
func Domain(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
