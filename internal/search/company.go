package search

import (
	"context"
	"strings"
	"unicode"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

const maxCompanyResults = 10

// companyMarkers identify content that talks about an organisation.
var companyMarkers = []string{"company", "startup", "corporation", "inc", "ltd", "llc"}

// companyTopics trigger the company-oriented search path.
var companyTopics = []string{"company", "companies", "startup", "startups", "corporation"}

// IsCompanyTopic reports whether a focus or query asks about companies.
// Only whole words count.
func IsCompanyTopic(texts ...string) bool {
	for _, t := range texts {
		if containsWord(t, companyTopics) {
			return true
		}
	}
	return false
}

func containsWord(text string, words []string) bool {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		for _, w := range words {
			if tok == w {
				return true
			}
		}
	}
	return false
}

// CompanySearcher rewrites queries toward company listings and keeps only
// results that mention an organisation.
type CompanySearcher struct {
	next     Searcher
	industry string
	year     string
}

// NewCompanySearcher wraps next. industry and year are optional query hints.
func NewCompanySearcher(next Searcher, industry, year string) *CompanySearcher {
	return &CompanySearcher{next: next, industry: industry, year: year}
}

// Search implements Searcher.
func (c *CompanySearcher) Search(ctx context.Context, query string, maxResults int) ([]research.EvidenceItem, error) {
	items, err := c.next.Search(ctx, c.Rewrite(query), maxResults)
	if err != nil {
		return nil, err
	}
	out := make([]research.EvidenceItem, 0, len(items))
	for _, it := range items {
		if containsWord(it.Content, companyMarkers) {
			out = append(out, it)
		}
		if len(out) == maxCompanyResults {
			break
		}
	}
	return out, nil
}

// Rewrite builds the company listing query.
func (c *CompanySearcher) Rewrite(query string) string {
	parts := []string{query, "companies"}
	if c.industry != "" {
		parts = append(parts, c.industry)
	}
	if c.year != "" {
		parts = append(parts, c.year)
	}
	parts = append(parts, "list")
	q := strings.Join(parts, " ")
	if strings.Contains(query, "AI") || strings.Contains(strings.ToLower(query), "artificial intelligence") {
		q += " artificial intelligence startups"
	}
	return q
}
