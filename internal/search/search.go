package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

// Searcher runs a web search and returns at most maxResults items.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]research.EvidenceItem, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, query string, maxResults int) ([]research.EvidenceItem, error)

// Search calls f.
func (f SearcherFunc) Search(ctx context.Context, query string, maxResults int) ([]research.EvidenceItem, error) {
	return f(ctx, query, maxResults)
}

// SearchError reports a failed search.
type SearchError struct {
	Provider string
	Query    string
	Status   int
	Err      error
}

func (e *SearchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("search %s %q: status %d: %v", e.Provider, e.Query, e.Status, e.Err)
	}
	return fmt.Sprintf("search %s %q: %v", e.Provider, e.Query, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// ErrMissingAPIKey is wrapped when a provider is used without credentials.
var ErrMissingAPIKey = errors.New("api key is missing")

// WithTimeout bounds every call to s by d.
func WithTimeout(s Searcher, d time.Duration) Searcher {
	if d <= 0 {
		return s
	}
	return SearcherFunc(func(ctx context.Context, query string, maxResults int) ([]research.EvidenceItem, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		items, err := s.Search(ctx, query, maxResults)
		if err != nil {
			var se *SearchError
			if !errors.As(err, &se) {
				err = &SearchError{Provider: "timeout", Query: query, Err: err}
			}
			return nil, err
		}
		return items, nil
	})
}

// Fallback tries each searcher in order and returns the first success.
type Fallback struct {
	searchers []Searcher
	logger    *zap.Logger
}

// NewFallback creates a Fallback over searchers.
func NewFallback(logger *zap.Logger, searchers ...Searcher) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{searchers: searchers, logger: logger}
}

// Search implements Searcher.
func (f *Fallback) Search(ctx context.Context, query string, maxResults int) ([]research.EvidenceItem, error) {
	var lastErr error
	for i, s := range f.searchers {
		items, err := s.Search(ctx, query, maxResults)
		if err == nil {
			return items, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		f.logger.Warn("Search provider failed, trying next",
			zap.Int("provider_index", i),
			zap.String("query", query),
			zap.Error(err),
		)
	}
	if lastErr == nil {
		lastErr = &SearchError{Provider: "fallback", Query: query, Err: errors.New("no search providers configured")}
	}
	return nil, lastErr
}

func limit(items []research.EvidenceItem, maxResults int) []research.EvidenceItem {
	if maxResults > 0 && len(items) > maxResults {
		return items[:maxResults]
	}
	return items
}
