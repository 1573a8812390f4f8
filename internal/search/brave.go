package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

const defaultBraveURL = "https://api.search.brave.com/res/v1/web/search"

// Brave uses the Brave Search API. Requests are paced to one per second, the
// limit of the free plan.
type Brave struct {
	apiKey   string
	endpoint string
	http     *circuitbreaker.HTTPWrapper
	limiter  *rate.Limiter
}

// BraveConfig configures the Brave provider.
type BraveConfig struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
	// RequestsPerSecond defaults to 1.
	RequestsPerSecond float64
}

// NewBrave constructs a Brave search provider.
func NewBrave(cfg BraveConfig, logger *zap.Logger) *Brave {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultBraveURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	client := &http.Client{Timeout: cfg.Timeout}
	return &Brave{
		apiKey:   cfg.APIKey,
		endpoint: cfg.Endpoint,
		http:     circuitbreaker.NewHTTPWrapper(client, "search-brave", "search", circuitbreaker.GetSearchSettings(), logger),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search executes a Brave query. Brave returns no relevance score, so the
// source score decays with result rank.
func (b *Brave) Search(ctx context.Context, query string, maxResults int) ([]research.EvidenceItem, error) {
	items, err := b.search(ctx, query, maxResults)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.SearchRequests.WithLabelValues("brave", status).Inc()
	return items, err
}

func (b *Brave) search(ctx context.Context, query string, maxResults int) ([]research.EvidenceItem, error) {
	if strings.TrimSpace(b.apiKey) == "" {
		return nil, b.fail(query, 0, ErrMissingAPIKey)
	}

	params := url.Values{}
	params.Set("q", query)
	if maxResults > 0 {
		params.Set("count", strconv.Itoa(maxResults))
	}
	endpoint := b.endpoint + "?" + params.Encode()

	var resp *http.Response
	for {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, b.fail(query, 0, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, b.fail(query, 0, err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Subscription-Token", b.apiKey)

		resp, err = b.http.Do(req)
		if err != nil {
			return nil, b.fail(query, 0, err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		wait := retryAfter(resp.Header)
		resp.Body.Close()
		select {
		case <-ctx.Done():
			return nil, b.fail(query, http.StatusTooManyRequests, ctx.Err())
		case <-time.After(wait):
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, b.fail(query, resp.StatusCode, fmt.Errorf("unexpected status"))
	}

	var out braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, b.fail(query, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}

	items := make([]research.EvidenceItem, 0, len(out.Web.Results))
	for i, r := range out.Web.Results {
		score := 1.0 - float64(i)*0.1
		if score < 0 {
			score = 0
		}
		items = append(items, research.EvidenceItem{
			Title:       r.Title,
			URL:         r.URL,
			Content:     r.Description,
			SourceScore: score,
		})
	}
	return limit(items, maxResults), nil
}

func (b *Brave) fail(query string, status int, err error) error {
	return &SearchError{Provider: "brave", Query: query, Status: status, Err: err}
}

// retryAfter reads Retry-After seconds, defaulting to one second.
func retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}
