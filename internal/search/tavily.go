package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

const defaultTavilyURL = "https://api.tavily.com/search"

// Tavily calls the Tavily search API.
type Tavily struct {
	apiKey   string
	depth    string
	endpoint string
	http     *circuitbreaker.HTTPWrapper
	maxWait  time.Duration
}

// TavilyConfig configures the Tavily provider.
type TavilyConfig struct {
	APIKey   string
	Depth    string // basic or advanced
	Endpoint string
	Timeout  time.Duration
}

// NewTavily constructs a Tavily search provider.
func NewTavily(cfg TavilyConfig, logger *zap.Logger) *Tavily {
	if cfg.Depth == "" {
		cfg.Depth = "advanced"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultTavilyURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := &http.Client{Timeout: cfg.Timeout}
	return &Tavily{
		apiKey:   cfg.APIKey,
		depth:    cfg.Depth,
		endpoint: cfg.Endpoint,
		http:     circuitbreaker.NewHTTPWrapper(client, "search-tavily", "search", circuitbreaker.GetSearchSettings(), logger),
		maxWait:  30 * time.Second,
	}
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search posts a query to Tavily. 429 responses are retried with a doubling
// delay until the context ends.
func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]research.EvidenceItem, error) {
	items, err := t.search(ctx, query, maxResults)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.SearchRequests.WithLabelValues("tavily", status).Inc()
	return items, err
}

func (t *Tavily) search(ctx context.Context, query string, maxResults int) ([]research.EvidenceItem, error) {
	if strings.TrimSpace(t.apiKey) == "" {
		return nil, t.fail(query, 0, ErrMissingAPIKey)
	}
	payload, err := json.Marshal(map[string]any{
		"query":          query,
		"api_key":        t.apiKey,
		"search_depth":   t.depth,
		"max_results":    maxResults,
		"include_answer": false,
	})
	if err != nil {
		return nil, t.fail(query, 0, err)
	}

	var resp *http.Response
	delay := time.Second
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, t.fail(query, 0, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = t.http.Do(req)
		if err != nil {
			return nil, t.fail(query, 0, err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()

		select {
		case <-ctx.Done():
			return nil, t.fail(query, http.StatusTooManyRequests, ctx.Err())
		case <-time.After(delay):
		}
		if delay < t.maxWait {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, t.fail(query, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(snippet))))
	}

	var out tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, t.fail(query, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}

	items := make([]research.EvidenceItem, 0, len(out.Results))
	for _, r := range out.Results {
		items = append(items, research.EvidenceItem{
			Title:       r.Title,
			URL:         r.URL,
			Content:     r.Content,
			SourceScore: r.Score,
		})
	}
	return limit(items, maxResults), nil
}

func (t *Tavily) fail(query string, status int, err error) error {
	return &SearchError{Provider: "tavily", Query: query, Status: status, Err: err}
}
