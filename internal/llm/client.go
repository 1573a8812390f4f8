package llm

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
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

const (
	ProviderService = "service"
	ProviderOpenAI  = "openai"
)

// ClientConfig configures an HTTP completion client.
type ClientConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client calls a completion endpoint over HTTP. The "service" provider speaks
// the internal LLM service protocol; "openai" speaks chat completions.
type Client struct {
	cfg    ClientConfig
	http   *circuitbreaker.HTTPWrapper
	logger *zap.Logger
}

// NewClient creates a completion client.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "":
		cfg.Provider = ProviderService
	case ProviderService, ProviderOpenAI:
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		if cfg.Provider == ProviderOpenAI {
			cfg.BaseURL = "https://api.openai.com/v1"
		} else {
			cfg.BaseURL = "http://llm-service:8000"
		}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		cfg:    cfg,
		http:   circuitbreaker.NewHTTPWrapper(hc, "completion-"+cfg.Provider, "completion", circuitbreaker.GetCompletionSettings(), logger),
		logger: logger,
	}, nil
}

type serviceRequest struct {
	SystemPrompt string  `json:"system_prompt"`
	UserPrompt   string  `json:"user_prompt"`
	Model        string  `json:"model,omitempty"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

type serviceResponse struct {
	Completion string `json:"completion"`
	ModelUsed  string `json:"model_used"`
	TokensUsed int    `json:"total_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete implements Completion.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	out, err := c.complete(ctx, systemPrompt, userPrompt)
	metrics.CompletionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CompletionRequests.WithLabelValues("error").Inc()
		c.logger.Warn("Completion failed", zap.String("provider", c.cfg.Provider), zap.Error(err))
		return "", err
	}
	metrics.CompletionRequests.WithLabelValues("ok").Inc()
	return out, nil
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var (
		url  string
		body any
	)
	if c.cfg.Provider == ProviderOpenAI {
		url = c.cfg.BaseURL + "/chat/completions"
		body = chatRequest{
			Model: c.cfg.Model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userPrompt},
			},
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
		}
	} else {
		url = c.cfg.BaseURL + "/completions"
		body = serviceRequest{
			SystemPrompt: systemPrompt,
			UserPrompt:   userPrompt,
			Model:        c.cfg.Model,
			Temperature:  c.cfg.Temperature,
			MaxTokens:    c.cfg.MaxTokens,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", c.fail(0, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", c.fail(0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", c.fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", c.fail(resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(snippet))))
	}

	var text string
	if c.cfg.Provider == ProviderOpenAI {
		var out chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", c.fail(resp.StatusCode, fmt.Errorf("decode response: %w", err))
		}
		if len(out.Choices) > 0 {
			text = out.Choices[0].Message.Content
		}
	} else {
		var out serviceResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", c.fail(resp.StatusCode, fmt.Errorf("decode response: %w", err))
		}
		text = out.Completion
	}

	if strings.TrimSpace(text) == "" {
		return "", c.fail(resp.StatusCode, ErrEmptyCompletion)
	}
	return text, nil
}

func (c *Client) fail(status int, err error) error {
	return &CompletionError{Provider: c.cfg.Provider, Status: status, Err: err}
}
