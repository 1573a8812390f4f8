package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestServiceClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/completions", r.URL.Path)
		var req serviceRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sys", req.SystemPrompt)
		assert.Equal(t, "user", req.UserPrompt)
		assert.Equal(t, 0.1, req.Temperature)
		_ = json.NewEncoder(w).Encode(serviceResponse{Completion: "hello"})
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Temperature: 0.1}, zaptest.NewLogger(t))
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestOpenAIClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if !assert.Len(t, req.Messages, 2) {
			return
		}
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "gpt-test", req.Model)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"plan"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{Provider: ProviderOpenAI, BaseURL: srv.URL + "/", APIKey: "sk-test", Model: "gpt-test"}, nil)
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "plan", out)
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantEmpty  bool
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "boom", wantStatus: 500},
		{name: "bad request", status: http.StatusBadRequest, body: "bad", wantStatus: 400},
		{name: "empty completion", status: http.StatusOK, body: `{"completion":"  "}`, wantStatus: 200, wantEmpty: true},
		{name: "invalid json", status: http.StatusOK, body: `not-json`, wantStatus: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewClient(ClientConfig{BaseURL: srv.URL}, nil)
			require.NoError(t, err)

			_, err = c.Complete(context.Background(), "s", "u")
			var ce *CompletionError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantStatus, ce.Status)
			assert.Equal(t, ProviderService, ce.Provider)
			if tt.wantEmpty {
				assert.ErrorIs(t, err, ErrEmptyCompletion)
			}
		})
	}
}

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	_, err := NewClient(ClientConfig{Provider: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}

func TestWithTimeout(t *testing.T) {
	slow := CompletionFunc(func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	_, err := WithTimeout(slow, 20*time.Millisecond).Complete(context.Background(), "s", "u")
	var ce *CompletionError
	require.ErrorAs(t, err, &ce)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	fast := CompletionFunc(func(context.Context, string, string) (string, error) { return "ok", nil })
	out, err := WithTimeout(fast, time.Second).Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFence("  {\"a\":1} "))
	assert.Equal(t, `{}`, StripCodeFence("```{}```"))
}
