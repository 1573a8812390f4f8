package circuitbreaker

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper wraps an http.Client with a circuit breaker and records metrics
type HTTPWrapper struct {
	client     *http.Client
	cb         *CircuitBreaker
	dependency string
}

// NewHTTPWrapper creates a wrapper named after the remote dependency
// ("completion", "search:tavily", ...).
func NewHTTPWrapper(client *http.Client, name, dependency string, settings Settings, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	cb := NewCircuitBreaker(name, settings.ToConfig(), logger)
	Default.Register(dependency, cb)
	return &HTTPWrapper{client: client, cb: cb, dependency: dependency}
}

// Do executes req through the breaker. 5xx responses count as breaker
// failures but are still returned to the caller with a nil error.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var err error
		resp, err = hw.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})
	Default.Record(hw.cb, hw.dependency, err == nil)

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return resp, nil
	}
	return resp, err
}

// Breaker exposes the underlying breaker
func (hw *HTTPWrapper) Breaker() *CircuitBreaker { return hw.cb }

type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }
