package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Completion produces text for a system and user prompt.
type Completion interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// CompletionFunc adapts a function to Completion.
type CompletionFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// Complete calls f.
func (f CompletionFunc) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

// CompletionError reports a failed completion call.
type CompletionError struct {
	Provider string
	Status   int
	Err      error
}

func (e *CompletionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("completion %s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("completion %s: %v", e.Provider, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// ErrEmptyCompletion is wrapped when a provider returns no text.
var ErrEmptyCompletion = errors.New("empty completion")

// WithTimeout bounds every call to c by d. A timeout surfaces as a
// CompletionError like any other failure.
func WithTimeout(c Completion, d time.Duration) Completion {
	if d <= 0 {
		return c
	}
	return CompletionFunc(func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		out, err := c.Complete(ctx, systemPrompt, userPrompt)
		if err != nil {
			var ce *CompletionError
			if !errors.As(err, &ce) {
				err = &CompletionError{Provider: "timeout", Err: err}
			}
			return "", err
		}
		return out, nil
	})
}

// StripCodeFence removes a surrounding markdown code fence such as ```json.
func StripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	} else {
		return strings.TrimSpace(strings.TrimSuffix(t, "```"))
	}
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}
