package synthesis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

var results = []research.SubTaskResult{
	{Name: "subagent_1", Task: "vendors", Focus: "companies", Summary: "Acme leads the market.",
		Processed: []research.EvidenceItem{{Title: "Acme", URL: "https://acme"}}},
	{Name: "subagent_2", Task: "funding", Focus: "finance", Summary: "Funding doubled."},
}

func TestSynthesize(t *testing.T) {
	var gotUser string
	c := llm.CompletionFunc(func(_ context.Context, _, user string) (string, error) {
		gotUser = user
		return "  # Report\n\nAcme leads.  ", nil
	})

	report, ok := New(c, zaptest.NewLogger(t)).Synthesize(context.Background(), "robotics market", `{"analysis":"x"}`, results)
	assert.True(t, ok)
	assert.Equal(t, "# Report\n\nAcme leads.", report)
	assert.Contains(t, gotUser, "Research question: robotics market")
	assert.Contains(t, gotUser, `{"analysis":"x"}`)
	assert.Contains(t, gotUser, "Acme leads the market.")
	assert.Contains(t, gotUser, "- Acme (https://acme)")
}

func TestSynthesizeFallback(t *testing.T) {
	c := llm.CompletionFunc(func(context.Context, string, string) (string, error) {
		return "", &llm.CompletionError{Provider: "test", Err: errors.New("down")}
	})

	report, ok := New(c, nil).Synthesize(context.Background(), "robotics market", "", results)
	assert.False(t, ok)
	assert.Equal(t, "# Research Report: robotics market\n\n## Result 1\nAcme leads the market.\n\n## Result 2\nFunding doubled.", report)
}

func TestFallbackReportWithoutResults(t *testing.T) {
	assert.Equal(t, "# Research Report: q", FallbackReport("q", nil))
}
