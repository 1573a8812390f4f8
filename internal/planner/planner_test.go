package planner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/memory"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

func reply(text string, err error) llm.Completion {
	return llm.CompletionFunc(func(context.Context, string, string) (string, error) {
		return text, err
	})
}

func TestPlanStructured(t *testing.T) {
	resp := "```json\n" + `{
		"analysis": "market scan",
		"research_aspects": ["players", "funding"],
		"subagent_tasks": [
			{"id": "subagent_1", "task": "List leading vendors", "focus": "companies"},
			{"id": 7, "task": "Summarize funding", "focus": ""},
			{"id": "empty", "task": "   ", "focus": "x"},
			{"id": "subagent_4", "task": "Regulation", "focus": "policy"},
			{"id": "subagent_5", "task": "Overflow", "focus": "extra"}
		],
		"synthesis_strategy": "compare"
	}` + "\n```"

	mem := memory.New(0)
	p := New(reply(resp, nil), 3, zaptest.NewLogger(t))
	plan := p.Plan(context.Background(), "robotics vendors", mem)

	assert.False(t, plan.Degraded)
	assert.Equal(t, "market scan", plan.Analysis)
	assert.Equal(t, "compare", plan.SynthesisStrategy)
	require.Len(t, plan.SubTasks, 3)
	assert.Equal(t, research.SubTaskSpec{ID: 0, Name: "subagent_1", Task: "List leading vendors", Focus: "companies"}, plan.SubTasks[0])
	assert.Equal(t, research.SubTaskSpec{ID: 1, Name: "7", Task: "Summarize funding", Focus: "general"}, plan.SubTasks[1])
	assert.Equal(t, research.SubTaskSpec{ID: 2, Name: "subagent_4", Task: "Regulation", Focus: "policy"}, plan.SubTasks[2])

	assert.Equal(t, "robotics vendors", mem.Query())
	var stored research.ResearchPlan
	require.NoError(t, json.Unmarshal([]byte(mem.Plan()), &stored))
	assert.Equal(t, plan.SubTasks, stored.SubTasks)
}

func TestPlanFallbacks(t *testing.T) {
	tests := []struct {
		name         string
		completion   llm.Completion
		wantAnalysis string
	}{
		{
			name:         "completion error",
			completion:   reply("", &llm.CompletionError{Provider: "test", Err: errors.New("down")}),
			wantAnalysis: "Research on: ocean plastics",
		},
		{
			name:         "prose instead of json",
			completion:   reply("I think we should look at ocean currents.", nil),
			wantAnalysis: "I think we should look at ocean currents.",
		},
		{
			name:         "json without tasks",
			completion:   reply(`{"analysis":"nothing to split","subagent_tasks":[]}`, nil),
			wantAnalysis: "nothing to split",
		},
		{
			name:         "trailing garbage",
			completion:   reply(`{"analysis":"a","subagent_tasks":[{"task":"t"}]} extra`, nil),
			wantAnalysis: `{"analysis":"a","subagent_tasks":[{"task":"t"}]} extra`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := memory.New(0)
			plan := New(tt.completion, 0, nil).Plan(context.Background(), "ocean plastics", mem)

			assert.True(t, plan.Degraded)
			assert.Equal(t, tt.wantAnalysis, plan.Analysis)
			require.Len(t, plan.SubTasks, 1)
			assert.Equal(t, research.SubTaskSpec{ID: 0, Name: "subagent_1", Task: "ocean plastics", Focus: "general"}, plan.SubTasks[0])
			assert.True(t, mem.Summary().HasPlan)
		})
	}
}

func TestPlanWithoutRecorder(t *testing.T) {
	plan := New(reply(`{"subagent_tasks":[{"task":"only"}]}`, nil), 0, nil).Plan(context.Background(), "q", nil)
	require.Len(t, plan.SubTasks, 1)
	assert.Equal(t, "subagent_1", plan.SubTasks[0].Name)
	assert.Equal(t, "combine all results", plan.SynthesisStrategy)
}
