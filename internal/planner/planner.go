package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

// DefaultMaxSubTasks bounds the size of a plan.
const DefaultMaxSubTasks = 3

const systemPrompt = `You are the lead researcher of a multi-agent research team.
Analyze the user's question and split it into independent research tasks that
separate search agents can work on in parallel.

Respond with JSON only, no prose, using this shape:
{
  "analysis": "what the question is really asking",
  "research_aspects": ["aspect 1", "aspect 2"],
  "subagent_tasks": [
    {"id": "subagent_1", "task": "specific research task", "focus": "focus area"}
  ],
  "synthesis_strategy": "how the findings should be combined"
}

Create at most %d tasks. Tasks must not overlap.`

// PlanRecorder receives the plan once it is final.
type PlanRecorder interface {
	SavePlan(plan, query string)
}

// Planner turns a query into a ResearchPlan. It never fails: any problem with
// the completion yields a single-task plan covering the whole query.
type Planner struct {
	completion  llm.Completion
	maxSubTasks int
	logger      *zap.Logger
}

// New creates a planner. maxSubTasks <= 0 uses DefaultMaxSubTasks.
func New(completion llm.Completion, maxSubTasks int, logger *zap.Logger) *Planner {
	if maxSubTasks <= 0 {
		maxSubTasks = DefaultMaxSubTasks
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{completion: completion, maxSubTasks: maxSubTasks, logger: logger}
}

// Plan builds the plan for query and records it. query must be non-empty.
func (p *Planner) Plan(ctx context.Context, query string, rec PlanRecorder) research.ResearchPlan {
	plan := p.plan(ctx, query)
	if rec != nil {
		text, err := json.Marshal(plan)
		if err != nil {
			text = []byte(plan.Analysis)
		}
		rec.SavePlan(string(text), query)
	}
	return plan
}

func (p *Planner) plan(ctx context.Context, query string) research.ResearchPlan {
	text, err := p.completion.Complete(ctx, fmt.Sprintf(systemPrompt, p.maxSubTasks), "Research question: "+query)
	if err != nil {
		p.logger.Warn("Planning completion failed, using single-task plan", zap.Error(err))
		return Fallback(query, "Research on: "+query)
	}

	resp := parseResponse(text)
	if resp.Structured == nil {
		p.logger.Warn("Planning response was not a valid plan, using single-task plan",
			zap.Int("response_len", len(text)),
		)
		return Fallback(query, resp.Raw)
	}

	plan, ok := resp.Structured.toPlan(p.maxSubTasks)
	if !ok {
		p.logger.Warn("Plan contained no usable tasks, using single-task plan")
		return Fallback(query, resp.Structured.Analysis)
	}
	p.logger.Info("Research plan created",
		zap.Int("subtasks", len(plan.SubTasks)),
		zap.Int("aspects", len(plan.ResearchAspects)),
	)
	return plan
}

// Fallback is the single-task plan used whenever planning degrades.
func Fallback(query, analysis string) research.ResearchPlan {
	if strings.TrimSpace(analysis) == "" {
		analysis = "Research on: " + query
	}
	return research.ResearchPlan{
		Analysis: analysis,
		SubTasks: []research.SubTaskSpec{
			{ID: 0, Name: "subagent_1", Task: query, Focus: research.DefaultFocus},
		},
		SynthesisStrategy: "combine all results",
		Degraded:          true,
	}
}

// response is either a decoded plan or the raw text that failed to decode.
type response struct {
	Structured *structuredPlan
	Raw        string
}

type structuredPlan struct {
	Analysis          string   `json:"analysis"`
	ResearchAspects   []string `json:"research_aspects"`
	SubagentTasks     []task   `json:"subagent_tasks"`
	SynthesisStrategy string   `json:"synthesis_strategy"`
}

type task struct {
	ID    any    `json:"id"`
	Task  string `json:"task"`
	Focus string `json:"focus"`
}

func parseResponse(text string) response {
	var sp structuredPlan
	dec := json.NewDecoder(strings.NewReader(llm.StripCodeFence(text)))
	if err := dec.Decode(&sp); err != nil || dec.More() {
		return response{Raw: text}
	}
	return response{Structured: &sp}
}

// toPlan validates the decoded plan and assigns positional ids.
func (sp *structuredPlan) toPlan(max int) (research.ResearchPlan, bool) {
	plan := research.ResearchPlan{
		Analysis:          sp.Analysis,
		ResearchAspects:   sp.ResearchAspects,
		SynthesisStrategy: sp.SynthesisStrategy,
	}
	for _, t := range sp.SubagentTasks {
		if len(plan.SubTasks) == max {
			break
		}
		desc := strings.TrimSpace(t.Task)
		if desc == "" {
			continue
		}
		id := len(plan.SubTasks)
		name := fmt.Sprintf("subagent_%d", id+1)
		if t.ID != nil {
			if label := strings.TrimSpace(fmt.Sprint(t.ID)); label != "" {
				name = label
			}
		}
		focus := strings.TrimSpace(t.Focus)
		if focus == "" {
			focus = research.DefaultFocus
		}
		plan.SubTasks = append(plan.SubTasks, research.SubTaskSpec{ID: id, Name: name, Task: desc, Focus: focus})
	}
	if plan.SynthesisStrategy == "" {
		plan.SynthesisStrategy = "combine all results"
	}
	return plan, len(plan.SubTasks) > 0
}
