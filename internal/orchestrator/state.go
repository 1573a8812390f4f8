package orchestrator

import (
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

// Phase is a state of the run state machine.
type Phase string

const (
	PhasePlanning     Phase = "planning"
	PhaseExecuting    Phase = "executing"
	PhaseEvaluating   Phase = "evaluating"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseCiting       Phase = "citing"
	PhaseFinalizing   Phase = "finalizing"
	PhaseDone         Phase = "done"
)

// ResearchState is the working state of one run. It is discarded when the
// run ends.
type ResearchState struct {
	Query        string
	Plan         research.ResearchPlan
	Results      []research.SubTaskResult
	Evidence     []research.EvidenceItem
	Iteration    int
	Cap          int
	Complete     bool
	Draft        string
	Cited        string
	FinalSources []research.EvidenceItem
	Report       string
	Phase        Phase
	Degradations []research.Degradation
}

func newState(query string) *ResearchState {
	return &ResearchState{Query: query, Phase: PhasePlanning}
}

// degrade records d once per run and reports whether it was new.
func (s *ResearchState) degrade(d research.Degradation) bool {
	for _, x := range s.Degradations {
		if x == d {
			return false
		}
	}
	s.Degradations = append(s.Degradations, d)
	return true
}

// IterationCap is min(2 * tasks, 6).
func IterationCap(tasks int) int {
	return min(2*tasks, maxIterationCap)
}

// SelectTasks returns the tasks to dispatch in round k: all of them in the
// first round, then alternating halves by index parity.
func SelectTasks(plan research.ResearchPlan, k int) []research.SubTaskSpec {
	if k == 0 {
		return append([]research.SubTaskSpec(nil), plan.SubTasks...)
	}
	var out []research.SubTaskSpec
	for i, t := range plan.SubTasks {
		if i%2 == k%2 {
			out = append(out, t)
		}
	}
	return out
}

// ShouldContinue is the quality heuristic: keep going while there are no
// results, or fewer than maxSubagents results with under 5 processed items.
func ShouldContinue(results []research.SubTaskResult, maxSubagents int) bool {
	if len(results) == 0 {
		return true
	}
	if len(results) >= maxSubagents {
		return false
	}
	return research.TotalProcessed(results) < 5
}

// continueRounds combines the iteration cap, the result ceiling and the
// quality heuristic.
func continueRounds(s *ResearchState, maxSubagents int) bool {
	return s.Iteration < s.Cap &&
		len(s.Results) < 2*maxSubagents &&
		ShouldContinue(s.Results, maxSubagents)
}
