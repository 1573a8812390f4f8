package httpapi

import (
	"sort"
	"sync"
	"time"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

const defaultRunCapacity = 500

// RunRecord is the state of an asynchronous run.
type RunRecord struct {
	RunID      string                   `json:"run_id"`
	Query      string                   `json:"query"`
	Status     string                   `json:"status"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt *time.Time               `json:"finished_at,omitempty"`
	Result     *research.ResearchResult `json:"result,omitempty"`
}

// RunRegistry tracks asynchronous runs in memory. When full, the oldest
// finished runs are evicted first.
type RunRegistry struct {
	mu       sync.RWMutex
	runs     map[string]*RunRecord
	capacity int
	now      func() time.Time
}

// NewRunRegistry creates a registry holding at most capacity runs.
func NewRunRegistry(capacity int) *RunRegistry {
	if capacity <= 0 {
		capacity = defaultRunCapacity
	}
	return &RunRegistry{runs: make(map[string]*RunRecord), capacity: capacity, now: time.Now}
}

// Start records a running run.
func (r *RunRegistry) Start(runID, query string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	r.runs[runID] = &RunRecord{RunID: runID, Query: query, Status: RunStatusRunning, StartedAt: r.now()}
}

// Finish stores the result of a run.
func (r *RunRegistry) Finish(result research.ResearchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.runs[result.RunID]
	if !ok {
		rec = &RunRecord{RunID: result.RunID, Query: result.Query, StartedAt: r.now()}
		r.runs[result.RunID] = rec
	}
	now := r.now()
	rec.FinishedAt = &now
	rec.Status = RunStatusCompleted
	if !result.Success {
		rec.Status = RunStatusFailed
	}
	rec.Result = &result
}

// Get returns a copy of the record for runID.
func (r *RunRegistry) Get(runID string) (RunRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.runs[runID]
	if !ok {
		return RunRecord{}, false
	}
	return *rec, true
}

// Running counts unfinished runs.
func (r *RunRegistry) Running() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.runs {
		if rec.Status == RunStatusRunning {
			n++
		}
	}
	return n
}

func (r *RunRegistry) evictLocked() {
	if len(r.runs) < r.capacity {
		return
	}
	finished := make([]*RunRecord, 0, len(r.runs))
	for _, rec := range r.runs {
		if rec.FinishedAt != nil {
			finished = append(finished, rec)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].FinishedAt.Before(*finished[j].FinishedAt) })
	for _, rec := range finished {
		if len(r.runs) < r.capacity {
			return
		}
		delete(r.runs, rec.RunID)
	}
}
