package memory

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

const (
	// DefaultLimitTokens bounds the approximate size of a memory.
	DefaultLimitTokens = 200000

	// Context keys written by the orchestrator.
	KeyFinalReport = "final_report"
	KeyCompleted   = "research_completed"

	keepResults = 5
	keepSources = 20
	fullRatio   = 0.8
)

// ResultEntry is a stored subagent result with its arrival time.
type ResultEntry struct {
	AgentID   string                 `json:"agent_id"`
	Result    research.SubTaskResult `json:"result"`
	Timestamp time.Time              `json:"timestamp"`
}

// Metadata tracks bookkeeping for a memory.
type Metadata struct {
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	TokenCount  int       `json:"token_count"`
}

// Summary is a compact view of a memory's contents.
type Summary struct {
	HasPlan     bool      `json:"has_plan"`
	Query       string    `json:"query"`
	NumResults  int       `json:"num_subagent_results"`
	NumSources  int       `json:"num_sources"`
	TokenCount  int       `json:"token_count"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

type state struct {
	Plan     string                     `json:"research_plan"`
	Query    string                     `json:"query"`
	Results  []ResultEntry              `json:"subagent_results"`
	Sources  []research.EvidenceItem    `json:"sources"`
	Context  map[string]json.RawMessage `json:"context"`
	Metadata Metadata                   `json:"metadata"`
}

// ResearchMemory is the shared store for one research session. All methods
// are safe for concurrent use; writes are serialized.
type ResearchMemory struct {
	mu          sync.RWMutex
	st          state
	limitTokens int
	now         func() time.Time
}

// New creates an empty memory. limitTokens <= 0 uses DefaultLimitTokens.
func New(limitTokens int) *ResearchMemory {
	if limitTokens <= 0 {
		limitTokens = DefaultLimitTokens
	}
	m := &ResearchMemory{
		st:          state{Context: map[string]json.RawMessage{}},
		limitTokens: limitTokens,
		now:         time.Now,
	}
	return m
}

// SavePlan records the plan text and the query it answers.
func (m *ResearchMemory) SavePlan(plan, query string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.st.Plan = plan
	m.st.Query = query
	m.st.Metadata.CreatedAt = now
	m.st.Metadata.LastUpdated = now
	m.updateTokenCountLocked()
}

// AddResult appends a subagent result.
func (m *ResearchMemory) AddResult(r research.SubTaskResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.st.Results = append(m.st.Results, ResultEntry{AgentID: r.Name, Result: r, Timestamp: now})
	m.st.Metadata.LastUpdated = now
	m.updateTokenCountLocked()
}

// AddSources appends sources, skipping exact duplicates of stored ones.
func (m *ResearchMemory) AddSources(items []research.EvidenceItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		dup := false
		for _, s := range m.st.Sources {
			if s == it {
				dup = true
				break
			}
		}
		if !dup {
			m.st.Sources = append(m.st.Sources, it)
		}
	}
	m.updateTokenCountLocked()
}

// SetContext stores value under key. Values must be JSON encodable.
func (m *ResearchMemory) SetContext(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode context %q: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.Context[key] = raw
	m.st.Metadata.LastUpdated = m.now()
	m.updateTokenCountLocked()
	return nil
}

// Context decodes the value stored under key into out. It reports false when
// the key is absent.
func (m *ResearchMemory) Context(key string, out any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.st.Context[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decode context %q: %w", key, err)
	}
	return true, nil
}

// Plan returns the stored plan text.
func (m *ResearchMemory) Plan() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Plan
}

// Query returns the stored query.
func (m *ResearchMemory) Query() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Query
}

// Results returns a copy of the stored results.
func (m *ResearchMemory) Results() []ResultEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ResultEntry, len(m.st.Results))
	copy(out, m.st.Results)
	return out
}

// Sources returns a copy of the stored sources.
func (m *ResearchMemory) Sources() []research.EvidenceItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]research.EvidenceItem, len(m.st.Sources))
	copy(out, m.st.Sources)
	return out
}

// Summary returns counts and metadata.
func (m *ResearchMemory) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Summary{
		HasPlan:     m.st.Plan != "",
		Query:       m.st.Query,
		NumResults:  len(m.st.Results),
		NumSources:  len(m.st.Sources),
		TokenCount:  m.st.Metadata.TokenCount,
		CreatedAt:   m.st.Metadata.CreatedAt,
		LastUpdated: m.st.Metadata.LastUpdated,
	}
}

// IsFull reports whether the token estimate exceeds 80% of the limit.
func (m *ResearchMemory) IsFull() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isFullLocked()
}

func (m *ResearchMemory) isFullLocked() bool {
	return float64(m.st.Metadata.TokenCount) > float64(m.limitTokens)*fullRatio
}

// Compact drops the oldest results and sources when the memory is full. It
// reports whether anything was done.
func (m *ResearchMemory) Compact() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isFullLocked() {
		return false
	}
	if len(m.st.Results) > keepResults {
		m.st.Results = append([]ResultEntry(nil), m.st.Results[len(m.st.Results)-keepResults:]...)
	}
	if len(m.st.Sources) > keepSources {
		m.st.Sources = append([]research.EvidenceItem(nil), m.st.Sources[len(m.st.Sources)-keepSources:]...)
	}
	m.updateTokenCountLocked()
	return true
}

// Export serializes the memory as JSON.
func (m *ResearchMemory) Export() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.MarshalIndent(m.st, "", "  ")
}

// Import replaces the memory contents with a previous Export.
func (m *ResearchMemory) Import(data []byte) error {
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("import memory: %w", err)
	}
	if st.Context == nil {
		st.Context = map[string]json.RawMessage{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = st
	m.updateTokenCountLocked()
	return nil
}

// updateTokenCountLocked estimates tokens as a quarter of the JSON size.
func (m *ResearchMemory) updateTokenCountLocked() {
	m.st.Metadata.TokenCount = 0
	data, err := json.Marshal(m.st)
	if err != nil {
		m.st.Metadata.TokenCount = 1000
		return
	}
	m.st.Metadata.TokenCount = len(data) / 4
}
