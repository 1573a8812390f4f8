package streaming

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Run event types.
const (
	EventRunStarted        = "RUN_STARTED"
	EventPlanReady         = "PLAN_READY"
	EventRoundStarted      = "ROUND_STARTED"
	EventSubagentCompleted = "SUBAGENT_COMPLETED"
	EventSubagentFailed    = "SUBAGENT_FAILED"
	EventRoundCompleted    = "ROUND_COMPLETED"
	EventSynthesisDone     = "SYNTHESIS_COMPLETED"
	EventCitationsPlaced   = "CITATIONS_PLACED"
	EventRunCompleted      = "RUN_COMPLETED"
	EventRunFailed         = "RUN_FAILED"
)

const DefaultCapacity = 256

// Event is a run progress event delivered over SSE and websocket.
type Event struct {
	RunID     string                 `json:"run_id"`
	Type      string                 `json:"type"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       uint64                 `json:"seq"`
}

// Marshal returns JSON for event payloads in SSE or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Terminal reports whether no further events follow e for its run.
func (e Event) Terminal() bool {
	return e.Type == EventRunCompleted || e.Type == EventRunFailed
}

// Mirror receives a copy of every published event, after sequencing.
type Mirror interface {
	Append(ctx context.Context, evt Event) error
}

// Manager provides in-memory pub/sub for run events.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	// per-run ring buffer for replay and Last-Event-ID support
	history  map[string]*ring
	capacity int
	mirror   Mirror
	logger   *zap.Logger
}

// NewManager creates a manager keeping up to capacity events per run.
func NewManager(capacity int, logger *zap.Logger) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		logger:      logger,
	}
}

// SetMirror installs a secondary sink, e.g. a Redis stream.
func (m *Manager) SetMirror(mirror Mirror) {
	m.mu.Lock()
	m.mirror = mirror
	m.mu.Unlock()
}

// Subscribe adds a subscriber channel for a run; caller must drain and call Unsubscribe.
func (m *Manager) Subscribe(runID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[runID]; ok {
		if _, found := subs[ch]; !found {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(m.subscribers, runID)
		}
	}
}

// Publish sends an event to all subscribers of runID (non-blocking).
func (m *Manager) Publish(runID string, evt Event) {
	evt.RunID = runID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	m.mu.Lock()
	rg := m.history[runID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[runID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	// Sends happen under the lock so Unsubscribe cannot close a channel mid-send.
	for ch := range m.subscribers[runID] {
		select {
		case ch <- evt:
		default:
			// Drop if subscriber is slow
		}
	}
	mirror := m.mirror
	m.mu.Unlock()

	if mirror != nil {
		if err := mirror.Append(context.Background(), evt); err != nil {
			m.logger.Warn("Failed to mirror event",
				zap.String("run_id", runID),
				zap.String("type", evt.Type),
				zap.Error(err),
			)
		}
	}
}

// ReplaySince returns events with Seq > since (best-effort within ring capacity).
func (m *Manager) ReplaySince(runID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[runID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops the history of a finished run.
func (m *Manager) Forget(runID string) {
	m.mu.Lock()
	delete(m.history, runID)
	m.mu.Unlock()
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
