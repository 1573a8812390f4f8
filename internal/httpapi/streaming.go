package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/streaming"
)

// StreamingHandler serves SSE and websocket endpoints for run events.
type StreamingHandler struct {
	mgr       *streaming.Manager
	heartbeat time.Duration
	logger    *zap.Logger
}

func NewStreamingHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamingHandler{mgr: mgr, heartbeat: 15 * time.Second, logger: logger}
}

// RegisterRoutes registers SSE routes on the provided mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream/sse", auth.RequireScope(auth.ScopeResearchRead, h.handleSSE))
	h.RegisterWebSocket(mux)
}

// streamParams are the query parameters shared by SSE and websocket.
type streamParams struct {
	runID  string
	types  map[string]struct{}
	lastID uint64
}

func parseStreamParams(r *http.Request) (streamParams, bool) {
	p := streamParams{runID: r.URL.Query().Get("run_id"), types: map[string]struct{}{}}
	if p.runID == "" {
		return p, false
	}
	// Optional: type filter (comma-separated)
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				p.types[t] = struct{}{}
			}
		}
	}
	// Optional: Last-Event-ID header or query param to replay from
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			p.lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && p.lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			p.lastID = n
		}
	}
	return p, true
}

func (p streamParams) wants(evt streaming.Event) bool {
	if len(p.types) == 0 {
		return true
	}
	_, ok := p.types[evt.Type]
	return ok
}

// handleSSE streams events for a run via Server-Sent Events.
// GET /stream/sse?run_id=<id>
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	params, ok := parseStreamParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "run_id required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// CORS (dev-friendly)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Subscribe before replaying so nothing published in between is lost.
	ch := h.mgr.Subscribe(params.runID, 256)
	defer h.mgr.Unsubscribe(params.runID, ch)

	fmt.Fprintf(w, ": connected to run %s\n\n", params.runID)
	flusher.Flush()

	sent := params.lastID
	write := func(evt streaming.Event) bool {
		if evt.Seq <= sent {
			return false
		}
		sent = evt.Seq
		if !params.wants(evt) {
			return evt.Terminal()
		}
		fmt.Fprintf(w, "id: %d\n", evt.Seq)
		fmt.Fprintf(w, "event: %s\n", evt.Type)
		fmt.Fprintf(w, "data: %s\n\n", evt.Marshal())
		flusher.Flush()
		return evt.Terminal()
	}

	// Replay backlog since lastID (best-effort)
	for _, evt := range h.mgr.ReplaySince(params.runID, params.lastID) {
		if write(evt) {
			return
		}
	}

	hb := time.NewTicker(h.heartbeat)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("run_id", params.runID))
			return
		case evt, open := <-ch:
			if !open || write(evt) {
				return
			}
		case <-hb.C:
			// Heartbeat to keep connections alive through proxies
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
