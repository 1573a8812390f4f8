package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/streaming"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Dev-friendly, secure via proxy in prod
}

// RegisterWebSocket registers /stream/ws endpoint.
func (h *StreamingHandler) RegisterWebSocket(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream/ws", auth.RequireScope(auth.ScopeResearchRead, h.handleWS))
}

func (h *StreamingHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	params, ok := parseStreamParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "run_id required")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := h.mgr.Subscribe(params.runID, 256)
	defer h.mgr.Unsubscribe(params.runID, ch)

	closeNormal := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}

	sent := params.lastID
	// write reports whether the stream should stop.
	write := func(evt streaming.Event) (bool, error) {
		if evt.Seq <= sent {
			return false, nil
		}
		sent = evt.Seq
		if params.wants(evt) {
			if err := conn.WriteJSON(evt); err != nil {
				return true, err
			}
		}
		return evt.Terminal(), nil
	}

	// Replay backlog
	for _, evt := range h.mgr.ReplaySince(params.runID, params.lastID) {
		if done, err := write(evt); done {
			if err == nil {
				closeNormal()
			}
			return
		}
	}

	// Heartbeat ping
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	// Reader pump (discard client messages)
	readErr := make(chan struct{})
	go func() {
		defer close(readErr)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Writer pump
	for {
		select {
		case <-r.Context().Done():
			return
		case <-readErr:
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			if done, err := write(evt); done {
				if err == nil {
					closeNormal()
				}
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
