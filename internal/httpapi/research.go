package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

const (
	maxBodyBytes = 1 << 20
	// maxValidateSources bounds num_sources on the validate endpoint.
	maxValidateSources = 10000
)

// Researcher is the orchestrator surface the API needs.
type Researcher interface {
	RunWithID(ctx context.Context, runID, query string) research.ResearchResult
	ValidateCitations(cited string, totalSources int) research.CitationValidation
}

// ResearchHandler serves the research and citation endpoints.
//
//	POST /api/research              run synchronously, or start with {"async": true}
//	GET  /api/research/{id}         status and result of an async run
//	POST /api/citations/validate    check the markers of a report
type ResearchHandler struct {
	researcher Researcher
	runs       *RunRegistry
	baseCtx    context.Context
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// NewResearchHandler creates the handler. Async runs inherit baseCtx, so
// cancelling it stops them.
func NewResearchHandler(baseCtx context.Context, researcher Researcher, runs *RunRegistry, logger *zap.Logger) *ResearchHandler {
	if runs == nil {
		runs = NewRunRegistry(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResearchHandler{researcher: researcher, runs: runs, baseCtx: baseCtx, logger: logger}
}

// RegisterRoutes registers research routes on the provided mux.
func (h *ResearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/research", auth.RequireScope(auth.ScopeResearchRun, h.handleRun))
	mux.HandleFunc("GET /api/research/{id}", auth.RequireScope(auth.ScopeResearchRead, h.handleGet))
	mux.HandleFunc("POST /api/citations/validate", auth.RequireScope(auth.ScopeResearchRead, h.handleValidate))
}

// Wait blocks until all async runs have finished.
func (h *ResearchHandler) Wait() {
	h.wg.Wait()
}

type runRequest struct {
	Query string `json:"query"`
	Async bool   `json:"async"`
}

type runAccepted struct {
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
	StreamURL string `json:"stream_url"`
}

func (h *ResearchHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := research.NormalizeQuery(req.Query); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runID := uuid.NewString()
	if !req.Async {
		result := h.researcher.RunWithID(r.Context(), runID, req.Query)
		status := http.StatusOK
		if !result.Success {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, result)
		return
	}

	h.runs.Start(runID, req.Query)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		result := h.researcher.RunWithID(h.baseCtx, runID, req.Query)
		h.runs.Finish(result)
	}()

	h.logger.Info("Research run accepted", zap.String("run_id", runID))
	writeJSON(w, http.StatusAccepted, runAccepted{
		RunID:     runID,
		Status:    RunStatusRunning,
		StatusURL: "/api/research/" + runID,
		StreamURL: "/stream/sse?run_id=" + runID,
	})
}

func (h *ResearchHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.runs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type validateRequest struct {
	Report  string                  `json:"report"`
	Sources []research.EvidenceItem `json:"sources"`
	// NumSources is used when Sources is empty.
	NumSources int `json:"num_sources"`
}

func (h *ResearchHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Report) == "" {
		writeError(w, http.StatusBadRequest, "report is required")
		return
	}
	total := len(req.Sources)
	if total == 0 {
		total = req.NumSources
	}
	if total < 0 || total > maxValidateSources {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("num_sources must be between 0 and %d", maxValidateSources))
		return
	}
	writeJSON(w, http.StatusOK, h.researcher.ValidateCitations(req.Report, total))
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
