package httpapi

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/memory"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/persistence"
)

// SnapshotLoader reads the memory a finished run left behind.
type SnapshotLoader interface {
	Load(ctx context.Context, runID string, limitTokens int) (*memory.ResearchMemory, error)
}

// ArchiveHandler serves persisted reports and memory snapshots. Either
// backend may be nil, in which case its route answers 404.
type ArchiveHandler struct {
	reports     persistence.Reader
	snapshots   SnapshotLoader
	limitTokens int
	logger      *zap.Logger
}

func NewArchiveHandler(reports persistence.Reader, snapshots SnapshotLoader, limitTokens int, logger *zap.Logger) *ArchiveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveHandler{reports: reports, snapshots: snapshots, limitTokens: limitTokens, logger: logger}
}

func (h *ArchiveHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/reports/{name}", auth.RequireScope(auth.ScopeResearchRead, h.handleReport))
	mux.HandleFunc("GET /api/research/{id}/memory", auth.RequireScope(auth.ScopeResearchRead, h.handleMemory))
}

func (h *ArchiveHandler) handleReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "report storage disabled")
		return
	}
	name := r.PathValue("name")
	report, err := h.reports.Get(r.Context(), name)
	if errors.Is(err, persistence.ErrReportNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load report", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(report.Content))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *ArchiveHandler) handleMemory(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		writeError(w, http.StatusNotFound, "memory snapshots disabled")
		return
	}
	id := r.PathValue("id")
	mem, err := h.snapshots.Load(r.Context(), id, h.limitTokens)
	if errors.Is(err, memory.ErrSnapshotNotFound) {
		writeError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load memory snapshot", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  id,
		"summary": mem.Summary(),
		"results": mem.Results(),
		"sources": mem.Sources(),
	})
}
