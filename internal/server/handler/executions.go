package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// ExecutionHandler serves execution records from an ExecutionStore.
type ExecutionHandler struct {
	store  domain.ExecutionStore
	logger *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler. A nil store answers 501.
func NewExecutionHandler(store domain.ExecutionStore, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{store: store, logger: logger.With(slog.String("handler", "executions"))}
}

// ListExecutions handles GET /api/executions?limit=.
func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "execution store not configured")
		return
	}
	recs, err := h.store.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list executions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if recs == nil {
		recs = []domain.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// GetExecution handles GET /api/executions/{id}.
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "execution store not configured")
		return
	}
	id := r.PathValue("id")
	rec, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get execution",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
