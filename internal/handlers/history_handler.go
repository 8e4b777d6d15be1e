package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/models"
)

// HistoryHandler serves the per-user action history
type HistoryHandler struct {
	history    HistoryService
	session    SessionService
	maxEntries int
	logger     arbor.ILogger
}

// NewHistoryHandler creates a new HistoryHandler
func NewHistoryHandler(history HistoryService, session SessionService, maxEntries int, logger arbor.ILogger) *HistoryHandler {
	return &HistoryHandler{
		history:    history,
		session:    session,
		maxEntries: maxEntries,
		logger:     logger,
	}
}

// ListHistoryHandler handles GET /api/history?limit=N
func (h *HistoryHandler) ListHistoryHandler(w http.ResponseWriter, r *http.Request) {
	owner := h.session.Subject()
	if owner == "" {
		WriteError(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	entries, err := h.history.List(r.Context(), owner, GetLimitParam(r, h.maxEntries, h.maxEntries))
	if err != nil {
		WriteServiceError(w, h.logger, err, "List history")
		return
	}
	if entries == nil {
		entries = []*models.ActionHistoryEntry{}
	}
	WriteJSON(w, http.StatusOK, entries)
}

// ClearHistoryHandler handles DELETE /api/history
func (h *HistoryHandler) ClearHistoryHandler(w http.ResponseWriter, r *http.Request) {
	owner := h.session.Subject()
	if owner == "" {
		WriteError(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	if err := h.history.Clear(r.Context(), owner); err != nil {
		WriteServiceError(w, h.logger, err, "Clear history")
		return
	}
	WriteSuccess(w, "History cleared")
}
