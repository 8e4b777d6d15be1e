package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
)

// StatusHandler handles HTTP requests for application status
type StatusHandler struct {
	jobs      JobService
	session   SessionService
	startedAt time.Time
	logger    arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(jobs JobService, session SessionService, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		jobs:      jobs,
		session:   session,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	live, err := h.jobs.LiveJobs(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err, "Get status")
		return
	}

	state := "idle"
	switch {
	case !h.session.Info().Valid:
		state = "signed_out"
	case live > 0:
		state = "generating"
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"state":      state,
		"live_jobs":  live,
		"session":    h.session.Info(),
		"version":    common.GetFullVersion(),
		"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
		"goroutines": common.GetGoroutineCount(),
	})
}
