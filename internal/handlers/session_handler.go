package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/models"
)

// SignInRequest is the body of PUT /api/session
type SignInRequest struct {
	Subject      string    `json:"subject"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	ExpiresIn    int       `json:"expires_in"` // seconds, used when expires_at is absent
}

// SessionHandler manages sign in and sign out for the local UI
type SessionHandler struct {
	session SessionService
	jobs    JobService
	logger  arbor.ILogger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(session SessionService, jobs JobService, logger arbor.ILogger) *SessionHandler {
	return &SessionHandler{
		session: session,
		jobs:    jobs,
		logger:  logger,
	}
}

// GetSessionHandler handles GET /api/session
func (h *SessionHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.session.Info())
}

// SignInHandler handles PUT /api/session. Jobs left over from an earlier
// session of the same user are recovered in the background.
func (h *SessionHandler) SignInHandler(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() && req.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(req.ExpiresIn) * time.Second)
	}

	cred := &models.SessionCredential{
		Subject:      req.Subject,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    expiresAt,
		UpdatedAt:    time.Now(),
	}
	if err := h.session.Install(r.Context(), cred); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.jobs != nil {
		common.SafeGo(h.logger, "recover-after-sign-in", func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := h.jobs.Recover(ctx); err != nil {
				h.logger.Warn().Err(err).Msg("Recovery after sign in failed")
			}
		})
	}

	WriteJSON(w, http.StatusOK, h.session.Info())
}

// SignOutHandler handles DELETE /api/session
func (h *SessionHandler) SignOutHandler(w http.ResponseWriter, r *http.Request) {
	h.session.Invalidate(r.Context(), "signed out")
	WriteSuccess(w, "Signed out")
}
