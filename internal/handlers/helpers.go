package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/interfaces"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteServiceError maps service errors onto HTTP status codes.
// Unknown errors are logged and reported as 500 without their detail.
func WriteServiceError(w http.ResponseWriter, logger arbor.ILogger, err error, action string) {
	switch {
	case errors.Is(err, interfaces.ErrSessionInvalid):
		WriteError(w, http.StatusUnauthorized, "Not signed in")
	case errors.Is(err, interfaces.ErrNotFound):
		WriteError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, interfaces.ErrAlreadyInFlight), errors.Is(err, interfaces.ErrNotTerminal):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, interfaces.ErrNoActiveJob):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, interfaces.ErrSubmissionRejected):
		WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, interfaces.ErrShuttingDown):
		WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error().Err(err).Msg(action + " failed")
		WriteError(w, http.StatusInternalServerError, action+" failed")
	}
}

// PathID extracts the first path segment after prefix, URL-decoded.
// "/api/jobs/doc%201/clear" with prefix "/api/jobs/" returns "doc 1".
func PathID(path, prefix string) string {
	rest := strings.TrimPrefix(path, prefix)
	if idx := strings.Index(rest, "/"); idx >= 0 {
		rest = rest[:idx]
	}
	id, err := url.PathUnescape(rest)
	if err != nil {
		return ""
	}
	return id
}

// GetLimitParam reads ?limit=, falling back to def; values above max are clamped.
func GetLimitParam(r *http.Request, def, max int) int {
	limit := def
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 {
			limit = l
		}
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit
}
