package backend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/flashdeck/internal/interfaces"
)

// APIError represents an error status returned by the API.
// It unwraps to one of the interfaces sentinels unless the failure is transient.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
	kind       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

// Transient reports whether retrying the request could succeed
func (e *APIError) Transient() bool {
	return e.kind == nil
}

// classifyStatus maps a non-2xx status onto a sentinel; nil means transient.
func classifyStatus(status int, rejectAs, notFoundAs error) error {
	if rejectAs == nil {
		rejectAs = interfaces.ErrRequestRejected
	}
	if notFoundAs == nil {
		notFoundAs = rejectAs
	}

	switch {
	case status == http.StatusUnauthorized:
		return interfaces.ErrSessionInvalid
	case status == http.StatusNotFound || status == http.StatusGone:
		return notFoundAs
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return nil
	case status >= 400 && status < 500:
		return rejectAs
	default:
		return nil
	}
}

// errorMessage extracts a readable message from a FastAPI style error body
func errorMessage(body []byte) string {
	var payload struct {
		Detail  interface{} `json:"detail"`
		Message string      `json:"message"`
		Error   string      `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != "":
			return payload.Message
		case payload.Error != "":
			return payload.Error
		case payload.Detail != nil:
			if s, ok := payload.Detail.(string); ok {
				return s
			}
			if b, err := json.Marshal(payload.Detail); err == nil {
				return string(b)
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "no response body"
	}
	return msg
}
