package interfaces

import (
	"context"

	"github.com/ternarybob/flashdeck/internal/models"
)

// SessionStore holds the current credential. It never blocks and never
// refreshes; every outbound request reads from it.
type SessionStore interface {
	// Credential returns ErrSessionInvalid when no valid session exists
	Credential() (*models.SessionCredential, error)
	Info() models.SessionInfo
	Install(ctx context.Context, cred *models.SessionCredential) error
	Invalidate(ctx context.Context, reason string)
}
