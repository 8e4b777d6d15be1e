package models

import "time"

// SessionCredential is the credential pair for the signed-in user
type SessionCredential struct {
	Subject      string    `json:"subject"` // user identity, namespaces the Registry
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Expired reports whether the access token is no longer usable at now
func (c *SessionCredential) Expired(now time.Time) bool {
	return c.ExpiresAt.IsZero() || !c.ExpiresAt.After(now)
}

// SessionInfo is the credential-free view of the session exposed to the UI
type SessionInfo struct {
	Subject     string    `json:"subject,omitempty"`
	Valid       bool      `json:"valid"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	Invalidated string    `json:"invalidated,omitempty"` // why the session was torn down
}
