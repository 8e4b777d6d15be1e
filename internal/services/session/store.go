// -----------------------------------------------------------------------
// Session Store - current credential pair shared by every outbound request
// -----------------------------------------------------------------------

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
	"golang.org/x/oauth2"
)

// Store holds the signed-in credential. It has no timers of its own; the
// Refresher keeps it current and calls Invalidate on unrecoverable failure.
type Store struct {
	mu            sync.RWMutex
	cred          *models.SessionCredential
	generation    uint64 // bumped on every Install so stale refreshes are dropped
	invalidReason string

	storage      interfaces.CredentialStorage
	eventService interfaces.EventService
	logger       arbor.ILogger
	changes      chan struct{}
}

var _ interfaces.SessionStore = (*Store)(nil)
var _ oauth2.TokenSource = (*Store)(nil)

// NewStore creates an empty (invalid) session store
func NewStore(storage interfaces.CredentialStorage, eventService interfaces.EventService, logger arbor.ILogger) *Store {
	return &Store{
		storage:       storage,
		eventService:  eventService,
		logger:        logger,
		changes:       make(chan struct{}, 1),
		invalidReason: "not signed in",
	}
}

// Restore loads a persisted credential. A missing credential leaves the store invalid.
func (s *Store) Restore(ctx context.Context) error {
	cred, err := s.storage.LoadCredential(ctx)
	if errors.Is(err, interfaces.ErrNotFound) {
		s.logger.Debug().Msg("No stored session to restore")
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cred = cred
	s.generation++
	s.invalidReason = ""
	s.mu.Unlock()
	s.notify()

	s.logger.Info().Str("subject", cred.Subject).Msg("Session restored from storage")
	return nil
}

// Credential returns a copy of the current credential, or ErrSessionInvalid
func (s *Store) Credential() (*models.SessionCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil, interfaces.ErrSessionInvalid
	}
	cred := *s.cred
	return &cred, nil
}

// Token implements oauth2.TokenSource so HTTP clients read the current access
// token on every request.
func (s *Store) Token() (*oauth2.Token, error) {
	cred, err := s.Credential()
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  cred.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.ExpiresAt,
	}, nil
}

// Subject returns the current user identity, empty when invalid
func (s *Store) Subject() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return ""
	}
	return s.cred.Subject
}

func (s *Store) Info() models.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return models.SessionInfo{Valid: false, Invalidated: s.invalidReason}
	}
	return models.SessionInfo{
		Subject:   s.cred.Subject,
		Valid:     true,
		ExpiresAt: s.cred.ExpiresAt,
	}
}

// Install replaces the session with cred (sign in) and persists it
func (s *Store) Install(ctx context.Context, cred *models.SessionCredential) error {
	if cred == nil || cred.Subject == "" || cred.AccessToken == "" || cred.RefreshToken == "" {
		return fmt.Errorf("credential requires subject, access token and refresh token")
	}
	// a different user ends the current session first so its jobs expire
	if current := s.Subject(); current != "" && current != cred.Subject {
		s.Invalidate(ctx, "signed in as another user")
	}

	stored := *cred
	if err := s.storage.SaveCredential(ctx, &stored); err != nil {
		return err
	}

	s.mu.Lock()
	s.cred = &stored
	s.generation++
	s.invalidReason = ""
	s.mu.Unlock()
	s.notify()

	s.logger.Info().Str("subject", cred.Subject).Msg("Session installed")
	return nil
}

// snapshot returns the credential together with its generation
func (s *Store) snapshot() (*models.SessionCredential, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil, s.generation, false
	}
	cred := *s.cred
	return &cred, s.generation, true
}

// update stores a renewed credential unless the session changed since generation
func (s *Store) update(ctx context.Context, generation uint64, renewed *models.SessionCredential) bool {
	s.mu.Lock()
	if s.cred == nil || s.generation != generation {
		s.mu.Unlock()
		s.logger.Debug().Msg("Discarding refresh result for a replaced session")
		return false
	}
	if renewed.Subject == "" {
		renewed.Subject = s.cred.Subject
	}
	if renewed.RefreshToken == "" {
		renewed.RefreshToken = s.cred.RefreshToken
	}
	s.cred = renewed
	s.mu.Unlock()

	if err := s.storage.SaveCredential(ctx, renewed); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist renewed credential")
	}

	_ = s.eventService.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventSessionRenewed,
		Payload: s.Info(),
	})
	return true
}

// Invalidate tears the session down. Subscribers to EventSessionInvalidated
// are called synchronously, exactly once per session.
func (s *Store) Invalidate(ctx context.Context, reason string) {
	s.invalidate(ctx, 0, false, reason)
}

func (s *Store) invalidateGeneration(ctx context.Context, generation uint64, reason string) {
	s.invalidate(ctx, generation, true, reason)
}

func (s *Store) invalidate(ctx context.Context, generation uint64, checkGeneration bool, reason string) {
	s.mu.Lock()
	if s.cred == nil || (checkGeneration && s.generation != generation) {
		s.mu.Unlock()
		return
	}
	subject := s.cred.Subject
	s.cred = nil
	s.generation++
	s.invalidReason = reason
	s.mu.Unlock()
	s.notify()

	s.logger.Warn().Str("subject", subject).Str("reason", reason).Msg("Session invalidated")

	if err := s.storage.DeleteCredential(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to delete stored credential")
	}

	if err := s.eventService.PublishSync(ctx, interfaces.Event{
		Type:    interfaces.EventSessionInvalidated,
		Payload: reason,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("Session invalidation subscribers reported errors")
	}
}

// Changes is signalled whenever the credential is installed, restored or invalidated
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// expiresIn is used in logs
func expiresIn(cred *models.SessionCredential) time.Duration {
	return time.Until(cred.ExpiresAt).Round(time.Second)
}
