package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

const credentialKey = "session"

// CredentialStorage implements CredentialStorage for Badger.
// Only one session is stored at a time.
type CredentialStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCredentialStorage creates a new CredentialStorage instance
func NewCredentialStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CredentialStorage {
	return &CredentialStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CredentialStorage) SaveCredential(ctx context.Context, cred *models.SessionCredential) error {
	cred.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(credentialKey, cred); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (s *CredentialStorage) LoadCredential(ctx context.Context) (*models.SessionCredential, error) {
	var cred models.SessionCredential
	err := s.db.Store().Get(credentialKey, &cred)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return &cred, nil
}

func (s *CredentialStorage) DeleteCredential(ctx context.Context) error {
	err := s.db.Store().Delete(credentialKey, &models.SessionCredential{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
