package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// maxConflictRetries bounds retries when concurrent creates touch the same key
const maxConflictRetries = 5

// RegistryStorage implements JobRegistry for Badger.
// Entries are stored under models.RegistryKey so owners never collide.
type RegistryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRegistryStorage creates a new RegistryStorage instance
func NewRegistryStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobRegistry {
	return &RegistryStorage{
		db:     db,
		logger: logger,
	}
}

func (s *RegistryStorage) Get(ctx context.Context, key models.RegistryKey) (*models.JobDescriptor, error) {
	var desc models.JobDescriptor
	err := s.db.Store().Get(key, &desc)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job descriptor %s: %w", key, err)
	}
	return &desc, nil
}

// Create checks and writes inside one transaction so two submissions for the
// same key cannot both succeed.
func (s *RegistryStorage) Create(ctx context.Context, desc *models.JobDescriptor) error {
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("invalid job descriptor: %w", err)
	}
	key := desc.Key()
	desc.UpdatedAt = time.Now()

	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.create(key, desc)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err == interfaces.ErrAlreadyInFlight {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to create job descriptor %s: %w", key, err)
	}
	return nil
}

func (s *RegistryStorage) create(key models.RegistryKey, desc *models.JobDescriptor) error {
	store := s.db.Store()
	return store.Badger().Update(func(tx *badger.Txn) error {
		var existing models.JobDescriptor
		err := store.TxGet(tx, key, &existing)
		switch {
		case err == nil:
			if !existing.IsTerminal() {
				return interfaces.ErrAlreadyInFlight
			}
			s.logger.Debug().
				Str("key", key.String()).
				Str("previous_status", string(existing.Status)).
				Msg("Replacing terminal job descriptor")
		case err != badgerhold.ErrNotFound:
			return err
		}
		return store.TxUpsert(tx, key, desc)
	})
}

func (s *RegistryStorage) Save(ctx context.Context, desc *models.JobDescriptor) error {
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("invalid job descriptor: %w", err)
	}
	desc.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(desc.Key(), desc); err != nil {
		return fmt.Errorf("failed to save job descriptor %s: %w", desc.Key(), err)
	}
	return nil
}

func (s *RegistryStorage) Delete(ctx context.Context, key models.RegistryKey) error {
	err := s.db.Store().Delete(key, &models.JobDescriptor{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete job descriptor %s: %w", key, err)
	}
	return nil
}

func (s *RegistryStorage) List(ctx context.Context, owner string) ([]*models.JobDescriptor, error) {
	var descs []models.JobDescriptor
	query := badgerhold.Where("Owner").Eq(owner).SortBy("SubmittedAt").Reverse()
	if err := s.db.Store().Find(&descs, query); err != nil {
		return nil, fmt.Errorf("failed to list job descriptors: %w", err)
	}

	result := make([]*models.JobDescriptor, len(descs))
	for i := range descs {
		result[i] = &descs[i]
	}
	return result, nil
}

func (s *RegistryStorage) ListActive(ctx context.Context, owner string) ([]*models.JobDescriptor, error) {
	var descs []models.JobDescriptor
	query := badgerhold.Where("Owner").Eq(owner).
		And("Status").In(models.JobStatusQueued, models.JobStatusProcessing).
		SortBy("SubmittedAt")
	if err := s.db.Store().Find(&descs, query); err != nil {
		return nil, fmt.Errorf("failed to list active job descriptors: %w", err)
	}

	result := make([]*models.JobDescriptor, len(descs))
	for i := range descs {
		result[i] = &descs[i]
	}
	return result, nil
}
