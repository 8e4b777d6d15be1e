package interfaces

import (
	"context"

	"github.com/ternarybob/flashdeck/internal/models"
)

// JobRegistry is the durable resourceId -> JobDescriptor mapping.
// Keys are namespaced by owner; at most one non-terminal descriptor exists per key.
type JobRegistry interface {
	// Get returns ErrNotFound when the key has no entry
	Get(ctx context.Context, key models.RegistryKey) (*models.JobDescriptor, error)

	// Create inserts desc, atomically replacing a terminal entry.
	// Returns ErrAlreadyInFlight when the key holds a non-terminal descriptor.
	Create(ctx context.Context, desc *models.JobDescriptor) error

	// Save overwrites the entry for desc's key
	Save(ctx context.Context, desc *models.JobDescriptor) error

	// Delete removes the entry; missing keys are not an error
	Delete(ctx context.Context, key models.RegistryKey) error

	// List returns every entry owned by owner, most recently submitted first
	List(ctx context.Context, owner string) ([]*models.JobDescriptor, error)

	// ListActive returns the non-terminal entries owned by owner
	ListActive(ctx context.Context, owner string) ([]*models.JobDescriptor, error)
}

// HistoryStorage keeps a capped, newest-first log of finished jobs per owner
type HistoryStorage interface {
	Append(ctx context.Context, entry *models.ActionHistoryEntry, maxEntries int) error
	List(ctx context.Context, owner string, limit int) ([]*models.ActionHistoryEntry, error)
	Clear(ctx context.Context, owner string) error
}

// CredentialStorage persists the single signed-in session across restarts
type CredentialStorage interface {
	SaveCredential(ctx context.Context, cred *models.SessionCredential) error
	// LoadCredential returns ErrNotFound when nothing is stored
	LoadCredential(ctx context.Context) (*models.SessionCredential, error)
	DeleteCredential(ctx context.Context) error
}

// StorageManager bundles the storage backends
type StorageManager interface {
	JobRegistry() JobRegistry
	HistoryStorage() HistoryStorage
	CredentialStorage() CredentialStorage
	Close() error
}
