package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db         *BadgerDB
	registry   interfaces.JobRegistry
	history    interfaces.HistoryStorage
	credential interfaces.CredentialStorage
	logger     arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:         db,
		registry:   NewRegistryStorage(db, logger),
		history:    NewHistoryStorage(db, logger),
		credential: NewCredentialStorage(db, logger),
		logger:     logger,
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// JobRegistry returns the job registry
func (m *Manager) JobRegistry() interfaces.JobRegistry {
	return m.registry
}

// HistoryStorage returns the action history storage
func (m *Manager) HistoryStorage() interfaces.HistoryStorage {
	return m.history
}

// CredentialStorage returns the session credential storage
func (m *Manager) CredentialStorage() interfaces.CredentialStorage {
	return m.credential
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		m.logger.Debug().Msg("Closing Badger storage")
		return m.db.Close()
	}
	return nil
}
