package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// HistoryStorage implements HistoryStorage for Badger
type HistoryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewHistoryStorage creates a new HistoryStorage instance
func NewHistoryStorage(db *BadgerDB, logger arbor.ILogger) interfaces.HistoryStorage {
	return &HistoryStorage{
		db:     db,
		logger: logger,
	}
}

// Append stores entry and drops the oldest entries beyond maxEntries
func (s *HistoryStorage) Append(ctx context.Context, entry *models.ActionHistoryEntry, maxEntries int) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if err := s.db.Store().Upsert(entry.ID, entry); err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}

	if maxEntries <= 0 {
		return nil
	}

	var overflow []models.ActionHistoryEntry
	query := badgerhold.Where("Owner").Eq(entry.Owner).SortBy("Timestamp").Reverse().Skip(maxEntries)
	if err := s.db.Store().Find(&overflow, query); err != nil {
		return fmt.Errorf("failed to find overflow history entries: %w", err)
	}
	for _, old := range overflow {
		if err := s.db.Store().Delete(old.ID, &models.ActionHistoryEntry{}); err != nil && err != badgerhold.ErrNotFound {
			s.logger.Warn().Err(err).Str("id", old.ID).Msg("Failed to trim history entry")
		}
	}
	return nil
}

// List returns newest entries first; limit <= 0 returns everything
func (s *HistoryStorage) List(ctx context.Context, owner string, limit int) ([]*models.ActionHistoryEntry, error) {
	var entries []models.ActionHistoryEntry
	query := badgerhold.Where("Owner").Eq(owner).SortBy("Timestamp").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	result := make([]*models.ActionHistoryEntry, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

func (s *HistoryStorage) Clear(ctx context.Context, owner string) error {
	if err := s.db.Store().DeleteMatching(&models.ActionHistoryEntry{}, badgerhold.Where("Owner").Eq(owner)); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}
