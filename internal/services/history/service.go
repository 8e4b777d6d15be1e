// -----------------------------------------------------------------------
// Action History - records every finished generation job per user
// -----------------------------------------------------------------------

package history

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
)

// Service listens for terminal job updates and keeps a capped history
type Service struct {
	storage     interfaces.HistoryStorage
	events      interfaces.EventService
	maxEntries  int
	logger      arbor.ILogger
	unsubscribe func()
}

// NewService creates a history service from the [history] section
func NewService(storage interfaces.HistoryStorage, eventService interfaces.EventService, config common.HistoryConfig, logger arbor.ILogger) *Service {
	return &Service{
		storage:    storage,
		events:     eventService,
		maxEntries: config.MaxEntries,
		logger:     logger,
	}
}

// Start subscribes to job updates
func (s *Service) Start() error {
	unsubscribe, err := s.events.Subscribe(interfaces.EventJobUpdated, s.handleJobUpdated)
	if err != nil {
		return fmt.Errorf("failed to subscribe to job updates: %w", err)
	}
	s.unsubscribe = unsubscribe
	return nil
}

// Stop removes the subscription
func (s *Service) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *Service) handleJobUpdated(ctx context.Context, event interfaces.Event) error {
	desc, ok := event.Payload.(*models.JobDescriptor)
	if !ok || !desc.IsTerminal() {
		return nil
	}
	if err := s.Record(ctx, desc); err != nil {
		s.logger.Warn().Err(err).Str("resource_id", desc.ResourceID).Msg("Failed to record job history")
		return err
	}
	return nil
}

// Record appends the history entry for a finished job
func (s *Service) Record(ctx context.Context, desc *models.JobDescriptor) error {
	entry := EntryFor(desc)
	if entry == nil {
		return fmt.Errorf("job %s is not finished", desc.ResourceID)
	}
	if err := s.storage.Append(ctx, entry, s.maxEntries); err != nil {
		return err
	}
	s.logger.Debug().
		Str("owner", entry.Owner).
		Str("action", entry.Action).
		Str("resource_id", entry.ResourceID).
		Msg("History entry recorded")
	return nil
}

// List returns the owner's newest entries first
func (s *Service) List(ctx context.Context, owner string, limit int) ([]*models.ActionHistoryEntry, error) {
	return s.storage.List(ctx, owner, limit)
}

// Clear removes every entry of owner
func (s *Service) Clear(ctx context.Context, owner string) error {
	return s.storage.Clear(ctx, owner)
}

// EntryFor builds the history entry for a terminal descriptor, nil otherwise
func EntryFor(desc *models.JobDescriptor) *models.ActionHistoryEntry {
	name := desc.Options.Filename
	if name == "" {
		name = desc.ResourceID
	}

	entry := &models.ActionHistoryEntry{
		Owner:      desc.Owner,
		ResourceID: desc.ResourceID,
		Filename:   desc.Options.Filename,
		DeckName:   desc.Options.DeckName,
		Timestamp:  desc.UpdatedAt,
	}

	switch desc.Status {
	case models.JobStatusCompleted:
		entry.Action = models.ActionGenerateFlashcards
		entry.Details = fmt.Sprintf("Generated flashcards from %s", name)
	case models.JobStatusFailed:
		entry.Action = models.ActionGenerationFailed
		reason := desc.FailureReason
		if reason == "" {
			reason = string(desc.Reason)
		}
		entry.Details = fmt.Sprintf("Generation from %s failed: %s", name, reason)
	case models.JobStatusCancelled:
		entry.Action = models.ActionGenerationCancelled
		entry.Details = fmt.Sprintf("Generation from %s cancelled (%s)", name, desc.Reason)
	default:
		return nil
	}
	return entry
}
