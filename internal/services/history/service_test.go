package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
	"github.com/ternarybob/flashdeck/internal/services/events"
	badgerstore "github.com/ternarybob/flashdeck/internal/storage/badger"
)

func newService(t *testing.T, maxEntries int) (*Service, *events.Service) {
	t.Helper()
	logger := arbor.NewLogger()
	manager, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: badgerstore.InMemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	eventService := events.NewService(logger)
	service := NewService(manager.HistoryStorage(), eventService, common.HistoryConfig{MaxEntries: maxEntries}, logger)
	require.NoError(t, service.Start())
	t.Cleanup(service.Stop)
	return service, eventService
}

func publish(t *testing.T, eventService *events.Service, desc *models.JobDescriptor) {
	t.Helper()
	require.NoError(t, eventService.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobUpdated,
		Payload: desc,
	}))
}

func TestService_RecordsTerminalJobsOnly(t *testing.T) {
	service, eventService := newService(t, 50)
	now := time.Now()

	publish(t, eventService, &models.JobDescriptor{Owner: "alice", ResourceID: "doc-1", Status: models.JobStatusQueued, UpdatedAt: now})
	publish(t, eventService, &models.JobDescriptor{Owner: "alice", ResourceID: "doc-1", Status: models.JobStatusProcessing, UpdatedAt: now})
	publish(t, eventService, &models.JobDescriptor{
		Owner: "alice", ResourceID: "doc-1", Status: models.JobStatusCompleted, ResultRef: "deck-1",
		UpdatedAt: now.Add(time.Second),
		Options:   models.JobOptions{Filename: "cells.pdf", DeckName: "Cells"},
	})

	entries, err := service.List(context.Background(), "alice", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionGenerateFlashcards, entries[0].Action)
	assert.Equal(t, "Generated flashcards from cells.pdf", entries[0].Details)
	assert.Equal(t, "Cells", entries[0].DeckName)
	assert.NotEmpty(t, entries[0].ID)
}

func TestService_CapsEntriesNewestFirst(t *testing.T) {
	service, eventService := newService(t, 3)
	base := time.Now()

	for i := 0; i < 5; i++ {
		publish(t, eventService, &models.JobDescriptor{
			Owner:      "alice",
			ResourceID: "doc-" + string(rune('a'+i)),
			Status:     models.JobStatusCancelled,
			Reason:     models.ReasonUserCancelled,
			UpdatedAt:  base.Add(time.Duration(i) * time.Second),
		})
	}

	entries, err := service.List(context.Background(), "alice", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "doc-e", entries[0].ResourceID)
	assert.Equal(t, "doc-c", entries[2].ResourceID)

	require.NoError(t, service.Clear(context.Background(), "alice"))
	entries, err = service.List(context.Background(), "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEntryFor(t *testing.T) {
	failed := EntryFor(&models.JobDescriptor{
		Owner: "alice", ResourceID: "doc-1", Status: models.JobStatusFailed,
		Reason: models.ReasonServerFailed, FailureReason: "unreadable pages",
	})
	require.NotNil(t, failed)
	assert.Equal(t, models.ActionGenerationFailed, failed.Action)
	assert.Equal(t, "Generation from doc-1 failed: unreadable pages", failed.Details)

	timedOut := EntryFor(&models.JobDescriptor{ResourceID: "doc-2", Status: models.JobStatusFailed, Reason: models.ReasonTimeout})
	assert.Equal(t, "Generation from doc-2 failed: timeout", timedOut.Details)

	cancelled := EntryFor(&models.JobDescriptor{ResourceID: "doc-3", Status: models.JobStatusCancelled, Reason: models.ReasonSessionExpired})
	assert.Equal(t, models.ActionGenerationCancelled, cancelled.Action)
	assert.Equal(t, "Generation from doc-3 cancelled (session_expired)", cancelled.Details)

	assert.Nil(t, EntryFor(&models.JobDescriptor{ResourceID: "doc-4", Status: models.JobStatusProcessing}))
}
