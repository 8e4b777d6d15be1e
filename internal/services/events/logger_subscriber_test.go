package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
)

func TestNewLoggerSubscriber(t *testing.T) {
	subscriber := NewLoggerSubscriber(arbor.NewLogger())
	ctx := context.Background()

	events := []interfaces.Event{
		{Type: interfaces.EventJobUpdated, Payload: &models.JobDescriptor{ResourceID: "doc-1", Status: models.JobStatusFailed, Reason: models.ReasonTimeout}},
		{Type: interfaces.EventSessionRenewed, Payload: models.SessionInfo{Subject: "alice", Valid: true, ExpiresAt: time.Now()}},
		{Type: interfaces.EventSessionInvalidated, Payload: "signed out"},
		{Type: interfaces.EventJobUpdated, Payload: nil},
	}
	for _, event := range events {
		assert.NoError(t, subscriber(ctx, event))
	}
}

func TestSubscribeLoggerToAllEvents(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	unsubscribe, err := SubscribeLoggerToAllEvents(service, arbor.NewLogger())
	require.NoError(t, err)

	for _, eventType := range []interfaces.EventType{
		interfaces.EventJobUpdated,
		interfaces.EventSessionInvalidated,
		interfaces.EventSessionRenewed,
	} {
		assert.Len(t, service.handlers(eventType), 1, eventType)
	}

	unsubscribe()
	assert.Empty(t, service.handlers(interfaces.EventJobUpdated))
}
