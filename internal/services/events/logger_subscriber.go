package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
)

// NewLoggerSubscriber creates an event handler that logs every event with
// the fields of its payload
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		switch payload := event.Payload.(type) {
		case *models.JobDescriptor:
			logEvent = logEvent.
				Str("resource_id", payload.ResourceID).
				Str("status", string(payload.Status)).
				Int("attempts", payload.Attempts)
			if payload.Reason != models.ReasonNone {
				logEvent = logEvent.Str("reason", string(payload.Reason))
			}
		case models.SessionInfo:
			logEvent = logEvent.
				Str("subject", payload.Subject).
				Str("expires_at", payload.ExpiresAt.Format("15:04:05"))
		case string:
			logEvent = logEvent.Str("reason", payload)
		}

		logEvent.Msg("Event published")
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types.
// The returned function removes every subscription.
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) (func(), error) {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventJobUpdated,
		interfaces.EventSessionInvalidated,
		interfaces.EventSessionRenewed,
	}

	unsubscribers := make([]func(), 0, len(eventTypes))
	unsubscribeAll := func() {
		for _, unsubscribe := range unsubscribers {
			unsubscribe()
		}
	}

	for _, eventType := range eventTypes {
		unsubscribe, err := eventService.Subscribe(eventType, subscriber)
		if err != nil {
			unsubscribeAll()
			return nil, fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
		unsubscribers = append(unsubscribers, unsubscribe)
	}

	logger.Debug().
		Int("event_type_count", len(eventTypes)).
		Msg("Logger subscribed to all event types")

	return unsubscribeAll, nil
}
