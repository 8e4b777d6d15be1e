package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventJobUpdated is published after every Registry write. Payload: *models.JobDescriptor
	EventJobUpdated EventType = "job_updated"

	// EventSessionInvalidated is published once when the session is torn down. Payload: string reason
	EventSessionInvalidated EventType = "session_invalidated"

	// EventSessionRenewed is published after a successful refresh. Payload: models.SessionInfo
	EventSessionRenewed EventType = "session_renewed"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe registers handler and returns a function that removes it
	Subscribe(eventType EventType, handler EventHandler) (func(), error)

	// Publish delivers the event to all subscribers on a separate goroutine
	Publish(ctx context.Context, event Event) error

	// PublishSync delivers the event to all subscribers in subscription order
	// on the calling goroutine
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
