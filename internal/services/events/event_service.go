package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/interfaces"
)

type subscription struct {
	id      uint64
	handler interfaces.EventHandler
}

// Service implements EventService interface with pub/sub pattern.
// Handlers for one event type run in the order they subscribed.
type Service struct {
	subscribers map[interfaces.EventType][]subscription
	nextID      uint64
	closed      bool
	mu          sync.RWMutex
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		subscribers: make(map[interfaces.EventType][]subscription),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type. The returned function
// removes it and is safe to call more than once.
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("event service closed")
	}

	s.nextID++
	id := s.nextID
	s.subscribers[eventType] = append(s.subscribers[eventType], subscription{id: id, handler: handler})

	s.logger.Trace().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(eventType, id) })
	}, nil
}

func (s *Service) unsubscribe(eventType interfaces.EventType, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[eventType]
	for i, sub := range subs {
		if sub.id == id {
			// copy so a publish iterating the old slice is unaffected
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			s.subscribers[eventType] = next
			return
		}
	}
}

func (s *Service) handlers(eventType interfaces.EventType) []subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribers[eventType]
}

// Publish sends an event to all subscribers on a background goroutine.
// Order between handlers is preserved; the caller does not wait.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	subs := s.handlers(event.Type)
	if len(subs) == 0 {
		return nil
	}

	common.SafeGo(s.logger, "publish:"+string(event.Type), func() {
		s.dispatch(ctx, event, subs)
	})
	return nil
}

// PublishSync calls every subscriber in order on the calling goroutine.
// A failing or panicking handler does not stop the remaining handlers.
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	subs := s.handlers(event.Type)
	if len(subs) == 0 {
		return nil
	}
	return s.dispatch(ctx, event, subs)
}

func (s *Service) dispatch(ctx context.Context, event interfaces.Event, subs []subscription) error {
	var errs []error
	for _, sub := range subs {
		if err := s.invoke(ctx, event, sub.handler); err != nil {
			s.logger.Error().
				Err(err).
				Str("event_type", string(event.Type)).
				Msg("Event handler failed")
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("event handlers failed: %w", errors.Join(errs...))
	}
	return nil
}

func (s *Service) invoke(ctx context.Context, event interfaces.Event, handler interfaces.EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

// Close drops all subscribers; later Subscribe calls fail
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = make(map[interfaces.EventType][]subscription)
	s.closed = true
	s.logger.Debug().Msg("Event service closed")

	return nil
}
