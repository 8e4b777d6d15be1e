package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/interfaces"
)

func TestService_PublishSyncInOrder(t *testing.T) {
	service := NewService(arbor.NewLogger())
	var order []int

	for i := 1; i <= 3; i++ {
		n := i
		_, err := service.Subscribe(interfaces.EventJobUpdated, func(ctx context.Context, event interfaces.Event) error {
			order = append(order, n)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobUpdated}))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestService_UnsubscribeStopsDelivery(t *testing.T) {
	service := NewService(arbor.NewLogger())
	calls := 0

	unsubscribe, err := service.Subscribe(interfaces.EventJobUpdated, func(ctx context.Context, event interfaces.Event) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobUpdated}))
	unsubscribe()
	unsubscribe()
	require.NoError(t, service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobUpdated}))

	assert.Equal(t, 1, calls)
}

func TestService_FailingHandlerDoesNotBlockOthers(t *testing.T) {
	service := NewService(arbor.NewLogger())
	reached := false

	_, _ = service.Subscribe(interfaces.EventSessionInvalidated, func(ctx context.Context, event interfaces.Event) error {
		return errors.New("boom")
	})
	_, _ = service.Subscribe(interfaces.EventSessionInvalidated, func(ctx context.Context, event interfaces.Event) error {
		panic("handler bug")
	})
	_, _ = service.Subscribe(interfaces.EventSessionInvalidated, func(ctx context.Context, event interfaces.Event) error {
		reached = true
		return nil
	})

	err := service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventSessionInvalidated})
	assert.Error(t, err)
	assert.True(t, reached)
}

func TestService_PublishAsync(t *testing.T) {
	service := NewService(arbor.NewLogger())
	var mu sync.Mutex
	var got []interface{}

	_, _ = service.Subscribe(interfaces.EventSessionRenewed, func(ctx context.Context, event interfaces.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, event.Payload)
		return nil
	})

	require.NoError(t, service.Publish(context.Background(), interfaces.Event{Type: interfaces.EventSessionRenewed, Payload: "x"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestService_Close(t *testing.T) {
	service := NewService(arbor.NewLogger())
	calls := 0
	_, _ = service.Subscribe(interfaces.EventJobUpdated, func(ctx context.Context, event interfaces.Event) error {
		calls++
		return nil
	})

	require.NoError(t, service.Close())
	require.NoError(t, service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobUpdated}))
	assert.Zero(t, calls)

	_, err := service.Subscribe(interfaces.EventJobUpdated, func(ctx context.Context, event interfaces.Event) error { return nil })
	assert.Error(t, err)
}
