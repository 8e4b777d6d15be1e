package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	manager := NewManagerWithClient(client, "test", arbor.NewLogger())
	t.Cleanup(func() { manager.Close() })
	return manager, server
}

func TestNewManager_ConnectsByURL(t *testing.T) {
	server := miniredis.RunT(t)
	manager, err := NewManager(context.Background(), arbor.NewLogger(), &common.RedisConfig{
		URL:       fmt.Sprintf("redis://%s/0", server.Addr()),
		KeyPrefix: "flashdeck",
	})
	require.NoError(t, err)
	assert.NoError(t, manager.Close())
}

func TestNewManager_BadURL(t *testing.T) {
	_, err := NewManager(context.Background(), arbor.NewLogger(), &common.RedisConfig{URL: "not-a-url"})
	assert.Error(t, err)
}

func TestRegistryStorage_Lifecycle(t *testing.T) {
	manager, server := newTestManager(t)
	registry := manager.JobRegistry()
	ctx := context.Background()

	desc := &models.JobDescriptor{
		Owner:       "alice",
		ResourceID:  "doc-1",
		ServerJobID: "srv-1",
		Status:      models.JobStatusQueued,
		SubmittedAt: time.Now(),
	}
	require.NoError(t, registry.Create(ctx, desc))
	assert.True(t, server.Exists("test:registry:alice"))

	err := registry.Create(ctx, desc.Clone())
	assert.ErrorIs(t, err, interfaces.ErrAlreadyInFlight)

	desc.Status = models.JobStatusCompleted
	desc.ResultRef = "deck-1"
	require.NoError(t, registry.Save(ctx, desc))

	got, err := registry.Get(ctx, desc.Key())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, "deck-1", got.ResultRef)

	active, err := registry.ListActive(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, active)

	// terminal entries are replaced by a new submission
	next := &models.JobDescriptor{Owner: "alice", ResourceID: "doc-1", ServerJobID: "srv-2", Status: models.JobStatusQueued}
	require.NoError(t, registry.Create(ctx, next))

	require.NoError(t, registry.Delete(ctx, desc.Key()))
	_, err = registry.Get(ctx, desc.Key())
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRegistryStorage_ListSortedNewestFirst(t *testing.T) {
	manager, _ := newTestManager(t)
	registry := manager.JobRegistry()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, registry.Create(ctx, &models.JobDescriptor{
			Owner:       "alice",
			ResourceID:  fmt.Sprintf("doc-%d", i),
			Status:      models.JobStatusQueued,
			SubmittedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := registry.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "doc-2", all[0].ResourceID)
	assert.Equal(t, "doc-0", all[2].ResourceID)

	other, err := registry.List(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestHistoryStorage_CappedNewestFirst(t *testing.T) {
	manager, _ := newTestManager(t)
	history := manager.HistoryStorage()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, history.Append(ctx, &models.ActionHistoryEntry{
			Owner:      "alice",
			Action:     models.ActionGenerateFlashcards,
			ResourceID: fmt.Sprintf("doc-%d", i),
		}, 2))
	}

	entries, err := history.List(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "doc-3", entries[0].ResourceID)
	assert.Equal(t, "doc-2", entries[1].ResourceID)

	require.NoError(t, history.Clear(ctx, "alice"))
	entries, err = history.List(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCredentialStorage_RoundTrip(t *testing.T) {
	manager, _ := newTestManager(t)
	creds := manager.CredentialStorage()
	ctx := context.Background()

	_, err := creds.LoadCredential(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, creds.SaveCredential(ctx, &models.SessionCredential{Subject: "alice", RefreshToken: "r"}))
	got, err := creds.LoadCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Subject)

	require.NoError(t, creds.DeleteCredential(ctx))
	_, err = creds.LoadCredential(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}
