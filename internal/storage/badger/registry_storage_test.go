package badger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()
	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func queued(owner, resourceID string) *models.JobDescriptor {
	return &models.JobDescriptor{
		Owner:       owner,
		ResourceID:  resourceID,
		ServerJobID: "srv-" + resourceID,
		Status:      models.JobStatusQueued,
		SubmittedAt: time.Now(),
	}
}

func TestRegistryStorage_CreateAndGet(t *testing.T) {
	registry := NewRegistryStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, registry.Create(ctx, queued("alice", "doc-1")))

	got, err := registry.Get(ctx, models.RegistryKey{Owner: "alice", ResourceID: "doc-1"})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, "srv-doc-1", got.ServerJobID)
	assert.False(t, got.UpdatedAt.IsZero())

	_, err = registry.Get(ctx, models.RegistryKey{Owner: "bob", ResourceID: "doc-1"})
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRegistryStorage_CreateRejectsInFlight(t *testing.T) {
	registry := NewRegistryStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, registry.Create(ctx, queued("alice", "doc-1")))
	err := registry.Create(ctx, queued("alice", "doc-1"))
	assert.ErrorIs(t, err, interfaces.ErrAlreadyInFlight)

	// a different owner has its own namespace
	assert.NoError(t, registry.Create(ctx, queued("bob", "doc-1")))
}

func TestRegistryStorage_CreateReplacesTerminal(t *testing.T) {
	registry := NewRegistryStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	desc := queued("alice", "doc-1")
	require.NoError(t, registry.Create(ctx, desc))

	desc.Status = models.JobStatusFailed
	desc.Reason = models.ReasonTimeout
	desc.FailureReason = "gave up"
	require.NoError(t, registry.Save(ctx, desc))

	replacement := queued("alice", "doc-1")
	replacement.ServerJobID = "srv-second"
	require.NoError(t, registry.Create(ctx, replacement))

	got, err := registry.Get(ctx, desc.Key())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, "srv-second", got.ServerJobID)
	assert.Empty(t, got.FailureReason)
}

func TestRegistryStorage_ConcurrentCreateSingleWinner(t *testing.T) {
	registry := NewRegistryStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	const contenders = 8
	var wg sync.WaitGroup
	errs := make(chan error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- registry.Create(ctx, queued("alice", "doc-1"))
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestRegistryStorage_SaveValidates(t *testing.T) {
	registry := NewRegistryStorage(newTestDB(t), arbor.NewLogger())

	desc := queued("alice", "doc-1")
	desc.ResultRef = "deck-1" // only allowed once completed
	assert.Error(t, registry.Save(context.Background(), desc))
}

func TestRegistryStorage_ListAndListActive(t *testing.T) {
	registry := NewRegistryStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"doc-1", "doc-2", "doc-3"} {
		desc := queued("alice", id)
		desc.SubmittedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, registry.Create(ctx, desc))
	}
	require.NoError(t, registry.Create(ctx, queued("bob", "doc-9")))

	done, err := registry.Get(ctx, models.RegistryKey{Owner: "alice", ResourceID: "doc-2"})
	require.NoError(t, err)
	done.Status = models.JobStatusCompleted
	done.ResultRef = "deck-2"
	require.NoError(t, registry.Save(ctx, done))

	all, err := registry.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "doc-3", all[0].ResourceID)
	assert.Equal(t, "doc-1", all[2].ResourceID)

	active, err := registry.ListActive(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, desc := range active {
		assert.NotEqual(t, "doc-2", desc.ResourceID)
	}
}

func TestRegistryStorage_ListActiveFiltersByStatusAndOwner(t *testing.T) {
	registry := NewRegistryStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	statuses := map[string]models.JobStatus{
		"doc-q": models.JobStatusQueued,
		"doc-p": models.JobStatusProcessing,
		"doc-f": models.JobStatusFailed,
		"doc-x": models.JobStatusCancelled,
	}
	order := []string{"doc-p", "doc-f", "doc-q", "doc-x"}
	for i, id := range order {
		desc := queued("alice", id)
		desc.SubmittedAt = base.Add(time.Duration(i) * time.Minute)
		desc.Status = statuses[id]
		require.NoError(t, registry.Save(ctx, desc))
	}
	bob := queued("bob", "doc-q")
	bob.Status = models.JobStatusProcessing
	require.NoError(t, registry.Save(ctx, bob))

	active, err := registry.ListActive(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "doc-p", active[0].ResourceID)
	assert.Equal(t, "doc-q", active[1].ResourceID)
	for _, desc := range active {
		assert.Equal(t, "alice", desc.Owner)
	}

	none, err := registry.ListActive(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRegistryStorage_Delete(t *testing.T) {
	registry := NewRegistryStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	desc := queued("alice", "doc-1")
	require.NoError(t, registry.Create(ctx, desc))
	require.NoError(t, registry.Delete(ctx, desc.Key()))

	_, err := registry.Get(ctx, desc.Key())
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	// deleting again is not an error
	assert.NoError(t, registry.Delete(ctx, desc.Key()))
}

func TestRegistryStorage_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{Path: dir})
	require.NoError(t, err)
	desc := queued("alice", "doc-1")
	desc.Attempts = 4
	require.NoError(t, NewRegistryStorage(db, arbor.NewLogger()).Create(ctx, desc))
	require.NoError(t, db.Close())

	db, err = NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer db.Close()

	got, err := NewRegistryStorage(db, arbor.NewLogger()).Get(ctx, desc.Key())
	require.NoError(t, err)
	assert.Equal(t, 4, got.Attempts)
	assert.Equal(t, models.JobStatusQueued, got.Status)
}
