package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/models"
	"github.com/ternarybob/flashdeck/internal/services/events"
	"github.com/ternarybob/flashdeck/internal/services/session"
	badgerstore "github.com/ternarybob/flashdeck/internal/storage/badger"
)

func signIn(t *testing.T, store *session.Store, subject string) {
	t.Helper()
	require.NoError(t, store.Install(context.Background(), &models.SessionCredential{
		Subject:      subject,
		AccessToken:  "access-" + subject,
		RefreshToken: "refresh-" + subject,
		ExpiresAt:    time.Now().Add(time.Hour),
	}))
}

func TestSignInAsAnotherUser_ExpiresPreviousJobs(t *testing.T) {
	logger := arbor.NewLogger()
	manager, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: badgerstore.InMemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	eventService := events.NewService(logger)
	store := session.NewStore(manager.CredentialStorage(), eventService, logger)
	backend := newFakeBackend()
	config := testConfig()

	orch := NewOrchestrator(manager.JobRegistry(), backend, store, eventService, config, logger)
	require.NoError(t, orch.Start())
	t.Cleanup(orch.Stop)

	ctx := context.Background()
	signIn(t, store, "alice")
	handle, err := orch.StartJob(ctx, "doc-1", models.JobOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return backend.polls("job-doc-1") > 0
	}, 2*time.Second, 5*time.Millisecond)

	signIn(t, store, "bob")

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	final, err := handle.Wait(waitCtx, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", final.Owner)
	assert.Equal(t, models.JobStatusCancelled, final.Status)
	assert.Equal(t, models.ReasonSessionExpired, final.Reason)

	polls := backend.polls("job-doc-1")
	time.Sleep(5 * config.PollInterval)
	assert.Equal(t, polls, backend.polls("job-doc-1"))

	live, err := orch.LiveJobs(ctx)
	require.NoError(t, err)
	assert.Zero(t, live)

	// bob starts clean and alice's entry is not his
	_, err = orch.GetLastKnownState(ctx, "doc-1")
	assert.Error(t, err)
	_, err = orch.StartJob(ctx, "doc-1", models.JobOptions{})
	require.NoError(t, err)
}
