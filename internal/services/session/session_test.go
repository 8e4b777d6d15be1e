package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
	"github.com/ternarybob/flashdeck/internal/services/events"
	badgerstore "github.com/ternarybob/flashdeck/internal/storage/badger"
)

// MockRefresher is a mock implementation of CredentialRefresher
type MockRefresher struct {
	mock.Mock
}

func (m *MockRefresher) RefreshCredential(ctx context.Context, refreshToken string) (*models.SessionCredential, error) {
	args := m.Called(ctx, refreshToken)
	if cred := args.Get(0); cred != nil {
		return cred.(*models.SessionCredential), args.Error(1)
	}
	return nil, args.Error(1)
}

type fixture struct {
	store       *Store
	storage     interfaces.CredentialStorage
	events      *events.Service
	mu          sync.Mutex
	invalidated []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := arbor.NewLogger()
	manager, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: badgerstore.InMemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	f := &fixture{
		storage: manager.CredentialStorage(),
		events:  events.NewService(logger),
	}
	f.store = NewStore(f.storage, f.events, logger)

	_, err = f.events.Subscribe(interfaces.EventSessionInvalidated, func(ctx context.Context, event interfaces.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.invalidated = append(f.invalidated, event.Payload.(string))
		return nil
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) invalidations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invalidated...)
}

func credential(access string, expiresIn time.Duration) *models.SessionCredential {
	return &models.SessionCredential{
		Subject:      "alice",
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		ExpiresAt:    time.Now().Add(expiresIn),
	}
}

func fastConfig() common.SessionConfig {
	return common.SessionConfig{RefreshMargin: "50ms", MinRefreshDelay: "10ms"}
}

func TestStore_InvalidUntilInstalled(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.Credential()
	assert.ErrorIs(t, err, interfaces.ErrSessionInvalid)
	_, err = f.store.Token()
	assert.ErrorIs(t, err, interfaces.ErrSessionInvalid)
	assert.False(t, f.store.Info().Valid)

	require.NoError(t, f.store.Install(context.Background(), credential("a1", time.Hour)))

	cred, err := f.store.Credential()
	require.NoError(t, err)
	assert.Equal(t, "a1", cred.AccessToken)
	assert.Equal(t, "alice", f.store.Subject())

	token, err := f.store.Token()
	require.NoError(t, err)
	assert.Equal(t, "a1", token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
}

func TestStore_InstallRequiresFields(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.store.Install(context.Background(), &models.SessionCredential{AccessToken: "x"}))
	assert.Error(t, f.store.Install(context.Background(), nil))
}

func TestStore_CredentialIsACopy(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Install(context.Background(), credential("a1", time.Hour)))

	cred, _ := f.store.Credential()
	cred.AccessToken = "tampered"

	again, _ := f.store.Credential()
	assert.Equal(t, "a1", again.AccessToken)
}

func TestStore_InvalidateOnceAndDeletesStored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Install(ctx, credential("a1", time.Hour)))

	f.store.Invalidate(ctx, "signed out")
	f.store.Invalidate(ctx, "signed out again")

	assert.Equal(t, []string{"signed out"}, f.invalidations())
	assert.Equal(t, "signed out", f.store.Info().Invalidated)

	_, err := f.storage.LoadCredential(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestStore_InstallAnotherSubjectInvalidatesFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Install(ctx, credential("a1", time.Hour)))

	// same user signing in again keeps the session alive
	require.NoError(t, f.store.Install(ctx, credential("a2", time.Hour)))
	assert.Empty(t, f.invalidations())

	bob := credential("b1", time.Hour)
	bob.Subject = "bob"
	require.NoError(t, f.store.Install(ctx, bob))

	assert.Equal(t, []string{"signed in as another user"}, f.invalidations())
	assert.Equal(t, "bob", f.store.Subject())

	stored, err := f.storage.LoadCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", stored.Subject)
	assert.Equal(t, "b1", stored.AccessToken)
}

func TestStore_Restore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Restore(ctx))
	assert.False(t, f.store.Info().Valid)

	require.NoError(t, f.storage.SaveCredential(ctx, credential("persisted", time.Hour)))
	require.NoError(t, f.store.Restore(ctx))

	cred, err := f.store.Credential()
	require.NoError(t, err)
	assert.Equal(t, "persisted", cred.AccessToken)
}

func TestRefresher_RenewsBeforeExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Install(ctx, credential("a1", 70*time.Millisecond)))

	client := new(MockRefresher)
	client.On("RefreshCredential", mock.Anything, "refresh-a1").
		Return(&models.SessionCredential{AccessToken: "a2", ExpiresAt: time.Now().Add(time.Hour)}, nil).Once()

	refresher := NewRefresher(f.store, client, fastConfig(), arbor.NewLogger())
	refresher.Start(ctx)
	defer refresher.Stop()

	require.Eventually(t, func() bool {
		cred, err := f.store.Credential()
		return err == nil && cred.AccessToken == "a2"
	}, time.Second, 5*time.Millisecond)

	cred, _ := f.store.Credential()
	assert.Equal(t, "alice", cred.Subject)
	assert.Equal(t, "refresh-a1", cred.RefreshToken, "refresh token kept when server omits it")

	stored, err := f.storage.LoadCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a2", stored.AccessToken)
	client.AssertExpectations(t)
}

func TestRefresher_RetriesOnceThenSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Install(ctx, credential("a1", 0)))

	client := new(MockRefresher)
	client.On("RefreshCredential", mock.Anything, "refresh-a1").Return(nil, errors.New("connection reset")).Once()
	client.On("RefreshCredential", mock.Anything, "refresh-a1").
		Return(&models.SessionCredential{AccessToken: "a2", RefreshToken: "r2", ExpiresAt: time.Now().Add(time.Hour)}, nil).Once()

	refresher := NewRefresher(f.store, client, fastConfig(), arbor.NewLogger())
	refresher.Start(ctx)
	defer refresher.Stop()

	require.Eventually(t, func() bool {
		cred, err := f.store.Credential()
		return err == nil && cred.AccessToken == "a2"
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.invalidations())
}

func TestRefresher_TwoFailuresInvalidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Install(ctx, credential("a1", 0)))

	client := new(MockRefresher)
	client.On("RefreshCredential", mock.Anything, "refresh-a1").Return(nil, fmt.Errorf("backend unavailable")).Twice()

	refresher := NewRefresher(f.store, client, fastConfig(), arbor.NewLogger())
	refresher.Start(ctx)
	defer refresher.Stop()

	require.Eventually(t, func() bool {
		return len(f.invalidations()) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := f.store.Credential()
	assert.ErrorIs(t, err, interfaces.ErrSessionInvalid)
	client.AssertNumberOfCalls(t, "RefreshCredential", 2)
}

func TestRefresher_RejectionInvalidatesWithoutRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Install(ctx, credential("a1", 0)))

	client := new(MockRefresher)
	client.On("RefreshCredential", mock.Anything, "refresh-a1").
		Return(nil, fmt.Errorf("invalid_grant: %w", interfaces.ErrCredentialRejected)).Once()

	refresher := NewRefresher(f.store, client, fastConfig(), arbor.NewLogger())
	refresher.Start(ctx)
	defer refresher.Stop()

	require.Eventually(t, func() bool {
		return len(f.invalidations()) == 1
	}, time.Second, 5*time.Millisecond)

	// give a wrongful retry the chance to happen
	time.Sleep(30 * time.Millisecond)
	client.AssertNumberOfCalls(t, "RefreshCredential", 1)
	assert.Equal(t, "refresh token rejected", f.invalidations()[0])
}

func TestRefresher_IdleWithoutSessionAndPicksUpInstall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	client := new(MockRefresher)
	client.On("RefreshCredential", mock.Anything, "refresh-late").
		Return(&models.SessionCredential{AccessToken: "late2", ExpiresAt: time.Now().Add(time.Hour)}, nil).Once()

	refresher := NewRefresher(f.store, client, fastConfig(), arbor.NewLogger())
	refresher.Start(ctx)
	defer refresher.Stop()

	time.Sleep(20 * time.Millisecond)
	client.AssertNotCalled(t, "RefreshCredential", mock.Anything, mock.Anything)

	require.NoError(t, f.store.Install(ctx, credential("late", 0)))

	require.Eventually(t, func() bool {
		cred, err := f.store.Credential()
		return err == nil && cred.AccessToken == "late2"
	}, time.Second, 5*time.Millisecond)
}
