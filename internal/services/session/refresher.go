package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/interfaces"
)

// Refresher renews the access credential shortly before it expires.
// After a successful renewal it sleeps until ExpiresAt - margin. A transient
// failure is retried once straight away; a second consecutive failure, or an
// explicit rejection of the refresh token, invalidates the session.
type Refresher struct {
	store     *Store
	client    interfaces.CredentialRefresher
	margin    time.Duration
	minDelay  time.Duration
	logger    arbor.ILogger
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewRefresher creates a refresher for store
func NewRefresher(store *Store, client interfaces.CredentialRefresher, config common.SessionConfig, logger arbor.ILogger) *Refresher {
	return &Refresher{
		store:    store,
		client:   client,
		margin:   common.ParseDurationOr(config.RefreshMargin, time.Minute),
		minDelay: common.ParseDurationOr(config.MinRefreshDelay, 5*time.Second),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the refresh loop
func (r *Refresher) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		r.cancel = cancel
		common.SafeGo(r.logger, "session-refresher", func() {
			defer close(r.done)
			r.run(loopCtx)
		})
		r.logger.Debug().Msg("Session refresher started")
	})
}

// Stop halts the loop and waits for it to exit
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel == nil {
			return
		}
		r.cancel()
		<-r.done
		r.logger.Debug().Msg("Session refresher stopped")
	})
}

func (r *Refresher) run(ctx context.Context) {
	renewed := false
	for {
		cred, generation, ok := r.store.snapshot()

		var wake <-chan time.Time
		var timer *time.Timer
		if ok {
			delay := time.Until(cred.ExpiresAt) - r.margin
			if renewed && delay < r.minDelay {
				delay = r.minDelay
			}
			if delay < 0 {
				delay = 0
			}
			r.logger.Debug().
				Str("subject", cred.Subject).
				Str("expires_in", expiresIn(cred).String()).
				Str("next_refresh", delay.Round(time.Millisecond).String()).
				Msg("Scheduling session refresh")
			timer = time.NewTimer(delay)
			wake = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-r.store.Changes():
			stopTimer(timer)
			renewed = false
			continue
		case <-wake:
		}

		renewed = r.refresh(ctx, generation, cred.RefreshToken)
	}
}

// refresh returns true when a new credential was stored
func (r *Refresher) refresh(ctx context.Context, generation uint64, refreshToken string) bool {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		renewed, err := r.client.RefreshCredential(ctx, refreshToken)
		if ctx.Err() != nil {
			return false
		}
		if err == nil {
			if r.store.update(ctx, generation, renewed) {
				r.logger.Info().
					Str("expires_in", expiresIn(renewed).String()).
					Msg("Session credential renewed")
				return true
			}
			return false
		}

		if errors.Is(err, interfaces.ErrCredentialRejected) {
			r.logger.Warn().Err(err).Msg("Refresh token rejected by server")
			r.store.invalidateGeneration(ctx, generation, "refresh token rejected")
			return false
		}

		lastErr = err
		r.logger.Warn().Err(err).Int("attempt", attempt).Msg("Session refresh failed")
	}

	r.logger.Error().Err(lastErr).Msg("Session refresh failed twice, signing out")
	r.store.invalidateGeneration(ctx, generation, "token refresh failed")
	return false
}

func stopTimer(timer *time.Timer) {
	if timer != nil {
		timer.Stop()
	}
}
