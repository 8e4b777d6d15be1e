// -----------------------------------------------------------------------
// Job Orchestrator - owns every job controller and the event loop they run on
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
)

const inboxSize = 256

// SessionReader is the read-only view of the session the orchestrator needs
type SessionReader interface {
	Credential() (*models.SessionCredential, error)
	Subject() string
}

// Config holds the polling and cancellation settings
type Config struct {
	PollInterval   time.Duration
	MaxAttempts    int
	CancelGrace    time.Duration
	RequestTimeout time.Duration
}

// ConfigFrom converts the [jobs] section, falling back to defaults for bad values
func ConfigFrom(c common.JobsConfig) Config {
	cfg := Config{
		PollInterval:   common.ParseDurationOr(c.PollInterval, 2*time.Second),
		MaxAttempts:    c.MaxAttempts,
		CancelGrace:    common.ParseDurationOr(c.CancelGrace, 2*time.Second),
		RequestTimeout: common.ParseDurationOr(c.RequestTimeout, 15*time.Second),
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 150
	}
	return cfg
}

// Orchestrator runs every job state transition on a single goroutine.
// Network calls run on their own goroutines and post their results back to
// the loop, so controllers never need locks.
type Orchestrator struct {
	registry interfaces.JobRegistry
	backend  interfaces.JobBackend
	session  SessionReader
	events   interfaces.EventService
	config   Config
	logger   arbor.ILogger
	validate *validator.Validate
	now      func() time.Time

	inbox       chan func()
	quit        chan struct{}
	done        chan struct{}
	startOnce   sync.Once
	stopOnce    sync.Once
	started     atomic.Bool
	unsubscribe func()

	// owned by the loop goroutine
	controllers map[models.RegistryKey]*controller
}

// NewOrchestrator creates an orchestrator. Call Start before using it.
func NewOrchestrator(
	registry interfaces.JobRegistry,
	backend interfaces.JobBackend,
	session SessionReader,
	eventService interfaces.EventService,
	config Config,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		registry:    registry,
		backend:     backend,
		session:     session,
		events:      eventService,
		config:      config,
		logger:      logger,
		validate:    validator.New(),
		now:         time.Now,
		inbox:       make(chan func(), inboxSize),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		controllers: make(map[models.RegistryKey]*controller),
	}
}

// Start launches the event loop and listens for session invalidation
func (o *Orchestrator) Start() error {
	var err error
	o.startOnce.Do(func() {
		o.unsubscribe, err = o.events.Subscribe(interfaces.EventSessionInvalidated, func(ctx context.Context, event interfaces.Event) error {
			reason, _ := event.Payload.(string)
			o.post(func() { o.expireAll(reason) })
			return nil
		})
		if err != nil {
			return
		}
		o.started.Store(true)
		common.SafeGo(o.logger, "job-orchestrator", o.run)
		o.logger.Debug().
			Str("poll_interval", o.config.PollInterval.String()).
			Int("max_attempts", o.config.MaxAttempts).
			Msg("Job orchestrator started")
	})
	return err
}

// Stop halts the loop. Live jobs keep their last persisted state and are
// picked up by Recover on the next start.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		if o.unsubscribe != nil {
			o.unsubscribe()
		}
		close(o.quit)
		if !o.started.Load() {
			return
		}
		select {
		case <-o.done:
		case <-time.After(5 * time.Second):
			o.logger.Warn().Msg("Job orchestrator loop did not exit in time")
		}
	})
}

func (o *Orchestrator) run() {
	defer close(o.done)
	for {
		select {
		case fn := <-o.inbox:
			o.exec(fn)
		case <-o.quit:
			for _, c := range o.controllers {
				c.stop()
			}
			o.logger.Debug().Int("live_jobs", len(o.controllers)).Msg("Job orchestrator stopped")
			return
		}
	}
}

// exec runs fn with panic recovery so one bad transition cannot stop the loop
func (o *Orchestrator) exec(fn func()) {
	defer common.RecoverPanic(o.logger, "job-orchestrator")
	fn()
}

// post queues fn for the loop. Returns false once stopped.
func (o *Orchestrator) post(fn func()) bool {
	select {
	case <-o.quit:
		return false
	default:
	}
	select {
	case o.inbox <- fn:
		return true
	case <-o.quit:
		return false
	}
}

// call runs fn on the loop and waits for it to finish
func (o *Orchestrator) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !o.post(func() {
		defer close(done)
		fn()
	}) {
		return interfaces.ErrShuttingDown
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.quit:
		return interfaces.ErrShuttingDown
	}
}

func (o *Orchestrator) owner() (string, error) {
	if _, err := o.session.Credential(); err != nil {
		return "", err
	}
	return o.session.Subject(), nil
}

// StartJob submits resourceID for generation. It returns once the server has
// accepted the job and a Queued descriptor is persisted; polling continues in
// the background.
func (o *Orchestrator) StartJob(ctx context.Context, resourceID string, options models.JobOptions) (*JobHandle, error) {
	if resourceID == "" {
		return nil, fmt.Errorf("resource id is required")
	}
	if err := o.validate.Struct(options); err != nil {
		return nil, fmt.Errorf("invalid job options: %v: %w", err, interfaces.ErrSubmissionRejected)
	}
	owner, err := o.owner()
	if err != nil {
		return nil, err
	}
	key := models.RegistryKey{Owner: owner, ResourceID: resourceID}

	reply := make(chan submitResult, 1)
	var beginErr error
	if err := o.call(ctx, func() {
		beginErr = o.beginSubmit(key, options, reply)
	}); err != nil {
		return nil, err
	}
	if beginErr != nil {
		return nil, beginErr
	}

	select {
	case res := <-reply:
		if res.err != nil {
			return nil, res.err
		}
		return &JobHandle{
			ResourceID:   resourceID,
			ServerJobID:  res.desc.ServerJobID,
			Submitted:    res.desc,
			key:          key,
			orchestrator: o,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.quit:
		return nil, interfaces.ErrShuttingDown
	}
}

// CancelJob stops polling and asks the server to cancel. The job becomes
// Cancelled once the server answers or the grace period passes, unless a
// completion arrives first. Cancelling a finished job is a no-op.
func (o *Orchestrator) CancelJob(ctx context.Context, resourceID string) error {
	owner, err := o.owner()
	if err != nil {
		return err
	}
	key := models.RegistryKey{Owner: owner, ResourceID: resourceID}

	var cancelErr error
	if err := o.call(ctx, func() {
		cancelErr = o.requestCancel(key)
	}); err != nil {
		return err
	}
	return cancelErr
}

// GetLastKnownState reads the Registry; it never waits on the network
func (o *Orchestrator) GetLastKnownState(ctx context.Context, resourceID string) (*models.JobDescriptor, error) {
	owner, err := o.owner()
	if err != nil {
		return nil, err
	}
	return o.registry.Get(ctx, models.RegistryKey{Owner: owner, ResourceID: resourceID})
}

// ListJobs returns every Registry entry for the signed-in user
func (o *Orchestrator) ListJobs(ctx context.Context) ([]*models.JobDescriptor, error) {
	owner, err := o.owner()
	if err != nil {
		return nil, err
	}
	return o.registry.List(ctx, owner)
}

// ClearJob removes a terminal entry so the resource shows as never submitted
func (o *Orchestrator) ClearJob(ctx context.Context, resourceID string) error {
	owner, err := o.owner()
	if err != nil {
		return err
	}
	key := models.RegistryKey{Owner: owner, ResourceID: resourceID}

	var clearErr error
	if err := o.call(ctx, func() {
		if _, live := o.controllers[key]; live {
			clearErr = interfaces.ErrNotTerminal
			return
		}
		desc, err := o.registry.Get(ctx, key)
		if err != nil {
			clearErr = err
			return
		}
		if !desc.IsTerminal() {
			clearErr = interfaces.ErrNotTerminal
			return
		}
		clearErr = o.registry.Delete(ctx, key)
	}); err != nil {
		return err
	}
	return clearErr
}

// Subscribe calls fn with every descriptor written for resourceID of the
// signed-in user, in write order, on the orchestrator goroutine. fn must not
// call back into the orchestrator synchronously.
func (o *Orchestrator) Subscribe(resourceID string, fn func(*models.JobDescriptor)) (func(), error) {
	owner, err := o.owner()
	if err != nil {
		return nil, err
	}
	return o.subscribeKey(models.RegistryKey{Owner: owner, ResourceID: resourceID}, fn)
}

func (o *Orchestrator) subscribeKey(key models.RegistryKey, fn func(*models.JobDescriptor)) (func(), error) {
	return o.events.Subscribe(interfaces.EventJobUpdated, func(ctx context.Context, event interfaces.Event) error {
		desc, ok := event.Payload.(*models.JobDescriptor)
		if !ok || desc.Key() != key {
			return nil
		}
		fn(desc.Clone())
		return nil
	})
}

// SubscribeAll calls fn for every descriptor written for the user signed in
// at the time of the call
func (o *Orchestrator) SubscribeAll(fn func(*models.JobDescriptor)) (func(), error) {
	owner, err := o.owner()
	if err != nil {
		return nil, err
	}
	return o.events.Subscribe(interfaces.EventJobUpdated, func(ctx context.Context, event interfaces.Event) error {
		if desc, ok := event.Payload.(*models.JobDescriptor); ok && desc.Owner == owner {
			fn(desc.Clone())
		}
		return nil
	})
}

// LiveJobs returns the number of jobs with an attached controller
func (o *Orchestrator) LiveJobs(ctx context.Context) (int, error) {
	n := 0
	err := o.call(ctx, func() { n = len(o.controllers) })
	return n, err
}

// persist writes desc and then notifies subscribers
func (o *Orchestrator) persist(desc *models.JobDescriptor) {
	if err := o.registry.Save(context.Background(), desc); err != nil {
		o.logger.Error().Err(err).Str("resource_id", desc.ResourceID).Msg("Failed to persist job descriptor")
	}
	o.notify(desc)
}

func (o *Orchestrator) notify(desc *models.JobDescriptor) {
	if err := o.events.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobUpdated,
		Payload: desc.Clone(),
	}); err != nil {
		o.logger.Warn().Err(err).Str("resource_id", desc.ResourceID).Msg("Job subscriber failed")
	}
}

// expireAll cancels every live job after the session was torn down
func (o *Orchestrator) expireAll(reason string) {
	if len(o.controllers) == 0 {
		return
	}
	o.logger.Warn().
		Int("live_jobs", len(o.controllers)).
		Str("reason", reason).
		Msg("Session invalidated, cancelling live jobs")

	for _, c := range o.controllers {
		o.expire(c)
	}
}

func isSessionError(err error) bool {
	return errors.Is(err, interfaces.ErrSessionInvalid)
}
