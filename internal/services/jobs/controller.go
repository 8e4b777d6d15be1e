package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
)

type phase int

const (
	phaseSubmitting phase = iota
	phasePolling
	phaseCancelling
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseSubmitting:
		return "submitting"
	case phasePolling:
		return "polling"
	case phaseCancelling:
		return "cancelling"
	default:
		return "done"
	}
}

type submitResult struct {
	desc *models.JobDescriptor
	err  error
}

// controller drives one resource's job. All fields are owned by the loop.
type controller struct {
	key    models.RegistryKey
	desc   *models.JobDescriptor
	phase  phase
	logger arbor.ILogger

	// generation invalidates timers and in-flight results from an earlier step
	generation uint64
	timer      *time.Timer
	graceTimer *time.Timer

	// cancels in-flight network calls once the controller is done
	ctx    context.Context
	cancel context.CancelFunc

	pollInFlight   bool
	fetching       bool
	cancelPending  bool // cancel asked for while still submitting
	sessionExpired bool // session torn down while still submitting
	recovering     bool
	recovered      chan struct{}
	options        models.JobOptions
	reply          chan<- submitResult
}

func (o *Orchestrator) newController(key models.RegistryKey) *controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &controller{
		key:    key,
		logger: o.logger.WithCorrelationId(key.ResourceID),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *controller) stop() {
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.graceTimer != nil {
		c.graceTimer.Stop()
	}
	c.cancel()
}

// beginSubmit reserves key and sends the create request off the loop
func (o *Orchestrator) beginSubmit(key models.RegistryKey, options models.JobOptions, reply chan<- submitResult) error {
	if _, live := o.controllers[key]; live {
		return interfaces.ErrAlreadyInFlight
	}
	existing, err := o.registry.Get(context.Background(), key)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return fmt.Errorf("failed to read registry: %w", err)
	}
	if existing != nil && !existing.IsTerminal() {
		return interfaces.ErrAlreadyInFlight
	}

	c := o.newController(key)
	c.phase = phaseSubmitting
	c.options = options
	c.reply = reply
	o.controllers[key] = c

	c.logger.Info().Str("owner", key.Owner).Msg("Submitting generation job")

	gen := c.generation
	common.SafeGo(c.logger, "job-submit", func() {
		ctx, cancel := context.WithTimeout(c.ctx, o.config.RequestTimeout)
		defer cancel()
		jobID, err := o.backend.CreateJob(ctx, key.ResourceID, options)
		o.post(func() { o.onSubmitted(c, gen, jobID, err) })
	})
	return nil
}

func (o *Orchestrator) onSubmitted(c *controller, gen uint64, jobID string, err error) {
	if gen != c.generation || c.phase != phaseSubmitting {
		return
	}

	if err == nil && jobID == "" {
		err = fmt.Errorf("backend returned no job id")
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("Job submission failed")
		o.release(c)
		c.reply <- submitResult{err: err}
		return
	}

	now := o.now()
	desc := &models.JobDescriptor{
		Owner:       c.key.Owner,
		ResourceID:  c.key.ResourceID,
		ServerJobID: jobID,
		Status:      models.JobStatusQueued,
		SubmittedAt: now,
		UpdatedAt:   now,
		Options:     c.options,
	}
	if err := o.registry.Create(context.Background(), desc); err != nil {
		c.logger.Error().Err(err).Str("server_job_id", jobID).Msg("Failed to record submitted job")
		o.release(c)
		o.cancelDetached(jobID)
		c.reply <- submitResult{err: err}
		return
	}

	c.desc = desc
	c.phase = phasePolling
	c.logger.Info().Str("server_job_id", jobID).Msg("Job queued")

	o.notify(desc)
	c.reply <- submitResult{desc: desc.Clone()}
	c.reply = nil

	switch {
	case c.sessionExpired:
		o.expire(c)
	case c.cancelPending:
		o.beginCancel(c)
	default:
		o.schedulePoll(c)
	}
}

// release drops the controller without touching the Registry
func (o *Orchestrator) release(c *controller) {
	c.phase = phaseDone
	c.stop()
	if o.controllers[c.key] == c {
		delete(o.controllers, c.key)
	}
	o.markRecovered(c)
}

func (o *Orchestrator) schedulePoll(c *controller) {
	gen := c.generation
	c.timer = time.AfterFunc(o.config.PollInterval, func() {
		o.post(func() { o.onTick(c, gen) })
	})
}

func (o *Orchestrator) onTick(c *controller, gen uint64) {
	if gen != c.generation || c.phase != phasePolling || c.pollInFlight {
		return
	}
	cred, err := o.session.Credential()
	if err != nil || cred.Subject != c.key.Owner {
		// never poll one user's job with another user's token
		o.expire(c)
		return
	}
	o.poll(c)
}

// poll queries the server once; the result is applied by onPollResult
func (o *Orchestrator) poll(c *controller) {
	c.pollInFlight = true
	gen := c.generation
	jobID := c.desc.ServerJobID
	common.SafeGo(c.logger, "job-poll", func() {
		ctx, cancel := context.WithTimeout(c.ctx, o.config.RequestTimeout)
		defer cancel()
		status, err := o.backend.GetJobStatus(ctx, jobID)
		o.post(func() { o.onPollResult(c, gen, status, err) })
	})
}

func (o *Orchestrator) onPollResult(c *controller, gen uint64, status *models.ServerJobStatus, err error) {
	if gen != c.generation {
		return
	}
	c.pollInFlight = false
	defer func() {
		// a pending result fetch signals from onResult
		if !c.fetching {
			o.markRecovered(c)
		}
	}()

	switch c.phase {
	case phaseCancelling:
		// only a completion can beat an in-flight cancel
		if err == nil && status.Status == models.JobStatusCompleted {
			c.logger.Info().Msg("Job completed before cancel landed")
			o.complete(c, status.ResultRef)
		}
		return
	case phasePolling:
	default:
		return
	}

	c.desc.Attempts++
	c.desc.LastPolledAt = o.now()

	if err != nil {
		o.onPollError(c, err)
		return
	}

	c.logger.Debug().
		Str("raw_status", status.RawStatus).
		Str("status", string(status.Status)).
		Int("attempt", c.desc.Attempts).
		Msg("Polled job status")

	switch status.Status {
	case models.JobStatusCompleted:
		o.complete(c, status.ResultRef)
		return
	case models.JobStatusFailed:
		reason := status.FailureReason
		if reason == "" {
			reason = "generation failed"
		}
		o.finish(c, models.JobStatusFailed, models.ReasonServerFailed, reason)
		return
	case models.JobStatusCancelled:
		o.finish(c, models.JobStatusCancelled, models.ReasonServerCancelled, "")
		return
	}

	if models.CanTransition(c.desc.Status, status.Status) && status.Status != c.desc.Status {
		c.logger.Info().Str("status", string(status.Status)).Msg("Job status changed")
		c.desc.Status = status.Status
	}
	o.continuePolling(c)
}

func (o *Orchestrator) onPollError(c *controller, err error) {
	switch {
	case isSessionError(err) && !o.sessionValid(c):
		o.expire(c)
	case errors.Is(err, interfaces.ErrJobNotFound) && c.recovering:
		o.finish(c, models.JobStatusFailed, models.ReasonOrphaned, "job no longer known to the server")
	case errors.Is(err, interfaces.ErrJobNotFound), errors.Is(err, interfaces.ErrRequestRejected):
		o.finish(c, models.JobStatusFailed, models.ReasonRejected, err.Error())
	default:
		c.logger.Warn().Err(err).Int("attempt", c.desc.Attempts).Msg("Status poll failed, will retry")
		o.continuePolling(c)
	}
}

// continuePolling persists the attempt and schedules the next poll, or
// times the job out once the attempt budget is spent
func (o *Orchestrator) continuePolling(c *controller) {
	if c.desc.Attempts >= o.config.MaxAttempts {
		c.logger.Warn().Int("attempts", c.desc.Attempts).Msg("Job exceeded poll budget")
		o.cancelDetached(c.desc.ServerJobID)
		o.finish(c, models.JobStatusFailed, models.ReasonTimeout, fmt.Sprintf("no result after %d status checks", c.desc.Attempts))
		return
	}
	c.recovering = false
	c.desc.UpdatedAt = o.now()
	o.persist(c.desc)
	o.schedulePoll(c)
}

// complete finishes the job, fetching the result reference first if the
// status response did not carry one
func (o *Orchestrator) complete(c *controller, resultRef string) {
	if resultRef != "" {
		c.desc.ResultRef = resultRef
		o.finish(c, models.JobStatusCompleted, models.ReasonNone, "")
		return
	}
	if c.fetching {
		return
	}
	c.fetching = true
	if c.timer != nil {
		c.timer.Stop()
	}
	gen := c.generation
	jobID := c.desc.ServerJobID
	common.SafeGo(c.logger, "job-fetch-result", func() {
		ctx, cancel := context.WithTimeout(c.ctx, o.config.RequestTimeout)
		defer cancel()
		ref, err := o.backend.FetchResult(ctx, jobID)
		o.post(func() { o.onResult(c, gen, ref, err) })
	})
}

func (o *Orchestrator) onResult(c *controller, gen uint64, ref string, err error) {
	if gen != c.generation || c.phase == phaseDone {
		return
	}
	if err == nil && ref == "" {
		err = fmt.Errorf("empty result reference")
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to fetch result of completed job")
		if isSessionError(err) && !o.sessionValid(c) {
			o.expire(c)
			return
		}
		o.finish(c, models.JobStatusFailed, models.ReasonServerFailed, "result unavailable: "+err.Error())
		return
	}
	c.desc.ResultRef = ref
	o.finish(c, models.JobStatusCompleted, models.ReasonNone, "")
}

// requestCancel handles a user cancel for key
func (o *Orchestrator) requestCancel(key models.RegistryKey) error {
	c, live := o.controllers[key]
	if !live {
		desc, err := o.registry.Get(context.Background(), key)
		if errors.Is(err, interfaces.ErrNotFound) {
			return interfaces.ErrNoActiveJob
		}
		if err != nil {
			return err
		}
		if desc.IsTerminal() {
			return nil
		}
		// persisted but never recovered in this process
		c = o.newController(key)
		c.desc = desc
		c.phase = phasePolling
		o.controllers[key] = c
		o.beginCancel(c)
		return nil
	}

	switch c.phase {
	case phaseSubmitting:
		c.logger.Info().Msg("Cancel requested during submission, deferring")
		c.cancelPending = true
	case phasePolling:
		if c.fetching {
			// completion already observed, only the result is outstanding
			return nil
		}
		o.beginCancel(c)
	}
	return nil
}

// beginCancel stops polling and tells the server. The job lands as
// Cancelled on the server's answer or after the grace period.
func (o *Orchestrator) beginCancel(c *controller) {
	c.phase = phaseCancelling
	if c.timer != nil {
		c.timer.Stop()
	}
	c.logger.Info().Str("server_job_id", c.desc.ServerJobID).Msg("Cancelling job")

	gen := c.generation
	jobID := c.desc.ServerJobID
	common.SafeGo(c.logger, "job-cancel", func() {
		ctx, cancel := context.WithTimeout(c.ctx, o.config.RequestTimeout)
		defer cancel()
		err := o.backend.RequestCancel(ctx, jobID)
		o.post(func() { o.onCancelLanded(c, gen, err) })
	})
	c.graceTimer = time.AfterFunc(o.config.CancelGrace, func() {
		o.post(func() { o.onCancelLanded(c, gen, context.DeadlineExceeded) })
	})
}

func (o *Orchestrator) onCancelLanded(c *controller, gen uint64, err error) {
	if gen != c.generation || c.phase != phaseCancelling || c.fetching {
		return
	}
	if err != nil {
		c.logger.Debug().Err(err).Msg("Server did not confirm cancel")
	}
	o.finish(c, models.JobStatusCancelled, models.ReasonUserCancelled, "")
}

// expire cancels c because the session is gone
func (o *Orchestrator) expire(c *controller) {
	switch c.phase {
	case phaseSubmitting:
		c.sessionExpired = true
	case phasePolling, phaseCancelling:
		o.finish(c, models.JobStatusCancelled, models.ReasonSessionExpired, "")
	}
}

// finish applies a terminal status, persists it and notifies subscribers.
// The first terminal transition wins; later calls are no-ops.
func (o *Orchestrator) finish(c *controller, status models.JobStatus, reason models.Reason, failure string) {
	if c.phase == phaseDone || !models.CanTransition(c.desc.Status, status) {
		return
	}
	c.phase = phaseDone
	c.stop()
	delete(o.controllers, c.key)

	if status != models.JobStatusCompleted {
		c.desc.ResultRef = ""
	}
	c.desc.Status = status
	c.desc.Reason = reason
	c.desc.FailureReason = failure
	c.desc.UpdatedAt = o.now()

	c.logger.Info().
		Str("status", string(status)).
		Str("reason", string(reason)).
		Int("attempts", c.desc.Attempts).
		Msg("Job finished")

	o.persist(c.desc)
	o.markRecovered(c)
}

// cancelDetached asks the server to drop a job we no longer track
func (o *Orchestrator) cancelDetached(jobID string) {
	if jobID == "" {
		return
	}
	common.SafeGo(o.logger, "job-cancel-detached", func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.config.RequestTimeout)
		defer cancel()
		if err := o.backend.RequestCancel(ctx, jobID); err != nil {
			o.logger.Debug().Err(err).Str("server_job_id", jobID).Msg("Detached cancel failed")
		}
	})
}

// sessionValid reports whether the session c was submitted under is still
// installed. A rejected request alone does not end the session; that is the
// refresh loop's call.
func (o *Orchestrator) sessionValid(c *controller) bool {
	cred, err := o.session.Credential()
	return err == nil && cred.Subject == c.key.Owner
}

func (o *Orchestrator) markRecovered(c *controller) {
	if c.recovered != nil {
		close(c.recovered)
		c.recovered = nil
	}
}
