package jobs

import (
	"context"
	"fmt"

	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
)

// RecoveryReport summarises one recovery sweep
type RecoveryReport struct {
	Scanned  int `json:"scanned"`
	Resumed  int `json:"resumed"`
	Finished int `json:"finished"`
	Skipped  int `json:"skipped"`
}

// Recover re-attaches a controller to every non-terminal Registry entry of
// the signed-in user. Each entry gets one status query, counted against its
// poll budget; terminal answers are applied and the rest resume polling.
// Entries that already have a live controller are left alone, so running
// Recover twice is harmless.
func (o *Orchestrator) Recover(ctx context.Context) (*RecoveryReport, error) {
	owner, err := o.owner()
	if err != nil {
		return nil, err
	}

	active, err := o.registry.ListActive(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}

	report := &RecoveryReport{Scanned: len(active)}
	if len(active) == 0 {
		return report, nil
	}

	var (
		waits []<-chan struct{}
		keys  []models.RegistryKey
	)
	if err := o.call(ctx, func() {
		for _, desc := range active {
			if _, live := o.controllers[desc.Key()]; live {
				report.Skipped++
				continue
			}
			waits = append(waits, o.recoverJob(desc))
			keys = append(keys, desc.Key())
		}
	}); err != nil {
		return nil, err
	}

	for _, ch := range waits {
		select {
		case <-ch:
		case <-ctx.Done():
			return report, ctx.Err()
		case <-o.quit:
			return report, interfaces.ErrShuttingDown
		}
	}

	for _, key := range keys {
		desc, err := o.registry.Get(ctx, key)
		if err == nil && desc.IsTerminal() {
			report.Finished++
		} else {
			report.Resumed++
		}
	}

	o.logger.Info().
		Str("owner", owner).
		Int("scanned", report.Scanned).
		Int("resumed", report.Resumed).
		Int("finished", report.Finished).
		Int("skipped", report.Skipped).
		Msg("Job recovery complete")

	return report, nil
}

// recoverJob attaches a controller to desc and issues its recovery query.
// The returned channel closes once the first answer has been applied.
func (o *Orchestrator) recoverJob(desc *models.JobDescriptor) <-chan struct{} {
	c := o.newController(desc.Key())
	c.desc = desc.Clone()
	c.phase = phasePolling
	c.recovering = true
	recovered := make(chan struct{})
	c.recovered = recovered
	o.controllers[c.key] = c

	c.logger.Info().
		Str("server_job_id", desc.ServerJobID).
		Str("status", string(desc.Status)).
		Int("attempts", desc.Attempts).
		Msg("Recovering job")

	if desc.ServerJobID == "" {
		o.finish(c, models.JobStatusFailed, models.ReasonOrphaned, "no server job id recorded")
		return recovered
	}
	o.poll(c)
	return recovered
}
