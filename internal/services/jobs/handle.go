package jobs

import (
	"context"

	"github.com/ternarybob/flashdeck/internal/models"
)

// JobHandle refers to a submitted job
type JobHandle struct {
	ResourceID  string
	ServerJobID string
	// Submitted is the Queued descriptor written on submission
	Submitted *models.JobDescriptor

	key          models.RegistryKey
	orchestrator *Orchestrator
}

// State returns the last persisted descriptor. It keeps working after the
// session that submitted the job is gone.
func (h *JobHandle) State(ctx context.Context) (*models.JobDescriptor, error) {
	return h.orchestrator.registry.Get(ctx, h.key)
}

// Cancel cancels the job
func (h *JobHandle) Cancel(ctx context.Context) error {
	return h.orchestrator.CancelJob(ctx, h.ResourceID)
}

// Subscribe registers fn for this job's descriptor updates
func (h *JobHandle) Subscribe(fn func(*models.JobDescriptor)) (func(), error) {
	return h.orchestrator.subscribeKey(h.key, fn)
}

// Wait blocks until the job reaches a terminal state and returns it.
// Intermediate descriptors are passed to progress when it is not nil.
func (h *JobHandle) Wait(ctx context.Context, progress func(*models.JobDescriptor)) (*models.JobDescriptor, error) {
	updates := make(chan *models.JobDescriptor, 16)
	terminal := make(chan *models.JobDescriptor, 1)
	unsubscribe, err := h.Subscribe(func(desc *models.JobDescriptor) {
		// never block the orchestrator goroutine
		if desc.IsTerminal() {
			select {
			case terminal <- desc:
			default:
			}
			return
		}
		select {
		case updates <- desc:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer unsubscribe()

	// the job may have finished before the subscription existed
	if desc, err := h.State(ctx); err == nil && desc.IsTerminal() && desc.ServerJobID == h.ServerJobID {
		return desc, nil
	}

	for {
		select {
		case desc := <-terminal:
			return desc, nil
		case desc := <-updates:
			if progress != nil {
				progress(desc)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
