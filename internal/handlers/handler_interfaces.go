package handlers

import (
	"context"

	"github.com/ternarybob/flashdeck/internal/models"
	"github.com/ternarybob/flashdeck/internal/services/jobs"
)

// JobService is the orchestrator surface used by the HTTP handlers
type JobService interface {
	StartJob(ctx context.Context, resourceID string, options models.JobOptions) (*jobs.JobHandle, error)
	CancelJob(ctx context.Context, resourceID string) error
	GetLastKnownState(ctx context.Context, resourceID string) (*models.JobDescriptor, error)
	ListJobs(ctx context.Context) ([]*models.JobDescriptor, error)
	ClearJob(ctx context.Context, resourceID string) error
	Recover(ctx context.Context) (*jobs.RecoveryReport, error)
	LiveJobs(ctx context.Context) (int, error)
}

// JobSubscriber delivers descriptor updates to websocket clients
type JobSubscriber interface {
	Subscribe(resourceID string, fn func(*models.JobDescriptor)) (func(), error)
	SubscribeAll(fn func(*models.JobDescriptor)) (func(), error)
	GetLastKnownState(ctx context.Context, resourceID string) (*models.JobDescriptor, error)
}

// SessionService is the session store surface used by the HTTP handlers
type SessionService interface {
	Info() models.SessionInfo
	Subject() string
	Install(ctx context.Context, cred *models.SessionCredential) error
	Invalidate(ctx context.Context, reason string)
}

// HistoryService lists and clears the action history
type HistoryService interface {
	List(ctx context.Context, owner string, limit int) ([]*models.ActionHistoryEntry, error)
	Clear(ctx context.Context, owner string) error
}
