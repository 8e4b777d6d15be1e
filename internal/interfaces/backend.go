package interfaces

import (
	"context"

	"github.com/ternarybob/flashdeck/internal/models"
)

// JobBackend is the remote flashcard generation service.
// Implementations map failures onto ErrSubmissionRejected, ErrJobNotFound,
// ErrRequestRejected and ErrSessionInvalid; anything else is treated as transient.
type JobBackend interface {
	CreateJob(ctx context.Context, resourceID string, options models.JobOptions) (string, error)
	GetJobStatus(ctx context.Context, serverJobID string) (*models.ServerJobStatus, error)
	// RequestCancel is advisory; the server may ignore it
	RequestCancel(ctx context.Context, serverJobID string) error
	FetchResult(ctx context.Context, serverJobID string) (string, error)
}

// DocumentUploader stores a local document on the backend and returns its resource id
type DocumentUploader interface {
	UploadDocument(ctx context.Context, path string) (string, error)
}

// CredentialRefresher exchanges a refresh token for a new credential pair.
// Returns ErrCredentialRejected when the server refuses the refresh token.
type CredentialRefresher interface {
	RefreshCredential(ctx context.Context, refreshToken string) (*models.SessionCredential, error)
}

// DocumentInspector validates a document before it is uploaded
type DocumentInspector interface {
	Inspect(ctx context.Context, path string) (*models.DocumentInfo, error)
}
