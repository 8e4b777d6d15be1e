package interfaces

import "errors"

var (
	// ErrNotFound is returned by storage when no entry exists for a key
	ErrNotFound = errors.New("not found")

	// ErrAlreadyInFlight is returned when a resource already has a non-terminal job
	ErrAlreadyInFlight = errors.New("job already in flight for resource")

	// ErrSubmissionRejected is returned when the backend declines a submission
	ErrSubmissionRejected = errors.New("submission rejected")

	// ErrSessionInvalid is returned when no usable session credential exists
	ErrSessionInvalid = errors.New("session invalid")

	// ErrCredentialRejected is returned when the backend explicitly refuses a refresh token
	ErrCredentialRejected = errors.New("credential rejected")

	// ErrJobNotFound is returned when the backend has no record of a job
	ErrJobNotFound = errors.New("job not found on server")

	// ErrRequestRejected is returned for any other non-retryable 4xx answer
	ErrRequestRejected = errors.New("request rejected")

	// ErrNotTerminal is returned when clearing a job that is still running
	ErrNotTerminal = errors.New("job is not in a terminal state")

	// ErrNoActiveJob is returned when cancelling a resource with nothing running
	ErrNoActiveJob = errors.New("no active job for resource")

	// ErrShuttingDown is returned once the orchestrator has stopped
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)
