package backend

import (
	"strings"

	"github.com/ternarybob/flashdeck/internal/models"
)

var rawStatuses = map[string]models.JobStatus{
	"queued":      models.JobStatusQueued,
	"pending":     models.JobStatusQueued,
	"waiting":     models.JobStatusQueued,
	"processing":  models.JobStatusProcessing,
	"running":     models.JobStatusProcessing,
	"started":     models.JobStatusProcessing,
	"in_progress": models.JobStatusProcessing,
	"completed":   models.JobStatusCompleted,
	"complete":    models.JobStatusCompleted,
	"done":        models.JobStatusCompleted,
	"succeeded":   models.JobStatusCompleted,
	"success":     models.JobStatusCompleted,
	"failed":      models.JobStatusFailed,
	"failure":     models.JobStatusFailed,
	"error":       models.JobStatusFailed,
	"cancelled":   models.JobStatusCancelled,
	"canceled":    models.JobStatusCancelled,
	"revoked":     models.JobStatusCancelled,
}

// MapStatus maps the server's raw status string onto a canonical status.
// Unrecognised values are treated as still processing.
func MapStatus(raw string) models.JobStatus {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	if status, ok := rawStatuses[key]; ok {
		return status
	}
	return models.JobStatusProcessing
}
