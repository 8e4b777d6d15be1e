// -----------------------------------------------------------------------
// Job Descriptor - last known state of a document's generation job
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// JobStatus is one of the five canonical job states
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsValid reports whether s is a canonical status
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

func (s JobStatus) rank() int {
	switch s {
	case JobStatusQueued:
		return 0
	case JobStatusProcessing:
		return 1
	default:
		return 2
	}
}

// CanTransition reports whether a descriptor in status from may move to status to.
// Status only moves forward: queued -> processing -> terminal, with
// queued -> terminal allowed and same-status refreshes allowed for live jobs.
func CanTransition(from, to JobStatus) bool {
	if from.IsTerminal() || !to.IsValid() {
		return false
	}
	return to.rank() >= from.rank()
}

// Reason is the canonical cause recorded with a failed or cancelled job
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonTimeout         Reason = "timeout"
	ReasonOrphaned        Reason = "orphaned"
	ReasonSessionExpired  Reason = "session_expired"
	ReasonRejected        Reason = "rejected"
	ReasonServerFailed    Reason = "server_failed"
	ReasonUserCancelled   Reason = "user_cancelled"
	ReasonServerCancelled Reason = "server_cancelled"
)

// JobOptions are the caller supplied generation settings
type JobOptions struct {
	DeckName string `json:"deck_name,omitempty"`
	MaxCards int    `json:"max_cards,omitempty" validate:"gte=0,lte=500"`
	Language string `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
	Filename string `json:"filename,omitempty"` // original document name, for history only
}

// RegistryKey identifies a Registry entry. Entries are namespaced by the
// session subject that submitted them.
type RegistryKey struct {
	Owner      string
	ResourceID string
}

func (k RegistryKey) String() string {
	return fmt.Sprintf("%s/%s", k.Owner, k.ResourceID)
}

// JobDescriptor is the persisted last known state of one resource's job
type JobDescriptor struct {
	Owner         string     `json:"owner" badgerhold:"index"`
	ResourceID    string     `json:"resource_id"`
	ServerJobID   string     `json:"server_job_id,omitempty"`
	Status        JobStatus  `json:"status" badgerhold:"index"`
	Reason        Reason     `json:"reason,omitempty"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	LastPolledAt  time.Time  `json:"last_polled_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Attempts      int        `json:"attempts"` // poll attempts consumed against the budget
	ResultRef     string     `json:"result_ref,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	Options       JobOptions `json:"options"`
}

// Key returns the Registry key for the descriptor
func (d *JobDescriptor) Key() RegistryKey {
	return RegistryKey{Owner: d.Owner, ResourceID: d.ResourceID}
}

// IsTerminal reports whether the descriptor is in a final state
func (d *JobDescriptor) IsTerminal() bool {
	return d.Status.IsTerminal()
}

// Clone returns a copy safe to hand to subscribers
func (d *JobDescriptor) Clone() *JobDescriptor {
	if d == nil {
		return nil
	}
	clone := *d
	return &clone
}

// Validate checks the field invariants tied to each status
func (d *JobDescriptor) Validate() error {
	if d.ResourceID == "" {
		return fmt.Errorf("resource id is required")
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("invalid status %q", d.Status)
	}
	if d.ResultRef != "" && d.Status != JobStatusCompleted {
		return fmt.Errorf("result ref set on %s job", d.Status)
	}
	if d.FailureReason != "" && d.Status != JobStatusFailed {
		return fmt.Errorf("failure reason set on %s job", d.Status)
	}
	if d.Reason != ReasonNone && d.Status != JobStatusFailed && d.Status != JobStatusCancelled {
		return fmt.Errorf("reason %q set on %s job", d.Reason, d.Status)
	}
	return nil
}

// ServerJobStatus is a status response mapped onto the canonical states
type ServerJobStatus struct {
	Status        JobStatus
	RawStatus     string
	ResultRef     string
	FailureReason string
}
