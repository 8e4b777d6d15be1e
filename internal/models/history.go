package models

import "time"

// History action names, shared with the web client
const (
	ActionGenerateFlashcards  = "AUTO_GENERATE_FLASHCARDS"
	ActionGenerationFailed    = "GENERATION_FAILED"
	ActionGenerationCancelled = "GENERATION_CANCELLED"
)

// ActionHistoryEntry records one finished job for the user's activity list
type ActionHistoryEntry struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner" badgerhold:"index"`
	Action     string    `json:"action"`
	Details    string    `json:"details"`
	ResourceID string    `json:"resource_id"`
	Filename   string    `json:"filename,omitempty"`
	DeckName   string    `json:"deck_name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
