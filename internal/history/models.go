package history

import (
	"time"

	"consult-platform/internal/session"
)

// Status is the history-level outcome of a session. Smaller vocabulary than
// live statuses; the mapping from live end reasons is deterministic and total.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Reason is the closed set of history-level end reasons.
type Reason string

const (
	ReasonCompletedNormally Reason = "completed_normally"
	ReasonFreeTimeEnded     Reason = "free_time_ended"
	ReasonInsufficientCred  Reason = "insufficient_credits"
	ReasonDisconnected      Reason = "participant_disconnected"
	ReasonRejected          Reason = "rejected"
	ReasonExpired           Reason = "expired"
)

// Record is the immutable settled form of a live session. Created exactly
// once per session, never mutated afterwards.
type Record struct {
	ID        string `json:"id" db:"id"`
	SessionID string `json:"session_id" db:"session_id"`
	CallID    string `json:"call_id" db:"call_id"`
	RoomID    string `json:"room_id,omitempty" db:"room_id"`

	ConsumerID string `json:"consumer_id" db:"consumer_id"`
	ProviderID string `json:"provider_id" db:"provider_id"`

	Kind   session.Kind `json:"kind" db:"kind"`
	Status Status       `json:"status" db:"status"`
	Reason Reason       `json:"reason" db:"reason"`

	CreditsPerMin   int64 `json:"credits_per_min" db:"credits_per_min"`
	DurationSeconds int   `json:"duration_seconds" db:"duration_seconds"`

	TotalCredits    int64 `json:"total_credits" db:"total_credits"`
	ProviderCredits int64 `json:"provider_credits" db:"provider_credits"`
	PlatformCredits int64 `json:"platform_credits" db:"platform_credits"`

	FreeSession bool `json:"free_session" db:"free_session"`

	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Normalize maps a live end reason into history vocabulary.
// Unknown reasons (including empty) settle as failed/participant_disconnected
// so nothing is dropped from the record.
func Normalize(r session.EndReason) (Status, Reason) {
	switch r {
	case session.EndedByUser, session.EndMaxDuration:
		return StatusCompleted, ReasonCompletedNormally
	case session.EndFreeTimeOver:
		return StatusCompleted, ReasonFreeTimeEnded
	case session.EndInsufficientCred:
		return StatusFailed, ReasonInsufficientCred
	case session.EndAbandoned:
		return StatusFailed, ReasonDisconnected
	case session.EndRejected:
		return StatusFailed, ReasonRejected
	case session.EndExpired:
		return StatusFailed, ReasonExpired
	default:
		return StatusFailed, ReasonDisconnected
	}
}
