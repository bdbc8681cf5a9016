package session

import "time"

// Kind distinguishes the two billable session types. Both are metered the
// same way; the split only matters for room setup and reporting.
type Kind string

const (
	KindChat Kind = "chat"
	KindCall Kind = "call"
)

// RequestStatus is the lifecycle of a SessionRequest. A request is mutated
// exactly once: pending to one terminal status, by whichever actor responds
// first or by the expiry sweep. It is never resurrected.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestRejected  RequestStatus = "rejected"
	RequestExpired   RequestStatus = "expired"
	RequestCancelled RequestStatus = "cancelled"
	RequestBusy      RequestStatus = "busy"
	RequestNoCredit  RequestStatus = "no_credit"
)

// Terminal reports whether the status can never change again.
func (s RequestStatus) Terminal() bool { return s != RequestPending }

// SessionRequest is a pending invitation from a consumer to a provider for
// one session. ExpiresAt is a hard 30s window enforced lazily on every read
// and proactively by the expiry sweep.
type SessionRequest struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	ConsumerID string `json:"consumer_id" db:"consumer_id"`
	ProviderID string `json:"provider_id" db:"provider_id"`

	Kind   Kind          `json:"kind" db:"kind"`
	Status RequestStatus `json:"status" db:"status"`

	CreditsPerMin int64 `json:"credits_per_min" db:"credits_per_min"`
	// CreditsAtRequest snapshots the consumer balance when the request was made.
	CreditsAtRequest int64 `json:"credits_at_request" db:"credits_at_request"`

	// FreeSession marks the request as covered by the consumer's one-time
	// free allowance instead of the wallet.
	FreeSession bool `json:"free_session" db:"free_session"`

	RequestedAt time.Time  `json:"requested_at" db:"requested_at"`
	ExpiresAt   time.Time  `json:"expires_at" db:"expires_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty" db:"responded_at"`
}

// LiveStatus is the lifecycle of a LiveSession.
type LiveStatus string

const (
	LiveInitiated  LiveStatus = "initiated"
	LiveRinging    LiveStatus = "ringing"
	LiveInProgress LiveStatus = "in_progress"
	LiveEnded      LiveStatus = "ended"
	LiveFailed     LiveStatus = "failed"
	LiveRejected   LiveStatus = "rejected"
)

func (s LiveStatus) Terminal() bool {
	return s == LiveEnded || s == LiveFailed || s == LiveRejected
}

// EndReason is the closed set of reasons a live session stops being live.
// History normalizes these into its own vocabulary at settlement time.
type EndReason string

const (
	EndedByUser         EndReason = "ended_by_user"
	EndInsufficientCred EndReason = "insufficient_credits"
	EndMaxDuration      EndReason = "max_duration_reached"
	EndFreeTimeOver     EndReason = "free_time_ended"
	EndAbandoned        EndReason = "abandoned"
	EndRejected         EndReason = "rejected"
	EndExpired          EndReason = "expired"
)

// LiveSession is the authoritative record of an in-progress session.
// Exclusively owned by the session while live; archived once settlement
// completes.
//
// Billing invariants:
//   - LastDeductedMinute is monotonically non-decreasing and never exceeds
//     floor(elapsedSeconds/60).
//   - FreeSession is immutable after creation: a session is billed from the
//     wallet or from the free allowance, never both.
type LiveSession struct {
	ID        string `json:"id" db:"id"`
	RequestID string `json:"request_id" db:"request_id"`
	CallID    string `json:"call_id" db:"call_id"`
	RoomID    string `json:"room_id,omitempty" db:"room_id"`

	ConsumerID string `json:"consumer_id" db:"consumer_id"`
	ProviderID string `json:"provider_id" db:"provider_id"`

	Kind   Kind       `json:"kind" db:"kind"`
	Status LiveStatus `json:"status" db:"status"`

	CreditsPerMin int64 `json:"credits_per_min" db:"credits_per_min"`

	StartTime *time.Time `json:"start_time,omitempty" db:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"`

	// LastDeductedMinute is the high-water mark of minutes already billed.
	LastDeductedMinute int   `json:"last_deducted_minute" db:"last_deducted_minute"`
	TotalCreditsUsed   int64 `json:"total_credits_used" db:"total_credits_used"`

	FreeSession bool       `json:"free_session" db:"free_session"`
	FreeEndTime *time.Time `json:"free_end_time,omitempty" db:"free_end_time"`

	EndReason EndReason `json:"end_reason,omitempty" db:"end_reason"`

	// LastProcessed is touched by every scheduler pass; the abandonment
	// sweep treats a stale value as a dead session.
	LastProcessed time.Time `json:"last_processed" db:"last_processed"`

	Archived bool `json:"is_archived" db:"is_archived"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ElapsedMinutes returns whole minutes since the session went in-progress.
func (s LiveSession) ElapsedMinutes(now time.Time) int {
	if s.StartTime == nil || now.Before(*s.StartTime) {
		return 0
	}
	return int(now.Sub(*s.StartTime) / time.Minute)
}

// Credentials are the connection secrets minted on acceptance, one per side.
type Credentials struct {
	RoomID        string `json:"room_id"`
	ConsumerToken string `json:"consumer_token"`
	ProviderToken string `json:"provider_token"`
}
