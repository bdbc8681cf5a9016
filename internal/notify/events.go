package notify

// EventType is the closed set of real-time events the core publishes.
type EventType string

const (
	EventIncomingSession  EventType = "incoming-session"
	EventSessionAccepted  EventType = "session-accepted"
	EventSessionRejected  EventType = "session-rejected"
	EventBalanceUpdate    EventType = "balance-update"
	EventSessionActivity  EventType = "session-activity"
	EventFreeCountdown    EventType = "free-countdown"
	EventSessionEnded     EventType = "session-ended"
	EventSessionAutoEnded EventType = "session-auto-ended"
)

// Event is a message addressed to one user or provider identity.
type Event struct {
	Type      EventType         `json:"type"`
	CallID    string            `json:"call_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
}
