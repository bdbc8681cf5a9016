package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// EarningsSummaryRequest requests aggregated provider earnings.
type EarningsSummaryRequest struct {
	ProviderID string    `json:"provider_id"`
	Range      TimeRange `json:"range"`
}

type EarningsSummary struct {
	ProviderID string `json:"provider_id"`

	TotalSessions     int `json:"total_sessions"`
	CompletedSessions int `json:"completed_sessions"`
	FailedSessions    int `json:"failed_sessions"`
	FreeSessions      int `json:"free_sessions"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	TotalCredits    int64 `json:"total_credits"`
	ProviderCredits int64 `json:"provider_credits"`
	PlatformCredits int64 `json:"platform_credits"`
}

// SpendSummaryRequest requests a consumer's settled spend.
// Spend is derived from immutable history records, never from live state.
type SpendSummaryRequest struct {
	ConsumerID string    `json:"consumer_id"`
	Range      TimeRange `json:"range"`
}

type SpendSummary struct {
	ConsumerID string `json:"consumer_id"`

	TotalSessions        int   `json:"total_sessions"`
	FreeSessions         int   `json:"free_sessions"`
	TotalDurationSeconds int   `json:"total_duration_seconds"`
	TotalCredits         int64 `json:"total_credits"`
}
