package reporting

import (
	"context"
	"database/sql"
	"time"

	"consult-platform/internal/history"
)

// PostgresRepo reads the session_history table written by the settlement
// path. History rows are immutable, so these queries need no locking.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const recordColumns = `id, session_id, call_id, room_id, consumer_id, provider_id, kind,
status, reason, credits_per_min, duration_seconds, total_credits,
provider_credits, platform_credits, free_session, started_at, ended_at, created_at`

func (r *PostgresRepo) ListByProvider(ctx context.Context, providerID string, from, to time.Time) ([]history.Record, error) {
	const q = `
SELECT ` + recordColumns + `
FROM session_history
WHERE provider_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at
`
	return r.list(ctx, q, providerID, from, to)
}

func (r *PostgresRepo) ListByConsumer(ctx context.Context, consumerID string, from, to time.Time) ([]history.Record, error) {
	const q = `
SELECT ` + recordColumns + `
FROM session_history
WHERE consumer_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at
`
	return r.list(ctx, q, consumerID, from, to)
}

func (r *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]history.Record, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []history.Record
	for rows.Next() {
		var rec history.Record
		if err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&rec.CallID,
			&rec.RoomID,
			&rec.ConsumerID,
			&rec.ProviderID,
			&rec.Kind,
			&rec.Status,
			&rec.Reason,
			&rec.CreditsPerMin,
			&rec.DurationSeconds,
			&rec.TotalCredits,
			&rec.ProviderCredits,
			&rec.PlatformCredits,
			&rec.FreeSession,
			&rec.StartedAt,
			&rec.EndedAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
