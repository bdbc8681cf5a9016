package history

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists records in a session_history table:
//
//	session_history(id PK, session_id UNIQUE, call_id, room_id, consumer_id,
//	                provider_id, kind, status, reason, credits_per_min,
//	                duration_seconds, total_credits, provider_credits,
//	                platform_credits, free_session, started_at, ended_at,
//	                created_at)
//
// The UNIQUE session_id is what makes Settle safe under concurrent retries.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const recordColumns = `id, session_id, call_id, room_id, consumer_id, provider_id, kind,
status, reason, credits_per_min, duration_seconds, total_credits,
provider_credits, platform_credits, free_session, started_at, ended_at, created_at`

func (s *PostgresStore) FindBySession(ctx context.Context, sessionID string) (Record, bool, error) {
	const q = `SELECT ` + recordColumns + ` FROM session_history WHERE session_id = $1`
	var rec Record
	err := s.db.QueryRowContext(ctx, q, sessionID).Scan(
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
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *PostgresStore) Create(ctx context.Context, rec Record) error {
	const q = `
INSERT INTO session_history (` + recordColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
`
	_, err := s.db.ExecContext(ctx, q,
		rec.ID,
		rec.SessionID,
		rec.CallID,
		rec.RoomID,
		rec.ConsumerID,
		rec.ProviderID,
		rec.Kind,
		rec.Status,
		rec.Reason,
		rec.CreditsPerMin,
		rec.DurationSeconds,
		rec.TotalCredits,
		rec.ProviderCredits,
		rec.PlatformCredits,
		rec.FreeSession,
		rec.StartedAt,
		rec.EndedAt,
		rec.CreatedAt,
	)
	return err
}
