package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo implements Repository on two tables:
//
//	session_requests(id PK, call_id, consumer_id, provider_id, kind, status,
//	                 credits_per_min, credits_at_request, free_session,
//	                 requested_at, expires_at, responded_at)
//	live_sessions(id PK, request_id UNIQUE, call_id, room_id, consumer_id,
//	              provider_id, kind, status, credits_per_min, start_time,
//	              end_time, last_deducted_minute, total_credits_used,
//	              free_session, free_end_time, end_reason, last_processed,
//	              is_archived, created_at, updated_at)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const requestColumns = `id, call_id, consumer_id, provider_id, kind, status,
credits_per_min, credits_at_request, free_session, requested_at, expires_at, responded_at`

func scanRequest(row *sql.Row) (SessionRequest, error) {
	var req SessionRequest
	err := row.Scan(
		&req.ID,
		&req.CallID,
		&req.ConsumerID,
		&req.ProviderID,
		&req.Kind,
		&req.Status,
		&req.CreditsPerMin,
		&req.CreditsAtRequest,
		&req.FreeSession,
		&req.RequestedAt,
		&req.ExpiresAt,
		&req.RespondedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRequest{}, ErrNotFound
		}
		return SessionRequest{}, err
	}
	return req, nil
}

func (r *PostgresRepo) CreateRequest(ctx context.Context, req SessionRequest) error {
	const q = `
INSERT INTO session_requests (` + requestColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`
	_, err := r.db.ExecContext(ctx, q,
		req.ID,
		req.CallID,
		req.ConsumerID,
		req.ProviderID,
		req.Kind,
		req.Status,
		req.CreditsPerMin,
		req.CreditsAtRequest,
		req.FreeSession,
		req.RequestedAt,
		req.ExpiresAt,
		req.RespondedAt,
	)
	return err
}

func (r *PostgresRepo) GetRequest(ctx context.Context, id string) (SessionRequest, error) {
	const q = `SELECT ` + requestColumns + ` FROM session_requests WHERE id = $1`
	return scanRequest(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) TransitionRequest(ctx context.Context, id string, to RequestStatus, at time.Time) (SessionRequest, error) {
	// Status check and write are one statement; racing actors resolve here.
	const q = `
UPDATE session_requests
SET status = $2, responded_at = $3
WHERE id = $1 AND status = 'pending'
RETURNING ` + requestColumns
	req, err := scanRequest(r.db.QueryRowContext(ctx, q, id, to, at))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return SessionRequest{}, err
	}

	// Lost the race or the id is unknown; report which.
	current, gerr := r.GetRequest(ctx, id)
	if gerr != nil {
		return SessionRequest{}, gerr
	}
	return current, ErrConflict
}

func (r *PostgresRepo) ExpireOverdue(ctx context.Context, now time.Time, limit int) ([]SessionRequest, error) {
	const q = `
UPDATE session_requests
SET status = 'expired', responded_at = $1
WHERE id IN (
  SELECT id FROM session_requests
  WHERE status = 'pending' AND expires_at <= $1
  ORDER BY expires_at
  LIMIT $2
)
RETURNING ` + requestColumns
	rows, err := r.db.QueryContext(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRequest
	for rows.Next() {
		var req SessionRequest
		if err := rows.Scan(
			&req.ID,
			&req.CallID,
			&req.ConsumerID,
			&req.ProviderID,
			&req.Kind,
			&req.Status,
			&req.CreditsPerMin,
			&req.CreditsAtRequest,
			&req.FreeSession,
			&req.RequestedAt,
			&req.ExpiresAt,
			&req.RespondedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

const liveColumns = `id, request_id, call_id, room_id, consumer_id, provider_id, kind, status,
credits_per_min, start_time, end_time, last_deducted_minute, total_credits_used,
free_session, free_end_time, end_reason, last_processed, is_archived, created_at, updated_at`

func scanLive(row *sql.Row) (LiveSession, error) {
	var s LiveSession
	err := row.Scan(
		&s.ID,
		&s.RequestID,
		&s.CallID,
		&s.RoomID,
		&s.ConsumerID,
		&s.ProviderID,
		&s.Kind,
		&s.Status,
		&s.CreditsPerMin,
		&s.StartTime,
		&s.EndTime,
		&s.LastDeductedMinute,
		&s.TotalCreditsUsed,
		&s.FreeSession,
		&s.FreeEndTime,
		&s.EndReason,
		&s.LastProcessed,
		&s.Archived,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LiveSession{}, ErrNotFound
		}
		return LiveSession{}, err
	}
	return s, nil
}

func (r *PostgresRepo) CreateLive(ctx context.Context, s LiveSession) error {
	const q = `
INSERT INTO live_sessions (` + liveColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
`
	_, err := r.db.ExecContext(ctx, q,
		s.ID,
		s.RequestID,
		s.CallID,
		s.RoomID,
		s.ConsumerID,
		s.ProviderID,
		s.Kind,
		s.Status,
		s.CreditsPerMin,
		s.StartTime,
		s.EndTime,
		s.LastDeductedMinute,
		s.TotalCreditsUsed,
		s.FreeSession,
		s.FreeEndTime,
		s.EndReason,
		s.LastProcessed,
		s.Archived,
		s.CreatedAt,
		s.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) GetLive(ctx context.Context, id string) (LiveSession, error) {
	const q = `SELECT ` + liveColumns + ` FROM live_sessions WHERE id = $1`
	return scanLive(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) GetLiveByRequest(ctx context.Context, requestID string) (LiveSession, error) {
	const q = `SELECT ` + liveColumns + ` FROM live_sessions WHERE request_id = $1`
	return scanLive(r.db.QueryRowContext(ctx, q, requestID))
}

func (r *PostgresRepo) ActiveForConsumer(ctx context.Context, consumerID string) (LiveSession, bool, error) {
	const q = `
SELECT ` + liveColumns + `
FROM live_sessions
WHERE consumer_id = $1
  AND status IN ('initiated', 'ringing', 'in_progress')
  AND is_archived = false
LIMIT 1
`
	s, err := scanLive(r.db.QueryRowContext(ctx, q, consumerID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LiveSession{}, false, nil
		}
		return LiveSession{}, false, err
	}
	return s, true, nil
}

func (r *PostgresRepo) ActiveForProvider(ctx context.Context, providerID string) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM live_sessions
  WHERE provider_id = $1 AND status = 'in_progress' AND is_archived = false
)
`
	var busy bool
	if err := r.db.QueryRowContext(ctx, q, providerID).Scan(&busy); err != nil {
		return false, err
	}
	return busy, nil
}

func (r *PostgresRepo) MarkInProgress(ctx context.Context, id, roomID string, startTime time.Time, freeEndTime *time.Time) (LiveSession, error) {
	const q = `
UPDATE live_sessions
SET status = 'in_progress', room_id = $2, start_time = $3, free_end_time = $4,
    last_processed = $3, updated_at = $3
WHERE id = $1 AND status NOT IN ('ended', 'failed', 'rejected')
RETURNING ` + liveColumns
	s, err := scanLive(r.db.QueryRowContext(ctx, q, id, roomID, startTime, freeEndTime))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return LiveSession{}, err
	}
	current, gerr := r.GetLive(ctx, id)
	if gerr != nil {
		return LiveSession{}, gerr
	}
	return current, ErrConflict
}

func (r *PostgresRepo) MarkEnded(ctx context.Context, id string, status LiveStatus, reason EndReason, endedAt time.Time) (LiveSession, error) {
	const q = `
UPDATE live_sessions
SET status = $2, end_reason = $3, end_time = $4, updated_at = $4
WHERE id = $1 AND status NOT IN ('ended', 'failed', 'rejected')
RETURNING ` + liveColumns
	s, err := scanLive(r.db.QueryRowContext(ctx, q, id, status, reason, endedAt))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return LiveSession{}, err
	}
	current, gerr := r.GetLive(ctx, id)
	if gerr != nil {
		return LiveSession{}, gerr
	}
	return current, ErrConflict
}

func (r *PostgresRepo) RecordDeduction(ctx context.Context, id string, lastDeductedMinute int, totalCreditsUsed int64, processedAt time.Time) error {
	const q = `
UPDATE live_sessions
SET last_deducted_minute = $2, total_credits_used = $3, last_processed = $4, updated_at = $4
WHERE id = $1 AND last_deducted_minute < $2
`
	res, err := r.db.ExecContext(ctx, q, id, lastDeductedMinute, totalCreditsUsed, processedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the row is gone or the mark already moved past this value.
		if _, gerr := r.GetLive(ctx, id); gerr != nil {
			return gerr
		}
		return ErrConflict
	}
	return nil
}

func (r *PostgresRepo) TouchProcessed(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE live_sessions SET last_processed = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PostgresRepo) ListBillable(ctx context.Context, limit int) ([]LiveSession, error) {
	const q = `
SELECT ` + liveColumns + `
FROM live_sessions
WHERE status = 'in_progress' AND free_session = false AND is_archived = false
ORDER BY last_processed
LIMIT $1
`
	return r.listLive(ctx, q, limit)
}

func (r *PostgresRepo) ListFree(ctx context.Context, limit int) ([]LiveSession, error) {
	const q = `
SELECT ` + liveColumns + `
FROM live_sessions
WHERE status = 'in_progress' AND free_session = true AND is_archived = false
ORDER BY last_processed
LIMIT $1
`
	return r.listLive(ctx, q, limit)
}

func (r *PostgresRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]LiveSession, error) {
	const q = `
SELECT ` + liveColumns + `
FROM live_sessions
WHERE status = 'in_progress' AND is_archived = false AND last_processed < $1
ORDER BY last_processed
LIMIT $2
`
	return r.listLive(ctx, q, olderThan, limit)
}

func (r *PostgresRepo) listLive(ctx context.Context, q string, args ...any) ([]LiveSession, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LiveSession
	for rows.Next() {
		var s LiveSession
		if err := rows.Scan(
			&s.ID,
			&s.RequestID,
			&s.CallID,
			&s.RoomID,
			&s.ConsumerID,
			&s.ProviderID,
			&s.Kind,
			&s.Status,
			&s.CreditsPerMin,
			&s.StartTime,
			&s.EndTime,
			&s.LastDeductedMinute,
			&s.TotalCreditsUsed,
			&s.FreeSession,
			&s.FreeEndTime,
			&s.EndReason,
			&s.LastProcessed,
			&s.Archived,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Archive(ctx context.Context, id string) error {
	const q = `UPDATE live_sessions SET is_archived = true WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
