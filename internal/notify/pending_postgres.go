package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresPendingStore keeps undelivered notifications in a
// pending_notifications table:
//
//	pending_notifications(id PK, identity, event JSONB, queued_at)
//
// Drain deletes as it reads so a notification is handed out once.
type PostgresPendingStore struct {
	db *sql.DB
}

func NewPostgresPendingStore(db *sql.DB) *PostgresPendingStore {
	return &PostgresPendingStore{db: db}
}

func (s *PostgresPendingStore) Append(ctx context.Context, p PendingNotification) error {
	body, err := json.Marshal(p.Event)
	if err != nil {
		return fmt.Errorf("notify: marshal pending event: %w", err)
	}
	const q = `
INSERT INTO pending_notifications (id, identity, event, queued_at)
VALUES ($1, $2, $3, $4)
`
	_, err = s.db.ExecContext(ctx, q, p.ID, p.Identity, body, p.QueuedAt)
	return err
}

func (s *PostgresPendingStore) Drain(ctx context.Context, identity string) ([]PendingNotification, error) {
	const q = `
DELETE FROM pending_notifications
WHERE identity = $1
RETURNING id, identity, event, queued_at
`
	rows, err := s.db.QueryContext(ctx, q, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingNotification
	for rows.Next() {
		var p PendingNotification
		var body []byte
		if err := rows.Scan(&p.ID, &p.Identity, &body, &p.QueuedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, &p.Event); err != nil {
			return nil, fmt.Errorf("notify: unmarshal pending event: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
