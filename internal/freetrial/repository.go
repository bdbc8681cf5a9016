package freetrial

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// PostgresRepo stores allowance consumption in a free_trials table:
//
//	free_trials(user_id PK, used_at)
//
// A row's existence means the allowance is gone.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Used(ctx context.Context, userID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM free_trials WHERE user_id = $1)`
	var used bool
	if err := r.db.QueryRowContext(ctx, q, userID).Scan(&used); err != nil {
		return false, err
	}
	return used, nil
}

func (r *PostgresRepo) MarkUsed(ctx context.Context, userID string, at time.Time) error {
	const q = `
INSERT INTO free_trials (user_id, used_at)
VALUES ($1, $2)
ON CONFLICT (user_id) DO NOTHING
`
	_, err := r.db.ExecContext(ctx, q, userID, at)
	return err
}

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu   sync.Mutex
	used map[string]time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{used: map[string]time.Time{}}
}

func (r *MemoryRepo) Used(ctx context.Context, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.used[userID]
	return ok, nil
}

func (r *MemoryRepo) MarkUsed(ctx context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.used[userID]; !ok {
		r.used[userID] = at
	}
	return nil
}
