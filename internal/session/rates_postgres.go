package session

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRates reads the published per-minute rate from provider_rates:
//
//	provider_rates(provider_id PK, credits_per_min, updated_at)
//
// The rate read here is snapshotted onto the request; later rate changes
// never affect a running session.
type PostgresRates struct {
	db *sql.DB
}

func NewPostgresRates(db *sql.DB) *PostgresRates { return &PostgresRates{db: db} }

func (r *PostgresRates) RatePerMinute(ctx context.Context, providerID string) (int64, error) {
	const q = `SELECT credits_per_min FROM provider_rates WHERE provider_id = $1`
	var rate int64
	if err := r.db.QueryRowContext(ctx, q, providerID).Scan(&rate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return rate, nil
}
