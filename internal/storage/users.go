package storage

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// UserRepository tracks registered buyers and their preferred buy times.
// The on-chain contract is the source of truth for session parameters; this
// table only mirrors the registration for reporting.
type UserRepository struct {
	pool *pgxpool.Pool
}

// Users returns the registered-user repository.
func (s *Store) Users() *UserRepository {
	return &UserRepository{pool: s.pool}
}

// Upsert records a buyer's registration, replacing any previous buy time.
func (r *UserRepository) Upsert(ctx context.Context, address, buyTime string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dca_users (address, buy_time, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (address) DO UPDATE SET
			buy_time   = EXCLUDED.buy_time,
			updated_at = now()`,
		strings.ToLower(address),
		buyTime,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert dca user")
	}

	return nil
}
