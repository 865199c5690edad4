// Package storage persists execution telemetry and pair statistics to
// Postgres. Counters are maintained with atomic upsert increments so
// concurrent runs never lose updates.
package storage

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Store owns the connection pool shared by the repositories.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pgx pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}

	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Attempts returns the attempt-record repository.
func (s *Store) Attempts() *AttemptRepository {
	return &AttemptRepository{pool: s.pool}
}

// Stats returns the pair-stats repository.
func (s *Store) Stats() *StatsRepository {
	return &StatsRepository{pool: s.pool}
}

// PurchaseCache returns the purchase-event cache repository.
func (s *Store) PurchaseCache() *PurchaseCacheRepository {
	return &PurchaseCacheRepository{pool: s.pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS dca_attempt_tracking (
	id                BIGSERIAL PRIMARY KEY,
	run_id            TEXT,
	buyer_address     TEXT        NOT NULL,
	source_token      TEXT        NOT NULL,
	destination_token TEXT        NOT NULL,
	amount_per_day    NUMERIC     NOT NULL,
	success           BOOLEAN     NOT NULL,
	error_message     TEXT,
	retry_count       INT         NOT NULL DEFAULT 0,
	transaction_hash  TEXT,
	price_impact      DOUBLE PRECISION,
	slippage_percent  DOUBLE PRECISION,
	router_used       TEXT,
	days_left         BIGINT,
	attempt_timestamp TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempt_buyer ON dca_attempt_tracking (buyer_address);
CREATE INDEX IF NOT EXISTS idx_attempt_timestamp ON dca_attempt_tracking (attempt_timestamp);

CREATE TABLE IF NOT EXISTS dca_pair_stats (
	source_token      TEXT        NOT NULL,
	destination_token TEXT        NOT NULL,
	volume_registered NUMERIC     NOT NULL DEFAULT 0,
	volume_executed   NUMERIC     NOT NULL DEFAULT 0,
	purchase_count    BIGINT      NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (source_token, destination_token)
);

CREATE TABLE IF NOT EXISTS price_impact_cache (
	tx_hash           TEXT PRIMARY KEY,
	buyer             TEXT        NOT NULL,
	source_token      TEXT        NOT NULL,
	destination_token TEXT        NOT NULL,
	price_impact      DOUBLE PRECISION,
	slippage_percent  DOUBLE PRECISION,
	amount_in         NUMERIC,
	amount_out        NUMERIC,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dca_users (
	address    TEXT PRIMARY KEY,
	buy_time   TEXT        NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS purchase_history_cache (
	buyer_address      TEXT PRIMARY KEY,
	events             JSONB       NOT NULL,
	last_queried_block BIGINT      NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the telemetry tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to ensure schema")
	}
	return nil
}
