package storage

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// CachedEvents is a buyer's cached purchase-event log with the block
// watermark the next chain scan should resume from.
type CachedEvents struct {
	Events           json.RawMessage `json:"events"`
	LastQueriedBlock int64           `json:"last_queried_block"`
}

// PurchaseCacheRepository is the durable level of the purchase-event cache.
type PurchaseCacheRepository struct {
	pool *pgxpool.Pool
}

// Get reads cached events for a buyer. Returns ok=false when nothing is
// cached yet.
func (r *PurchaseCacheRepository) Get(ctx context.Context, buyerAddress string) (CachedEvents, bool, error) {
	var cached CachedEvents

	err := r.pool.QueryRow(ctx, `
		SELECT events, last_queried_block
		FROM purchase_history_cache
		WHERE buyer_address = $1`,
		strings.ToLower(buyerAddress),
	).Scan(&cached.Events, &cached.LastQueriedBlock)
	if errors.Is(err, pgx.ErrNoRows) {
		return CachedEvents{}, false, nil
	}
	if err != nil {
		return CachedEvents{}, false, errors.Wrap(err, "failed to read purchase cache")
	}

	return cached, true, nil
}

// Upsert replaces a buyer's cached events and watermark.
func (r *PurchaseCacheRepository) Upsert(ctx context.Context, buyerAddress string, cached CachedEvents) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO purchase_history_cache (buyer_address, events, last_queried_block, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (buyer_address) DO UPDATE SET
			events             = EXCLUDED.events,
			last_queried_block = EXCLUDED.last_queried_block,
			updated_at         = now()`,
		strings.ToLower(buyerAddress),
		cached.Events,
		cached.LastQueriedBlock,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert purchase cache")
	}

	return nil
}
