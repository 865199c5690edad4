package storage

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/dcaonink/dcaink/internal/domain"
)

// StatsRepository maintains per-pair volume and purchase counters plus the
// per-transaction price-impact cache.
type StatsRepository struct {
	pool *pgxpool.Pool
}

// AddExecuted bumps executed volume and purchase count for the pair as a
// single atomic increment. Read-modify-write would lose updates when runs
// overlap; the increment happens inside the upsert instead.
func (r *StatsRepository) AddExecuted(ctx context.Context, source, destination common.Address, amount *big.Int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dca_pair_stats (source_token, destination_token, volume_executed, purchase_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (source_token, destination_token) DO UPDATE SET
			volume_executed = dca_pair_stats.volume_executed + EXCLUDED.volume_executed,
			purchase_count  = dca_pair_stats.purchase_count + 1,
			updated_at      = now()`,
		strings.ToLower(source.Hex()),
		strings.ToLower(destination.Hex()),
		amount.String(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to increment executed stats")
	}

	return nil
}

// AddRegistered bumps registered volume for the pair. Called from the
// registration flow only; the execution path never touches this counter.
func (r *StatsRepository) AddRegistered(ctx context.Context, source, destination common.Address, amount *big.Int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dca_pair_stats (source_token, destination_token, volume_registered)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_token, destination_token) DO UPDATE SET
			volume_registered = dca_pair_stats.volume_registered + EXCLUDED.volume_registered,
			updated_at        = now()`,
		strings.ToLower(source.Hex()),
		strings.ToLower(destination.Hex()),
		amount.String(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to increment registered stats")
	}

	return nil
}

// Get reads the counters for one pair. A missing row yields zero stats, not
// an error.
func (r *StatsRepository) Get(ctx context.Context, source, destination string) (domain.PairStats, error) {
	source = strings.ToLower(source)
	destination = strings.ToLower(destination)

	var (
		stats            domain.PairStats
		volumeRegistered string
		volumeExecuted   string
	)

	err := r.pool.QueryRow(ctx, `
		SELECT source_token, destination_token, volume_registered, volume_executed,
		       purchase_count, created_at, updated_at
		FROM dca_pair_stats
		WHERE source_token = $1 AND destination_token = $2`,
		source, destination,
	).Scan(&stats.SourceToken, &stats.DestinationToken, &volumeRegistered,
		&volumeExecuted, &stats.PurchaseCount, &stats.CreatedAt, &stats.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PairStats{
			SourceToken:      source,
			DestinationToken: destination,
			VolumeRegistered: decimal.Zero,
			VolumeExecuted:   decimal.Zero,
		}, nil
	}
	if err != nil {
		return domain.PairStats{}, errors.Wrap(err, "failed to read pair stats")
	}

	if stats.VolumeRegistered, err = decimal.NewFromString(volumeRegistered); err != nil {
		return domain.PairStats{}, errors.Wrap(err, "malformed registered volume")
	}
	if stats.VolumeExecuted, err = decimal.NewFromString(volumeExecuted); err != nil {
		return domain.PairStats{}, errors.Wrap(err, "malformed executed volume")
	}

	return stats, nil
}

// TopByExecuted lists pairs ordered by executed volume, best first.
func (r *StatsRepository) TopByExecuted(ctx context.Context, limit int) ([]domain.PairStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT source_token, destination_token, volume_registered, volume_executed,
		       purchase_count, created_at, updated_at
		FROM dca_pair_stats
		ORDER BY volume_executed DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query top pairs")
	}
	defer rows.Close()

	var out []domain.PairStats
	for rows.Next() {
		var (
			stats            domain.PairStats
			volumeRegistered string
			volumeExecuted   string
		)

		if err := rows.Scan(&stats.SourceToken, &stats.DestinationToken, &volumeRegistered,
			&volumeExecuted, &stats.PurchaseCount, &stats.CreatedAt, &stats.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan pair stats row")
		}

		if stats.VolumeRegistered, err = decimal.NewFromString(volumeRegistered); err != nil {
			return nil, errors.Wrap(err, "malformed registered volume")
		}
		if stats.VolumeExecuted, err = decimal.NewFromString(volumeExecuted); err != nil {
			return nil, errors.Wrap(err, "malformed executed volume")
		}

		out = append(out, stats)
	}

	return out, rows.Err()
}

// UpsertPriceImpact writes per-transaction execution pricing keyed on the
// transaction hash. Re-processing the same transaction overwrites the row.
func (r *StatsRepository) UpsertPriceImpact(ctx context.Context, rec domain.PriceImpactRecord) error {
	var priceImpact, slippage *float64
	if rec.PriceImpact != nil {
		v := rec.PriceImpact.InexactFloat64()
		priceImpact = &v
	}
	if rec.SlippagePct != nil {
		v := rec.SlippagePct.InexactFloat64()
		slippage = &v
	}

	var amountIn, amountOut *string
	if rec.AmountIn != "" {
		amountIn = &rec.AmountIn
	}
	if rec.AmountOut != "" {
		amountOut = &rec.AmountOut
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO price_impact_cache (
			tx_hash, buyer, source_token, destination_token,
			price_impact, slippage_percent, amount_in, amount_out, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tx_hash) DO UPDATE SET
			buyer             = EXCLUDED.buyer,
			source_token      = EXCLUDED.source_token,
			destination_token = EXCLUDED.destination_token,
			price_impact      = EXCLUDED.price_impact,
			slippage_percent  = EXCLUDED.slippage_percent,
			amount_in         = EXCLUDED.amount_in,
			amount_out        = EXCLUDED.amount_out,
			created_at        = EXCLUDED.created_at`,
		strings.ToLower(rec.TxHash),
		strings.ToLower(rec.Buyer),
		strings.ToLower(rec.SourceToken),
		strings.ToLower(rec.DestinationToken),
		priceImpact,
		slippage,
		amountIn,
		amountOut,
		rec.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert price impact")
	}

	return nil
}
