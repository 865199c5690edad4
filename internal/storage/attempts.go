package storage

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/dcaonink/dcaink/internal/domain"
)

// AttemptRepository stores and queries execution attempt audit rows.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// Insert appends one attempt record. Records are append-only; each try of
// each session produces its own row.
func (r *AttemptRepository) Insert(ctx context.Context, a domain.ExecutionAttempt) error {
	var (
		txHash      *string
		errMsg      *string
		router      *string
		priceImpact *float64
		slippage    *float64
	)

	if a.TxHash != nil {
		h := strings.ToLower(a.TxHash.Hex())
		txHash = &h
	}
	if a.ErrorMessage != "" {
		errMsg = &a.ErrorMessage
	}
	if a.Router != "" {
		router = &a.Router
	}
	if a.PriceImpact != nil {
		v := a.PriceImpact.InexactFloat64()
		priceImpact = &v
	}
	if a.SlippagePct != nil {
		v := a.SlippagePct.InexactFloat64()
		slippage = &v
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO dca_attempt_tracking (
			run_id, buyer_address, source_token, destination_token, amount_per_day,
			success, error_message, retry_count, transaction_hash,
			price_impact, slippage_percent, router_used, days_left, attempt_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.RunID,
		strings.ToLower(a.Buyer.Hex()),
		strings.ToLower(a.SourceToken.Hex()),
		strings.ToLower(a.DestinationToken.Hex()),
		a.AmountPerDay.String(),
		a.Success,
		errMsg,
		a.RetryCount,
		txHash,
		priceImpact,
		slippage,
		router,
		a.DaysLeft,
		a.Timestamp,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert attempt record")
	}

	return nil
}

// AttemptStats summarizes a window of attempt records.
type AttemptStats struct {
	TotalAttempts      int     `json:"total_attempts"`
	SuccessfulAttempts int     `json:"successful_attempts"`
	FailedAttempts     int     `json:"failed_attempts"`
	RetriedAttempts    int     `json:"retried_attempts"`
	SuccessRate        float64 `json:"success_rate"`
}

// StatsSince aggregates attempts newer than the cutoff, optionally filtered
// by buyer and destination token (empty string means no filter).
func (r *AttemptRepository) StatsSince(ctx context.Context, cutoff time.Time, buyer, destinationToken string) (AttemptStats, error) {
	var stats AttemptStats

	err := r.pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE success),
			count(*) FILTER (WHERE NOT success),
			count(*) FILTER (WHERE retry_count > 0)
		FROM dca_attempt_tracking
		WHERE attempt_timestamp >= $1
		  AND ($2 = '' OR buyer_address = $2)
		  AND ($3 = '' OR destination_token = $3)`,
		cutoff,
		strings.ToLower(buyer),
		strings.ToLower(destinationToken),
	).Scan(&stats.TotalAttempts, &stats.SuccessfulAttempts, &stats.FailedAttempts, &stats.RetriedAttempts)
	if err != nil {
		return AttemptStats{}, errors.Wrap(err, "failed to aggregate attempt stats")
	}

	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.SuccessfulAttempts) / float64(stats.TotalAttempts) * 100
	}

	return stats, nil
}
