package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ExecutionAttempt is an immutable audit record of one try at executing one
// session. Each try (initial and retry) produces its own record; records are
// never mutated after insert.
type ExecutionAttempt struct {
	RunID            string
	Buyer            common.Address
	SourceToken      common.Address
	DestinationToken common.Address
	AmountPerDay     *big.Int
	Success          bool
	ErrorMessage     string
	RetryCount       int
	TxHash           *common.Hash
	PriceImpact      *decimal.Decimal
	SlippagePct      *decimal.Decimal
	Router           string
	DaysLeft         *int64
	Timestamp        time.Time
}

// ExecutionResult is the in-memory outcome of one session within one run.
// It feeds the attempt recorder and the stats aggregator and is not
// persisted directly.
type ExecutionResult struct {
	Buyer            common.Address `json:"buyer"`
	SourceToken      common.Address `json:"source_token"`
	DestinationToken common.Address `json:"destination_token"`
	Success          bool           `json:"success"`
	// Skipped marks an expected no-action outcome (unsupported amount,
	// no usable quote). Skipped sessions are neither successes nor failures.
	Skipped     bool             `json:"skipped,omitempty"`
	SkipReason  string           `json:"skip_reason,omitempty"`
	TxHash      *common.Hash     `json:"tx_hash,omitempty"`
	Router      string           `json:"router,omitempty"`
	AmountOut   *big.Int         `json:"amount_out,omitempty"`
	PriceImpact *decimal.Decimal `json:"price_impact,omitempty"`
	SlippagePct *decimal.Decimal `json:"slippage_percent,omitempty"`
	Err         string           `json:"error,omitempty"`
	Retried     bool             `json:"retried,omitempty"`
}

// RunSummary aggregates one orchestrator run for observability.
type RunSummary struct {
	RunID       string         `json:"run_id"`
	Total       int            `json:"total"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	Skipped     int            `json:"skipped"`
	RouterUsage map[string]int `json:"router_usage"`
}
