package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PairStats holds aggregate counters for one (source, destination) token
// pair. Counters are mutated via atomic increments at the storage layer,
// never via read-modify-write.
type PairStats struct {
	SourceToken      string          `json:"source_token"`
	DestinationToken string          `json:"destination_token"`
	VolumeRegistered decimal.Decimal `json:"volume_registered"`
	VolumeExecuted   decimal.Decimal `json:"volume_executed"`
	PurchaseCount    int64           `json:"purchase_count"`
	CreatedAt        time.Time       `json:"created_at,omitzero"`
	UpdatedAt        time.Time       `json:"updated_at,omitzero"`
}

// PriceImpactRecord caches per-transaction execution pricing, keyed uniquely
// on the transaction hash so re-processing the same transaction overwrites
// rather than duplicates.
type PriceImpactRecord struct {
	TxHash           string           `json:"tx_hash"`
	Buyer            string           `json:"buyer"`
	SourceToken      string           `json:"source_token"`
	DestinationToken string           `json:"destination_token"`
	PriceImpact      *decimal.Decimal `json:"price_impact,omitempty"`
	SlippagePct      *decimal.Decimal `json:"slippage_percent,omitempty"`
	AmountIn         string           `json:"amount_in,omitempty"`
	AmountOut        string           `json:"amount_out,omitempty"`
	CreatedAt        time.Time        `json:"created_at,omitzero"`
}
