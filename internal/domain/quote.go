package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrNoQuote signals that the router returned no usable quote (zero output
// amount). It is an expected outcome, not an execution failure: the caller
// should skip the attempt without recording a failure.
var ErrNoQuote = errors.New("no usable quote")

// QuoteErrorKind tags expected, recoverable router error conditions.
type QuoteErrorKind string

const (
	// QuoteErrAmountNotSupported means the aggregator rejected the input
	// amount (HTTP 400), typically too small or too large for liquidity.
	QuoteErrAmountNotSupported QuoteErrorKind = "AMOUNT_NOT_SUPPORTED"
	// QuoteErrAPI covers any other non-2xx aggregator response.
	QuoteErrAPI QuoteErrorKind = "API_ERROR"
)

// QuoteError is a soft router failure: the aggregator answered, but with a
// non-2xx status. Network and decode failures are returned as plain errors
// and must be treated as hard.
type QuoteError struct {
	Kind    QuoteErrorKind
	Status  int
	Message string
}

func (e *QuoteError) Error() string {
	return fmt.Sprintf("quote rejected (%s, status %d): %s", e.Kind, e.Status, e.Message)
}

// Quote is an executable swap plan from the aggregator.
type Quote struct {
	// AmountOut is the expected output amount in base units. Always positive:
	// a zero-output quote is rejected before a Quote is constructed.
	AmountOut *big.Int
	// MinAmountOut is the aggregator's minimum-output guarantee, if present.
	MinAmountOut *big.Int
	// PriceImpact is signed: positive means output exceeds the neutral-price
	// baseline (favorable), negative means unfavorable.
	PriceImpact decimal.Decimal
	// SlippagePct is the aggregator's slippage tolerance, if present.
	SlippagePct *decimal.Decimal
	// Steps is the flattened on-chain call sequence realizing the quote.
	Steps []Step
	// RequestID identifies the quote at the aggregator.
	RequestID string
	// Raw is the full aggregator response, persisted for audit.
	Raw json.RawMessage
}
