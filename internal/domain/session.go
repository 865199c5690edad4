// Package domain defines core data structures used throughout the DCA engine.
package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeToken is the sentinel address denoting the chain's native asset.
var NativeToken = common.Address{}

// Session is one buyer's recurring purchase plan for one destination token.
// It is read fresh from chain state at execution time and never cached as a
// unit of truth.
type Session struct {
	Buyer            common.Address
	SourceToken      common.Address
	DestinationToken common.Address
	// AmountPerDay is the per-purchase input amount in base units.
	AmountPerDay *big.Int
	// DaysLeft is the on-chain countdown, decremented per successful purchase.
	DaysLeft int64
	// NativeSource marks the source as the chain's native asset.
	NativeSource bool
	// BuyTime is the scheduled slot encoded as HHMM (UTC, quarter-hour grid).
	BuyTime int
}

// Active reports whether the session still has purchases to make.
func (s *Session) Active() bool {
	return s.DaysLeft > 0 && s.AmountPerDay != nil && s.AmountPerDay.Sign() > 0
}

// EffectiveSource resolves the token to quote from: the native sentinel when
// the native flag is set, the configured token address otherwise.
func (s *Session) EffectiveSource() common.Address {
	if s.NativeSource {
		return NativeToken
	}
	return s.SourceToken
}

// String returns a short identifier for logs.
func (s *Session) String() string {
	return fmt.Sprintf("%s->%s", s.Buyer.Hex(), s.DestinationToken.Hex())
}

// Step is a single on-chain call produced by the swap router.
type Step struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}
