package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ImpactSeverity buckets a price impact by magnitude.
type ImpactSeverity string

const (
	ImpactLow     ImpactSeverity = "low"
	ImpactMedium  ImpactSeverity = "medium"
	ImpactHigh    ImpactSeverity = "high"
	ImpactExtreme ImpactSeverity = "extreme"
)

var (
	impactDisplayFloor = decimal.RequireFromString("0.01")
	severityMedium     = decimal.NewFromInt(1)
	severityHigh       = decimal.NewFromInt(3)
	severityExtreme    = decimal.NewFromInt(5)
)

// FormatPriceImpact renders a signed impact percentage for display.
// Nil means the impact is unknown.
func FormatPriceImpact(impact *decimal.Decimal) string {
	if impact == nil {
		return "N/A"
	}

	sign := "+"
	if impact.IsNegative() {
		sign = "-"
	}

	abs := impact.Abs()
	if abs.LessThan(impactDisplayFloor) {
		return fmt.Sprintf("%s<0.01%%", sign)
	}

	return fmt.Sprintf("%s%s%%", sign, abs.StringFixed(2))
}

// PriceImpactSeverity classifies the magnitude of a price impact.
func PriceImpactSeverity(impact decimal.Decimal) ImpactSeverity {
	abs := impact.Abs()
	switch {
	case abs.LessThan(severityMedium):
		return ImpactLow
	case abs.LessThan(severityHigh):
		return ImpactMedium
	case abs.LessThan(severityExtreme):
		return ImpactHigh
	default:
		return ImpactExtreme
	}
}
