package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func impactPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestFormatPriceImpact(t *testing.T) {
	tests := []struct {
		name   string
		impact *decimal.Decimal
		want   string
	}{
		{"unknown", nil, "N/A"},
		{"favorable", impactPtr("1.2345"), "+1.23%"},
		{"unfavorable", impactPtr("-0.41"), "-0.41%"},
		{"tiny positive", impactPtr("0.004"), "+<0.01%"},
		{"tiny negative", impactPtr("-0.004"), "-<0.01%"},
		{"zero", impactPtr("0"), "+<0.01%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, FormatPriceImpact(tt.impact))
		})
	}
}

func TestPriceImpactSeverity(t *testing.T) {
	tests := []struct {
		impact string
		want   ImpactSeverity
	}{
		{"0.5", ImpactLow},
		{"-0.99", ImpactLow},
		{"1", ImpactMedium},
		{"-2.5", ImpactMedium},
		{"3", ImpactHigh},
		{"-4.99", ImpactHigh},
		{"5", ImpactExtreme},
		{"-12", ImpactExtreme},
	}

	for _, tt := range tests {
		t.Run(tt.impact, func(t *testing.T) {
			require.Equal(t, tt.want, PriceImpactSeverity(decimal.RequireFromString(tt.impact)))
		})
	}
}
