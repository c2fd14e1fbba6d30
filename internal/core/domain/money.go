package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits kept for every monetary value.
const AmountScale int32 = 2

// RoundAmount rounds to two decimal places, halves away from zero (10.005 -> 10.01).
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// ParseAmount parses a decimal string and rounds it to the ledger scale.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return RoundAmount(d), nil
}

// FormatAmount renders an amount with exactly two fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(AmountScale)
}
