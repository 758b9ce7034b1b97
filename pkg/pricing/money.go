package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FormatCents renders an amount in cents as a two-decimal string.
func FormatCents(cents int64) string {
	return decimal.NewFromInt(cents).Shift(-2).StringFixed(2)
}

// ParseCents reads a decimal amount such as "12.50" into cents. More than two
// fractional digits is rejected rather than rounded.
func ParseCents(value string) (int64, error) {
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	cents := amount.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has sub-cent precision", value)
	}
	return cents.IntPart(), nil
}
