package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is the fixed-scale unit used for every stored amount. Display values
// and gateway payloads use decimal dollars with two fractional digits.
type Cents = int64

// FromCents converts a cent amount to a two-decimal dollar value.
func FromCents(amount Cents) decimal.Decimal {
	return decimal.NewFromInt(amount).Shift(-2)
}

// ToCents converts a dollar value to cents, rounding half away from zero.
func ToCents(amount decimal.Decimal) Cents {
	return amount.Shift(2).Round(0).IntPart()
}

// Format renders a cent amount as a plain "12.34" string.
func Format(amount Cents) string {
	return FromCents(amount).StringFixed(2)
}

// LineTotal computes quantity x unit price without intermediate rounding.
func LineTotal(qty int, unitPriceCents Cents) Cents {
	return int64(qty) * unitPriceCents
}

// DriftBPS returns the absolute price drift between the snapshot and the
// live price, in basis points of the snapshot. A zero snapshot with a
// non-zero live price reports the maximum representable drift.
func DriftBPS(snapshotCents, liveCents Cents) int64 {
	if snapshotCents == liveCents {
		return 0
	}
	if snapshotCents == 0 {
		return 10000
	}
	diff := decimal.NewFromInt(liveCents).Sub(decimal.NewFromInt(snapshotCents)).Abs()
	return diff.Mul(decimal.NewFromInt(10000)).
		Div(decimal.NewFromInt(snapshotCents)).
		Round(0).
		IntPart()
}

// WithinTolerance reports whether the drift between snapshot and live price
// stays within the given basis-point budget.
func WithinTolerance(snapshotCents, liveCents, toleranceBPS int64) bool {
	return DriftBPS(snapshotCents, liveCents) <= toleranceBPS
}

// ParseAmount parses a decimal string such as "20.00" into cents. Amounts
// with more than two fractional digits are rejected rather than rounded.
func ParseAmount(value string) (Cents, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", value, err)
	}
	shifted := d.Shift(2)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has sub-cent precision", value)
	}
	return shifted.IntPart(), nil
}
