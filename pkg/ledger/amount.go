package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TinybarsPerHbar is the number of tinybars in one HBAR
const TinybarsPerHbar int64 = 100_000_000

var tinybarScale = decimal.NewFromInt(TinybarsPerHbar)

// ParseHbar converts a decimal HBAR string ("5", "0.25") into tinybars.
// Amounts finer than one tinybar are rejected rather than rounded.
func ParseHbar(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid hbar amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("invalid hbar amount %q: must not be negative", s)
	}
	tiny := d.Mul(tinybarScale)
	if !tiny.Equal(tiny.Truncate(0)) {
		return 0, fmt.Errorf("invalid hbar amount %q: finer than one tinybar", s)
	}
	if !tiny.IsInteger() || tiny.GreaterThan(decimal.NewFromInt(1<<62)) {
		return 0, fmt.Errorf("invalid hbar amount %q: out of range", s)
	}
	return tiny.IntPart(), nil
}

// FormatHbar renders tinybars as a decimal HBAR string
func FormatHbar(tinybars int64) string {
	return decimal.NewFromInt(tinybars).Div(tinybarScale).String()
}

// Hbar converts whole HBAR into tinybars
func Hbar(n int64) int64 {
	return n * TinybarsPerHbar
}
