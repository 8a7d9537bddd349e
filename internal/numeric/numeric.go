// Package numeric provides the fixed-point representation shared by orders,
// trades and balances.
package numeric

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits retained for every quantity and
// monetary amount. Storage columns are NUMERIC(38,8).
const Scale int32 = 8

// Normalize rounds d half away from zero to Scale fractional digits.
func Normalize(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Parse converts a decimal string into a normalized value.
func Parse(s string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("numeric value required")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", trimmed, err)
	}
	return Normalize(d), nil
}

// ParseOptional parses s, returning nil for blank input.
func ParseOptional(s string) (*decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Mul multiplies and normalizes.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return Normalize(a.Mul(b))
}

// WeightedAverage folds a new fill into a running average:
// (avg*filled + price*qty) / (filled + qty), rounded once to Scale digits.
// A zero combined quantity yields zero.
func WeightedAverage(avg, filled, price, qty decimal.Decimal) decimal.Decimal {
	total := filled.Add(qty)
	if total.IsZero() {
		return decimal.Zero
	}
	notional := avg.Mul(filled).Add(price.Mul(qty))
	return notional.DivRound(total, Scale)
}

// Format renders d with exactly Scale fractional digits.
func Format(d decimal.Decimal) string {
	return Normalize(d).StringFixed(Scale)
}

// Ptr returns a pointer to a normalized copy of d.
func Ptr(d decimal.Decimal) *decimal.Decimal {
	n := Normalize(d)
	return &n
}
