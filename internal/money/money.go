// Package money provides exact decimal arithmetic for monetary values.
// All amounts are USD with two fractional digits; nothing in this codebase
// may use floating point for money.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is an exact decimal dollar value. The zero value is $0.00.
type Amount struct {
	d decimal.Decimal
}

// FromCents returns an Amount worth the given number of whole cents.
func FromCents(cents int64) Amount {
	return Amount{decimal.New(cents, -2)}
}

// FromDecimal wraps a raw decimal as an Amount without rounding.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount{d}
}

// Parse accepts "9.91" or "$9.91" (optionally negative).
func Parse(s string) (Amount, error) {
	trimmed := strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(trimmed, "-") {
		neg = true
		trimmed = trimmed[1:]
	}
	trimmed = strings.TrimPrefix(trimmed, "$")
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if neg {
		d = d.Neg()
	}
	return Amount{d}, nil
}

// Decimal returns the underlying decimal value.
func (a Amount) Decimal() decimal.Decimal { return a.d }

// Cents returns the value in whole cents. It panics if the value is not
// cent-quantized; callers round explicitly before persisting.
func (a Amount) Cents() int64 {
	if !a.IsQuantized() {
		panic(fmt.Sprintf("money: %s is not cent-quantized", a.d))
	}
	return a.d.Shift(2).IntPart()
}

// IsQuantized reports whether the value has no sub-cent component.
func (a Amount) IsQuantized() bool {
	return a.d.Equal(a.d.Round(2))
}

func (a Amount) Add(b Amount) Amount      { return Amount{a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount      { return Amount{a.d.Sub(b.d)} }
func (a Amount) Mul(b Amount) Amount      { return Amount{a.d.Mul(b.d)} }
func (a Amount) Div(b Amount) Amount      { return Amount{a.d.Div(b.d)} }
func (a Amount) MulInt(n int64) Amount    { return Amount{a.d.Mul(decimal.NewFromInt(n))} }
func (a Amount) DivInt(n int64) Amount    { return Amount{a.d.Div(decimal.NewFromInt(n))} }
func (a Amount) Equal(b Amount) bool      { return a.d.Equal(b.d) }
func (a Amount) LessThan(b Amount) bool   { return a.d.LessThan(b.d) }
func (a Amount) GreaterThan(b Amount) bool { return a.d.GreaterThan(b.d) }
func (a Amount) IsPositive() bool         { return a.d.IsPositive() }
func (a Amount) IsZero() bool             { return a.d.IsZero() }

// FloorCents rounds down to the cent below.
func (a Amount) FloorCents() Amount { return Amount{a.d.RoundFloor(2)} }

// RoundHalfEvenCents applies banker's rounding at the cent boundary.
func (a Amount) RoundHalfEvenCents() Amount { return Amount{a.d.RoundBank(2)} }

// String formats without a currency sign, always two decimals when quantized.
func (a Amount) String() string { return a.d.StringFixed(2) }

// GatewayAmount renders the fixed gateway wire format "$123.45". The input
// must already be cent-quantized; a sub-cent remainder is a fault, never
// silently truncated.
func (a Amount) GatewayAmount() (string, error) {
	if !a.IsQuantized() {
		return "", fmt.Errorf("money: %s has a sub-cent remainder, refusing to format", a.d)
	}
	return "$" + a.d.StringFixed(2), nil
}

// DisplayAmount renders for humans, rounding half-up at the cent boundary.
func (a Amount) DisplayAmount() string {
	return "$" + a.d.Round(2).StringFixed(2)
}

// Zero is $0.00.
var Zero = Amount{}

// One cent, the smallest representable contribution.
var OneCent = FromCents(1)
