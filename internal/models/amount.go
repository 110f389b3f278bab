package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the fixed-point factor applied to every stored amount (5 decimal places).
const Scale = 100000

// MaxAmount is the exclusive upper bound accepted for user-entered amounts.
const MaxAmount Amount = 1_000_000_000 * Scale

// DisplayThreshold is the smallest debt shown in balance listings (0.001).
const DisplayThreshold Amount = 100

var (
	ErrInvalidAmount    = errors.New("invalid amount, please enter a number")
	ErrAmountOutOfRange = errors.New("amount must be between 0 and 1,000,000,000")
)

// Amount is a money value scaled by Scale ("u5" units).
type Amount int64

// ParseAmount parses user input such as "12.5", "12,5" or "1 200" into an Amount.
// Digits past the fifth decimal are truncated. The result is always in (0, MaxAmount).
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return 0, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	a := Amount(d.Shift(5).Truncate(0).IntPart())
	if !d.IsPositive() || a <= 0 || a >= MaxAmount {
		return 0, ErrAmountOutOfRange
	}
	return a, nil
}

// AmountFromDecimal converts a decimal into an Amount, truncating past 5 decimals.
func AmountFromDecimal(d decimal.Decimal) Amount {
	return Amount(d.Shift(5).Truncate(0).IntPart())
}

// Decimal returns the amount as an exact decimal value.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -5)
}

// String renders the amount the way members see it: at most 3 decimals,
// trailing zeros trimmed and thousands separated by commas.
func (a Amount) String() string {
	fixed := a.Decimal().Round(3).StringFixed(3)

	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign = "-"
		fixed = fixed[1:]
	}

	intPart, frac, _ := strings.Cut(fixed, ".")
	frac = strings.TrimRight(frac, "0")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}

	if frac == "" {
		return sign + b.String()
	}
	return fmt.Sprintf("%s%s.%s", sign, b.String(), frac)
}
