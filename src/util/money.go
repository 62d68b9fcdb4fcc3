package util

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// CurrencyFraction returns the number of minor-unit digits for an ISO 4217 code.
func CurrencyFraction(code string) (int, error) {
	c := money.GetCurrency(code)
	if c == nil {
		return 0, fmt.Errorf("unknown currency %q", code)
	}
	return c.Fraction, nil
}

// ParseAmount converts a major-unit decimal string ("1500.50") into integer
// minor units of the currency. Values with more decimals than the currency
// allows are rejected rather than rounded.
func ParseAmount(raw, code string) (int64, error) {
	fraction, err := CurrencyFraction(code)
	if err != nil {
		return 0, err
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	minor := d.Shift(int32(fraction))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", raw, fraction)
	}
	if !minor.Equal(decimal.NewFromInt(minor.IntPart())) {
		return 0, fmt.Errorf("amount %q is out of range", raw)
	}
	return minor.IntPart(), nil
}

// MajorUnits renders minor units as a plain decimal string for JSON and CLI output.
func MajorUnits(minor int64, code string) string {
	fraction, err := CurrencyFraction(code)
	if err != nil {
		fraction = 2
	}
	return decimal.New(minor, -int32(fraction)).StringFixed(int32(fraction))
}

// FormatAmount renders minor units with the currency's symbol and grouping.
func FormatAmount(minor int64, code string) string {
	return money.New(minor, code).Display()
}

// SplitAmount divides total into n parts that add back up to total. Leftover
// minor units go to the earliest parts.
func SplitAmount(total int64, n int, code string) ([]int64, error) {
	parts, err := money.New(total, code).Split(n)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(parts))
	for i, p := range parts {
		out[i] = p.Amount()
	}
	return out, nil
}
