package pricing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// MaxAmount is the largest price a single menu or free-form item may carry ($1,000,000.00).
const MaxAmount Money = 100_000_000

// ErrInvalidAmount is returned when a decimal amount cannot be parsed.
var ErrInvalidAmount = errors.New("pricing: invalid amount")

// Sum adds the provided amounts.
func Sum(amounts ...Money) Money {
	var total Money
	for _, a := range amounts {
		total += a
	}
	return total
}

// Total computes the price of a wrap: the base price plus every selected item.
func Total(base Money, items []Money) Money {
	return base + Sum(items...)
}

// Format renders an amount the way the menu shows it, e.g. "$8.49".
func Format(m Money) string {
	sign := ""
	if m < 0 {
		sign = "-"
		m = -m
	}
	return fmt.Sprintf("%s$%d.%02d", sign, m/100, m%100)
}

// Decimal renders an amount as a plain decimal string without currency symbol.
func Decimal(m Money) string {
	return strings.Replace(Format(m), "$", "", 1)
}

// ParseDecimal converts a decimal string such as "6.99" or "1" into minor units.
// At most two fractional digits are accepted.
func ParseDecimal(value string) (Money, error) {
	v := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "$"))
	neg := false
	if strings.HasPrefix(v, "-") {
		neg = true
		v = v[1:]
	}
	whole, frac, hasFrac := strings.Cut(v, ".")
	if whole == "" && !hasFrac {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if !digits(whole) || (hasFrac && (len(frac) == 0 || len(frac) > 2 || !digits(frac))) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	var cents int64
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		cents, _ = strconv.ParseInt(frac, 10, 64)
	}
	var units int64
	if whole != "" {
		var err error
		units, err = strconv.ParseInt(whole, 10, 64)
		if err != nil || units > (math.MaxInt64-cents)/100 {
			return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, value)
		}
	}
	total := units*100 + cents
	if neg {
		total = -total
	}
	return total, nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
