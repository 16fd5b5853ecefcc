// Package money provides shared kwanza parsing and formatting utilities.
//
// Amounts use 2 decimal places and are stored as big.Int in centimos
// (1 Kz = 100 units).
package money

import (
	"math/big"
	"strings"
)

const Decimals = 2

// Currency is the only currency the platform settles in.
const Currency = "Kz"

// Parse converts a decimal string (e.g. "1500.50") to its smallest-unit
// big.Int representation (150050). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 2 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	// Pad or trim to 2 decimals
	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a smallest-unit big.Int to a human-readable decimal
// string with exactly 2 decimal places (e.g. "1500.50").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// Add returns the canonical sum of two decimal strings. Invalid inputs
// are treated as zero.
func Add(a, b string) string {
	x, ok := Parse(a)
	if !ok {
		x = big.NewInt(0)
	}
	y, ok := Parse(b)
	if !ok {
		y = big.NewInt(0)
	}
	return Format(new(big.Int).Add(x, y))
}

// Sub returns a minus b as a canonical decimal string. The result may
// be negative; callers decide whether that is an error.
func Sub(a, b string) string {
	x, ok := Parse(a)
	if !ok {
		x = big.NewInt(0)
	}
	y, ok := Parse(b)
	if !ok {
		y = big.NewInt(0)
	}
	return Format(new(big.Int).Sub(x, y))
}

// Cmp compares two decimal strings, returning -1, 0 or 1. Invalid
// inputs compare as zero.
func Cmp(a, b string) int {
	x, ok := Parse(a)
	if !ok {
		x = big.NewInt(0)
	}
	y, ok := Parse(b)
	if !ok {
		y = big.NewInt(0)
	}
	return x.Cmp(y)
}
