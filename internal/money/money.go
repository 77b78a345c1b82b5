// Package money provides shared amount parsing and formatting utilities.
//
// Wallet balances use 2 decimal places. All amounts are stored as int64
// in cents (1 dollar = 100 cents).
package money

import (
	"fmt"
	"strconv"
	"strings"
)

const Decimals = 2

// Parse converts a decimal string (e.g. "1.50") to its cent
// representation (150). Returns (0, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 2 decimal places
func Parse(s string) (int64, bool) {
	if s == "" {
		return 0, true
	}

	if strings.HasPrefix(s, "-") {
		return 0, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, false
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

	cents, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, false
	}
	return cents, true
}

// Format converts a cent amount to a human-readable decimal string with
// exactly 2 decimal places (e.g. "1.50").
func Format(cents int64) string {
	neg := ""
	if cents < 0 {
		neg = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", neg, cents/100, cents%100)
}
