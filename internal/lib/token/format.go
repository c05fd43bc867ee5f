package token

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// FormattedAmount renders a base unit amount with the token's decimals, trailing zeros chopped.
func FormattedAmount(amount *uint256.Int, decimals int) string {
	digits := amount.Dec()
	if decimals <= 0 {
		return digits
	}
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole, frac := digits[:len(digits)-decimals], digits[len(digits)-decimals:]
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// ParseFormattedAmount is the inverse of FormattedAmount: "1.5" with 6 decimals is 1500000.
func ParseFormattedAmount(s string, decimals int) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if hasFrac && len(frac) > max(decimals, 0) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}
	digits := whole + frac
	if decimals > len(frac) {
		digits += strings.Repeat("0", decimals-len(frac))
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	if strings.ContainsFunc(digits, func(r rune) bool { return r < '0' || r > '9' }) {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return uint256.FromDecimal(digits)
}
