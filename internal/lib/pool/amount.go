package pool

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Balances are unsigned 128-bit values. They are carried in uint256.Int so that
// products of two balances never overflow before the final floor division, and
// range-checked back down to 128 bits on every write.

const u128Bits = 128

var (
	one = uint256.NewInt(1)

	// MinResidualShares is the smallest non-zero share supply allowed to remain after an unstake.
	MinResidualShares = uint256.NewInt(1_000_000_000_000_000_000)

	// PriceScale is the fixed-point scale of VirtualPrice, also its value for an empty pool.
	PriceScale = uint256.NewInt(100_000_000)
)

func fitsU128(x *uint256.Int) bool {
	return x.BitLen() <= u128Bits
}

func add128(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow || !fitsU128(sum) {
		return nil, ErrOverflow
	}
	return sum, nil
}

func sub128(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrOverflow
	}
	return diff, nil
}

func minAmount(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// ParseAmount parses a decimal string into a 128-bit amount.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidAmount)
	}
	if s[0] == '+' || s[0] == '-' {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if !fitsU128(v) {
		return nil, fmt.Errorf("%w: %q exceeds 128 bits", ErrInvalidAmount, s)
	}
	return v, nil
}

// MustParseAmount is ParseAmount for constants and tests.
func MustParseAmount(s string) *uint256.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatAmount renders an amount as the decimal string used at every boundary.
func FormatAmount(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}
