package pool

import (
	"github.com/holiman/uint256"
)

// MintShares converts a deposited token amount into shares at the current ratio.
// The first deposit into an empty pool mints 1:1.
func MintShares(totalShares, locked, amount *uint256.Int) (*uint256.Int, error) {
	minted := amount.Clone()
	if !totalShares.IsZero() {
		if locked.IsZero() {
			return nil, ErrMissingBacking
		}
		var overflow bool
		minted, overflow = new(uint256.Int).MulDivOverflow(amount, totalShares, locked)
		if overflow {
			return nil, ErrOverflow
		}
	}
	if minted.IsZero() {
		return nil, ErrZeroMint
	}
	if !fitsU128(minted) {
		return nil, ErrOverflow
	}
	return minted, nil
}

// RedeemAmount converts shares back into the token amount they claim.
func RedeemAmount(totalShares, locked, shares *uint256.Int) (*uint256.Int, error) {
	if totalShares.IsZero() {
		return nil, ErrEmptyPool
	}
	amount, overflow := new(uint256.Int).MulDivOverflow(shares, locked, totalShares)
	if overflow || !fitsU128(amount) {
		return nil, ErrOverflow
	}
	return amount, nil
}

// VirtualPrice is the token value of one share scaled by PriceScale.
func VirtualPrice(totalShares, locked *uint256.Int) *uint256.Int {
	if totalShares.IsZero() {
		return PriceScale.Clone()
	}
	price, _ := new(uint256.Int).MulDivOverflow(locked, PriceScale, totalShares)
	return price
}
