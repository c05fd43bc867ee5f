package pool

import (
	"errors"
)

var (
	// user errors - the entry point is aborted and nothing is mutated

	ErrInsufficientBalance = errors.New("the account doesn't have enough balance")
	ErrEmptyPool           = errors.New("total share supply is empty")
	ErrZeroMint            = errors.New("stake too small to mint any share")
	ErrZeroDeposit         = errors.New("deposit amount must be positive")
	ErrZeroAmount          = errors.New("unstake amount must be positive")
	ErrDustResidual        = errors.New("remaining share supply would fall below the minimum")
	ErrIllegalToken        = errors.New("transfer received from an unexpected token")
	ErrIllegalMsg          = errors.New("transfer message is not a known intent")
	ErrAttachedDeposit     = errors.New("requires attached deposit of exactly 1")
	ErrNotOwner            = errors.New("caller is not the owner")
	ErrNotAccountHolder    = errors.New("caller can only unregister its own account")
	ErrResetTimeInPast     = errors.New("reward genesis time can't be reset to a past time")
	ErrGenesisPassed       = errors.New("reward genesis time has already passed")
	ErrNotRegistered       = errors.New("account is not registered")
	ErrNonZeroBalance      = errors.New("account still holds shares")
	ErrInvalidAmount       = errors.New("invalid amount")

	// internal invariant violations

	ErrOverflow          = errors.New("arithmetic overflow")
	ErrMissingBacking    = errors.New("shares outstanding without locked amount")
	ErrUnknownWithdrawal = errors.New("settlement for unknown or already settled withdrawal")
	ErrCorruptState      = errors.New("share ledger does not sum to total shares")
)

var internalErrors = []error{ErrOverflow, ErrMissingBacking, ErrUnknownWithdrawal, ErrCorruptState}

// IsInternal reports whether err is an internal invariant violation rather than
// a caller mistake.
func IsInternal(err error) bool {
	for _, target := range internalErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInsufficientBalance, "ERR_INSUFFICIENT_BALANCE"},
	{ErrEmptyPool, "ERR_EMPTY_TOTAL_SUPPLY"},
	{ErrZeroMint, "ERR_STAKE_TOO_SMALL"},
	{ErrZeroDeposit, "ERR_ZERO_DEPOSIT"},
	{ErrZeroAmount, "ERR_ZERO_AMOUNT"},
	{ErrDustResidual, "ERR_KEEP_AT_LEAST_ONE_STAKED_TOKEN"},
	{ErrIllegalToken, "ERR_ILLEGAL_TOKEN"},
	{ErrIllegalMsg, "ERR_ILLEGAL_MSG"},
	{ErrAttachedDeposit, "ERR_ATTACHED_DEPOSIT"},
	{ErrNotOwner, "ERR_NOT_AN_OWNER"},
	{ErrNotAccountHolder, "ERR_NOT_ACCOUNT_HOLDER"},
	{ErrResetTimeInPast, "ERR_RESET_TIME_IS_PAST_TIME"},
	{ErrGenesisPassed, "ERR_REWARD_GENESIS_TIME_PASSED"},
	{ErrNotRegistered, "ERR_NOT_REGISTERED"},
	{ErrNonZeroBalance, "ERR_NON_ZERO_BALANCE"},
	{ErrInvalidAmount, "ERR_INVALID_AMOUNT"},
	{ErrOverflow, "ERR_OVERFLOW"},
	{ErrMissingBacking, "ERR_INTERNAL"},
	{ErrUnknownWithdrawal, "ERR_UNKNOWN_WITHDRAWAL"},
	{ErrCorruptState, "ERR_CORRUPT_STATE"},
}

// Code returns the short error code surfaced to callers, or ERR_UNKNOWN.
func Code(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "ERR_UNKNOWN"
}
