package pool

import (
	"fmt"
	"maps"
	"slices"

	"github.com/holiman/uint256"
)

// Ledger maps accounts to share balances and owns the total share supply.
// A registered account with a zero balance is still present in the ledger.
type Ledger struct {
	balances map[string]*uint256.Int
	total    uint256.Int

	// accounts written since the last takeTouched call
	touched map[string]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: map[string]*uint256.Int{},
		touched:  map[string]struct{}{},
	}
}

// Deposit credits amount shares to account, registering it if needed.
func (l *Ledger) Deposit(account string, amount *uint256.Int) error {
	balance := l.Balance(account)
	newBalance, err := add128(balance, amount)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", account, err)
	}
	newTotal, err := add128(&l.total, amount)
	if err != nil {
		return fmt.Errorf("total shares: %w", err)
	}
	l.balances[account] = newBalance
	l.total = *newTotal
	l.touched[account] = struct{}{}
	return nil
}

// Withdraw burns amount shares from account.
func (l *Ledger) Withdraw(account string, amount *uint256.Int) error {
	balance := l.Balance(account)
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, account, balance.Dec(), amount.Dec())
	}
	newTotal, err := sub128(&l.total, amount)
	if err != nil {
		return fmt.Errorf("total shares: %w", err)
	}
	l.balances[account] = new(uint256.Int).Sub(balance, amount)
	l.total = *newTotal
	l.touched[account] = struct{}{}
	return nil
}

// Remove unregisters an account. Only zero balances can be removed.
func (l *Ledger) Remove(account string) error {
	balance, ok := l.balances[account]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, account)
	}
	if !balance.IsZero() {
		return fmt.Errorf("%w: %s has %s", ErrNonZeroBalance, account, balance.Dec())
	}
	delete(l.balances, account)
	l.touched[account] = struct{}{}
	return nil
}

// Balance returns a copy of the account's balance, zero when absent.
func (l *Ledger) Balance(account string) *uint256.Int {
	if balance, ok := l.balances[account]; ok {
		return balance.Clone()
	}
	return new(uint256.Int)
}

func (l *Ledger) Has(account string) bool {
	_, ok := l.balances[account]
	return ok
}

func (l *Ledger) Total() *uint256.Int {
	return l.total.Clone()
}

func (l *Ledger) Len() int {
	return len(l.balances)
}

// Accounts returns the registered accounts in sorted order.
func (l *Ledger) Accounts() []string {
	return slices.Sorted(maps.Keys(l.balances))
}

// takeTouched returns the accounts written since the previous call, mapped to their
// current balance, or nil when the account was removed.
func (l *Ledger) takeTouched() map[string]*uint256.Int {
	if len(l.touched) == 0 {
		return nil
	}
	ret := make(map[string]*uint256.Int, len(l.touched))
	for account := range l.touched {
		if balance, ok := l.balances[account]; ok {
			ret[account] = balance.Clone()
		} else {
			ret[account] = nil
		}
	}
	l.touched = map[string]struct{}{}
	return ret
}

// loadLedger rebuilds a ledger from persisted balances, recomputing the total.
func loadLedger(balances map[string]*uint256.Int) (*Ledger, error) {
	l := NewLedger()
	for account, balance := range balances {
		if balance == nil || !fitsU128(balance) {
			return nil, fmt.Errorf("%w: balance of %s", ErrCorruptState, account)
		}
		newTotal, err := add128(&l.total, balance)
		if err != nil {
			return nil, fmt.Errorf("%w: total shares overflow", ErrCorruptState)
		}
		l.balances[account] = balance.Clone()
		l.total = *newTotal
	}
	return l, nil
}
