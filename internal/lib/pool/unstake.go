package pool

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakepool/internal/lib/misc"
)

type WithdrawalStatus uint8

const (
	StatusRequested WithdrawalStatus = iota
	StatusTransferPending
	StatusCompleted
	StatusRolledBack
)

func (s WithdrawalStatus) String() string {
	switch s {
	case StatusRequested:
		return "requested"
	case StatusTransferPending:
		return "transfer_pending"
	case StatusCompleted:
		return "completed"
	case StatusRolledBack:
		return "rolled_back"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// Withdrawal is one unstake request. Its ID correlates the outbound transfer with
// the settlement that eventually resolves it.
type Withdrawal struct {
	ID      string
	Account string
	// Amount is the token amount being transferred out
	Amount uint256.Int
	// Shares burned by the request
	Shares uint256.Int
	Status WithdrawalStatus
	// Reverted is set on rolled back withdrawals whose shares were credited back
	Reverted    bool
	RequestedAt uint32
	SettledAt   uint32
}

// Outcome is the result the token service reports for a transfer.
type Outcome bool

const (
	OutcomeSuccess Outcome = true
	OutcomeFailure Outcome = false
)

// Unstake burns shares of account and releases the tokens they claim. amount nil
// means the full balance. The returned withdrawal is already committed; the caller
// must issue the transfer and later report its outcome through Settle.
func (p *Pool) Unstake(account string, amount *uint256.Int, attached *uint256.Int) (Withdrawal, error) {
	if attached == nil || !attached.Eq(one) {
		return Withdrawal{}, ErrAttachedDeposit
	}
	now := p.now()
	next, err := p.checkpointed()
	if err != nil {
		return Withdrawal{}, err
	}

	balance := p.ledger.Balance(account)
	shares := balance
	if amount != nil {
		shares = amount.Clone()
	}
	if shares.IsZero() {
		return Withdrawal{}, ErrZeroAmount
	}
	total := p.ledger.Total()
	if total.IsZero() {
		return Withdrawal{}, ErrEmptyPool
	}
	if balance.Lt(shares) {
		return Withdrawal{}, fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, account, balance.Dec(), shares.Dec())
	}
	unlocked, err := RedeemAmount(total, &next.LockedAmount, shares)
	if err != nil {
		return Withdrawal{}, err
	}
	remaining, err := sub128(total, shares)
	if err != nil {
		return Withdrawal{}, fmt.Errorf("total shares: %w", err)
	}
	if !remaining.IsZero() && remaining.Lt(MinResidualShares) {
		return Withdrawal{}, fmt.Errorf("%w: %s shares would remain", ErrDustResidual, remaining.Dec())
	}
	locked, err := sub128(&next.LockedAmount, unlocked)
	if err != nil {
		return Withdrawal{}, fmt.Errorf("locked amount: %w", err)
	}
	if err := p.ledger.Withdraw(account, shares); err != nil {
		return Withdrawal{}, err
	}
	next.LockedAmount = *locked
	p.commit(next)

	w := &Withdrawal{
		ID:          uuid.NewString(),
		Account:     account,
		Amount:      *unlocked,
		Shares:      *shares,
		Status:      StatusTransferPending,
		RequestedAt: now,
	}
	p.pending[w.ID] = w
	p.touchedDraws = append(p.touchedDraws, *w)

	misc.Infof(p.logger, "withdraw %s unlocked tokens (%s shares) for %s, request:%s", unlocked.Dec(), shares.Dec(), account, w.ID)
	return *w, nil
}

// Settle resolves a pending withdrawal. A failed transfer is compensated by
// crediting the shares and the locked amount back, unless the account has been
// unregistered meanwhile, in which case the tokens stay in the pool as surplus.
func (p *Pool) Settle(id string, outcome Outcome) (Withdrawal, error) {
	w, ok := p.pending[id]
	if !ok {
		return Withdrawal{}, fmt.Errorf("%w: %s", ErrUnknownWithdrawal, id)
	}
	settled := *w
	settled.SettledAt = p.now()

	if outcome == OutcomeSuccess {
		settled.Status = StatusCompleted
		misc.Infof(p.logger, "withdrawal %s of %s tokens to %s completed", id, settled.Amount.Dec(), settled.Account)
		p.finish(settled)
		p.emit(EventWithdrawSucceeded, settled.Account, &settled.Amount)
		return settled, nil
	}

	next := p.state
	if p.ledger.Has(settled.Account) {
		locked, err := add128(&next.LockedAmount, &settled.Amount)
		if err != nil {
			return Withdrawal{}, fmt.Errorf("revert locked amount: %w", err)
		}
		if err := p.ledger.Deposit(settled.Account, &settled.Shares); err != nil {
			return Withdrawal{}, fmt.Errorf("revert shares: %w", err)
		}
		next.LockedAmount = *locked
		settled.Reverted = true
		misc.Infof(p.logger, "account %s unstake failed and reverted, request:%s", settled.Account, id)
	} else {
		surplus, err := add128(&next.Surplus, &settled.Amount)
		if err != nil {
			return Withdrawal{}, fmt.Errorf("surplus: %w", err)
		}
		next.Surplus = *surplus
		misc.Warnf(p.logger, "account %s has unregistered, %s unlocked tokens stay in the pool, request:%s",
			settled.Account, settled.Amount.Dec(), id)
	}
	p.commit(next)
	settled.Status = StatusRolledBack
	p.finish(settled)
	p.emit(EventWithdrawFailed, settled.Account, &settled.Amount)
	return settled, nil
}

func (p *Pool) finish(w Withdrawal) {
	delete(p.pending, w.ID)
	p.touchedDraws = append(p.touchedDraws, w)
}

// PendingWithdrawals returns the withdrawals awaiting settlement, oldest first.
func (p *Pool) PendingWithdrawals() []Withdrawal {
	ret := make([]Withdrawal, 0, len(p.pending))
	for _, w := range p.pending {
		ret = append(ret, *w)
	}
	slices.SortFunc(ret, func(a, b Withdrawal) int {
		if c := cmp.Compare(a.RequestedAt, b.RequestedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return ret
}

// PendingWithdrawal returns the pending withdrawal with the given id.
func (p *Pool) PendingWithdrawal(id string) (Withdrawal, bool) {
	w, ok := p.pending[id]
	if !ok {
		return Withdrawal{}, false
	}
	return *w, true
}
