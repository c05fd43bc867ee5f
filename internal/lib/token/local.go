package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakepool/internal/lib/misc"
)

var (
	ErrUnknownAccount    = errors.New("account is not registered with the token")
	ErrInsufficientFunds = errors.New("not enough tokens")
)

// Local is an in-process token ledger used for the sandbox network and tests. It
// behaves like the remote service: deposits call the receiver synchronously and
// refund on error, outbound transfers settle asynchronously.
type Local struct {
	log         *slog.Logger
	tokenID     string
	poolAccount string

	mu       sync.Mutex
	balances map[string]*uint256.Int

	receiver Receiver
	settler  SettlementHandler
	wg       sync.WaitGroup
}

func NewLocal(log *slog.Logger, tokenID, poolAccount string) *Local {
	return &Local{
		log:         log,
		tokenID:     tokenID,
		poolAccount: poolAccount,
		balances:    map[string]*uint256.Int{poolAccount: new(uint256.Int)},
	}
}

// Bind connects the pool. It must be called before any transfer.
func (l *Local) Bind(receiver Receiver, settler SettlementHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receiver = receiver
	l.settler = settler
}

func (l *Local) TokenID() string {
	return l.tokenID
}

func (l *Local) PoolAccount() string {
	return l.poolAccount
}

// Register adds an account with an empty balance, keeping existing balances.
func (l *Local) Register(account string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.balances[account]; !ok {
		l.balances[account] = new(uint256.Int)
	}
}

// Unregister removes an account, it must be empty.
func (l *Local) Unregister(account string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[account]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	if !balance.IsZero() {
		return fmt.Errorf("account %s still holds %s tokens", account, balance.Dec())
	}
	delete(l.balances, account)
	return nil
}

func (l *Local) Mint(account string, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[account]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	sum, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow || sum.BitLen() > 128 {
		return fmt.Errorf("mint of %s to %s overflows", amount.Dec(), account)
	}
	l.balances[account] = sum
	return nil
}

func (l *Local) BalanceOf(account string) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if balance, ok := l.balances[account]; ok {
		return balance.Clone()
	}
	return new(uint256.Int)
}

// Balances returns every registered account and its balance.
func (l *Local) Balances() map[string]*uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	ret := make(map[string]*uint256.Int, len(l.balances))
	for account, balance := range l.balances {
		ret[account] = balance.Clone()
	}
	return ret
}

func (l *Local) move(from, to string, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	src, ok := l.balances[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, from)
	}
	dst, ok := l.balances[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, to)
	}
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from, src.Dec(), amount.Dec())
	}
	l.balances[from] = new(uint256.Int).Sub(src, amount)
	l.balances[to] = new(uint256.Int).Add(dst, amount)
	return nil
}

// TransferCall sends amount from sender to the pool along with msg, then notifies
// the pool. Whatever the pool refunds, or everything when it fails, goes back to the
// sender. It returns the amount the pool kept.
func (l *Local) TransferCall(ctx context.Context, sender string, amount *uint256.Int, msg string) (*uint256.Int, error) {
	l.mu.Lock()
	receiver := l.receiver
	l.mu.Unlock()
	if receiver == nil {
		return nil, fmt.Errorf("no receiver bound to %s", l.poolAccount)
	}
	if err := l.move(sender, l.poolAccount, amount); err != nil {
		return nil, err
	}
	refund, err := receiver.OnTransfer(ctx, Notification{ID: uuid.NewString(), TokenID: l.tokenID, Sender: sender, Amount: amount.Clone(), Msg: msg})
	if err != nil || refund == nil || refund.Gt(amount) {
		refund = amount.Clone()
	}
	if !refund.IsZero() {
		if rerr := l.move(l.poolAccount, sender, refund); rerr != nil {
			misc.Errorf(l.log, "refund of %s to %s failed: %v", refund.Dec(), sender, rerr)
		}
	}
	return new(uint256.Int).Sub(amount, refund), err
}

// Transfer moves tokens out of the pool account. The transfer and its settlement run
// in the background, a receiver that isn't registered makes it fail.
func (l *Local) Transfer(ctx context.Context, req TransferRequest) error {
	if req.TokenID != l.tokenID {
		return fmt.Errorf("%w: unknown token %s", ErrRejected, req.TokenID)
	}
	l.mu.Lock()
	settler := l.settler
	l.mu.Unlock()
	if settler == nil {
		return fmt.Errorf("%w: no settlement handler bound", ErrUnavailable)
	}
	amount := req.Amount.Clone()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		s := Settlement{ID: req.ID, Success: true}
		if err := l.move(l.poolAccount, req.Receiver, amount); err != nil {
			s.Success = false
			s.Reason = err.Error()
		}
		misc.Debugf(l.log, "transfer %s of %s to %s settled, success:%v", req.ID, amount.Dec(), req.Receiver, s.Success)
		if err := settler.Settle(context.WithoutCancel(ctx), s); err != nil {
			misc.Errorf(l.log, "settlement of transfer %s failed: %v", req.ID, err)
		}
	}()
	return nil
}

// Close waits for in-flight transfers to settle.
func (l *Local) Close() {
	l.wg.Wait()
}
