// Package staking runs a pool as a service: entry points are serialized, every
// committed change is persisted before the call returns, and withdrawals are
// handed to the token service in the background.
package staking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/antihax/optional"
	"github.com/holiman/uint256"
	"github.com/ssgreg/repeat"

	"github.com/TxnLab/stakepool/internal/lib/misc"
	"github.com/TxnLab/stakepool/internal/lib/pool"
	"github.com/TxnLab/stakepool/internal/lib/store"
	"github.com/TxnLab/stakepool/internal/lib/token"
)

// ErrPersist is returned when a change was applied but couldn't be written. The
// service falls back to the last persisted state.
var ErrPersist = errors.New("pool state could not be persisted")

// Store is the durable side of the pool.
type Store interface {
	Load() (pool.Snapshot, error)
	Save(ch pool.Changes) error
	Withdrawals() ([]pool.Withdrawal, error)
	Transfer(id string) (pool.TransferReceipt, bool, error)
}

type Config struct {
	Logger *slog.Logger
	// Pool is used to create the pool when the store is empty, and for its clock,
	// events and logger otherwise
	Pool   pool.Config
	Store  Store
	Tokens token.Service

	// Workers is the number of concurrent transfer dispatches
	Workers int
	// MaxTries per dispatch of one transfer before it's left for a later redispatch
	MaxTries int
	// RetryDelay is the initial backoff between tries
	RetryDelay time.Duration
	// RedispatchInterval is how often pending withdrawals not in flight are sent again
	RedispatchInterval time.Duration
	// CheckpointInterval runs the reward distributor periodically when set, so
	// persisted state follows the unlocked reward between entry points.
	CheckpointInterval time.Duration
}

type Staking struct {
	log      *slog.Logger
	store    Store
	tokens   token.Service
	poolCfg  pool.Config
	dispatch *dispatcher

	checkpointInterval time.Duration

	// serializes every entry point
	mu   sync.Mutex
	pool *pool.Pool
}

func New(cfg Config) (*Staking, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Pool.Logger == nil {
		cfg.Pool.Logger = cfg.Logger
	}
	s := &Staking{
		log:     cfg.Logger,
		store:   cfg.Store,
		tokens:  cfg.Tokens,
		poolCfg: cfg.Pool,

		checkpointInterval: cfg.CheckpointInterval,
	}
	s.dispatch = newDispatcher(s, cfg)

	snap, err := cfg.Store.Load()
	switch {
	case errors.Is(err, store.ErrNoState):
		s.pool = pool.New(cfg.Pool)
		if err := s.persist(s.pool.TakeChanges()); err != nil {
			return nil, fmt.Errorf("saving new pool: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("loading pool: %w", err)
	default:
		s.pool, err = pool.Restore(cfg.Pool, snap)
		if err != nil {
			return nil, fmt.Errorf("restoring pool: %w", err)
		}
		md := s.pool.Metadata()
		misc.Infof(s.log, "pool restored, owner:%s, token:%s, accounts:%d, pending withdrawals:%d",
			md.Owner, md.TokenID, md.AccountCount, md.PendingWithdrawals)
	}
	updateMetrics(s.pool)
	return s, nil
}

// Start runs the transfer dispatcher until ctx is done, first resending every
// withdrawal still pending from a previous run.
func (s *Staking) Start(ctx context.Context, wg *sync.WaitGroup) {
	s.dispatch.start(ctx, wg)
	s.dispatch.enqueue(s.PendingWithdrawals()...)
	if s.checkpointInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.log.Info("exiting reward checkpoints")
			s.checkpointLoop(ctx)
		}()
	}
}

func (s *Staking) checkpointLoop(ctx context.Context) {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Checkpoint(ctx); err != nil {
				misc.Errorf(s.log, "reward checkpoint failed: %v", err)
			}
		}
	}
}

// Checkpoint distributes the reward unlocked since the last checkpoint and returns it.
func (s *Staking) Checkpoint(_ context.Context) (*uint256.Int, error) {
	var distributed *uint256.Int
	err := s.mutate(func(p *pool.Pool) error {
		var err error
		distributed, err = p.Checkpoint()
		return err
	})
	return distributed, err
}

func (s *Staking) persist(ch pool.Changes) error {
	return repeat.Repeat(
		repeat.Fn(func() error {
			if err := s.store.Save(ch); err != nil {
				return repeat.HintTemporary(err)
			}
			return nil
		}),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(3),
		repeat.FnOnError(func(err error) error {
			promPersistErrors.Inc()
			misc.Warnf(s.log, "retrying save of pool state, error:%v", err)
			return err
		}),
		repeat.WithDelay(repeat.ExponentialBackoff(50*time.Millisecond).Set()),
	)
}

// mutate runs fn as one atomic entry point and persists whatever it committed.
func (s *Staking) mutate(fn func(p *pool.Pool) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := fn(s.pool)
	if ch := s.pool.TakeChanges(); !ch.Empty() {
		if perr := s.persist(ch); perr != nil {
			misc.Errorf(s.log, "pool state not persisted, reloading last saved state, error:%v", perr)
			s.reload()
			return fmt.Errorf("%w: %w", ErrPersist, perr)
		}
	}
	if err == nil {
		updateMetrics(s.pool)
	}
	return err
}

func (s *Staking) reload() {
	snap, err := s.store.Load()
	if err != nil {
		misc.Errorf(s.log, "reload of pool state failed, keeping memory state, error:%v", err)
		return
	}
	restored, err := pool.Restore(s.poolCfg, snap)
	if err != nil {
		misc.Errorf(s.log, "restore of pool state failed, keeping memory state, error:%v", err)
		return
	}
	s.pool = restored
	updateMetrics(s.pool)
}

func (s *Staking) view() (*pool.Pool, func()) {
	s.mu.Lock()
	return s.pool, s.mu.Unlock
}

// OnTransfer handles a deposit notification. Every failure refunds the full amount.
// A notification whose ID was already accepted is answered with the stored result
// and changes nothing.
func (s *Staking) OnTransfer(_ context.Context, n token.Notification) (*uint256.Int, error) {
	var refund *uint256.Int
	err := s.mutate(func(p *pool.Pool) error {
		if n.ID != "" {
			receipt, seen, err := s.store.Transfer(n.ID)
			if err != nil {
				return fmt.Errorf("%w: transfer lookup: %w", ErrPersist, err)
			}
			if seen {
				misc.Infof(s.log, "transfer %s from %s already accepted, ignoring redelivery", n.ID, receipt.Sender)
				promDuplicateTransfers.Inc()
				refund = receipt.Refund.Clone()
				return nil
			}
		}
		var err error
		refund, err = p.OnTransfer(pool.TransferNotification{
			ID:       n.ID,
			TokenID:  n.TokenID,
			SenderID: n.Sender,
			Amount:   n.Amount,
			Msg:      n.Msg,
		})
		return err
	})
	if err != nil {
		misc.Infof(s.log, "deposit of %s from %s refunded: %v", pool.FormatAmount(n.Amount), n.Sender, err)
		return n.Amount, err
	}
	return refund, nil
}

// Unstake burns shares for account and queues the outbound transfer. An unset
// amount unstakes the full balance.
func (s *Staking) Unstake(_ context.Context, account string, amount optional.String, attached *uint256.Int) (pool.Withdrawal, error) {
	var shares *uint256.Int
	if amount.IsSet() {
		var err error
		if shares, err = pool.ParseAmount(amount.Value()); err != nil {
			return pool.Withdrawal{}, err
		}
	}
	var w pool.Withdrawal
	err := s.mutate(func(p *pool.Pool) error {
		var err error
		w, err = p.Unstake(account, shares, attached)
		return err
	})
	if err != nil {
		return pool.Withdrawal{}, err
	}
	s.dispatch.enqueue(w)
	return w, nil
}

// Settle applies the outcome of a transfer reported by the token service.
func (s *Staking) Settle(_ context.Context, st token.Settlement) error {
	outcome := pool.OutcomeFailure
	if st.Success {
		outcome = pool.OutcomeSuccess
	}
	var w pool.Withdrawal
	err := s.mutate(func(p *pool.Pool) error {
		var err error
		w, err = p.Settle(st.ID, outcome)
		return err
	})
	if err != nil {
		misc.Warnf(s.log, "settlement for %s not applied, success:%v, error:%v", st.ID, st.Success, err)
		return err
	}
	s.dispatch.done(st.ID)
	if st.Success {
		promSettlements.WithLabelValues("success").Inc()
	} else {
		promSettlements.WithLabelValues("failure").Inc()
		misc.Warnf(s.log, "transfer for withdrawal %s to %s failed: %s", w.ID, w.Account, st.Reason)
	}
	return nil
}

func (s *Staking) Unregister(_ context.Context, caller, account string) error {
	return s.mutate(func(p *pool.Pool) error {
		return p.Unregister(caller, account)
	})
}

func (s *Staking) SetOwner(_ context.Context, caller, owner string) error {
	return s.mutate(func(p *pool.Pool) error {
		return p.SetOwner(caller, owner)
	})
}

func (s *Staking) SetRewardRate(_ context.Context, caller string, rate *uint256.Int, distributeBeforeChange bool) error {
	return s.mutate(func(p *pool.Pool) error {
		return p.SetRewardRate(caller, rate, distributeBeforeChange)
	})
}

func (s *Staking) ResetRewardGenesis(_ context.Context, caller string, genesis time.Time) error {
	return s.mutate(func(p *pool.Pool) error {
		return p.ResetRewardGenesis(caller, uint32(genesis.Unix()))
	})
}

func (s *Staking) Metadata() pool.Metadata {
	p, unlock := s.view()
	defer unlock()
	return p.Metadata()
}

func (s *Staking) VirtualPrice() *uint256.Int {
	p, unlock := s.view()
	defer unlock()
	return p.VirtualPrice()
}

// Shares returns the balance of account and whether it's registered.
func (s *Staking) Shares(account string) (*uint256.Int, bool) {
	p, unlock := s.view()
	defer unlock()
	return p.Shares(account), p.IsRegistered(account)
}

func (s *Staking) Accounts() []pool.AccountShares {
	p, unlock := s.view()
	defer unlock()
	return p.Accounts()
}

func (s *Staking) PendingWithdrawals() []pool.Withdrawal {
	p, unlock := s.view()
	defer unlock()
	return p.PendingWithdrawals()
}

// WithdrawalHistory returns every persisted withdrawal, settled ones included.
func (s *Staking) WithdrawalHistory() ([]pool.Withdrawal, error) {
	return s.store.Withdrawals()
}
