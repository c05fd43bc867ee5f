package pool

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"github.com/TxnLab/stakepool/internal/lib/misc"
)

type Config struct {
	Owner   string
	TokenID string
	// RewardGenesisTime in unix seconds. Zero means creation time + DefaultGenesisDelay.
	RewardGenesisTime uint32

	Clock  func() time.Time
	Events EventSink
	Logger *slog.Logger
}

// State holds the scalar pool values. It is a plain value so entry points can work
// on a copy and commit it only once every check has passed.
type State struct {
	Owner   string
	TokenID string

	// LockedAmount backs the outstanding shares
	LockedAmount uint256.Int
	// UndistributedReward has been received but not unlocked yet
	UndistributedReward uint256.Int
	RewardPerSec        uint256.Int
	// Surplus counts tokens of failed withdrawals whose account was gone by settlement time
	Surplus uint256.Int

	RewardGenesisTime    uint32
	PrevDistributionTime uint32
}

// Pool is the staking pool accounting engine. It is not safe for concurrent use,
// callers serialize entry points.
type Pool struct {
	logger *slog.Logger
	clock  func() time.Time
	events EventSink

	state   State
	ledger  *Ledger
	pending map[string]*Withdrawal

	stateDirty       bool
	touchedDraws     []Withdrawal
	touchedTransfers []TransferReceipt
}

func New(cfg Config) *Pool {
	p := newPool(cfg, NewLedger())
	genesis := cfg.RewardGenesisTime
	if genesis == 0 {
		genesis = unixSeconds(p.clock().Add(DefaultGenesisDelay))
	}
	p.state = State{
		Owner:                cfg.Owner,
		TokenID:              cfg.TokenID,
		RewardGenesisTime:    genesis,
		PrevDistributionTime: genesis,
	}
	p.stateDirty = true
	misc.Infof(p.logger, "pool created, owner:%s, token:%s, reward genesis:%s", cfg.Owner, cfg.TokenID,
		time.Unix(int64(genesis), 0).UTC().Format(time.RFC3339))
	return p
}

func newPool(cfg Config, ledger *Ledger) *Pool {
	p := &Pool{
		logger:  cfg.Logger,
		clock:   cfg.Clock,
		events:  cfg.Events,
		ledger:  ledger,
		pending: map[string]*Withdrawal{},
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.events == nil {
		p.events = LogSink{Logger: p.logger}
	}
	return p
}

// Snapshot is the full durable content of a pool.
type Snapshot struct {
	State       State
	Shares      map[string]*uint256.Int
	Withdrawals []Withdrawal
}

// Restore rebuilds a pool from a snapshot. Only pending withdrawals are kept.
// Owner and token come from the snapshot, not from cfg.
func Restore(cfg Config, snap Snapshot) (*Pool, error) {
	ledger, err := loadLedger(snap.Shares)
	if err != nil {
		return nil, err
	}
	p := newPool(cfg, ledger)
	p.state = snap.State
	for _, w := range snap.Withdrawals {
		if w.Status != StatusTransferPending {
			continue
		}
		p.pending[w.ID] = &w
	}
	return p, nil
}

// Changes lists what was written since the previous TakeChanges call.
type Changes struct {
	// State is nil when no scalar value changed
	State *State
	// Shares maps touched accounts to their balance, nil for removed accounts
	Shares      map[string]*uint256.Int
	Withdrawals []Withdrawal
	Transfers   []TransferReceipt
}

func (c Changes) Empty() bool {
	return c.State == nil && len(c.Shares) == 0 && len(c.Withdrawals) == 0 && len(c.Transfers) == 0
}

func (p *Pool) TakeChanges() Changes {
	var ch Changes
	if p.stateDirty {
		st := p.state
		ch.State = &st
		p.stateDirty = false
	}
	ch.Shares = p.ledger.takeTouched()
	ch.Withdrawals = p.touchedDraws
	p.touchedDraws = nil
	ch.Transfers = p.touchedTransfers
	p.touchedTransfers = nil
	return ch
}

func (p *Pool) now() uint32 {
	return unixSeconds(p.clock())
}

func (p *Pool) commit(next State) {
	p.state = next
	p.stateDirty = true
}

func (p *Pool) emit(name, account string, amount *uint256.Int) {
	p.events.Emit(Event{Name: name, Account: account, Amount: *amount, TokenID: p.state.TokenID})
}

// checkpointed returns a copy of the state with the reward distributor checkpointed
// at the current time.
func (p *Pool) checkpointed() (State, error) {
	next := p.state
	distributed, err := next.Checkpoint(p.now())
	if err != nil {
		return State{}, fmt.Errorf("reward checkpoint: %w", err)
	}
	if !distributed.IsZero() {
		misc.Debugf(p.logger, "distributed reward:%s, undistributed:%s", distributed.Dec(), next.UndistributedReward.Dec())
	}
	return next, nil
}

// Checkpoint runs the reward distributor on its own and commits the result.
func (p *Pool) Checkpoint() (*uint256.Int, error) {
	next := p.state
	distributed, err := next.Checkpoint(p.now())
	if err != nil {
		return nil, err
	}
	if next != p.state {
		p.commit(next)
	}
	return distributed, nil
}

// Intent is the purpose a deposit notification carries in its message.
type Intent string

const (
	IntentStake      Intent = "Stake"
	IntentAddRewards Intent = "AddRewards"
)

// ParseIntent decodes a transfer message, a JSON string naming the intent.
func ParseIntent(msg string) (Intent, error) {
	var intent Intent
	if err := json.Unmarshal([]byte(msg), &intent); err != nil {
		return "", fmt.Errorf("%w: %q", ErrIllegalMsg, msg)
	}
	switch intent {
	case IntentStake, IntentAddRewards:
		return intent, nil
	}
	return "", fmt.Errorf("%w: %q", ErrIllegalMsg, msg)
}

// TransferNotification is delivered by the token service when tokens are sent to the pool.
type TransferNotification struct {
	// ID identifies the transfer at the token service. Accepted transfers with an
	// ID leave a receipt in Changes.
	ID       string
	TokenID  string
	SenderID string
	Amount   *uint256.Int
	Msg      string
}

// TransferReceipt records an accepted deposit.
type TransferReceipt struct {
	ID         string
	Sender     string
	Amount     uint256.Int
	Refund     uint256.Int
	ReceivedAt uint32
}

// OnTransfer handles a deposit from the token service and returns the amount to
// refund, which is zero whenever the deposit is accepted.
func (p *Pool) OnTransfer(n TransferNotification) (*uint256.Int, error) {
	if n.TokenID != p.state.TokenID {
		return nil, fmt.Errorf("%w: %s", ErrIllegalToken, n.TokenID)
	}
	if n.Amount == nil || n.Amount.IsZero() {
		return nil, ErrZeroDeposit
	}
	intent, err := ParseIntent(n.Msg)
	if err != nil {
		return nil, err
	}
	switch intent {
	case IntentStake:
		if _, err := p.Stake(n.SenderID, n.Amount); err != nil {
			return nil, err
		}
	case IntentAddRewards:
		if err := p.AddRewards(n.SenderID, n.Amount); err != nil {
			return nil, err
		}
	}
	refund := new(uint256.Int)
	if n.ID != "" {
		p.touchedTransfers = append(p.touchedTransfers, TransferReceipt{
			ID:         n.ID,
			Sender:     n.SenderID,
			Amount:     *n.Amount,
			Refund:     *refund,
			ReceivedAt: p.now(),
		})
	}
	return refund, nil
}

// Stake locks amount tokens for account and credits the minted shares.
func (p *Pool) Stake(account string, amount *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return nil, ErrZeroDeposit
	}
	next, err := p.checkpointed()
	if err != nil {
		return nil, err
	}
	minted, err := MintShares(p.ledger.Total(), &next.LockedAmount, amount)
	if err != nil {
		return nil, err
	}
	locked, err := add128(&next.LockedAmount, amount)
	if err != nil {
		return nil, fmt.Errorf("locked amount: %w", err)
	}
	if err := p.ledger.Deposit(account, minted); err != nil {
		return nil, err
	}
	next.LockedAmount = *locked
	p.commit(next)

	misc.Infof(p.logger, "%s staked %s tokens, got %s shares", account, amount.Dec(), minted.Dec())
	p.emit(EventAddStake, account, amount)
	return minted, nil
}

// AddRewards queues amount tokens for linear distribution. No shares are minted.
func (p *Pool) AddRewards(account string, amount *uint256.Int) error {
	if amount.IsZero() {
		return ErrZeroDeposit
	}
	next, err := p.checkpointed()
	if err != nil {
		return err
	}
	undistributed, err := add128(&next.UndistributedReward, amount)
	if err != nil {
		return fmt.Errorf("undistributed reward: %w", err)
	}
	next.UndistributedReward = *undistributed
	p.commit(next)

	misc.Infof(p.logger, "%s added %s tokens as reward", account, amount.Dec())
	p.emit(EventAddRewards, account, amount)
	return nil
}

// Unregister removes an account that no longer holds shares. Only the account
// itself may do so.
func (p *Pool) Unregister(caller, account string) error {
	if caller != account {
		return fmt.Errorf("%w: %s for %s", ErrNotAccountHolder, caller, account)
	}
	if err := p.ledger.Remove(account); err != nil {
		return err
	}
	misc.Infof(p.logger, "account %s unregistered", account)
	return nil
}
