package pool

import (
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakepool/internal/lib/misc"
)

// Metadata is a read-only projection of the pool. The Cur* values include the reward
// a checkpoint would distribute right now, without committing it.
type Metadata struct {
	Version string
	Owner   string
	TokenID string

	// as of the last checkpoint
	UndistributedReward uint256.Int
	LockedAmount        uint256.Int
	// as of now
	CurUndistributedReward uint256.Int
	CurLockedAmount        uint256.Int

	TotalStaked          uint256.Int
	Surplus              uint256.Int
	PrevDistributionTime uint32
	RewardGenesisTime    uint32
	RewardPerSec         uint256.Int
	AccountCount         uint64
	PendingWithdrawals   int
}

func (p *Pool) Metadata() Metadata {
	preview := p.state.PreviewReward(p.now())
	md := Metadata{
		Version:              misc.GetVersionInfo(),
		Owner:                p.state.Owner,
		TokenID:              p.state.TokenID,
		UndistributedReward:  p.state.UndistributedReward,
		LockedAmount:         p.state.LockedAmount,
		TotalStaked:          *p.ledger.Total(),
		Surplus:              p.state.Surplus,
		PrevDistributionTime: p.state.PrevDistributionTime,
		RewardGenesisTime:    p.state.RewardGenesisTime,
		RewardPerSec:         p.state.RewardPerSec,
		AccountCount:         uint64(p.ledger.Len()),
		PendingWithdrawals:   len(p.pending),
	}
	md.CurUndistributedReward.Sub(&p.state.UndistributedReward, preview)
	md.CurLockedAmount.Add(&p.state.LockedAmount, preview)
	return md
}

// VirtualPrice is the previewed token value of one share, scaled by PriceScale.
func (p *Pool) VirtualPrice() *uint256.Int {
	locked := new(uint256.Int).Add(&p.state.LockedAmount, p.state.PreviewReward(p.now()))
	return VirtualPrice(p.ledger.Total(), locked)
}

// Shares returns the share balance of account, zero when unknown.
func (p *Pool) Shares(account string) *uint256.Int {
	return p.ledger.Balance(account)
}

func (p *Pool) IsRegistered(account string) bool {
	return p.ledger.Has(account)
}

func (p *Pool) AccountCount() int {
	return p.ledger.Len()
}

// PendingCount is the number of withdrawals awaiting settlement.
func (p *Pool) PendingCount() int {
	return len(p.pending)
}

func (p *Pool) TotalStaked() *uint256.Int {
	return p.ledger.Total()
}

func (p *Pool) LockedAmount() *uint256.Int {
	return p.state.LockedAmount.Clone()
}

func (p *Pool) UndistributedReward() *uint256.Int {
	return p.state.UndistributedReward.Clone()
}

func (p *Pool) RewardRate() *uint256.Int {
	return p.state.RewardPerSec.Clone()
}

func (p *Pool) Owner() string {
	return p.state.Owner
}

func (p *Pool) TokenID() string {
	return p.state.TokenID
}

// State returns a copy of the scalar pool state.
func (p *Pool) State() State {
	return p.state
}

// Accounts lists registered accounts with their balances, sorted by account.
func (p *Pool) Accounts() []AccountShares {
	accounts := p.ledger.Accounts()
	ret := make([]AccountShares, 0, len(accounts))
	for _, account := range accounts {
		ret = append(ret, AccountShares{Account: account, Shares: *p.ledger.Balance(account)})
	}
	return ret
}

type AccountShares struct {
	Account string
	Shares  uint256.Int
}
