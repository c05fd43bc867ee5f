package store

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/TxnLab/stakepool/internal/lib/pool"
)

// On-disk records. Amounts are stored as decimal strings.

type stateRecord struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Owner                string `codec:"own"`
	TokenID              string `codec:"tok"`
	LockedAmount         string `codec:"lck"`
	UndistributedReward  string `codec:"und"`
	RewardPerSec         string `codec:"rps"`
	Surplus              string `codec:"sur"`
	RewardGenesisTime    uint32 `codec:"gen"`
	PrevDistributionTime uint32 `codec:"prv"`
}

type withdrawalRecord struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	ID          string `codec:"id"`
	Account     string `codec:"acc"`
	Amount      string `codec:"amt"`
	Shares      string `codec:"shr"`
	Status      uint8  `codec:"st"`
	Reverted    bool   `codec:"rev"`
	RequestedAt uint32 `codec:"req"`
	SettledAt   uint32 `codec:"set"`
}

type transferRecord struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	ID         string `codec:"id"`
	Sender     string `codec:"snd"`
	Amount     string `codec:"amt"`
	Refund     string `codec:"ref"`
	ReceivedAt uint32 `codec:"rcv"`
}

func fromState(st pool.State) stateRecord {
	return stateRecord{
		Owner:                st.Owner,
		TokenID:              st.TokenID,
		LockedAmount:         st.LockedAmount.Dec(),
		UndistributedReward:  st.UndistributedReward.Dec(),
		RewardPerSec:         st.RewardPerSec.Dec(),
		Surplus:              st.Surplus.Dec(),
		RewardGenesisTime:    st.RewardGenesisTime,
		PrevDistributionTime: st.PrevDistributionTime,
	}
}

func (r stateRecord) toState() (pool.State, error) {
	st := pool.State{
		Owner:                r.Owner,
		TokenID:              r.TokenID,
		RewardGenesisTime:    r.RewardGenesisTime,
		PrevDistributionTime: r.PrevDistributionTime,
	}
	for _, f := range []struct {
		name string
		val  string
		dst  *uint256.Int
	}{
		{"locked amount", r.LockedAmount, &st.LockedAmount},
		{"undistributed reward", r.UndistributedReward, &st.UndistributedReward},
		{"reward per sec", r.RewardPerSec, &st.RewardPerSec},
		{"surplus", r.Surplus, &st.Surplus},
	} {
		v, err := parseStored(f.val)
		if err != nil {
			return pool.State{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = *v
	}
	return st, nil
}

func fromWithdrawal(w pool.Withdrawal) withdrawalRecord {
	return withdrawalRecord{
		ID:          w.ID,
		Account:     w.Account,
		Amount:      w.Amount.Dec(),
		Shares:      w.Shares.Dec(),
		Status:      uint8(w.Status),
		Reverted:    w.Reverted,
		RequestedAt: w.RequestedAt,
		SettledAt:   w.SettledAt,
	}
}

func (r withdrawalRecord) toWithdrawal() (pool.Withdrawal, error) {
	amount, err := parseStored(r.Amount)
	if err != nil {
		return pool.Withdrawal{}, fmt.Errorf("withdrawal %s amount: %w", r.ID, err)
	}
	shares, err := parseStored(r.Shares)
	if err != nil {
		return pool.Withdrawal{}, fmt.Errorf("withdrawal %s shares: %w", r.ID, err)
	}
	return pool.Withdrawal{
		ID:          r.ID,
		Account:     r.Account,
		Amount:      *amount,
		Shares:      *shares,
		Status:      pool.WithdrawalStatus(r.Status),
		Reverted:    r.Reverted,
		RequestedAt: r.RequestedAt,
		SettledAt:   r.SettledAt,
	}, nil
}

func fromReceipt(r pool.TransferReceipt) transferRecord {
	return transferRecord{
		ID:         r.ID,
		Sender:     r.Sender,
		Amount:     r.Amount.Dec(),
		Refund:     r.Refund.Dec(),
		ReceivedAt: r.ReceivedAt,
	}
}

func (r transferRecord) toReceipt() (pool.TransferReceipt, error) {
	amount, err := parseStored(r.Amount)
	if err != nil {
		return pool.TransferReceipt{}, fmt.Errorf("transfer %s amount: %w", r.ID, err)
	}
	refund, err := parseStored(r.Refund)
	if err != nil {
		return pool.TransferReceipt{}, fmt.Errorf("transfer %s refund: %w", r.ID, err)
	}
	return pool.TransferReceipt{
		ID:         r.ID,
		Sender:     r.Sender,
		Amount:     *amount,
		Refund:     *refund,
		ReceivedAt: r.ReceivedAt,
	}, nil
}

// parseStored treats an omitted amount as zero.
func parseStored(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := pool.ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pool.ErrCorruptState, err)
	}
	return v, nil
}
