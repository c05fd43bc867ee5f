package api

import (
	"github.com/TxnLab/stakepool/internal/lib/pool"
)

// Amounts travel as decimal strings.

type PoolInfo struct {
	Version                string `json:"version"`
	Owner                  string `json:"owner_id"`
	TokenID                string `json:"token_account_id"`
	UndistributedReward    string `json:"undistributed_reward"`
	LockedAmount           string `json:"locked_amount"`
	CurUndistributedReward string `json:"cur_undistributed_reward"`
	CurLockedAmount        string `json:"cur_locked_amount"`
	TotalShares            string `json:"total_shares"`
	Surplus                string `json:"surplus"`
	PrevDistributionTime   uint32 `json:"prev_distribution_time_in_sec"`
	RewardGenesisTime      uint32 `json:"reward_genesis_time_in_sec"`
	RewardPerSec           string `json:"reward_per_sec"`
	AccountCount           uint64 `json:"account_number"`
	PendingWithdrawals     int    `json:"pending_withdrawals"`
}

func poolInfo(md pool.Metadata) PoolInfo {
	return PoolInfo{
		Version:                md.Version,
		Owner:                  md.Owner,
		TokenID:                md.TokenID,
		UndistributedReward:    md.UndistributedReward.Dec(),
		LockedAmount:           md.LockedAmount.Dec(),
		CurUndistributedReward: md.CurUndistributedReward.Dec(),
		CurLockedAmount:        md.CurLockedAmount.Dec(),
		TotalShares:            md.TotalStaked.Dec(),
		Surplus:                md.Surplus.Dec(),
		PrevDistributionTime:   md.PrevDistributionTime,
		RewardGenesisTime:      md.RewardGenesisTime,
		RewardPerSec:           md.RewardPerSec.Dec(),
		AccountCount:           md.AccountCount,
		PendingWithdrawals:     md.PendingWithdrawals,
	}
}

type Price struct {
	VirtualPrice string `json:"virtual_price"`
	Scale        string `json:"scale"`
}

type Account struct {
	AccountID  string `json:"account_id"`
	Shares     string `json:"shares"`
	Registered bool   `json:"registered"`
}

type Withdrawal struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	Shares      string `json:"shares"`
	Status      string `json:"status"`
	Reverted    bool   `json:"reverted,omitempty"`
	RequestedAt uint32 `json:"requested_at"`
	SettledAt   uint32 `json:"settled_at,omitempty"`
}

func withdrawal(w pool.Withdrawal) Withdrawal {
	return Withdrawal{
		ID:          w.ID,
		AccountID:   w.Account,
		Amount:      w.Amount.Dec(),
		Shares:      w.Shares.Dec(),
		Status:      w.Status.String(),
		Reverted:    w.Reverted,
		RequestedAt: w.RequestedAt,
		SettledAt:   w.SettledAt,
	}
}

// TransferNotification is the deposit callback sent by the token service. ID stays
// the same when the service redelivers a notification.
type TransferNotification struct {
	ID       string `json:"id"`
	TokenID  string `json:"token_id"`
	SenderID string `json:"sender_id"`
	Amount   string `json:"amount"`
	Msg      string `json:"msg"`
}

type TransferResult struct {
	// Refund is the part of the deposit to send back to the sender
	Refund string `json:"refund"`
}

type Settlement struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type UnstakeRequest struct {
	AccountID string `json:"account_id"`
	// Amount of shares, all of them when empty
	Amount          string `json:"amount,omitempty"`
	AttachedDeposit string `json:"attached_deposit"`
}

type UnregisterRequest struct {
	Caller string `json:"caller_id"`
}

type SetOwnerRequest struct {
	Caller string `json:"caller_id"`
	Owner  string `json:"owner_id"`
}

type SetRewardRateRequest struct {
	Caller                 string `json:"caller_id"`
	RewardPerSec           string `json:"reward_per_sec"`
	DistributeBeforeChange bool   `json:"distribute_before_change"`
}

type ResetRewardGenesisRequest struct {
	Caller            string `json:"caller_id"`
	RewardGenesisTime uint32 `json:"reward_genesis_time_in_sec"`
}

type MintRequest struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
}

type TransferCallRequest struct {
	SenderID string `json:"sender_id"`
	Amount   string `json:"amount"`
	Msg      string `json:"msg"`
}

type TransferCallResult struct {
	Used string `json:"used"`
}

// Error is the body of every failed request.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
