package staking

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/TxnLab/stakepool/internal/lib/pool"
)

var (
	promNumAccounts = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "stakepool",
		Name:      "account_count",
	})
	promTotalShares = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "stakepool",
		Name:      "shares_total",
	})
	promLockedAmount = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "stakepool",
		Name:      "locked_amount",
	})
	promUndistributedReward = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "stakepool",
		Name:      "undistributed_reward",
	})
	promRewardRate = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "stakepool",
		Name:      "reward_per_sec",
	})
	promPendingWithdrawals = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "stakepool",
		Name:      "pending_withdrawals",
	})
	promSettlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "stakepool",
		Name:      "settlements_total",
	}, []string{"outcome"})
	promDispatchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "stakepool",
		Name:      "dispatch_errors_total",
	})
	promPersistErrors = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "stakepool",
		Name:      "persist_errors_total",
	})
	promDuplicateTransfers = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "stakepool",
		Name:      "duplicate_transfers_total",
	})
)

// amounts can exceed what a float64 holds exactly, that's fine for graphs
func toFloat(x *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(x.ToBig()).Float64()
	return f
}

func updateMetrics(p *pool.Pool) {
	st := p.State()
	promNumAccounts.Set(float64(p.AccountCount()))
	promTotalShares.Set(toFloat(p.TotalStaked()))
	promLockedAmount.Set(toFloat(&st.LockedAmount))
	promUndistributedReward.Set(toFloat(&st.UndistributedReward))
	promRewardRate.Set(toFloat(&st.RewardPerSec))
	promPendingWithdrawals.Set(float64(p.PendingCount()))
}
