package pool

import (
	"time"

	"github.com/holiman/uint256"
)

// DefaultGenesisDelay is how far after pool creation reward distribution starts
// when no genesis time is configured.
const DefaultGenesisDelay = 30 * 24 * time.Hour

// unixSeconds truncates t to the 32-bit second resolution of the distribution clock.
func unixSeconds(t time.Time) uint32 {
	return uint32(t.Unix())
}

// PreviewReward returns the reward that a checkpoint at now would unlock, without
// changing the state.
func (s *State) PreviewReward(now uint32) *uint256.Int {
	if now <= s.RewardGenesisTime || now <= s.PrevDistributionTime {
		return new(uint256.Int)
	}
	elapsed := uint256.NewInt(uint64(now - s.PrevDistributionTime))
	// rate < 2^128 and elapsed < 2^32, the product can't overflow 256 bits
	ideal := new(uint256.Int).Mul(&s.RewardPerSec, elapsed)
	return minAmount(ideal, &s.UndistributedReward)
}

// Checkpoint moves the unlocked reward into the locked amount and advances the
// distribution time. It returns the amount distributed.
func (s *State) Checkpoint(now uint32) (*uint256.Int, error) {
	distributed := s.PreviewReward(now)
	if !distributed.IsZero() {
		locked, err := add128(&s.LockedAmount, distributed)
		if err != nil {
			return nil, err
		}
		s.UndistributedReward.Sub(&s.UndistributedReward, distributed)
		s.LockedAmount = *locked
	}
	s.PrevDistributionTime = max(now, s.RewardGenesisTime)
	return distributed, nil
}
