package pool

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/TxnLab/stakepool/internal/lib/misc"
)

func (p *Pool) assertOwner(caller string) error {
	if caller != p.state.Owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller)
	}
	return nil
}

func (p *Pool) SetOwner(caller, owner string) error {
	if err := p.assertOwner(caller); err != nil {
		return err
	}
	next := p.state
	next.Owner = owner
	p.commit(next)
	misc.Infof(p.logger, "owner changed from %s to %s", caller, owner)
	return nil
}

// SetRewardRate changes the linear unlock rate. When distributeBeforeChange is set
// the reward accrued at the old rate is checkpointed first.
func (p *Pool) SetRewardRate(caller string, rate *uint256.Int, distributeBeforeChange bool) error {
	if err := p.assertOwner(caller); err != nil {
		return err
	}
	if !fitsU128(rate) {
		return fmt.Errorf("reward rate: %w", ErrOverflow)
	}
	next := p.state
	if distributeBeforeChange {
		var err error
		if next, err = p.checkpointed(); err != nil {
			return err
		}
	}
	next.RewardPerSec = *rate
	p.commit(next)
	misc.Infof(p.logger, "reward rate set to %s per second", rate.Dec())
	return nil
}

// ResetRewardGenesis moves the distribution start. It's only allowed while the
// current genesis is still in the future, and never to a past time.
func (p *Pool) ResetRewardGenesis(caller string, genesis uint32) error {
	if err := p.assertOwner(caller); err != nil {
		return err
	}
	now := p.now()
	if genesis < now {
		return ErrResetTimeInPast
	}
	if p.state.RewardGenesisTime < now {
		return ErrGenesisPassed
	}
	next := p.state
	next.RewardGenesisTime = genesis
	next.PrevDistributionTime = genesis
	p.commit(next)
	misc.Infof(p.logger, "reward genesis reset to %d", genesis)
	return nil
}
