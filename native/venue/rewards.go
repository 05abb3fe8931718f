package venue

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/native/fixedpoint"
)

var (
	rewardTokensPrefix  = []byte("venue-reward-tokens:")
	rewardStakersPrefix = []byte("venue-stakers:")
	rewardAccruedPrefix = []byte("venue-accrued:")
)

func (p *WeightedPool) rewardTokensKey() []byte {
	return append(append([]byte(nil), rewardTokensPrefix...), p.cfg.Address.Bytes()...)
}

func (p *WeightedPool) stakersKey() []byte {
	return append(append([]byte(nil), rewardStakersPrefix...), p.cfg.Address.Bytes()...)
}

func (p *WeightedPool) accruedKey(token, staker common.Address) []byte {
	key := append([]byte(nil), rewardAccruedPrefix...)
	key = append(key, p.cfg.Address.Bytes()...)
	key = append(key, token.Bytes()...)
	return append(key, staker.Bytes()...)
}

// RewardEscrow returns the address holding undistributed rewards.
func (p *WeightedPool) RewardEscrow() common.Address { return p.escrow }

// Accrued returns the rewards of token claimable by staker.
func (p *WeightedPool) Accrued(token, staker common.Address) (*big.Int, error) {
	out := new(big.Int)
	if _, err := p.st.KVGet(p.accruedKey(token, staker), out); err != nil {
		return nil, err
	}
	return out, nil
}

// AccrueRewards emits amount of token to current stakers pro rata to their
// staked claim. Rounding dust stays in escrow.
func (p *WeightedPool) AccrueRewards(token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: reward amount must be positive", ErrInvalidAmount)
	}
	if token == p.cfg.Address || token == p.gauge {
		return fmt.Errorf("%w: claim tokens cannot be rewards", ErrUnknownToken)
	}
	total, err := p.TotalStaked()
	if err != nil {
		return err
	}
	if total.Sign() == 0 {
		return fmt.Errorf("venue: no stakers to reward")
	}
	if err := p.st.Mint(token, p.escrow, amount); err != nil {
		return err
	}
	if err := p.st.AddressListAdd(p.rewardTokensKey(), token); err != nil {
		return err
	}
	stakers, err := p.st.AddressList(p.stakersKey())
	if err != nil {
		return err
	}
	for _, staker := range stakers {
		staked, err := p.StakedBalance(staker)
		if err != nil {
			return err
		}
		if staked.Sign() == 0 {
			continue
		}
		share := fixedpoint.MulDiv(amount, staked, total)
		accrued, err := p.Accrued(token, staker)
		if err != nil {
			return err
		}
		if err := p.st.KVPut(p.accruedKey(token, staker), accrued.Add(accrued, share)); err != nil {
			return err
		}
	}
	return nil
}

// ClaimRewards implements Gateway. Rewards are returned in token address
// order.
func (p *WeightedPool) ClaimRewards(_ context.Context, vault common.Address) ([]Reward, error) {
	tokens, err := p.st.AddressList(p.rewardTokensKey())
	if err != nil {
		return nil, err
	}
	var out []Reward
	for _, token := range tokens {
		accrued, err := p.Accrued(token, vault)
		if err != nil {
			return nil, err
		}
		if accrued.Sign() == 0 {
			continue
		}
		if err := p.st.Transfer(token, p.escrow, vault, accrued); err != nil {
			return nil, err
		}
		if err := p.st.KVDelete(p.accruedKey(token, vault)); err != nil {
			return nil, err
		}
		out = append(out, Reward{Token: token, Amount: accrued})
	}
	return out, nil
}
