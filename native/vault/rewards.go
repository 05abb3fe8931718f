package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/core/events"
	"strategyvaults/native/fixedpoint"
	"strategyvaults/native/venue"
)

func (e *Engine) requireRole(op *opContext, caller common.Address, role string) error {
	if caller == op.cfg.Vault || e.deps.State.HasRole(e.vault, role, caller) {
		return nil
	}
	return fmt.Errorf("%w: %s requires role %s", ErrUnauthorized, op.name, role)
}

// ClaimRewards harvests the venue's reward tokens into the vault. FeeBps of
// every token is forwarded to the fee receiver; the returned amounts are net
// of the fee and stay with the vault for reinvestment.
func (e *Engine) ClaimRewards(ctx context.Context, caller common.Address) ([]venue.Reward, error) {
	var out []venue.Reward
	err := e.run(ctx, "claim_rewards", common.Address{}, func(op *opContext) error {
		if err := e.requireRole(op, caller, RoleRewardReinvestment); err != nil {
			return err
		}
		rewards, err := e.deps.Gateway.ClaimRewards(op.ctx, e.vault)
		if err != nil {
			return fmt.Errorf("vault: claim rewards: %w", err)
		}
		out = make([]venue.Reward, 0, len(rewards))
		for _, r := range rewards {
			gross := fixedpoint.Copy(r.Amount)
			fee := fixedpoint.ApplyBps(gross, op.settings.FeeBps, fixedpoint.RoundDown)
			if fee.Sign() > 0 {
				if err := e.deps.State.Transfer(r.Token, e.vault, op.settings.FeeReceiver, fee); err != nil {
					return fmt.Errorf("vault: reward fee: %w", err)
				}
			}
			out = append(out, venue.Reward{Token: r.Token, Amount: new(big.Int).Sub(gross, fee)})
			op.emit(events.VaultRewardsClaimed{
				OpID:        op.id,
				Vault:       e.vault,
				Token:       r.Token,
				Gross:       gross,
				Fee:         fee,
				FeeReceiver: op.settings.FeeReceiver,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reinvest trades harvested rewards into the pool tokens and joins them. The
// claim gained is added to the vault total only, so every strategy token is
// worth more claim afterwards. It returns the claim added.
func (e *Engine) Reinvest(ctx context.Context, caller common.Address, data []byte) (*big.Int, error) {
	params, err := DecodeReinvestParams(data)
	if err != nil {
		return nil, err
	}
	var claim *big.Int
	err = e.run(ctx, "reinvest", common.Address{}, func(op *opContext) error {
		if err := e.requireRole(op, caller, RoleRewardReinvestment); err != nil {
			return err
		}
		totals, err := e.store.Totals()
		if err != nil {
			return err
		}
		if totals.TotalStrategyTokens.Sign() == 0 {
			return ErrNoActivePositions
		}
		primaryIn, secondaryIn := new(big.Int), new(big.Int)
		for _, t := range params.Trades {
			if t.Token == op.cfg.PrimaryToken || t.Token == op.cfg.SecondaryToken {
				return fmt.Errorf("%w: reward trade sells a pool token", ErrMalformedParams)
			}
			buy, into := op.cfg.PrimaryToken, primaryIn
			if t.BuySecondary {
				buy, into = op.cfg.SecondaryToken, secondaryIn
			}
			spec := t.Spec
			res, err := e.swap(op, t.Token, buy, t.Amount, &spec, op.settings.PoolSlippageLimitBps, false)
			if err != nil {
				return err
			}
			into.Add(into, res.Bought)
		}
		if primaryIn.Sign() == 0 && secondaryIn.Sign() == 0 {
			return fmt.Errorf("%w: nothing to reinvest", ErrInvalidAmount)
		}
		claim, err = e.deps.Gateway.Join(op.ctx, e.vault, primaryIn, secondaryIn, fixedpoint.Copy(params.MinPoolClaim))
		if err != nil {
			return fmt.Errorf("%w: join: %w", ErrSlippageExceeded, err)
		}
		if err := e.store.AdjustTotalClaim(claim); err != nil {
			return err
		}
		if err := e.checkClaimMirror(); err != nil {
			return err
		}
		if err := e.checkPoolShare(op); err != nil {
			return err
		}
		after, err := e.store.Totals()
		if err != nil {
			return err
		}
		e.deps.Metrics.ObserveReinvest(e.vault.Hex(), claimFloat(claim))
		op.emit(events.VaultRewardsReinvested{
			OpID:           op.id,
			Vault:          e.vault,
			PrimaryJoined:  primaryIn,
			SecondaryJoin:  secondaryIn,
			ClaimAdded:     claim,
			TotalPoolClaim: after.TotalPoolClaim,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}
