package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/core/events"
	"strategyvaults/native/fixedpoint"
)

// ratioTolerance absorbs share and debt unit rounding when the post
// liquidation ratio is compared against its bounds.
const ratioTolerance = 10

// DeleverageBounds are the primary deposits a liquidator may make against an
// account: Min restores MinCollateralRatio and Max lifts the account to
// MaxDeleverageCollateralRatio. Both are capped at the debt's present value.
type DeleverageBounds struct {
	Value     *big.Int
	DebtValue *big.Int
	Ratio     *big.Int
	Min       *big.Int
	Max       *big.Int
}

// deleverageDeposit solves (V - d(1+δ)) / (D - d) = R for d, where ratios are
// in RatePrecision. The result is clamped to [0, D].
func deleverageDeposit(value, debtValue *big.Int, ratio, discount uint64, mode fixedpoint.Rounding) *big.Int {
	one := fixedpoint.RatePrecision
	r := new(big.Int).SetUint64(ratio)
	num := new(big.Int).Mul(r, debtValue)
	num.Sub(num, new(big.Int).Mul(value, one))
	den := new(big.Int).Sub(r, one)
	den.Sub(den, new(big.Int).SetUint64(discount))
	if num.Sign() <= 0 || den.Sign() <= 0 {
		return new(big.Int)
	}
	return fixedpoint.Min(fixedpoint.MulDivRounding(num, big.NewInt(1), den, mode), debtValue)
}

func boundsFor(h accountHealth, cfg *Config) DeleverageBounds {
	return DeleverageBounds{
		Value:     fixedpoint.Copy(h.value),
		DebtValue: fixedpoint.Copy(h.debtValue),
		Ratio:     fixedpoint.Copy(h.ratio),
		Min:       deleverageDeposit(h.value, h.debtValue, cfg.MinCollateralRatio, cfg.LiquidationDiscount, fixedpoint.RoundUp),
		Max:       deleverageDeposit(h.value, h.debtValue, cfg.MaxDeleverageCollateralRatio, cfg.LiquidationDiscount, fixedpoint.RoundDown),
	}
}

// seizeShares returns the shares worth deposit*(1+δ) out of an account worth
// value, and the part of them owed to the host as its reserve fee.
func seizeShares(acct *Account, value, deposit *big.Int, cfg *Config) (seized, reserve *big.Int) {
	one := fixedpoint.RatePrecision.Uint64()
	seizedValue := fixedpoint.ApplyRate(deposit, one+cfg.LiquidationDiscount, fixedpoint.RoundDown)
	seized = fixedpoint.Min(fixedpoint.MulDiv(seizedValue, acct.VaultShares, value), acct.VaultShares)
	if value.Sign() == 0 {
		seized = fixedpoint.Copy(acct.VaultShares)
	}
	discountValue := fixedpoint.ApplyRate(deposit, cfg.LiquidationDiscount, fixedpoint.RoundDown)
	reserveValue := fixedpoint.ApplyRate(discountValue, cfg.ReserveFeeShare, fixedpoint.RoundDown)
	reserve = fixedpoint.MulDiv(seized, reserveValue, seizedValue)
	return seized, reserve
}

// DeleverageResult reports the outcome of a liquidation.
type DeleverageResult struct {
	Deposit             *big.Int
	DebtRepaid          *big.Int
	SharesSeized        *big.Int
	SharesToLiquidator  *big.Int
	PrimaryToLiquidator *big.Int
	ReserveFee          *big.Int
	TransferShares      bool
	RatioBefore         *big.Int
	RatioAfter          *big.Int
}

// Bounds returns the current deleverage window of owner.
func (e *Engine) Bounds(ctx context.Context, owner common.Address) (DeleverageBounds, error) {
	var bounds DeleverageBounds
	err := e.read(ctx, func(op *opContext) error {
		acct, ok, err := e.store.Account(owner)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAccountNotFound
		}
		h, err := e.health(op.ctx, op, acct)
		if err != nil {
			return err
		}
		bounds = boundsFor(h, op.cfg)
		return nil
	})
	return bounds, err
}

// Deleverage lets liquidator repay part of an undercollateralized account's
// debt with depositAmount of primary (nil selects the maximum) in exchange
// for shares worth the deposit plus the liquidation discount. The host keeps
// ReserveFeeShare of the discount. With transferShares the liquidator
// receives the shares as a position in the same maturity; otherwise they are
// redeemed and the primary paid out.
func (e *Engine) Deleverage(ctx context.Context, caller, liquidator, account common.Address, depositAmount *big.Int, transferShares bool, data []byte) (*DeleverageResult, error) {
	params, err := DecodeRedeemParams(data)
	if err != nil {
		return nil, err
	}
	if depositAmount != nil {
		if depositAmount.Sign() <= 0 {
			return nil, ErrInvalidAmount
		}
		if err := checkAmounts(depositAmount); err != nil {
			return nil, err
		}
	}
	if liquidator == (common.Address{}) || liquidator == account {
		return nil, fmt.Errorf("%w: invalid liquidator", ErrUnauthorized)
	}
	var result *DeleverageResult
	err = e.run(ctx, "deleverage", account, func(op *opContext) error {
		if caller != liquidator {
			if err := authorizeHost(op, caller); err != nil {
				return err
			}
		}
		if err := requireVaultCaller(op, caller, FlagOnlyVaultDeleverage, ErrOnlyVaultDeleverage); err != nil {
			return err
		}
		if op.cfg.Flags.Has(FlagTransferSharesOnDeleverage) && !transferShares {
			return ErrTransferSharesRequired
		}
		acct, ok, err := e.store.Account(account)
		if err != nil {
			return err
		}
		if !ok || acct.Debt.Sign() == 0 {
			return ErrSufficientlyCollateralized
		}
		m, mOK, err := e.store.Maturity(acct.Maturity)
		if err != nil {
			return err
		}
		switch statusOf(m, mOK) {
		case StatusSettled:
			return ErrMaturitySettled
		case StatusSettling:
			return ErrMaturitySettling
		}
		h, err := e.health(op.ctx, op, acct)
		if err != nil {
			return err
		}
		if h.ratio.Cmp(new(big.Int).SetUint64(op.cfg.MinCollateralRatio)) >= 0 {
			return fmt.Errorf("%w: ratio %s", ErrSufficientlyCollateralized, h.ratio)
		}
		bounds := boundsFor(h, op.cfg)
		deposit := fixedpoint.Copy(bounds.Max)
		if depositAmount != nil {
			deposit = fixedpoint.Copy(depositAmount)
		}
		if deposit.Sign() == 0 || deposit.Cmp(bounds.Min) < 0 || deposit.Cmp(bounds.Max) > 0 {
			return fmt.Errorf("%w: %s outside [%s, %s]", ErrDeleverageAmount, deposit, bounds.Min, bounds.Max)
		}

		debtRepaid, err := e.deps.Market.DebtForCash(m.Maturity, deposit, op.now)
		if err != nil {
			return err
		}
		if deposit.Cmp(h.debtValue) >= 0 || debtRepaid.Cmp(acct.Debt) > 0 {
			debtRepaid = fixedpoint.Copy(acct.Debt)
		}
		seized, reserveShares := seizeShares(acct, h.value, deposit, op.cfg)
		liquidatorShares := new(big.Int).Sub(seized, reserveShares)

		if err := e.deps.State.Transfer(op.cfg.PrimaryToken, liquidator, op.cfg.Host, deposit); err != nil {
			return fmt.Errorf("vault: collect liquidator deposit: %w", err)
		}

		totals, err := e.store.Totals()
		if err != nil {
			return err
		}
		reservePos := positionOf(m, totals, reserveShares)
		liquidatorPos := positionOf(m, totals, liquidatorShares)
		tokens := new(big.Int).Add(reservePos.tokens, liquidatorPos.tokens)
		exitOpts := exitOptions{capBps: op.settings.PoolSlippageLimitBps}

		result = &DeleverageResult{
			Deposit:             deposit,
			DebtRepaid:          debtRepaid,
			SharesSeized:        seized,
			SharesToLiquidator:  liquidatorShares,
			PrimaryToLiquidator: new(big.Int),
			TransferShares:      transferShares,
			RatioBefore:         h.ratio,
		}
		if transferShares {
			reserveFee, err := e.exitClaim(op, reservePos.claim, params, exitOpts)
			if err != nil {
				return err
			}
			result.ReserveFee = reserveFee
			if err := e.store.DebitAccount(account, seized, debtRepaid, tokens, nil); err != nil {
				return err
			}
			if err := e.store.CreditAccount(liquidator, m.Maturity, liquidatorShares, nil, liquidatorPos.tokens, 0, false); err != nil {
				return err
			}
		} else {
			claim := new(big.Int).Add(reservePos.claim, liquidatorPos.claim)
			proceeds, err := e.exitClaim(op, claim, params, exitOpts)
			if err != nil {
				return err
			}
			result.ReserveFee = fixedpoint.MulDiv(proceeds, reservePos.claim, claim)
			result.PrimaryToLiquidator = new(big.Int).Sub(proceeds, result.ReserveFee)
			if err := e.pay(op, liquidator, result.PrimaryToLiquidator); err != nil {
				return err
			}
			if err := e.store.DebitAccount(account, seized, debtRepaid, tokens, nil); err != nil {
				return err
			}
		}
		if err := e.pay(op, op.cfg.Host, result.ReserveFee); err != nil {
			return err
		}

		after, _, err := e.store.Account(account)
		if err != nil {
			return err
		}
		result.RatioAfter = new(big.Int).Set(InfiniteRatio)
		if after.Debt.Sign() > 0 {
			h2, err := e.health(op.ctx, op, after)
			if err != nil {
				return err
			}
			result.RatioAfter = h2.ratio
			lower := new(big.Int).SetUint64(op.cfg.MinCollateralRatio - ratioTolerance)
			upper := new(big.Int).SetUint64(op.cfg.MaxDeleverageCollateralRatio + ratioTolerance)
			if h2.ratio.Cmp(lower) < 0 || h2.ratio.Cmp(upper) > 0 {
				return fmt.Errorf("%w: ratio %s outside [%s, %s]", ErrDeleverageOutOfBounds, h2.ratio, lower, upper)
			}
		}
		e.deps.Metrics.ObserveDeleverage(e.vault.Hex(), transferShares)
		op.emit(events.VaultDeleveraged{
			OpID:           op.id,
			Vault:          e.vault,
			Account:        account,
			Liquidator:     liquidator,
			Maturity:       m.Maturity,
			Deposit:        deposit,
			DebtRepaid:     debtRepaid,
			SharesSeized:   seized,
			PrimaryPaid:    result.PrimaryToLiquidator,
			ReserveFee:     result.ReserveFee,
			TransferShares: transferShares,
			RatioBefore:    result.RatioBefore,
			RatioAfter:     result.RatioAfter,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
