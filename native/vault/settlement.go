package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/core/events"
	"strategyvaults/native/fixedpoint"
)

// SettlementMode names the settlement path.
type SettlementMode string

const (
	SettlementNormal       SettlementMode = "normal"
	SettlementPostMaturity SettlementMode = "post_maturity"
	SettlementEmergency    SettlementMode = "emergency"
)

// SettlementResult reports a settlement call. A call that redeemed nothing
// and did not finalise the maturity has Noop set.
type SettlementResult struct {
	Maturity       uint64
	Mode           SettlementMode
	TokensRedeemed *big.Int
	PrimaryRaised  *big.Int
	AssetCash      *big.Int
	Shortfall      *big.Int
	Settled        bool
	Noop           bool
}

func (e *Engine) authorizeSettler(op *opContext, caller common.Address, role string) error {
	if caller == op.cfg.Vault || e.deps.State.HasRole(e.vault, role, caller) {
		return nil
	}
	if caller == op.cfg.Host && !op.cfg.Flags.Has(FlagOnlyVaultSettle) {
		return nil
	}
	return fmt.Errorf("%w: %s requires role %s", ErrUnauthorized, op.name, role)
}

func checkSettlementCoolDown(op *opContext, m *MaturityState) error {
	if m.LastSettlement == 0 {
		return nil
	}
	next := m.LastSettlement + op.settings.SettlementCoolDown
	if op.nowUnix() < next {
		return fmt.Errorf("%w: next settlement at %d", ErrSettlementCoolDown, next)
	}
	return nil
}

// settleable loads maturity for a settlement, rejecting unknown and
// finalised maturities.
func (e *Engine) settleable(maturity uint64) (*MaturityState, error) {
	m, ok, err := e.store.Maturity(maturity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrMaturityNotFound, maturity)
	}
	if m.IsSettled {
		return nil, ErrMaturitySettled
	}
	return m, nil
}

// redeemTokens exits the claim backing tokens of m and books the proceeds as
// asset cash. It returns the primary raised.
func (e *Engine) redeemTokens(op *opContext, m *MaturityState, tokens *big.Int, params RedeemParams, opts exitOptions) (*big.Int, error) {
	totals, err := e.store.Totals()
	if err != nil {
		return nil, err
	}
	claim := fixedpoint.MulDiv(tokens, totals.TotalPoolClaim, totals.TotalStrategyTokens)
	expected := new(big.Int)
	if claim.Sign() > 0 {
		valuation, err := e.deps.Gateway.ValueInPrimary(op.ctx, claim, e.valueOptions(op, opts.skipFreshness))
		if err != nil {
			return nil, err
		}
		expected = valuation.Value
	}
	proceeds, err := e.exitClaim(op, claim, params, opts)
	if err != nil {
		return nil, err
	}
	if floor := fixedpoint.LessBps(expected, opts.capBps); proceeds.Cmp(floor) < 0 {
		return nil, fmt.Errorf("%w: raised %s expected at least %s", ErrSlippageExceeded, proceeds, floor)
	}
	if err := e.store.SettleMaturityShares(m.Maturity, tokens, proceeds, op.nowUnix()); err != nil {
		return nil, err
	}
	return proceeds, nil
}

// finalize settles m once its cash covers the debt cost or nothing is left
// to redeem. The debt cost is paid to the host; an uncovered remainder is
// booked as shortfall.
func (e *Engine) finalize(op *opContext, maturity uint64, res *SettlementResult) error {
	m, _, err := e.store.Maturity(maturity)
	if err != nil {
		return err
	}
	res.AssetCash = fixedpoint.Copy(m.TotalAssetCash)
	res.Shortfall = new(big.Int)
	cost, err := e.debtValue(m, m.TotalDebt, op.now)
	if err != nil {
		return err
	}
	switch {
	case m.TotalAssetCash.Cmp(cost) >= 0:
		if err := e.pay(op, op.cfg.Host, cost); err != nil {
			return err
		}
		res.AssetCash = new(big.Int).Sub(m.TotalAssetCash, cost)
		if err := e.store.SetAssetCash(maturity, res.AssetCash); err != nil {
			return err
		}
	case m.TotalStrategyTokens.Sign() == 0:
		if err := e.pay(op, op.cfg.Host, m.TotalAssetCash); err != nil {
			return err
		}
		res.Shortfall = new(big.Int).Sub(cost, m.TotalAssetCash)
		res.AssetCash = new(big.Int)
		if err := e.store.SetAssetCash(maturity, res.AssetCash); err != nil {
			return err
		}
		e.logger.Warn("vault maturity settled with shortfall",
			slog.String("component", "vault"),
			slog.String("vault", e.vault.Hex()),
			slog.Uint64("maturity", maturity),
			slog.String("shortfall", res.Shortfall.String()))
	default:
		return nil
	}
	if err := e.store.MarkSettled(maturity, res.Shortfall); err != nil {
		return err
	}
	res.Settled = true
	return nil
}

func (e *Engine) recordSettlement(op *opContext, res *SettlementResult) {
	if res.Noop {
		return
	}
	e.deps.Metrics.ObserveSettlement(e.vault.Hex(), string(res.Mode))
	op.emit(events.VaultSettled{
		OpID:           op.id,
		Vault:          e.vault,
		Maturity:       res.Maturity,
		Mode:           string(res.Mode),
		TokensRedeemed: res.TokensRedeemed,
		PrimaryRaised:  res.PrimaryRaised,
		AssetCash:      res.AssetCash,
		Shortfall:      res.Shortfall,
		Settled:        res.Settled,
	})
}

func newSettlementResult(maturity uint64, mode SettlementMode) *SettlementResult {
	return &SettlementResult{
		Maturity:       maturity,
		Mode:           mode,
		TokensRedeemed: new(big.Int),
		PrimaryRaised:  new(big.Int),
		AssetCash:      new(big.Int),
		Shortfall:      new(big.Int),
	}
}

func capTokens(requested, available *big.Int) *big.Int {
	tokens := fixedpoint.Copy(requested)
	if tokens.Cmp(available) > 0 {
		tokens = fixedpoint.Copy(available)
	}
	return tokens
}

// SettleNormal redeems up to tokensToRedeem strategy tokens of maturity
// inside its settlement window and finalises the maturity once the proceeds
// cover its debt.
func (e *Engine) SettleNormal(ctx context.Context, caller common.Address, maturity uint64, tokensToRedeem *big.Int, data []byte) (*SettlementResult, error) {
	params, err := DecodeRedeemParams(data)
	if err != nil {
		return nil, err
	}
	if tokensToRedeem != nil && tokensToRedeem.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	res := newSettlementResult(maturity, SettlementNormal)
	err = e.run(ctx, "settle_normal", common.Address{}, func(op *opContext) error {
		if err := e.authorizeSettler(op, caller, RoleNormalSettlement); err != nil {
			return err
		}
		now := op.nowUnix()
		if now >= maturity || maturity-now > op.cfg.SettlementWindow {
			return fmt.Errorf("%w: %d", ErrNotInSettlementWindow, maturity)
		}
		m, err := e.settleable(maturity)
		if err != nil {
			return err
		}
		breached, err := e.poolShareBreached(op.settings)
		if err != nil {
			return err
		}
		if breached {
			return ErrEmergencySettlementPending
		}
		if err := checkSettlementCoolDown(op, m); err != nil {
			return err
		}
		tokens := capTokens(tokensToRedeem, m.TotalStrategyTokens)
		if tokens.Sign() == 0 {
			res.Noop = true
			return nil
		}
		raised, err := e.redeemTokens(op, m, tokens, params, exitOptions{capBps: op.settings.SettlementSlippageLimitBps})
		if err != nil {
			return err
		}
		res.TokensRedeemed, res.PrimaryRaised = tokens, raised

		m, _, err = e.store.Maturity(maturity)
		if err != nil {
			return err
		}
		cost, err := e.debtValue(m, m.TotalDebt, op.now)
		if err != nil {
			return err
		}
		if surplus := new(big.Int).Sub(m.TotalAssetCash, cost); surplus.Cmp(fixedpoint.Copy(op.settings.MaxUnderlyingSurplus)) > 0 {
			return fmt.Errorf("%w: surplus %s above %s", ErrSurplusExceeded, surplus, fixedpoint.Copy(op.settings.MaxUnderlyingSurplus))
		}
		if err := e.finalize(op, maturity, res); err != nil {
			return err
		}
		e.recordSettlement(op, res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SettlePostMaturity redeems strategy tokens of a matured maturity with
// oracle freshness lifted and finalises it when nothing is left to redeem or
// cash covers the debt.
func (e *Engine) SettlePostMaturity(ctx context.Context, caller common.Address, maturity uint64, tokensToRedeem *big.Int, data []byte) (*SettlementResult, error) {
	params, err := DecodeRedeemParams(data)
	if err != nil {
		return nil, err
	}
	if tokensToRedeem != nil && tokensToRedeem.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	res := newSettlementResult(maturity, SettlementPostMaturity)
	err = e.run(ctx, "settle_post_maturity", common.Address{}, func(op *opContext) error {
		if err := e.authorizeSettler(op, caller, RolePostMaturitySettlement); err != nil {
			return err
		}
		if op.nowUnix() < maturity {
			return fmt.Errorf("%w: %d", ErrMaturityNotReached, maturity)
		}
		m, err := e.settleable(maturity)
		if err != nil {
			return err
		}
		if err := checkSettlementCoolDown(op, m); err != nil {
			return err
		}
		tokens := capTokens(tokensToRedeem, m.TotalStrategyTokens)
		if tokens.Sign() == 0 && m.TotalStrategyTokens.Sign() > 0 {
			res.Noop = true
			return nil
		}
		if tokens.Sign() > 0 {
			raised, err := e.redeemTokens(op, m, tokens, params, exitOptions{
				capBps:        op.settings.PostMaturitySettlementSlippageLimitBps,
				skipFreshness: true,
			})
			if err != nil {
				return err
			}
			res.TokensRedeemed, res.PrimaryRaised = tokens, raised
		}
		if err := e.finalize(op, maturity, res); err != nil {
			return err
		}
		e.recordSettlement(op, res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SettleEmergency redeems every strategy token of maturity through the
// venue's emergency exit while the vault breaches its pool-share cap, then
// finalises the maturity.
func (e *Engine) SettleEmergency(ctx context.Context, caller common.Address, maturity uint64, data []byte) (*SettlementResult, error) {
	params, err := DecodeRedeemParams(data)
	if err != nil {
		return nil, err
	}
	res := newSettlementResult(maturity, SettlementEmergency)
	err = e.run(ctx, "settle_emergency", common.Address{}, func(op *opContext) error {
		if err := e.authorizeSettler(op, caller, RoleEmergencySettlement); err != nil {
			return err
		}
		m, err := e.settleable(maturity)
		if err != nil {
			return err
		}
		breached, err := e.poolShareBreached(op.settings)
		if err != nil {
			return err
		}
		if !breached {
			return ErrPoolShareNotExceeded
		}
		tokens := fixedpoint.Copy(m.TotalStrategyTokens)
		if tokens.Sign() > 0 {
			raised, err := e.redeemTokens(op, m, tokens, params, exitOptions{
				capBps:        op.settings.EmergencySettlementSlippageLimitBps,
				skipFreshness: true,
				emergency:     true,
			})
			if err != nil {
				return err
			}
			res.TokensRedeemed, res.PrimaryRaised = tokens, raised
		}
		if err := e.finalize(op, maturity, res); err != nil {
			return err
		}
		e.recordSettlement(op, res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
