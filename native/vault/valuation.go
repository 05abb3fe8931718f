package vault

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/native/fixedpoint"
	"strategyvaults/native/venue"
)

// InfiniteRatio is reported as the collateral ratio of a debt-free position.
var InfiniteRatio = new(big.Int).SetUint64(math.MaxUint64)

// position is the slice of a maturity held by a number of shares.
type position struct {
	maturity *MaturityState
	totals   *VaultState
	shares   *big.Int
	tokens   *big.Int
	claim    *big.Int
	cash     *big.Int
}

func positionOf(m *MaturityState, totals *VaultState, shares *big.Int) position {
	tokens := fixedpoint.MulDiv(shares, m.TotalStrategyTokens, m.TotalVaultShares)
	return position{
		maturity: m,
		totals:   totals,
		shares:   fixedpoint.Copy(shares),
		tokens:   tokens,
		claim:    fixedpoint.MulDiv(tokens, totals.TotalPoolClaim, totals.TotalStrategyTokens),
		cash:     fixedpoint.MulDiv(shares, m.TotalAssetCash, m.TotalVaultShares),
	}
}

func (e *Engine) valueOptions(op *opContext, skipFreshness bool) venue.ValueOptions {
	return venue.ValueOptions{
		Now:               op.now,
		SkipFreshness:     skipFreshness,
		DeviationLimitBps: op.settings.OraclePriceDeviationLimitBps,
	}
}

// positionValue returns the primary value of p: its pool claim at fair value
// plus its share of settled cash.
func (e *Engine) positionValue(ctx context.Context, op *opContext, p position, skipFreshness bool) (*big.Int, error) {
	valuation, err := e.deps.Gateway.ValueInPrimary(ctx, p.claim, e.valueOptions(op, skipFreshness))
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(valuation.Value, p.cash), nil
}

// debtValue returns the repayment cost of debt in maturity, rounded up. Debt
// of a settled maturity has already been repaid to the host.
func (e *Engine) debtValue(m *MaturityState, debt *big.Int, now time.Time) (*big.Int, error) {
	if m.IsSettled || fixedpoint.IsZero(debt) {
		return new(big.Int), nil
	}
	return e.deps.Market.PresentValue(m.Maturity, debt, now, fixedpoint.RoundUp)
}

func collateralRatio(value, debtValue *big.Int) *big.Int {
	if fixedpoint.IsZero(debtValue) {
		return new(big.Int).Set(InfiniteRatio)
	}
	return fixedpoint.MulDiv(value, fixedpoint.RatePrecision, debtValue)
}

// accountHealth is the valuation of one account.
type accountHealth struct {
	acct      *Account
	pos       position
	value     *big.Int
	debtValue *big.Int
	ratio     *big.Int
}

func (e *Engine) health(ctx context.Context, op *opContext, acct *Account) (accountHealth, error) {
	m, _, err := e.store.Maturity(acct.Maturity)
	if err != nil {
		return accountHealth{}, err
	}
	totals, err := e.store.Totals()
	if err != nil {
		return accountHealth{}, err
	}
	pos := positionOf(m, totals, acct.VaultShares)
	value, err := e.positionValue(ctx, op, pos, false)
	if err != nil {
		return accountHealth{}, err
	}
	debtValue, err := e.debtValue(m, acct.Debt, op.now)
	if err != nil {
		return accountHealth{}, err
	}
	return accountHealth{acct: acct, pos: pos, value: value, debtValue: debtValue, ratio: collateralRatio(value, debtValue)}, nil
}

// checkAccountHealth enforces the entry bounds on an account after a change:
// minimum borrow size, the minimum collateral ratio and, when enforceMax is
// set, the maximum required ratio.
func (e *Engine) checkAccountHealth(ctx context.Context, op *opContext, owner common.Address, enforceMax bool) error {
	acct, ok, err := e.store.Account(owner)
	if err != nil {
		return err
	}
	if !ok || acct.Debt.Sign() == 0 {
		return nil
	}
	h, err := e.health(ctx, op, acct)
	if err != nil {
		return err
	}
	if h.debtValue.Sign() == 0 {
		return nil
	}
	if acct.Debt.Cmp(op.cfg.MinAccountBorrowSize) < 0 {
		return fmt.Errorf("%w: debt %s minimum %s", ErrMinBorrowSize, acct.Debt, op.cfg.MinAccountBorrowSize)
	}
	if acct.VaultShares.Sign() == 0 {
		return fmt.Errorf("%w: debt left without shares", ErrInsufficientCollateral)
	}
	floor := new(big.Int).SetUint64(op.cfg.MinCollateralRatio)
	if h.ratio.Cmp(floor) < 0 {
		return fmt.Errorf("%w: ratio %s minimum %s", ErrInsufficientCollateral, h.ratio, floor)
	}
	if enforceMax {
		ceiling := new(big.Int).SetUint64(op.cfg.MaxRequiredAccountCollateralRatio)
		if h.ratio.Cmp(ceiling) > 0 {
			return fmt.Errorf("%w: ratio %s maximum %s", ErrCollateralRatioTooHigh, h.ratio, ceiling)
		}
	}
	return nil
}

// checkPoolShare enforces the venue concentration cap after an increase in
// staked claim.
func (e *Engine) checkPoolShare(op *opContext) error {
	breached, err := e.poolShareBreached(op.settings)
	if err != nil {
		return err
	}
	if breached {
		return ErrPoolShareExceeded
	}
	return nil
}

func (e *Engine) poolShareBreached(settings *Settings) (bool, error) {
	totals, err := e.store.Totals()
	if err != nil {
		return false, err
	}
	supply, err := e.deps.Gateway.TotalSupply()
	if err != nil {
		return false, err
	}
	limit := fixedpoint.ApplyBps(supply, settings.MaxPoolShareBps, fixedpoint.RoundDown)
	return totals.TotalPoolClaim.Cmp(limit) > 0, nil
}

// CollateralRatio returns the collateral ratio of owner in RatePrecision, or
// InfiniteRatio when the account carries no debt.
func (e *Engine) CollateralRatio(ctx context.Context, owner common.Address) (*big.Int, error) {
	var ratio *big.Int
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
		ratio = h.ratio
		return nil
	})
	return ratio, err
}

// ConvertStrategyToUnderlying values shares of maturity in primary. shares
// may not exceed the maturity's total, nor owner's position when owner holds
// one in maturity.
func (e *Engine) ConvertStrategyToUnderlying(ctx context.Context, owner common.Address, shares *big.Int, maturity uint64) (*big.Int, error) {
	if shares == nil || shares.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	var value *big.Int
	err := e.read(ctx, func(op *opContext) error {
		if owner != (common.Address{}) {
			acct, ok, err := e.store.Account(owner)
			if err != nil {
				return err
			}
			if ok && acct.Maturity == maturity && shares.Cmp(acct.VaultShares) > 0 {
				return fmt.Errorf("%w: account holds %s", ErrInsufficientShares, acct.VaultShares)
			}
		}
		m, _, err := e.store.Maturity(maturity)
		if err != nil {
			return err
		}
		if shares.Cmp(m.TotalVaultShares) > 0 {
			return fmt.Errorf("%w: maturity %d has %s", ErrInsufficientShares, maturity, m.TotalVaultShares)
		}
		totals, err := e.store.Totals()
		if err != nil {
			return err
		}
		value, err = e.positionValue(op.ctx, op, positionOf(m, totals, shares), false)
		return err
	})
	return value, err
}

// Status reports the lifecycle stage of maturity.
func (e *Engine) Status(ctx context.Context, maturity uint64) (Status, error) {
	var status Status
	err := e.View(ctx, func(s *Store) error {
		m, ok, err := s.Maturity(maturity)
		if err != nil {
			return err
		}
		status = statusOf(m, ok)
		return nil
	})
	return status, err
}

// read runs fn with a read-only operation context.
func (e *Engine) read(ctx context.Context, fn func(op *opContext) error) error {
	return e.View(ctx, func(s *Store) error {
		cfg, err := s.Config()
		if err != nil {
			return err
		}
		settings, err := s.Settings()
		if err != nil {
			return err
		}
		if ctx == nil {
			ctx = context.Background()
		}
		op := &opContext{
			ctx:      ctx,
			name:     "read",
			cfg:      cfg,
			settings: settings,
			now:      e.deps.Clock.Now(),
			block:    e.deps.Clock.BlockNumber(),
		}
		return fn(op)
	})
}
