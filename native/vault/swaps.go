package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/native/fixedpoint"
	"strategyvaults/native/trade"
)

// swap sells amount of sell for buy as described by spec. Vault trades always
// sell an exact amount and never unwrap; capBps is the oracle slippage cap of
// the phase the trade runs in.
func (e *Engine) swap(op *opContext, sell, buy common.Address, amount *big.Int, spec *trade.Spec, capBps uint64, skipFreshness bool) (trade.Result, error) {
	if fixedpoint.IsZero(amount) {
		return trade.Result{Sold: new(big.Int), Bought: new(big.Int)}, nil
	}
	if spec == nil {
		return trade.Result{}, ErrTradeRequired
	}
	if !spec.TradeType.ExactIn() {
		return trade.Result{}, fmt.Errorf("%w: vault trades must be exact-in", ErrMalformedParams)
	}
	res, err := e.deps.Trades.Execute(op.ctx, e.vault, trade.Trade{
		TradeType: spec.TradeType,
		SellToken: sell,
		BuyToken:  buy,
		Amount:    fixedpoint.Copy(amount),
		Limit:     fixedpoint.Copy(spec.Limit),
		Deadline:  op.now,
		Payload:   spec.Payload,
	}, trade.Options{
		DexID:          spec.DexID,
		OracleSlippage: spec.OracleSlippage,
		SlippageCapBps: capBps,
		Now:            op.now,
		SkipFreshness:  skipFreshness,
	})
	if err != nil {
		return trade.Result{}, fmt.Errorf("vault: trade %s: %w", spec.DexID, err)
	}
	return res, nil
}

// joinPool turns primary held by the vault into staked claim, first swapping
// SecondarySellAmount of it to secondary. The caller records the claim.
func (e *Engine) joinPool(op *opContext, primary *big.Int, params DepositParams) (*big.Int, error) {
	sell := fixedpoint.Copy(params.SecondarySellAmount)
	if sell.Cmp(fixedpoint.Copy(primary)) > 0 {
		return nil, fmt.Errorf("%w: secondary sell %s above available %s", ErrInvalidAmount, sell, primary)
	}
	res, err := e.swap(op, op.cfg.PrimaryToken, op.cfg.SecondaryToken, sell, params.Trade, op.settings.PoolSlippageLimitBps, false)
	if err != nil {
		return nil, err
	}
	primaryIn := new(big.Int).Sub(fixedpoint.Copy(primary), res.Sold)
	claim, err := e.deps.Gateway.Join(op.ctx, e.vault, primaryIn, res.Bought, fixedpoint.Copy(params.MinPoolClaim))
	if err != nil {
		return nil, fmt.Errorf("%w: join: %w", ErrSlippageExceeded, err)
	}
	return claim, nil
}

// exitOptions selects the venue exit path and the trade constraints of a
// redemption.
type exitOptions struct {
	capBps        uint64
	skipFreshness bool
	emergency     bool
}

// exitClaim unstakes claim, swaps the secondary received into primary and
// removes the claim from the vault total. It returns the primary raised.
func (e *Engine) exitClaim(op *opContext, claim *big.Int, params RedeemParams, opts exitOptions) (*big.Int, error) {
	if fixedpoint.IsZero(claim) {
		return new(big.Int), nil
	}
	var (
		primaryOut, secondaryOut *big.Int
		err                      error
	)
	if opts.emergency {
		primaryOut, secondaryOut, err = e.deps.Gateway.EmergencyExit(op.ctx, e.vault, claim)
	} else {
		primaryOut, secondaryOut, err = e.deps.Gateway.Exit(op.ctx, e.vault, claim, fixedpoint.Copy(params.MinPrimaryOut), fixedpoint.Copy(params.MinSecondaryOut))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: exit: %w", ErrSlippageExceeded, err)
	}
	if err := e.store.AdjustTotalClaim(new(big.Int).Neg(claim)); err != nil {
		return nil, err
	}
	if err := e.checkClaimMirror(); err != nil {
		return nil, err
	}
	res, err := e.swap(op, op.cfg.SecondaryToken, op.cfg.PrimaryToken, secondaryOut, params.Trade, opts.capBps, opts.skipFreshness)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(primaryOut, res.Bought), nil
}

func (e *Engine) pay(op *opContext, to common.Address, amount *big.Int) error {
	if fixedpoint.IsZero(amount) {
		return nil
	}
	return e.deps.State.Transfer(op.cfg.PrimaryToken, e.vault, to, amount)
}
