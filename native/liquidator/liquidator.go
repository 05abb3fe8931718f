// Package liquidator drives vault deleverages for external liquidators. It
// sizes the deposit from the account's deleverage window, funds it with a
// flash loan and unwinds any shares received back into primary.
package liquidator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/native/fixedpoint"
	"strategyvaults/native/vault"
	"strategyvaults/observability/metrics"
)

// ErrUnprofitable is returned when a liquidation would end below the caller's
// minimum profit. The whole liquidation is reverted.
var ErrUnprofitable = errors.New("liquidator: liquidation below minimum profit")

// Snapshot describes the liquidation window of one account.
type Snapshot struct {
	Account                 common.Address
	Maturity                uint64
	VaultShares             *big.Int
	Debt                    *big.Int
	Value                   *big.Int
	DebtValue               *big.Int
	CollateralRatio         *big.Int
	MinDepositCash          *big.Int
	MaxDepositCash          *big.Int
	VaultSharesToLiquidator *big.Int
	Liquidatable            bool
}

// Inspect reads the deleverage window of account. VaultSharesToLiquidator is
// the share count a deposit of MaxDepositCash would hand to the liquidator
// after the host's reserve fee.
func Inspect(ctx context.Context, engine *vault.Engine, account common.Address) (*Snapshot, error) {
	var (
		cfg  *vault.Config
		acct *vault.Account
	)
	err := engine.View(ctx, func(s *vault.Store) error {
		var err error
		if cfg, err = s.Config(); err != nil {
			return err
		}
		var ok bool
		acct, ok, err = s.Account(account)
		if err != nil {
			return err
		}
		if !ok {
			return vault.ErrAccountNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	bounds, err := engine.Bounds(ctx, account)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Account:         account,
		Maturity:        acct.Maturity,
		VaultShares:     fixedpoint.Copy(acct.VaultShares),
		Debt:            fixedpoint.Copy(acct.Debt),
		Value:           bounds.Value,
		DebtValue:       bounds.DebtValue,
		CollateralRatio: bounds.Ratio,
		MinDepositCash:  bounds.Min,
		MaxDepositCash:  bounds.Max,
	}
	snap.Liquidatable = acct.Debt.Sign() > 0 &&
		bounds.Ratio.Cmp(new(big.Int).SetUint64(cfg.MinCollateralRatio)) < 0 &&
		bounds.Max.Sign() > 0 && bounds.Max.Cmp(bounds.Min) >= 0
	snap.VaultSharesToLiquidator = sharesToLiquidator(acct.VaultShares, bounds.Value, bounds.Max, cfg)
	return snap, nil
}

// sharesToLiquidator mirrors the engine's share seizure: the deposit plus
// the discount in shares, less the host's share of the discount.
func sharesToLiquidator(shares, value, deposit *big.Int, cfg *vault.Config) *big.Int {
	if fixedpoint.IsZero(deposit) || fixedpoint.IsZero(value) {
		return new(big.Int)
	}
	one := fixedpoint.RatePrecision.Uint64()
	seizedValue := fixedpoint.ApplyRate(deposit, one+cfg.LiquidationDiscount, fixedpoint.RoundDown)
	seized := fixedpoint.Min(fixedpoint.MulDiv(seizedValue, shares, value), shares)
	discountValue := fixedpoint.ApplyRate(deposit, cfg.LiquidationDiscount, fixedpoint.RoundDown)
	reserveValue := fixedpoint.ApplyRate(discountValue, cfg.ReserveFeeShare, fixedpoint.RoundDown)
	reserve := fixedpoint.MulDiv(seized, reserveValue, seizedValue)
	return new(big.Int).Sub(seized, reserve)
}

// Options tune one liquidation.
type Options struct {
	// DepositAmount is the primary deposited into the deleverage; nil uses
	// the maximum of the window.
	DepositAmount *big.Int
	// TransferShares takes the seized shares instead of their proceeds; they
	// are redeemed straight away to repay the loan.
	TransferShares bool
	// RedeemData is the encoded vault.RedeemParams used to exit the claim.
	RedeemData []byte
	// MinProfit is the smallest acceptable profit in primary. Nil means zero.
	MinProfit *big.Int
}

// Result reports a finished liquidation.
type Result struct {
	Account         common.Address
	Deposit         *big.Int
	FlashFee        *big.Int
	PrimaryReceived *big.Int
	Profit          *big.Int
	Deleverage      *vault.DeleverageResult
}

// Liquidator liquidates accounts of one vault on behalf of a liquidator
// address. Vault calls are made as host, which must be the vault's host or
// the vault itself. The engine must not auto-commit so that a failed
// liquidation can be rolled back by the lender.
type Liquidator struct {
	engine  *vault.Engine
	lender  FlashLender
	ledger  Ledger
	host    common.Address
	address common.Address
	metrics *metrics.VaultMetrics
	logger  *slog.Logger
}

// New returns a liquidator acting for address.
func New(engine *vault.Engine, lender FlashLender, ledger Ledger, host, address common.Address) *Liquidator {
	return &Liquidator{
		engine:  engine,
		lender:  lender,
		ledger:  ledger,
		host:    host,
		address: address,
		logger:  slog.Default(),
	}
}

// SetLogger overrides the logger.
func (l *Liquidator) SetLogger(logger *slog.Logger) {
	if l == nil || logger == nil {
		return
	}
	l.logger = logger
}

// SetMetrics wires the run counter.
func (l *Liquidator) SetMetrics(m *metrics.VaultMetrics) {
	if l == nil {
		return
	}
	l.metrics = m
}

// Address returns the liquidator's address.
func (l *Liquidator) Address() common.Address { return l.address }

// Liquidate deleverages account with flash-borrowed primary, unwinds what it
// receives, repays the loan and reports the profit left with the liquidator.
func (l *Liquidator) Liquidate(ctx context.Context, account common.Address, opts Options) (*Result, error) {
	vaultHex := l.engine.Address().Hex()
	res, err := l.liquidate(ctx, account, opts)
	if err != nil {
		l.metrics.ObserveLiquidation(vaultHex, "failed")
		l.logger.Warn("liquidation failed",
			slog.String("component", "liquidator"),
			slog.String("vault", vaultHex),
			slog.String("account", account.Hex()),
			slog.Any("error", err))
		return nil, err
	}
	l.metrics.ObserveLiquidation(vaultHex, "ok")
	l.logger.Info("liquidation complete",
		slog.String("component", "liquidator"),
		slog.String("vault", vaultHex),
		slog.String("account", account.Hex()),
		slog.String("deposit", res.Deposit.String()),
		slog.String("profit", res.Profit.String()))
	return res, nil
}

func (l *Liquidator) liquidate(ctx context.Context, account common.Address, opts Options) (*Result, error) {
	snap, err := Inspect(ctx, l.engine, account)
	if err != nil {
		return nil, err
	}
	if !snap.Liquidatable {
		return nil, fmt.Errorf("%w: ratio %s", vault.ErrSufficientlyCollateralized, snap.CollateralRatio)
	}
	deposit := fixedpoint.Copy(snap.MaxDepositCash)
	if opts.DepositAmount != nil {
		deposit = fixedpoint.Copy(opts.DepositAmount)
	}
	var primary common.Address
	if err := l.engine.View(ctx, func(s *vault.Store) error {
		cfg, err := s.Config()
		if err != nil {
			return err
		}
		primary = cfg.PrimaryToken
		return nil
	}); err != nil {
		return nil, err
	}
	before, err := l.ledger.Balance(primary, l.address)
	if err != nil {
		return nil, err
	}
	minProfit := fixedpoint.Copy(opts.MinProfit)

	res := &Result{Account: account, Deposit: deposit}
	err = l.lender.FlashLoan(ctx, l.address, primary, deposit, func(ctx context.Context, fee *big.Int) error {
		out, err := l.engine.Deleverage(ctx, l.host, l.address, account, deposit, opts.TransferShares, opts.RedeemData)
		if err != nil {
			return err
		}
		res.Deleverage = out
		res.FlashFee = fee
		received := fixedpoint.Copy(out.PrimaryToLiquidator)
		if opts.TransferShares && out.SharesToLiquidator.Sign() > 0 {
			paid, err := l.engine.Redeem(ctx, l.host, l.address, l.address, out.SharesToLiquidator, new(big.Int), opts.RedeemData)
			if err != nil {
				return fmt.Errorf("liquidator: redeem seized shares: %w", err)
			}
			received = paid
		}
		res.PrimaryReceived = received
		now, err := l.ledger.Balance(primary, l.address)
		if err != nil {
			return err
		}
		// Profit once the principal and fee go back to the lender.
		profit := new(big.Int).Sub(now, before)
		profit.Sub(profit, deposit)
		profit.Sub(profit, fee)
		if profit.Cmp(minProfit) < 0 {
			return fmt.Errorf("%w: profit %s below %s", ErrUnprofitable, profit, minProfit)
		}
		res.Profit = profit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
