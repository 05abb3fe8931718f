package trade

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/native/fixedpoint"
	"strategyvaults/native/oracle"
)

// Ledger is the token ledger trades settle against.
type Ledger interface {
	Balance(token, holder common.Address) (*big.Int, error)
	Transfer(token, from, to common.Address, amount *big.Int) error
	Mint(token, to common.Address, amount *big.Int) error
	Burn(token, from common.Address, amount *big.Int) error
	Decimals(token common.Address) (uint8, error)
}

// RateSource prices one token in terms of another.
type RateSource interface {
	Rate(base, quote common.Address, opts oracle.ReadOptions) (oracle.Quote, error)
}

// Adapter is a venue able to quote and fill swaps. Quote must not change
// state; Fill moves the tokens.
type Adapter interface {
	Quote(ctx context.Context, t Trade) (sold, bought *big.Int, err error)
	Fill(ctx context.Context, trader common.Address, t Trade) (sold, bought *big.Int, err error)
}

// Executor routes vault trades to adapters after checking permissions,
// deadlines and slippage.
type Executor struct {
	mu            sync.RWMutex
	adapters      map[DexID]Adapter
	permissions   PermissionStore
	oracle        RateSource
	ledger        Ledger
	wrappedNative common.Address
	logger        *slog.Logger
}

// NewExecutor constructs an executor. wrappedNative may be the zero address
// when no unwrapping is supported.
func NewExecutor(ledger Ledger, permissions PermissionStore, rates RateSource, wrappedNative common.Address) *Executor {
	return &Executor{
		adapters:      make(map[DexID]Adapter),
		permissions:   permissions,
		oracle:        rates,
		ledger:        ledger,
		wrappedNative: wrappedNative,
		logger:        slog.Default(),
	}
}

// SetLogger overrides the logger.
func (e *Executor) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

// SetOracle replaces the rate source used for oracle slippage.
func (e *Executor) SetOracle(rates RateSource) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.oracle = rates
	e.mu.Unlock()
}

// Register installs an adapter for id.
func (e *Executor) Register(id DexID, adapter Adapter) error {
	if e == nil {
		return fmt.Errorf("trade: executor not configured")
	}
	if !id.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownDex, id)
	}
	e.mu.Lock()
	e.adapters[id] = adapter
	e.mu.Unlock()
	return nil
}

// Execute performs t on behalf of vault.
func (e *Executor) Execute(ctx context.Context, vault common.Address, t Trade, opts Options) (Result, error) {
	if e == nil {
		return Result{}, fmt.Errorf("trade: executor not configured")
	}
	if !opts.DexID.Valid() {
		return Result{}, fmt.Errorf("%w: %d", ErrUnknownDex, opts.DexID)
	}
	if !t.TradeType.Valid() {
		return Result{}, fmt.Errorf("%w: %d", ErrUnknownTradeType, t.TradeType)
	}
	if t.SellToken == t.BuyToken {
		return Result{}, ErrSameToken
	}
	if t.Amount == nil || t.Amount.Sign() < 0 {
		return Result{}, ErrInvalidAmount
	}
	if t.Amount.Sign() == 0 {
		return Result{DexID: opts.DexID, Sold: new(big.Int), Bought: new(big.Int)}, nil
	}

	perm, err := e.permissions.TradePermission(vault, t.SellToken)
	if err != nil {
		return Result{}, err
	}
	if !perm.Enabled {
		return Result{}, fmt.Errorf("%w: vault %s token %s", ErrTradeNotPermitted, vault.Hex(), t.SellToken.Hex())
	}
	if !perm.AllowsDex(opts.DexID) {
		return Result{}, fmt.Errorf("%w: %s", ErrDexNotAllowed, opts.DexID)
	}
	if !perm.AllowsTradeType(t.TradeType) {
		return Result{}, fmt.Errorf("%w: %s", ErrTradeTypeNotAllowed, t.TradeType)
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	if !t.Deadline.IsZero() && now.After(t.Deadline) {
		return Result{}, fmt.Errorf("%w: deadline %s", ErrTradeExpired, t.Deadline.UTC().Format(time.RFC3339))
	}

	e.mu.RLock()
	adapter := e.adapters[opts.DexID]
	e.mu.RUnlock()
	if adapter == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrNoAdapter, opts.DexID)
	}

	bound, err := e.slippageBound(t, opts, now)
	if err != nil {
		return Result{}, err
	}
	sold, bought, err := adapter.Quote(ctx, t)
	if err != nil {
		return Result{}, err
	}
	if err := checkBound(t, bound, sold, bought); err != nil {
		return Result{}, err
	}
	sold, bought, err = adapter.Fill(ctx, vault, t)
	if err != nil {
		return Result{}, err
	}
	if err := checkBound(t, bound, sold, bought); err != nil {
		return Result{}, err
	}

	if opts.Unwrap && e.wrappedNative != (common.Address{}) && t.BuyToken == e.wrappedNative {
		if err := e.ledger.Burn(e.wrappedNative, vault, bought); err != nil {
			return Result{}, fmt.Errorf("trade: unwrap: %w", err)
		}
		if err := e.ledger.Mint(NativeToken, vault, bought); err != nil {
			return Result{}, fmt.Errorf("trade: unwrap: %w", err)
		}
	}

	e.logger.Debug("trade executed",
		slog.String("component", "trade"),
		slog.String("vault", vault.Hex()),
		slog.String("dex", opts.DexID.String()),
		slog.String("type", t.TradeType.String()),
		slog.String("sold", sold.String()),
		slog.String("bought", bought.String()))
	return Result{DexID: opts.DexID, Sold: sold, Bought: bought}, nil
}

// slippageBound returns the min amount bought (exact-in) or max amount sold
// (exact-out). A nil bound means unbounded.
func (e *Executor) slippageBound(t Trade, opts Options, now time.Time) (*big.Int, error) {
	if !opts.OracleSlippage {
		if t.Limit == nil {
			return nil, nil
		}
		return new(big.Int).Set(t.Limit), nil
	}
	limitBps := uint64(0)
	if t.Limit != nil {
		if !t.Limit.IsUint64() {
			return nil, fmt.Errorf("%w: %s bps", ErrSlippageLimitTooHigh, t.Limit)
		}
		limitBps = t.Limit.Uint64()
	}
	if limitBps > opts.SlippageCapBps {
		return nil, fmt.Errorf("%w: %d bps above cap %d bps", ErrSlippageLimitTooHigh, limitBps, opts.SlippageCapBps)
	}
	e.mu.RLock()
	rates := e.oracle
	e.mu.RUnlock()
	if rates == nil {
		return nil, fmt.Errorf("trade: oracle slippage requested without oracle")
	}
	sellDec, err := e.ledger.Decimals(t.SellToken)
	if err != nil {
		return nil, err
	}
	buyDec, err := e.ledger.Decimals(t.BuyToken)
	if err != nil {
		return nil, err
	}
	readOpts := oracle.ReadOptions{Now: now, SkipFreshness: opts.SkipFreshness}
	if t.TradeType.ExactIn() {
		quote, err := rates.Rate(t.SellToken, t.BuyToken, readOpts)
		if err != nil {
			return nil, err
		}
		expected := fixedpoint.ConvertRat(t.Amount, quote.Rate, sellDec, buyDec, fixedpoint.RoundDown)
		return fixedpoint.LessBps(expected, limitBps), nil
	}
	quote, err := rates.Rate(t.BuyToken, t.SellToken, readOpts)
	if err != nil {
		return nil, err
	}
	expected := fixedpoint.ConvertRat(t.Amount, quote.Rate, buyDec, sellDec, fixedpoint.RoundUp)
	return fixedpoint.MulDivUp(expected, new(big.Int).SetUint64(10_000+limitBps), fixedpoint.BasisPoints), nil
}

func checkBound(t Trade, bound, sold, bought *big.Int) error {
	if bound == nil {
		return nil
	}
	if t.TradeType.ExactIn() {
		if bought.Cmp(bound) < 0 {
			return fmt.Errorf("%w: bought %s below minimum %s", ErrSlippageExceeded, bought, bound)
		}
		return nil
	}
	if sold.Cmp(bound) > 0 {
		return fmt.Errorf("%w: sold %s above maximum %s", ErrSlippageExceeded, sold, bound)
	}
	return nil
}
