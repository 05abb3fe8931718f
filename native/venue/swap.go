package venue

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/native/fixedpoint"
	"strategyvaults/native/trade"
)

// SwapAdapter routes trades through the pool reserves so that deposits and
// redemptions move pool spot the way a real venue would.
type SwapAdapter struct {
	pool *WeightedPool
}

// NewSwapAdapter returns an adapter trading against pool.
func NewSwapAdapter(pool *WeightedPool) *SwapAdapter {
	return &SwapAdapter{pool: pool}
}

func (a *SwapAdapter) reserves(t trade.Trade) (*big.Int, *big.Int, error) {
	p := a.pool
	if !((t.SellToken == p.cfg.Primary && t.BuyToken == p.cfg.Secondary) || (t.SellToken == p.cfg.Secondary && t.BuyToken == p.cfg.Primary)) {
		return nil, nil, fmt.Errorf("%w: %s -> %s", ErrUnknownToken, t.SellToken.Hex(), t.BuyToken.Hex())
	}
	rin, err := p.st.Balance(t.SellToken, p.cfg.Address)
	if err != nil {
		return nil, nil, err
	}
	rout, err := p.st.Balance(t.BuyToken, p.cfg.Address)
	if err != nil {
		return nil, nil, err
	}
	if rin.Sign() == 0 || rout.Sign() == 0 {
		return nil, nil, ErrEmptyPool
	}
	return rin, rout, nil
}

// Quote implements trade.Adapter.
func (a *SwapAdapter) Quote(_ context.Context, t trade.Trade) (*big.Int, *big.Int, error) {
	rin, rout, err := a.reserves(t)
	if err != nil {
		return nil, nil, err
	}
	keep := new(big.Int).SetUint64(10_000 - a.pool.cfg.SwapFeeBps)
	if t.TradeType.ExactIn() {
		in := fixedpoint.MulDiv(t.Amount, keep, fixedpoint.BasisPoints)
		out := fixedpoint.MulDiv(rout, in, new(big.Int).Add(rin, in))
		return new(big.Int).Set(t.Amount), out, nil
	}
	if t.Amount.Cmp(rout) >= 0 {
		return nil, nil, fmt.Errorf("%w: output %s exceeds reserve %s", ErrInsufficientOutput, t.Amount, rout)
	}
	net := fixedpoint.MulDivUp(rin, t.Amount, new(big.Int).Sub(rout, t.Amount))
	return fixedpoint.MulDivUp(net, fixedpoint.BasisPoints, keep), new(big.Int).Set(t.Amount), nil
}

// Fill implements trade.Adapter.
func (a *SwapAdapter) Fill(ctx context.Context, trader common.Address, t trade.Trade) (*big.Int, *big.Int, error) {
	sold, bought, err := a.Quote(ctx, t)
	if err != nil {
		return nil, nil, err
	}
	p := a.pool
	if err := p.st.Transfer(t.SellToken, trader, p.cfg.Address, sold); err != nil {
		return nil, nil, err
	}
	if err := p.st.Transfer(t.BuyToken, p.cfg.Address, trader, bought); err != nil {
		return nil, nil, err
	}
	return sold, bought, nil
}
