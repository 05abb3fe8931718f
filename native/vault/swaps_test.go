package vault

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/native/trade"
)

type recordingTrades struct {
	inner  TradeExecutor
	trades []trade.Trade
}

func (r *recordingTrades) Execute(ctx context.Context, vault common.Address, t trade.Trade, opts trade.Options) (trade.Result, error) {
	r.trades = append(r.trades, t)
	return r.inner.Execute(ctx, vault, t, opts)
}

func TestVaultTradesCarrySameBlockDeadline(t *testing.T) {
	rec := &recordingTrades{}
	h := newHarness(t, func(_ *Config, _ *Settings, deps *Dependencies) {
		rec.inner = deps.Trades
		deps.Trades = rec
	})
	shares := h.deposit(alice, ether(1), maturity1, debt(4))
	h.advance(time.Minute, 5)
	if _, err := h.engine.Redeem(h.ctx, hostAddr, alice, alice, shares, debt(4), redeemParams(t)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if len(rec.trades) != 1 {
		t.Fatalf("expected one exit trade, got %d", len(rec.trades))
	}
	if got := rec.trades[0].Deadline; !got.Equal(h.clock.Now()) {
		t.Fatalf("deadline %s, want %s", got, h.clock.Now())
	}
}
