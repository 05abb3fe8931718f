package vault

import (
	"math/big"
	"testing"
	"time"

	"strategyvaults/core/events"
	"strategyvaults/native/fixedpoint"
)

// undercollateralized opens a position for alice and drops the secondary
// price until it falls below the minimum collateral ratio.
func undercollateralized(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := newHarness(t, opts...)
	h.deposit(alice, ether(1), maturity1, debt(4))
	h.advance(time.Minute, 5)
	h.setSecondaryPrice(1800)
	ratio, err := h.engine.CollateralRatio(h.ctx, alice)
	if err != nil {
		t.Fatalf("collateral ratio: %v", err)
	}
	if ratio.Cmp(big.NewInt(1_200_000)) >= 0 {
		t.Fatalf("ratio %s should be below minimum", ratio)
	}
	return h
}

func TestDeleverageBoundsFormula(t *testing.T) {
	// V=130, D=120, R=1.2, δ=0.04: d = (144-130)/(0.16) = 87.5
	got := deleverageDeposit(big.NewInt(130_000), big.NewInt(120_000), 1_200_000, 40_000, fixedpoint.RoundDown)
	if got.Int64() != 87_500 {
		t.Fatalf("deposit %s, want 87500", got)
	}
	// A healthy account needs no deposit.
	if got := deleverageDeposit(big.NewInt(200), big.NewInt(100), 1_200_000, 40_000, fixedpoint.RoundDown); got.Sign() != 0 {
		t.Fatalf("healthy deposit %s, want 0", got)
	}
	// Deposits never exceed the debt.
	if got := deleverageDeposit(big.NewInt(1), big.NewInt(100), 1_200_000, 40_000, fixedpoint.RoundDown); got.Int64() != 100 {
		t.Fatalf("deposit %s, want debt 100", got)
	}
}

func TestDeleverageBounds(t *testing.T) {
	h := undercollateralized(t)
	bounds, err := h.engine.Bounds(h.ctx, alice)
	if err != nil {
		t.Fatalf("bounds: %v", err)
	}
	if bounds.Max.Cmp(bounds.Min) <= 0 {
		t.Fatalf("max %s not above min %s", bounds.Max, bounds.Min)
	}
	if bounds.Min.Cmp(milliEther(300)) <= 0 || bounds.Min.Cmp(milliEther(450)) >= 0 {
		t.Fatalf("min %s", bounds.Min)
	}
	if bounds.Max.Cmp(milliEther(1_600)) <= 0 || bounds.Max.Cmp(milliEther(1_900)) >= 0 {
		t.Fatalf("max %s", bounds.Max)
	}
	if bounds.Max.Cmp(bounds.DebtValue) >= 0 {
		t.Fatalf("max %s not below debt value %s", bounds.Max, bounds.DebtValue)
	}

	_, err = h.engine.Bounds(h.ctx, bob)
	expectErr(t, err, ErrAccountNotFound)
}

func TestDeleverageRedeemsSeizedShares(t *testing.T) {
	h := undercollateralized(t)
	before := h.account(alice)
	hostBefore := h.balance(weth, hostAddr)
	liqBefore := h.balance(weth, liquidator)

	res, err := h.engine.Deleverage(h.ctx, liquidator, liquidator, alice, ether(1), false, redeemParams(t))
	if err != nil {
		t.Fatalf("deleverage: %v", err)
	}
	if res.Deposit.Cmp(ether(1)) != 0 {
		t.Fatalf("deposit %s", res.Deposit)
	}
	if res.ReserveFee.Sign() <= 0 {
		t.Fatalf("reserve fee %s", res.ReserveFee)
	}
	if res.PrimaryToLiquidator.Cmp(ether(1)) <= 0 {
		t.Fatalf("liquidator should profit: %s", res.PrimaryToLiquidator)
	}

	after := h.account(alice)
	if new(big.Int).Sub(before.VaultShares, res.SharesSeized).Cmp(after.VaultShares) != 0 {
		t.Fatalf("shares %s after seizing %s from %s", after.VaultShares, res.SharesSeized, before.VaultShares)
	}
	if new(big.Int).Sub(before.Debt, res.DebtRepaid).Cmp(after.Debt) != 0 {
		t.Fatalf("debt %s after repaying %s from %s", after.Debt, res.DebtRepaid, before.Debt)
	}
	if res.RatioAfter.Cmp(big.NewInt(1_200_000-ratioTolerance)) < 0 || res.RatioAfter.Cmp(big.NewInt(1_300_000+ratioTolerance)) > 0 {
		t.Fatalf("ratio after %s", res.RatioAfter)
	}

	hostGain := new(big.Int).Sub(h.balance(weth, hostAddr), hostBefore)
	if want := new(big.Int).Add(ether(1), res.ReserveFee); hostGain.Cmp(want) != 0 {
		t.Fatalf("host gained %s, want %s", hostGain, want)
	}
	liqGain := new(big.Int).Sub(h.balance(weth, liquidator), liqBefore)
	if want := new(big.Int).Sub(res.PrimaryToLiquidator, ether(1)); liqGain.Cmp(want) != 0 {
		t.Fatalf("liquidator gained %s, want %s", liqGain, want)
	}
	if n := h.eventsOf(events.TypeVaultDeleveraged); n != 1 {
		t.Fatalf("expected one deleverage event, got %d", n)
	}
	h.checkInvariants()
}

func TestDeleverageMaxDeposit(t *testing.T) {
	h := undercollateralized(t)
	bounds, err := h.engine.Bounds(h.ctx, alice)
	if err != nil {
		t.Fatalf("bounds: %v", err)
	}
	res, err := h.engine.Deleverage(h.ctx, hostAddr, liquidator, alice, nil, false, redeemParams(t))
	if err != nil {
		t.Fatalf("deleverage: %v", err)
	}
	if res.Deposit.Cmp(bounds.Max) != 0 {
		t.Fatalf("deposit %s, want max %s", res.Deposit, bounds.Max)
	}
	lo, hi := big.NewInt(1_300_000-ratioTolerance), big.NewInt(1_300_000+ratioTolerance)
	if res.RatioAfter.Cmp(lo) < 0 || res.RatioAfter.Cmp(hi) > 0 {
		t.Fatalf("ratio after %s, want 1300000 within %d", res.RatioAfter, ratioTolerance)
	}
	h.checkInvariants()
}

func TestDeleverageTransfersShares(t *testing.T) {
	h := undercollateralized(t, func(cfg *Config, _ *Settings, _ *Dependencies) {
		cfg.Flags |= FlagTransferSharesOnDeleverage
	})
	_, err := h.engine.Deleverage(h.ctx, liquidator, liquidator, alice, ether(1), false, redeemParams(t))
	expectErr(t, err, ErrTransferSharesRequired)

	res, err := h.engine.Deleverage(h.ctx, liquidator, liquidator, alice, ether(1), true, redeemParams(t))
	if err != nil {
		t.Fatalf("deleverage: %v", err)
	}
	if res.PrimaryToLiquidator.Sign() != 0 {
		t.Fatalf("primary to liquidator %s, want 0", res.PrimaryToLiquidator)
	}
	liq := h.account(liquidator)
	if liq.Maturity != maturity1 {
		t.Fatalf("liquidator maturity %d, want %d", liq.Maturity, maturity1)
	}
	if liq.VaultShares.Cmp(res.SharesToLiquidator) != 0 {
		t.Fatalf("liquidator shares %s, want %s", liq.VaultShares, res.SharesToLiquidator)
	}
	if liq.Debt.Sign() != 0 {
		t.Fatalf("liquidator debt %s", liq.Debt)
	}
	held := new(big.Int).Add(res.SharesToLiquidator, h.account(alice).VaultShares)
	if total := h.maturity(maturity1).TotalVaultShares; held.Cmp(total) != 0 {
		t.Fatalf("accounts hold %s, maturity total %s", held, total)
	}
	h.checkInvariants()
}

func TestDeleverageRejections(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, ether(1), maturity1, debt(4))
	h.advance(time.Minute, 5)

	_, err := h.engine.Deleverage(h.ctx, liquidator, liquidator, alice, ether(1), false, redeemParams(t))
	expectErr(t, err, ErrSufficientlyCollateralized)
	_, err = h.engine.Deleverage(h.ctx, liquidator, liquidator, bob, ether(1), false, redeemParams(t))
	expectErr(t, err, ErrSufficientlyCollateralized)

	h.setSecondaryPrice(1800)
	_, err = h.engine.Deleverage(h.ctx, alice, alice, alice, ether(1), false, redeemParams(t))
	expectErr(t, err, ErrUnauthorized)
	_, err = h.engine.Deleverage(h.ctx, bob, liquidator, alice, ether(1), false, redeemParams(t))
	expectErr(t, err, ErrNotHost)
	_, err = h.engine.Deleverage(h.ctx, liquidator, liquidator, alice, milliEther(100), false, redeemParams(t))
	expectErr(t, err, ErrDeleverageAmount)
	_, err = h.engine.Deleverage(h.ctx, liquidator, liquidator, alice, ether(3), false, redeemParams(t))
	expectErr(t, err, ErrDeleverageAmount)
	_, err = h.engine.Deleverage(h.ctx, liquidator, liquidator, alice, big.NewInt(0), false, redeemParams(t))
	expectErr(t, err, ErrInvalidAmount)

	if err := h.engine.SetFlags(h.ctx, ownerAddr, FlagEnabled|FlagOnlyVaultDeleverage); err != nil {
		t.Fatalf("set flags: %v", err)
	}
	_, err = h.engine.Deleverage(h.ctx, liquidator, liquidator, alice, ether(1), false, redeemParams(t))
	expectErr(t, err, ErrOnlyVaultDeleverage)
	if got := h.account(alice).Debt; got.Cmp(debt(4)) != 0 {
		t.Fatalf("debt %s changed by rejected deleverage", got)
	}
	h.checkInvariants()
}
