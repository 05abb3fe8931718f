package vault

import (
	"math/big"
	"testing"
	"time"

	"strategyvaults/core/events"
	"strategyvaults/native/fixedpoint"
)

func TestSettleNormalFinalisesMaturity(t *testing.T) {
	h := newHarness(t)
	shares := h.deposit(alice, ether(1), maturity1, debt(4))
	h.advanceTo(maturity1 - 6*day)
	cost, err := h.market.PresentValue(maturity1, debt(4), h.clock.Now(), fixedpoint.RoundUp)
	if err != nil {
		t.Fatalf("present value: %v", err)
	}
	hostBefore := h.balance(weth, hostAddr)
	tokens := h.maturity(maturity1).TotalStrategyTokens

	res, err := h.engine.SettleNormal(h.ctx, settlerAddr, maturity1, tokens, redeemParams(t))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !res.Settled || res.Noop || res.Mode != SettlementNormal {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.TokensRedeemed.Cmp(tokens) != 0 || res.Shortfall.Sign() != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := new(big.Int).Sub(h.balance(weth, hostAddr), hostBefore); got.Cmp(cost) != 0 {
		t.Fatalf("host received %s, want %s", got, cost)
	}
	m := h.maturity(maturity1)
	if !m.IsSettled || m.TotalAssetCash.Cmp(res.AssetCash) != 0 || m.TotalStrategyTokens.Sign() != 0 {
		t.Fatalf("unexpected maturity %+v", m)
	}
	if h.totals().TotalDebt.Sign() != 0 {
		t.Fatalf("settled debt should leave the vault total")
	}
	status, _ := h.engine.Status(h.ctx, maturity1)
	if status != StatusSettled {
		t.Fatalf("status %s", status)
	}
	if n := h.eventsOf(events.TypeVaultSettled); n != 1 {
		t.Fatalf("expected one settlement event, got %d", n)
	}
	h.checkInvariants()

	// A settled position redeems its cash without repaying anything.
	h.advance(time.Minute, 5)
	paid, err := h.engine.Redeem(h.ctx, hostAddr, alice, alice, shares, nil, nil)
	if err != nil {
		t.Fatalf("redeem after settlement: %v", err)
	}
	if paid.Cmp(res.AssetCash) != 0 {
		t.Fatalf("paid %s, want the settled cash %s", paid, res.AssetCash)
	}
	if _, ok, _ := h.engine.Store().Account(alice); ok {
		t.Fatalf("account should be closed")
	}
	h.checkInvariants()

	_, err = h.engine.SettleNormal(h.ctx, settlerAddr, maturity1, tokens, redeemParams(t))
	expectErr(t, err, ErrMaturitySettled)
}

func TestSettleNormalPartialWithCoolDown(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, ether(1), maturity1, debt(4))
	h.deposit(bob, ether(1), maturity1, debt(4))
	h.advanceTo(maturity1 - 6*day)
	tokens := h.maturity(maturity1).TotalStrategyTokens
	half := new(big.Int).Div(tokens, big.NewInt(2))

	res, err := h.engine.SettleNormal(h.ctx, settlerAddr, maturity1, half, redeemParams(t))
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if res.Settled {
		t.Fatalf("half the tokens cannot cover the debt")
	}
	if status, _ := h.engine.Status(h.ctx, maturity1); status != StatusSettling {
		t.Fatalf("status %s", status)
	}
	h.checkInvariants()

	_, err = h.engine.SettleNormal(h.ctx, settlerAddr, maturity1, half, redeemParams(t))
	expectErr(t, err, ErrSettlementCoolDown)
	// A zero token call is still held to the cool down.
	_, err = h.engine.SettleNormal(h.ctx, settlerAddr, maturity1, big.NewInt(0), redeemParams(t))
	expectErr(t, err, ErrSettlementCoolDown)

	h.advance(time.Hour, 300)
	res, err = h.engine.SettleNormal(h.ctx, settlerAddr, maturity1, tokens, redeemParams(t))
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if !res.Settled {
		t.Fatalf("expected maturity to settle: %+v", res)
	}
	if res.TokensRedeemed.Cmp(new(big.Int).Sub(tokens, half)) != 0 {
		t.Fatalf("redeem request should be capped at the remaining tokens: %s", res.TokensRedeemed)
	}
	h.checkInvariants()
}

func TestSettleNormalPreconditions(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, ether(1), maturity1, debt(4))
	tokens := h.maturity(maturity1).TotalStrategyTokens

	_, err := h.engine.SettleNormal(h.ctx, settlerAddr, maturity1, tokens, redeemParams(t))
	expectErr(t, err, ErrNotInSettlementWindow)

	h.advanceTo(maturity1 - 6*day)
	_, err = h.engine.SettleNormal(h.ctx, bob, maturity1, tokens, redeemParams(t))
	expectErr(t, err, ErrUnauthorized)
	_, err = h.engine.SettleNormal(h.ctx, settlerAddr, maturity2-3*day, tokens, redeemParams(t))
	expectErr(t, err, ErrNotInSettlementWindow)

	res, err := h.engine.SettleNormal(h.ctx, settlerAddr, maturity1, big.NewInt(0), redeemParams(t))
	if err != nil {
		t.Fatalf("noop settle: %v", err)
	}
	if !res.Noop || res.Settled {
		t.Fatalf("expected a noop, got %+v", res)
	}
	if n := h.eventsOf(events.TypeVaultSettled); n != 0 {
		t.Fatalf("noop settlement must not emit events")
	}

	settings := testSettings()
	settings.MaxUnderlyingSurplus = milliEther(500)
	if err := h.engine.UpdateSettings(h.ctx, ownerAddr, settings); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	_, err = h.engine.SettleNormal(h.ctx, settlerAddr, maturity1, tokens, redeemParams(t))
	expectErr(t, err, ErrSurplusExceeded)
	if h.maturity(maturity1).TotalStrategyTokens.Cmp(tokens) != 0 {
		t.Fatalf("failed settlement must leave tokens in place")
	}

	h.advanceTo(maturity1 + day)
	_, err = h.engine.SettleNormal(h.ctx, settlerAddr, maturity1, tokens, redeemParams(t))
	expectErr(t, err, ErrNotInSettlementWindow)
}

func TestSettleNormalHostPolicy(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, ether(1), maturity1, debt(4))
	h.advanceTo(maturity1 - 6*day)
	if _, err := h.engine.SettleNormal(h.ctx, hostAddr, maturity1, big.NewInt(0), redeemParams(t)); err != nil {
		t.Fatalf("host should settle by default: %v", err)
	}
	if err := h.engine.SetFlags(h.ctx, ownerAddr, FlagEnabled|FlagOnlyVaultSettle); err != nil {
		t.Fatalf("set flags: %v", err)
	}
	_, err := h.engine.SettleNormal(h.ctx, hostAddr, maturity1, big.NewInt(0), redeemParams(t))
	expectErr(t, err, ErrUnauthorized)
	if _, err := h.engine.SettleNormal(h.ctx, settlerAddr, maturity1, big.NewInt(0), redeemParams(t)); err != nil {
		t.Fatalf("role holder should settle: %v", err)
	}
}

func TestSettlePostMaturityIgnoresStaleOracle(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, ether(1), maturity1, debt(4))
	tokens := h.maturity(maturity1).TotalStrategyTokens

	_, err := h.engine.SettlePostMaturity(h.ctx, settlerAddr, maturity1, tokens, redeemParams(t))
	expectErr(t, err, ErrMaturityNotReached)

	// Move past maturity without refreshing the oracle.
	h.clock.mu.Lock()
	h.clock.now = time.Unix(int64(maturity1+day), 0)
	h.clock.block += 1_000
	h.clock.mu.Unlock()

	res, err := h.engine.SettlePostMaturity(h.ctx, settlerAddr, maturity1, big.NewInt(0), redeemParams(t))
	if err != nil || !res.Noop {
		t.Fatalf("expected noop, got %+v err %v", res, err)
	}
	hostBefore := h.balance(weth, hostAddr)
	res, err = h.engine.SettlePostMaturity(h.ctx, settlerAddr, maturity1, tokens, redeemParams(t))
	if err != nil {
		t.Fatalf("post maturity settle: %v", err)
	}
	if !res.Settled || res.Mode != SettlementPostMaturity {
		t.Fatalf("unexpected result %+v", res)
	}
	// At maturity the debt is repaid at face value.
	if got := new(big.Int).Sub(h.balance(weth, hostAddr), hostBefore); got.Cmp(ether(4)) != 0 {
		t.Fatalf("host received %s, want face value", got)
	}
	h.checkInvariants()
}

func TestSettlePostMaturityZeroTokensRespectsCoolDown(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, ether(1), maturity1, debt(4))
	h.deposit(bob, ether(1), maturity1, debt(4))
	h.advanceTo(maturity1 + day)
	tokens := h.maturity(maturity1).TotalStrategyTokens
	half := new(big.Int).Div(tokens, big.NewInt(2))

	res, err := h.engine.SettlePostMaturity(h.ctx, settlerAddr, maturity1, half, redeemParams(t))
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if res.Settled {
		t.Fatalf("half the tokens cannot cover the debt")
	}
	_, err = h.engine.SettlePostMaturity(h.ctx, settlerAddr, maturity1, big.NewInt(0), redeemParams(t))
	expectErr(t, err, ErrSettlementCoolDown)

	h.advance(time.Hour, 300)
	res, err = h.engine.SettlePostMaturity(h.ctx, settlerAddr, maturity1, big.NewInt(0), redeemParams(t))
	if err != nil {
		t.Fatalf("noop settle after cool down: %v", err)
	}
	if !res.Noop || res.Settled {
		t.Fatalf("expected a noop, got %+v", res)
	}
	h.checkInvariants()
}

func TestSettlePostMaturityBooksShortfall(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, ether(1), maturity1, debt(4))
	h.advanceTo(maturity1 + day)
	h.setSecondaryPrice(1000)
	tokens := h.maturity(maturity1).TotalStrategyTokens
	hostBefore := h.balance(weth, hostAddr)

	res, err := h.engine.SettlePostMaturity(h.ctx, settlerAddr, maturity1, tokens, redeemParams(t))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !res.Settled || res.Shortfall.Sign() <= 0 || res.AssetCash.Sign() != 0 {
		t.Fatalf("expected a settled shortfall, got %+v", res)
	}
	paid := new(big.Int).Sub(h.balance(weth, hostAddr), hostBefore)
	if new(big.Int).Add(paid, res.Shortfall).Cmp(ether(4)) != 0 {
		t.Fatalf("host payment %s plus shortfall %s should equal the debt", paid, res.Shortfall)
	}
	if h.maturity(maturity1).Shortfall.Cmp(res.Shortfall) != 0 {
		t.Fatalf("shortfall not recorded")
	}
	h.checkInvariants()
}

func TestSettleEmergency(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, ether(1), maturity1, debt(4))

	_, err := h.engine.SettleEmergency(h.ctx, settlerAddr, maturity1, redeemParams(t))
	expectErr(t, err, ErrPoolShareNotExceeded)

	settings := testSettings()
	settings.MaxPoolShareBps = 0
	if err := h.engine.UpdateSettings(h.ctx, ownerAddr, settings); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	_, err = h.engine.SettleEmergency(h.ctx, bob, maturity1, redeemParams(t))
	expectErr(t, err, ErrUnauthorized)
	_, err = h.engine.Deposit(h.ctx, hostAddr, bob, ether(1), maturity1, debt(4), nil)
	expectErr(t, err, ErrPoolShareExceeded)

	h.advanceTo(maturity1 - 6*day)
	_, err = h.engine.SettleNormal(h.ctx, settlerAddr, maturity1, big.NewInt(1), redeemParams(t))
	expectErr(t, err, ErrEmergencySettlementPending)

	res, err := h.engine.SettleEmergency(h.ctx, settlerAddr, maturity1, redeemParams(t))
	if err != nil {
		t.Fatalf("emergency settle: %v", err)
	}
	if !res.Settled || res.Mode != SettlementEmergency || res.AssetCash.Sign() <= 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if h.totals().TotalPoolClaim.Sign() != 0 {
		t.Fatalf("emergency settlement should exit the whole claim")
	}
	h.checkInvariants()
}

func TestSettleUnknownMaturity(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(maturity1 + day)
	_, err := h.engine.SettlePostMaturity(h.ctx, settlerAddr, maturity1, big.NewInt(1), redeemParams(t))
	expectErr(t, err, ErrMaturityNotFound)
}
