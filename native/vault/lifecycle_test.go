package vault

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/core/events"
	"strategyvaults/native/fixedpoint"
)

func TestDepositMintsSharesAndBorrows(t *testing.T) {
	h := newHarness(t)
	lent, err := h.market.PresentValue(maturity1, debt(4), h.clock.Now(), fixedpoint.RoundDown)
	if err != nil {
		t.Fatalf("present value: %v", err)
	}
	hostBefore := h.balance(weth, hostAddr)

	shares := h.deposit(alice, ether(1), maturity1, debt(4))
	if shares.Sign() <= 0 {
		t.Fatalf("expected shares, got %s", shares)
	}
	acct := h.account(alice)
	if acct.Maturity != maturity1 || acct.Debt.Cmp(debt(4)) != 0 || acct.VaultShares.Cmp(shares) != 0 {
		t.Fatalf("unexpected account %+v", acct)
	}
	if acct.LastEntryBlock != h.clock.BlockNumber() {
		t.Fatalf("entry block %d, want %d", acct.LastEntryBlock, h.clock.BlockNumber())
	}
	if got := new(big.Int).Sub(hostBefore, h.balance(weth, hostAddr)); got.Cmp(lent) != 0 {
		t.Fatalf("host lent %s, want %s", got, lent)
	}
	if got := h.balance(weth, alice); got.Cmp(ether(19)) != 0 {
		t.Fatalf("alice balance %s", got)
	}
	if h.balance(weth, vaultAddr).Sign() != 0 {
		t.Fatalf("vault should hold no idle primary after joining")
	}
	ratio, err := h.engine.CollateralRatio(h.ctx, alice)
	if err != nil {
		t.Fatalf("ratio: %v", err)
	}
	if ratio.Cmp(big.NewInt(1_240_000)) < 0 || ratio.Cmp(big.NewInt(1_260_000)) > 0 {
		t.Fatalf("unexpected collateral ratio %s", ratio)
	}
	totals := h.totals()
	if totals.TotalDebt.Cmp(debt(4)) != 0 || totals.TotalStrategyTokens.Cmp(shares) != 0 {
		t.Fatalf("unexpected totals %+v", totals)
	}
	status, err := h.engine.Status(h.ctx, maturity1)
	if err != nil || status != StatusActive {
		t.Fatalf("status %s err %v", status, err)
	}
	if n := h.eventsOf(events.TypeVaultDeposited); n != 1 {
		t.Fatalf("expected one deposit event, got %d", n)
	}
	h.checkInvariants()
}

func TestSecondDepositorSharesMaturity(t *testing.T) {
	h := newHarness(t)
	aliceShares := h.deposit(alice, ether(1), maturity1, debt(4))
	bobShares := h.deposit(bob, ether(1), maturity1, debt(4))
	if !within(bobShares, aliceShares, 100) {
		t.Fatalf("comparable deposits should mint comparable shares: %s vs %s", aliceShares, bobShares)
	}
	m := h.maturity(maturity1)
	if m.TotalVaultShares.Cmp(new(big.Int).Add(aliceShares, bobShares)) != 0 || m.TotalDebt.Cmp(debt(8)) != 0 {
		t.Fatalf("unexpected maturity %+v", m)
	}
	h.checkInvariants()
}

func TestDepositRejections(t *testing.T) {
	h := newHarness(t)
	h.deposit(carol, ether(1), maturity1, debt(4))
	before := h.balance(weth, alice)
	eventsBefore := len(h.recorder.Events())

	cases := []struct {
		name     string
		caller   bool
		amount   *big.Int
		maturity uint64
		borrow   *big.Int
		want     error
	}{
		{"unknown maturity", true, ether(1), maturity2 + day, debt(4), ErrMaturityNotActive},
		{"borrow capacity", true, ether(30), maturity1, debt(101), ErrBorrowCapacityExceeded},
		{"below min borrow", true, ether(1), maturity1, new(big.Int).Div(debt(1), big.NewInt(2)), ErrMinBorrowSize},
		{"undercollateralized", true, milliEther(100), maturity1, debt(4), ErrInsufficientCollateral},
		{"overcollateralized", true, ether(10), maturity1, debt(1), ErrCollateralRatioTooHigh},
		{"not host", false, ether(1), maturity1, debt(4), ErrNotHost},
	}
	for _, tc := range cases {
		caller := hostAddr
		if !tc.caller {
			caller = alice
		}
		_, err := h.engine.Deposit(h.ctx, caller, alice, tc.amount, tc.maturity, tc.borrow, nil)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		expectErr(t, err, tc.want)
	}
	if got := h.balance(weth, alice); got.Cmp(before) != 0 {
		t.Fatalf("failed deposits must not move funds: %s -> %s", before, got)
	}
	if got := len(h.recorder.Events()); got != eventsBefore {
		t.Fatalf("failed deposits must not emit events: %d -> %d", eventsBefore, got)
	}
	if _, ok, _ := h.engine.Store().Account(alice); ok {
		t.Fatalf("failed deposits must not create accounts")
	}
	h.checkInvariants()
}

func TestDepositRefusedInSettlementWindow(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(maturity1 - 3*day)
	_, err := h.engine.Deposit(h.ctx, hostAddr, alice, ether(1), maturity1, debt(4), nil)
	expectErr(t, err, ErrInSettlementWindow)
}

func TestDepositOtherMaturityRejected(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, ether(1), maturity1, debt(4))
	_, err := h.engine.Deposit(h.ctx, hostAddr, alice, ether(1), maturity2, debt(4), nil)
	expectErr(t, err, ErrAccountMaturityMismatch)
}

func TestDepositDisabledVault(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.SetFlags(h.ctx, ownerAddr, FlagAllowRollPosition); err != nil {
		t.Fatalf("set flags: %v", err)
	}
	_, err := h.engine.Deposit(h.ctx, hostAddr, alice, ether(1), maturity1, debt(4), nil)
	expectErr(t, err, ErrVaultDisabled)
}

func TestDepositOnlyVaultEntry(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.SetFlags(h.ctx, ownerAddr, FlagEnabled|FlagOnlyVaultEntry); err != nil {
		t.Fatalf("set flags: %v", err)
	}
	_, err := h.engine.Deposit(h.ctx, hostAddr, alice, ether(1), maturity1, debt(4), nil)
	expectErr(t, err, ErrOnlyVaultEntry)
	if _, err := h.engine.Deposit(h.ctx, vaultAddr, alice, ether(1), maturity1, debt(4), nil); err != nil {
		t.Fatalf("vault caller should be admitted: %v", err)
	}
}

func TestDepositWithSecondarySwap(t *testing.T) {
	h := newHarness(t)
	data, err := EncodeDepositParams(DepositParams{SecondarySellAmount: milliEther(2_400), Trade: swapSpec()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	shares, err := h.engine.Deposit(h.ctx, hostAddr, alice, ether(1), maturity1, debt(4), data)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if shares.Sign() <= 0 {
		t.Fatalf("expected shares")
	}
	if h.balance(wsteth, vaultAddr).Sign() != 0 || h.balance(weth, vaultAddr).Sign() != 0 {
		t.Fatalf("vault should hold no idle tokens")
	}
	h.checkInvariants()
}

func TestRedeemFullPosition(t *testing.T) {
	h := newHarness(t)
	shares := h.deposit(alice, ether(1), maturity1, debt(4))
	hostMid := h.balance(weth, hostAddr)

	_, err := h.engine.Redeem(h.ctx, hostAddr, alice, alice, shares, debt(4), redeemParams(t))
	expectErr(t, err, ErrEntryCoolDown)

	h.advance(time.Minute, 5)
	repay, err := h.market.PresentValue(maturity1, debt(4), h.clock.Now(), fixedpoint.RoundUp)
	if err != nil {
		t.Fatalf("present value: %v", err)
	}
	paid, err := h.engine.Redeem(h.ctx, hostAddr, alice, alice, shares, debt(4), redeemParams(t))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if paid.Cmp(milliEther(900)) < 0 || paid.Cmp(ether(1)) > 0 {
		t.Fatalf("unexpected redemption proceeds %s", paid)
	}
	if got := new(big.Int).Sub(h.balance(weth, hostAddr), hostMid); got.Cmp(repay) != 0 {
		t.Fatalf("host repaid %s, want %s", got, repay)
	}
	if got := h.balance(weth, alice); got.Cmp(new(big.Int).Add(ether(19), paid)) != 0 {
		t.Fatalf("alice balance %s", got)
	}
	if _, ok, _ := h.engine.Store().Account(alice); ok {
		t.Fatalf("account should be closed")
	}
	totals := h.totals()
	if totals.TotalDebt.Sign() != 0 || totals.TotalPoolClaim.Sign() != 0 || totals.TotalStrategyTokens.Sign() != 0 {
		t.Fatalf("vault should be empty: %+v", totals)
	}
	if n := h.eventsOf(events.TypeVaultRedeemed); n != 1 {
		t.Fatalf("expected one redeem event, got %d", n)
	}
	h.checkInvariants()
}

func TestRedeemCoolDownAtBlockZero(t *testing.T) {
	h := newHarness(t)
	h.clock.mu.Lock()
	h.clock.block = 0
	h.clock.mu.Unlock()
	shares := h.deposit(alice, ether(1), maturity1, debt(4))
	acct := h.account(alice)
	if !acct.Entered || acct.LastEntryBlock != 0 {
		t.Fatalf("entry at block zero not recorded: %+v", acct)
	}

	_, err := h.engine.Redeem(h.ctx, hostAddr, alice, alice, shares, debt(4), redeemParams(t))
	expectErr(t, err, ErrEntryCoolDown)
	h.advance(time.Minute, 4)
	_, err = h.engine.Redeem(h.ctx, hostAddr, alice, alice, shares, debt(4), redeemParams(t))
	expectErr(t, err, ErrEntryCoolDown)

	h.advance(time.Minute, 1)
	if _, err := h.engine.Redeem(h.ctx, hostAddr, alice, alice, shares, debt(4), redeemParams(t)); err != nil {
		t.Fatalf("redeem after the cool down: %v", err)
	}
	h.checkInvariants()
}

func TestRedeemPartialKeepsRatio(t *testing.T) {
	h := newHarness(t)
	shares := h.deposit(alice, ether(1), maturity1, debt(4))
	h.advance(time.Minute, 5)
	before, err := h.engine.CollateralRatio(h.ctx, alice)
	if err != nil {
		t.Fatalf("ratio: %v", err)
	}
	half := new(big.Int).Div(shares, big.NewInt(2))
	if _, err := h.engine.Redeem(h.ctx, hostAddr, alice, bob, half, debt(2), redeemParams(t)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if h.balance(weth, bob).Cmp(ether(20)) <= 0 {
		t.Fatalf("receiver should be paid")
	}
	after, err := h.engine.CollateralRatio(h.ctx, alice)
	if err != nil {
		t.Fatalf("ratio: %v", err)
	}
	if !within(after, before, 100) {
		t.Fatalf("proportional exit should keep the ratio: %s -> %s", before, after)
	}
	h.checkInvariants()
}

func TestRedeemRejections(t *testing.T) {
	h := newHarness(t)
	shares := h.deposit(alice, ether(1), maturity1, debt(4))
	h.advance(time.Minute, 5)
	half := new(big.Int).Div(shares, big.NewInt(2))

	_, err := h.engine.Redeem(h.ctx, hostAddr, alice, alice, new(big.Int).Add(shares, big.NewInt(1)), nil, redeemParams(t))
	expectErr(t, err, ErrInsufficientShares)
	_, err = h.engine.Redeem(h.ctx, hostAddr, alice, alice, half, debt(5), redeemParams(t))
	expectErr(t, err, ErrExcessRepayment)
	_, err = h.engine.Redeem(h.ctx, hostAddr, alice, alice, half, nil, redeemParams(t))
	expectErr(t, err, ErrInsufficientCollateral)
	_, err = h.engine.Redeem(h.ctx, hostAddr, alice, alice, half, debt(2), nil)
	expectErr(t, err, ErrTradeRequired)
	_, err = h.engine.Redeem(h.ctx, hostAddr, bob, bob, half, nil, redeemParams(t))
	expectErr(t, err, ErrAccountNotFound)
	_, err = h.engine.Redeem(h.ctx, hostAddr, alice, alice, nil, nil, redeemParams(t))
	expectErr(t, err, ErrInvalidAmount)

	if got := h.account(alice).VaultShares; got.Cmp(shares) != 0 {
		t.Fatalf("failed redemptions must not change shares: %s", got)
	}
	h.checkInvariants()
}

func TestConvertStrategyToUnderlyingBoundedByMaturity(t *testing.T) {
	h := newHarness(t)
	shares := h.deposit(alice, ether(1), maturity1, debt(4))
	h.deposit(bob, ether(1), maturity2, debt(4))
	total := h.maturity(maturity1).TotalVaultShares
	if total.Cmp(shares) != 0 {
		t.Fatalf("maturity total %s, want %s", total, shares)
	}

	over := new(big.Int).Add(total, big.NewInt(1))
	_, err := h.engine.ConvertStrategyToUnderlying(h.ctx, common.Address{}, over, maturity1)
	expectErr(t, err, ErrInsufficientShares)
	// bob holds no position in maturity1.
	_, err = h.engine.ConvertStrategyToUnderlying(h.ctx, bob, over, maturity1)
	expectErr(t, err, ErrInsufficientShares)
	_, err = h.engine.ConvertStrategyToUnderlying(h.ctx, common.Address{}, big.NewInt(1), maturity2+day)
	expectErr(t, err, ErrInsufficientShares)

	if _, err := h.engine.ConvertStrategyToUnderlying(h.ctx, common.Address{}, total, maturity1); err != nil {
		t.Fatalf("convert whole maturity: %v", err)
	}
}

func TestRollIntoLaterMaturity(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, ether(1), maturity1, debt(4))
	h.advance(time.Hour, 10)
	newDebt := new(big.Int).Add(debt(4), new(big.Int).Div(debt(1), big.NewInt(20)))

	shares, err := h.engine.Roll(h.ctx, hostAddr, alice, newDebt, maturity2, big.NewInt(1), nil)
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	acct := h.account(alice)
	if acct.Maturity != maturity2 || acct.Debt.Cmp(newDebt) != 0 || acct.VaultShares.Cmp(shares) != 0 {
		t.Fatalf("unexpected account after roll %+v", acct)
	}
	old := h.maturity(maturity1)
	if old.TotalVaultShares.Sign() != 0 || old.TotalDebt.Sign() != 0 || old.TotalStrategyTokens.Sign() != 0 {
		t.Fatalf("old maturity should be empty: %+v", old)
	}
	if h.totals().TotalDebt.Cmp(newDebt) != 0 {
		t.Fatalf("vault debt should track the new borrow")
	}
	if n := h.eventsOf(events.TypeVaultRolled); n != 1 {
		t.Fatalf("expected one roll event, got %d", n)
	}
	h.checkInvariants()
}

func TestRollRejections(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, ether(1), maturity1, debt(4))
	h.advance(time.Hour, 10)

	_, err := h.engine.Roll(h.ctx, hostAddr, alice, debt(3), maturity2, nil, nil)
	expectErr(t, err, ErrInsufficientProceeds)
	_, err = h.engine.Roll(h.ctx, hostAddr, alice, debt(5), maturity1, nil, nil)
	expectErr(t, err, ErrMaturityNotActive)
	_, err = h.engine.Roll(h.ctx, hostAddr, bob, debt(5), maturity2, nil, nil)
	expectErr(t, err, ErrAccountNotFound)
	_, err = h.engine.Roll(h.ctx, hostAddr, alice, debt(5), maturity2, ether(1_000), nil)
	expectErr(t, err, ErrSlippageExceeded)

	if err := h.engine.SetFlags(h.ctx, ownerAddr, FlagEnabled); err != nil {
		t.Fatalf("set flags: %v", err)
	}
	_, err = h.engine.Roll(h.ctx, hostAddr, alice, debt(5), maturity2, nil, nil)
	expectErr(t, err, ErrRollNotAllowed)
	if h.account(alice).Maturity != maturity1 {
		t.Fatalf("failed rolls must leave the account in place")
	}
	h.checkInvariants()
}

func TestConvertStrategyToUnderlying(t *testing.T) {
	h := newHarness(t)
	shares := h.deposit(alice, ether(1), maturity1, debt(4))
	value, err := h.engine.ConvertStrategyToUnderlying(h.ctx, alice, shares, maturity1)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if value.Cmp(milliEther(4_900)) < 0 || value.Cmp(milliEther(4_960)) > 0 {
		t.Fatalf("unexpected position value %s", value)
	}
	_, err = h.engine.ConvertStrategyToUnderlying(h.ctx, alice, new(big.Int).Add(shares, big.NewInt(1)), maturity1)
	expectErr(t, err, ErrInsufficientShares)

	// Stale oracle reads fail outside settlement.
	h.clock.mu.Lock()
	h.clock.now = h.clock.now.Add(2 * time.Hour)
	h.clock.mu.Unlock()
	if _, err := h.engine.CollateralRatio(h.ctx, alice); err == nil || KindOf(err) != KindExternal {
		t.Fatalf("expected external oracle error, got %v", err)
	}
}
