package vault

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/core/events"
	"strategyvaults/native/trade"
)

func reinvestParams(t *testing.T, token common.Address, amount *big.Int) []byte {
	t.Helper()
	data, err := EncodeReinvestParams(ReinvestParams{
		Trades: []ReinvestTrade{{
			Token:  token,
			Amount: amount,
			Spec:   *swapSpec(),
		}},
	})
	if err != nil {
		t.Fatalf("encode reinvest params: %v", err)
	}
	return data
}

// harvest accrues amount of token in the pool and claims it into the vault.
func (h *harness) harvest(token common.Address, amount *big.Int) {
	h.t.Helper()
	if err := h.pool.AccrueRewards(token, amount); err != nil {
		h.t.Fatalf("accrue rewards: %v", err)
	}
	if _, err := h.engine.ClaimRewards(h.ctx, settlerAddr); err != nil {
		h.t.Fatalf("claim rewards: %v", err)
	}
}

func TestClaimRewardsForwardsFee(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, ether(1), maturity1, debt(4))
	if err := h.pool.AccrueRewards(bal, ether(10)); err != nil {
		t.Fatalf("accrue rewards: %v", err)
	}

	rewards, err := h.engine.ClaimRewards(h.ctx, settlerAddr)
	if err != nil {
		t.Fatalf("claim rewards: %v", err)
	}
	if len(rewards) != 1 {
		t.Fatalf("expected one reward, got %d", len(rewards))
	}
	if rewards[0].Token != bal || rewards[0].Amount.Cmp(ether(9)) != 0 {
		t.Fatalf("reward %s of %s, want 9 BAL", rewards[0].Amount, rewards[0].Token.Hex())
	}
	if got := h.balance(bal, feeAddr); got.Cmp(ether(1)) != 0 {
		t.Fatalf("fee receiver holds %s", got)
	}
	if got := h.balance(bal, vaultAddr); got.Cmp(ether(9)) != 0 {
		t.Fatalf("vault holds %s", got)
	}
	if n := h.eventsOf(events.TypeVaultRewardsClaimed); n != 1 {
		t.Fatalf("expected one claim event, got %d", n)
	}

	rewards, err = h.engine.ClaimRewards(h.ctx, settlerAddr)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(rewards) != 0 {
		t.Fatalf("second claim returned %d rewards", len(rewards))
	}

	_, err = h.engine.ClaimRewards(h.ctx, bob)
	expectErr(t, err, ErrUnauthorized)
}

func TestReinvestGrowsClaimPerToken(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, ether(1), maturity1, debt(4))
	h.harvest(bal, ether(10))

	before := h.totals()
	valueBefore, err := h.engine.ConvertStrategyToUnderlying(h.ctx, alice, h.account(alice).VaultShares, maturity1)
	if err != nil {
		t.Fatalf("value before: %v", err)
	}

	claim, err := h.engine.Reinvest(h.ctx, settlerAddr, reinvestParams(t, bal, ether(9)))
	if err != nil {
		t.Fatalf("reinvest: %v", err)
	}
	if claim.Sign() <= 0 {
		t.Fatalf("reinvest gained %s", claim)
	}

	after := h.totals()
	if want := new(big.Int).Add(before.TotalPoolClaim, claim); after.TotalPoolClaim.Cmp(want) != 0 {
		t.Fatalf("pool claim %s, want %s", after.TotalPoolClaim, want)
	}
	if after.TotalStrategyTokens.Cmp(before.TotalStrategyTokens) != 0 {
		t.Fatalf("strategy tokens moved from %s to %s", before.TotalStrategyTokens, after.TotalStrategyTokens)
	}
	if got := h.balance(bal, vaultAddr); got.Sign() != 0 {
		t.Fatalf("vault still holds %s BAL", got)
	}

	valueAfter, err := h.engine.ConvertStrategyToUnderlying(h.ctx, alice, h.account(alice).VaultShares, maturity1)
	if err != nil {
		t.Fatalf("value after: %v", err)
	}
	// 9 BAL at $5 is worth about 0.0225 WETH.
	gain := new(big.Int).Sub(valueAfter, valueBefore)
	if gain.Cmp(milliEther(20)) <= 0 || gain.Cmp(milliEther(23)) >= 0 {
		t.Fatalf("gain %s", gain)
	}
	if n := h.eventsOf(events.TypeVaultRewardsReinvested); n != 1 {
		t.Fatalf("expected one reinvest event, got %d", n)
	}
	h.checkInvariants()
}

func TestReinvestRejections(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Reinvest(h.ctx, settlerAddr, reinvestParams(t, bal, ether(1)))
	expectErr(t, err, ErrNoActivePositions)

	h.deposit(alice, ether(1), maturity1, debt(4))
	_, err = h.engine.Reinvest(h.ctx, bob, reinvestParams(t, bal, ether(1)))
	expectErr(t, err, ErrUnauthorized)
	_, err = h.engine.Reinvest(h.ctx, settlerAddr, reinvestParams(t, wsteth, ether(1)))
	expectErr(t, err, ErrMalformedParams)
	_, err = h.engine.Reinvest(h.ctx, settlerAddr, nil)
	expectErr(t, err, ErrMalformedParams)

	// Nothing was harvested, so the vault has no BAL to sell.
	if _, err := h.engine.Reinvest(h.ctx, settlerAddr, reinvestParams(t, bal, ether(1))); err == nil {
		t.Fatalf("reinvest without rewards succeeded")
	}
	if n := h.eventsOf(events.TypeVaultRewardsReinvested); n != 0 {
		t.Fatalf("failed reinvest emitted %d events", n)
	}

	if err := h.perms.SetTradePermission(vaultAddr, bal, trade.Permission{}); err != nil {
		t.Fatalf("set trade permission: %v", err)
	}
	h.harvest(bal, ether(10))
	_, err = h.engine.Reinvest(h.ctx, settlerAddr, reinvestParams(t, bal, ether(1)))
	expectErr(t, err, trade.ErrTradeNotPermitted)
	h.checkInvariants()
}
