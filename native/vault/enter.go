package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/core/events"
	"strategyvaults/native/fixedpoint"
)

// checkEnterable rejects entries into a maturity that is not offered, has
// matured, is inside its settlement window or has begun settling.
func (e *Engine) checkEnterable(op *opContext, maturity uint64) error {
	if !op.cfg.Enterable(maturity) {
		return fmt.Errorf("%w: %d not offered", ErrMaturityNotActive, maturity)
	}
	now := op.nowUnix()
	if now >= maturity {
		return fmt.Errorf("%w: %d has matured", ErrMaturityNotActive, maturity)
	}
	if maturity-now <= op.cfg.SettlementWindow {
		return fmt.Errorf("%w: %d", ErrInSettlementWindow, maturity)
	}
	m, ok, err := e.store.Maturity(maturity)
	if err != nil {
		return err
	}
	switch statusOf(m, ok) {
	case StatusSettled:
		return ErrMaturitySettled
	case StatusSettling:
		return ErrMaturitySettling
	}
	return nil
}

func checkBorrowCapacity(op *opContext, totals *VaultState, released, borrowed *big.Int) error {
	next := new(big.Int).Sub(totals.TotalDebt, fixedpoint.Copy(released))
	next.Add(next, fixedpoint.Copy(borrowed))
	if next.Cmp(op.cfg.MaxPrimaryBorrowCapacity) > 0 {
		return fmt.Errorf("%w: %s above capacity %s", ErrBorrowCapacityExceeded, next, op.cfg.MaxPrimaryBorrowCapacity)
	}
	return nil
}

// mintTokens converts claim joined into strategy tokens at the current
// exchange rate. The first entry mints one token unit per 1e10 claim units.
func mintTokens(totals *VaultState, claim *big.Int) *big.Int {
	if totals.TotalStrategyTokens.Sign() == 0 || totals.TotalPoolClaim.Sign() == 0 {
		return fixedpoint.ClaimToInternal(claim)
	}
	return fixedpoint.MulDiv(claim, totals.TotalStrategyTokens, totals.TotalPoolClaim)
}

// mintShares converts strategy tokens entering m into vault shares.
func mintShares(m *MaturityState, tokens *big.Int) *big.Int {
	if m.TotalStrategyTokens.Sign() == 0 || m.TotalVaultShares.Sign() == 0 {
		return fixedpoint.Copy(tokens)
	}
	return fixedpoint.MulDiv(tokens, m.TotalVaultShares, m.TotalStrategyTokens)
}

// Deposit enters account into maturity. depositAmount of primary is pulled
// from account and the host lends the present value of borrowAmount debt
// units; both are joined into the pool. It returns the vault shares minted.
func (e *Engine) Deposit(ctx context.Context, caller, account common.Address, depositAmount *big.Int, maturity uint64, borrowAmount *big.Int, data []byte) (*big.Int, error) {
	params, err := DecodeDepositParams(data)
	if err != nil {
		return nil, err
	}
	depositAmount, borrowAmount = fixedpoint.Copy(depositAmount), fixedpoint.Copy(borrowAmount)
	if depositAmount.Sign() < 0 || borrowAmount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if err := checkAmounts(depositAmount, borrowAmount); err != nil {
		return nil, err
	}
	if account == (common.Address{}) {
		return nil, fmt.Errorf("%w: account required", ErrInvalidAmount)
	}
	var shares *big.Int
	err = e.run(ctx, "deposit", account, func(op *opContext) error {
		if err := authorizeHost(op, caller); err != nil {
			return err
		}
		if err := requireVaultCaller(op, caller, FlagOnlyVaultEntry, ErrOnlyVaultEntry); err != nil {
			return err
		}
		if !op.cfg.Flags.Has(FlagEnabled) {
			return ErrVaultDisabled
		}
		if op.cfg.Flags.Has(FlagOnlyVaultExit) {
			return ErrExitOnly
		}
		if err := e.checkEnterable(op, maturity); err != nil {
			return err
		}
		acct, _, err := e.store.Account(account)
		if err != nil {
			return err
		}
		if !acct.Empty() && acct.Maturity != maturity {
			return fmt.Errorf("%w: account in %d", ErrAccountMaturityMismatch, acct.Maturity)
		}
		totals, err := e.store.Totals()
		if err != nil {
			return err
		}
		if err := checkBorrowCapacity(op, totals, nil, borrowAmount); err != nil {
			return err
		}
		lent, err := e.deps.Market.PresentValue(maturity, borrowAmount, op.now, fixedpoint.RoundDown)
		if err != nil {
			return err
		}
		total := new(big.Int).Add(depositAmount, lent)
		if total.Sign() == 0 {
			return fmt.Errorf("%w: nothing to deposit", ErrInvalidAmount)
		}
		if err := e.deps.State.Transfer(op.cfg.PrimaryToken, account, e.vault, depositAmount); err != nil {
			return fmt.Errorf("vault: collect deposit: %w", err)
		}
		if err := e.deps.State.Transfer(op.cfg.PrimaryToken, op.cfg.Host, e.vault, lent); err != nil {
			return fmt.Errorf("vault: borrow from host: %w", err)
		}

		claim, err := e.joinPool(op, total, params)
		if err != nil {
			return err
		}
		tokens := mintTokens(totals, claim)
		m, _, err := e.store.Maturity(maturity)
		if err != nil {
			return err
		}
		shares = mintShares(m, tokens)
		if shares.Sign() == 0 {
			return fmt.Errorf("%w: deposit mints no shares", ErrInvalidAmount)
		}
		if err := e.store.AdjustTotalClaim(claim); err != nil {
			return err
		}
		if err := e.checkClaimMirror(); err != nil {
			return err
		}
		if err := e.store.CreditAccount(account, maturity, shares, borrowAmount, tokens, op.block, true); err != nil {
			return err
		}
		if err := e.checkPoolShare(op); err != nil {
			return err
		}
		if err := e.checkAccountHealth(op.ctx, op, account, true); err != nil {
			return err
		}
		op.emit(events.VaultDeposited{
			OpID:        op.id,
			Vault:       e.vault,
			Account:     account,
			Maturity:    maturity,
			Deposit:     depositAmount,
			Borrowed:    borrowAmount,
			ClaimGained: claim,
			Shares:      shares,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}
