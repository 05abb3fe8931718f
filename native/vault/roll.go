package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/core/events"
	"strategyvaults/native/fixedpoint"
)

// Roll moves account's whole position into newMaturity without exiting the
// venue. The host lends the present value of newBorrow debt units in the new
// maturity, repays the old debt out of it and any excess is joined into the
// pool. It returns the shares held in the new maturity.
func (e *Engine) Roll(ctx context.Context, caller, account common.Address, newBorrow *big.Int, newMaturity uint64, minShares *big.Int, data []byte) (*big.Int, error) {
	params, err := DecodeDepositParams(data)
	if err != nil {
		return nil, err
	}
	newBorrow, minShares = fixedpoint.Copy(newBorrow), fixedpoint.Copy(minShares)
	if newBorrow.Sign() < 0 || minShares.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if err := checkAmounts(newBorrow, minShares); err != nil {
		return nil, err
	}
	var shares *big.Int
	err = e.run(ctx, "roll", account, func(op *opContext) error {
		if err := authorizeHost(op, caller); err != nil {
			return err
		}
		if err := requireVaultCaller(op, caller, FlagOnlyVaultRoll, ErrOnlyVaultRoll); err != nil {
			return err
		}
		if !op.cfg.Flags.Has(FlagEnabled) {
			return ErrVaultDisabled
		}
		if op.cfg.Flags.Has(FlagOnlyVaultExit) {
			return ErrExitOnly
		}
		if !op.cfg.Flags.Has(FlagAllowRollPosition) {
			return ErrRollNotAllowed
		}
		acct, ok, err := e.store.Account(account)
		if err != nil {
			return err
		}
		if !ok || acct.VaultShares.Sign() == 0 {
			return ErrAccountNotFound
		}
		if newMaturity <= acct.Maturity {
			return fmt.Errorf("%w: roll must move to a later maturity", ErrMaturityNotActive)
		}
		oldM, oldOK, err := e.store.Maturity(acct.Maturity)
		if err != nil {
			return err
		}
		switch statusOf(oldM, oldOK) {
		case StatusSettled:
			return ErrMaturitySettled
		case StatusSettling:
			return ErrMaturitySettling
		}
		if err := e.checkEnterable(op, newMaturity); err != nil {
			return err
		}
		totals, err := e.store.Totals()
		if err != nil {
			return err
		}
		if err := checkBorrowCapacity(op, totals, acct.Debt, newBorrow); err != nil {
			return err
		}
		repayCost, err := e.debtValue(oldM, acct.Debt, op.now)
		if err != nil {
			return err
		}
		lent, err := e.deps.Market.PresentValue(newMaturity, newBorrow, op.now, fixedpoint.RoundDown)
		if err != nil {
			return err
		}
		if lent.Cmp(repayCost) < 0 {
			return fmt.Errorf("%w: new borrow %s does not repay %s", ErrInsufficientProceeds, lent, repayCost)
		}
		excess := new(big.Int).Sub(lent, repayCost)
		pos := positionOf(oldM, totals, acct.VaultShares)

		extraTokens := new(big.Int)
		claim := new(big.Int)
		if excess.Sign() > 0 {
			if err := e.deps.State.Transfer(op.cfg.PrimaryToken, op.cfg.Host, e.vault, excess); err != nil {
				return fmt.Errorf("vault: borrow from host: %w", err)
			}
			claim, err = e.joinPool(op, excess, params)
			if err != nil {
				return err
			}
			extraTokens = mintTokens(totals, claim)
			if err := e.store.AdjustTotalClaim(claim); err != nil {
				return err
			}
			if err := e.checkClaimMirror(); err != nil {
				return err
			}
		}

		oldDebt := fixedpoint.Copy(acct.Debt)
		if err := e.store.DebitAccount(account, acct.VaultShares, acct.Debt, pos.tokens, pos.cash); err != nil {
			return err
		}
		newTokens := new(big.Int).Add(pos.tokens, extraTokens)
		newM, _, err := e.store.Maturity(newMaturity)
		if err != nil {
			return err
		}
		shares = mintShares(newM, newTokens)
		if shares.Cmp(minShares) < 0 {
			return fmt.Errorf("%w: shares %s below minimum %s", ErrSlippageExceeded, shares, minShares)
		}
		if err := e.store.CreditAccount(account, newMaturity, shares, newBorrow, newTokens, op.block, true); err != nil {
			return err
		}
		if claim.Sign() > 0 {
			if err := e.checkPoolShare(op); err != nil {
				return err
			}
		}
		if err := e.checkAccountHealth(op.ctx, op, account, true); err != nil {
			return err
		}
		op.emit(events.VaultRolled{
			OpID:         op.id,
			Vault:        e.vault,
			Account:      account,
			FromMaturity: oldM.Maturity,
			ToMaturity:   newMaturity,
			OldDebt:      oldDebt,
			NewDebt:      newBorrow,
			Shares:       shares,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}
