package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/core/events"
	"strategyvaults/native/fixedpoint"
)

func checkEntryCoolDown(op *opContext, acct *Account) error {
	if !acct.Entered {
		return nil
	}
	if op.block < acct.LastEntryBlock+op.cfg.MinEntryBlocks {
		return fmt.Errorf("%w: entered at block %d, now %d", ErrEntryCoolDown, acct.LastEntryBlock, op.block)
	}
	return nil
}

// Redeem exits shares of account's position, repaying debtToRepay debt units
// to the host out of the proceeds. The remainder is paid to receiver (account
// when zero). After settlement the debt is already repaid and the account's
// proportional debt is retired at no cost.
func (e *Engine) Redeem(ctx context.Context, caller, account, receiver common.Address, shares, debtToRepay *big.Int, data []byte) (*big.Int, error) {
	params, err := DecodeRedeemParams(data)
	if err != nil {
		return nil, err
	}
	shares, debtToRepay = fixedpoint.Copy(shares), fixedpoint.Copy(debtToRepay)
	if shares.Sign() < 0 || debtToRepay.Sign() < 0 || (shares.Sign() == 0 && debtToRepay.Sign() == 0) {
		return nil, ErrInvalidAmount
	}
	if receiver == (common.Address{}) {
		receiver = account
	}
	var paid *big.Int
	err = e.run(ctx, "redeem", account, func(op *opContext) error {
		if err := authorizeHost(op, caller); err != nil {
			return err
		}
		if err := requireVaultCaller(op, caller, FlagOnlyVaultExit, ErrOnlyVaultExit); err != nil {
			return err
		}
		acct, ok, err := e.store.Account(account)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAccountNotFound
		}
		if shares.Cmp(acct.VaultShares) > 0 {
			return fmt.Errorf("%w: holds %s, redeeming %s", ErrInsufficientShares, acct.VaultShares, shares)
		}
		if debtToRepay.Cmp(acct.Debt) > 0 {
			return fmt.Errorf("%w: owes %s, repaying %s", ErrExcessRepayment, acct.Debt, debtToRepay)
		}
		if err := checkEntryCoolDown(op, acct); err != nil {
			return err
		}
		m, _, err := e.store.Maturity(acct.Maturity)
		if err != nil {
			return err
		}
		totals, err := e.store.Totals()
		if err != nil {
			return err
		}
		debt := debtToRepay
		if m.IsSettled {
			debt = fixedpoint.MulDiv(acct.Debt, shares, acct.VaultShares)
			if shares.Cmp(acct.VaultShares) == 0 {
				debt = fixedpoint.Copy(acct.Debt)
			}
		}
		pos := positionOf(m, totals, shares)
		raised, err := e.exitClaim(op, pos.claim, params, exitOptions{capBps: op.settings.PoolSlippageLimitBps})
		if err != nil {
			return err
		}
		proceeds := new(big.Int).Add(raised, pos.cash)
		repayCost, err := e.debtValue(m, debt, op.now)
		if err != nil {
			return err
		}
		if proceeds.Cmp(repayCost) < 0 {
			return fmt.Errorf("%w: proceeds %s repayment %s", ErrInsufficientProceeds, proceeds, repayCost)
		}
		if err := e.pay(op, op.cfg.Host, repayCost); err != nil {
			return err
		}
		paid = new(big.Int).Sub(proceeds, repayCost)
		if err := e.pay(op, receiver, paid); err != nil {
			return err
		}
		if err := e.store.DebitAccount(account, shares, debt, pos.tokens, pos.cash); err != nil {
			return err
		}
		if !m.IsSettled {
			if err := e.checkAccountHealth(op.ctx, op, account, false); err != nil {
				return err
			}
		}
		op.emit(events.VaultRedeemed{
			OpID:        op.id,
			Vault:       e.vault,
			Account:     account,
			Receiver:    receiver,
			Maturity:    acct.Maturity,
			Shares:      shares,
			DebtRepaid:  debt,
			RepayCost:   repayCost,
			PrimaryPaid: paid,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}
