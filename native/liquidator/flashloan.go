package liquidator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/native/fixedpoint"
)

var (
	// ErrFlashLoanNotRepaid is returned when the borrower cannot return the
	// principal plus fee at the end of the callback.
	ErrFlashLoanNotRepaid = errors.New("liquidator: flash loan not repaid")
	// ErrFlashLoanLiquidity is returned when the lender's reserve cannot fund
	// the loan.
	ErrFlashLoanLiquidity = errors.New("liquidator: flash loan liquidity unavailable")
)

// Ledger is the token ledger a LedgerFlashLender moves funds on. Snapshot and
// RevertToSnapshot must cover every state change made inside the callback.
type Ledger interface {
	Balance(token, holder common.Address) (*big.Int, error)
	Transfer(token, from, to common.Address, amount *big.Int) error
	Snapshot() int
	RevertToSnapshot(id int) error
}

// FlashLender lends amount of token to borrower for the duration of fn. The
// loan plus the returned fee must be back with the lender when fn returns;
// otherwise every change made since the loan started is undone.
type FlashLender interface {
	FlashLoan(ctx context.Context, borrower, token common.Address, amount *big.Int, fn func(ctx context.Context, fee *big.Int) error) error
}

// LedgerFlashLender lends out of a reserve address on a Ledger and charges
// FeeBps of the principal, rounded up.
type LedgerFlashLender struct {
	ledger  Ledger
	reserve common.Address
	feeBps  uint64
}

// NewLedgerFlashLender returns a lender funded by reserve.
func NewLedgerFlashLender(ledger Ledger, reserve common.Address, feeBps uint64) *LedgerFlashLender {
	return &LedgerFlashLender{ledger: ledger, reserve: reserve, feeBps: feeBps}
}

// Reserve returns the address funding loans.
func (l *LedgerFlashLender) Reserve() common.Address { return l.reserve }

// Fee returns the fee charged on amount.
func (l *LedgerFlashLender) Fee(amount *big.Int) *big.Int {
	return fixedpoint.ApplyBps(fixedpoint.Copy(amount), l.feeBps, fixedpoint.RoundUp)
}

// FlashLoan implements FlashLender.
func (l *LedgerFlashLender) FlashLoan(ctx context.Context, borrower, token common.Address, amount *big.Int, fn func(ctx context.Context, fee *big.Int) error) (err error) {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("liquidator: flash loan amount must be positive")
	}
	available, err := l.ledger.Balance(token, l.reserve)
	if err != nil {
		return err
	}
	if available.Cmp(amount) < 0 {
		return fmt.Errorf("%w: reserve holds %s, requested %s", ErrFlashLoanLiquidity, available, amount)
	}
	snapshot := l.ledger.Snapshot()
	defer func() {
		if err == nil {
			return
		}
		if rerr := l.ledger.RevertToSnapshot(snapshot); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	if err := l.ledger.Transfer(token, l.reserve, borrower, amount); err != nil {
		return fmt.Errorf("liquidator: fund flash loan: %w", err)
	}
	fee := l.Fee(amount)
	if err := fn(ctx, new(big.Int).Set(fee)); err != nil {
		return err
	}
	owed := new(big.Int).Add(amount, fee)
	if err := l.ledger.Transfer(token, borrower, l.reserve, owed); err != nil {
		return fmt.Errorf("%w: owed %s: %v", ErrFlashLoanNotRepaid, owed, err)
	}
	return nil
}
