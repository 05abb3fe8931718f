package trade

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/native/fixedpoint"
	"strategyvaults/native/oracle"
)

// OracleDex is a simulated venue that fills any trade at the oracle rate less
// a fixed spread, drawing output from reserves held at its own ledger address.
type OracleDex struct {
	reserve   common.Address
	ledger    Ledger
	rates     RateSource
	spreadBps uint64
}

// NewOracleDex returns a dex holding reserves at reserve.
func NewOracleDex(reserve common.Address, ledger Ledger, rates RateSource, spreadBps uint64) *OracleDex {
	return &OracleDex{reserve: reserve, ledger: ledger, rates: rates, spreadBps: spreadBps}
}

// Reserve returns the ledger address holding the dex inventory.
func (d *OracleDex) Reserve() common.Address { return d.reserve }

// Quote implements Adapter.
func (d *OracleDex) Quote(_ context.Context, t Trade) (*big.Int, *big.Int, error) {
	if d == nil || d.ledger == nil || d.rates == nil {
		return nil, nil, fmt.Errorf("trade: oracle dex not configured")
	}
	if d.spreadBps >= 10_000 {
		return nil, nil, fmt.Errorf("trade: oracle dex spread %d bps invalid", d.spreadBps)
	}
	sellDec, err := d.ledger.Decimals(t.SellToken)
	if err != nil {
		return nil, nil, err
	}
	buyDec, err := d.ledger.Decimals(t.BuyToken)
	if err != nil {
		return nil, nil, err
	}
	opts := oracle.ReadOptions{SkipFreshness: true}
	keep := new(big.Int).SetUint64(10_000 - d.spreadBps)
	if t.TradeType.ExactIn() {
		quote, err := d.rates.Rate(t.SellToken, t.BuyToken, opts)
		if err != nil {
			return nil, nil, err
		}
		gross := fixedpoint.ConvertRat(t.Amount, quote.Rate, sellDec, buyDec, fixedpoint.RoundDown)
		return new(big.Int).Set(t.Amount), fixedpoint.MulDiv(gross, keep, fixedpoint.BasisPoints), nil
	}
	quote, err := d.rates.Rate(t.BuyToken, t.SellToken, opts)
	if err != nil {
		return nil, nil, err
	}
	net := fixedpoint.ConvertRat(t.Amount, quote.Rate, buyDec, sellDec, fixedpoint.RoundUp)
	return fixedpoint.MulDivUp(net, fixedpoint.BasisPoints, keep), new(big.Int).Set(t.Amount), nil
}

// Fill implements Adapter.
func (d *OracleDex) Fill(ctx context.Context, trader common.Address, t Trade) (*big.Int, *big.Int, error) {
	sold, bought, err := d.Quote(ctx, t)
	if err != nil {
		return nil, nil, err
	}
	available, err := d.ledger.Balance(t.BuyToken, d.reserve)
	if err != nil {
		return nil, nil, err
	}
	if available.Cmp(bought) < 0 {
		return nil, nil, fmt.Errorf("%w: need %s of %s, have %s", ErrReservesExhausted, bought, t.BuyToken.Hex(), available)
	}
	if err := d.ledger.Transfer(t.SellToken, trader, d.reserve, sold); err != nil {
		return nil, nil, err
	}
	if err := d.ledger.Transfer(t.BuyToken, d.reserve, trader, bought); err != nil {
		return nil, nil, err
	}
	return sold, bought, nil
}
