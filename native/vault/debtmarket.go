package vault

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"strategyvaults/native/fixedpoint"
)

const secondsPerYear = 365 * 24 * 60 * 60

// DebtMarket prices fixed-maturity debt. Debt is denominated in 1e8 debt
// units of the primary token; cash is in the primary token's decimals.
type DebtMarket interface {
	// PresentValue returns the cash value of debt at now.
	PresentValue(maturity uint64, debt *big.Int, now time.Time, mode fixedpoint.Rounding) (*big.Int, error)
	// DebtForCash returns the debt units retired by repaying cash at now,
	// rounded down.
	DebtForCash(maturity uint64, cash *big.Int, now time.Time) (*big.Int, error)
}

// FixedRateMarket discounts debt with a simple annual rate per maturity. At
// or after maturity debt trades at face value.
type FixedRateMarket struct {
	mu          sync.RWMutex
	decimals    uint8
	defaultRate uint64
	rates       map[uint64]uint64
}

// NewFixedRateMarket returns a market for a primary token with decimals,
// quoting defaultRate (fixedpoint.RatePrecision, annualised) for every
// maturity without an explicit rate.
func NewFixedRateMarket(decimals uint8, defaultRate uint64) *FixedRateMarket {
	return &FixedRateMarket{decimals: decimals, defaultRate: defaultRate, rates: make(map[uint64]uint64)}
}

// SetRate overrides the annual rate of maturity.
func (f *FixedRateMarket) SetRate(maturity, rate uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates[maturity] = rate
}

// Rate returns the annual rate applied to maturity.
func (f *FixedRateMarket) Rate(maturity uint64) uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if rate, ok := f.rates[maturity]; ok {
		return rate
	}
	return f.defaultRate
}

// discount returns numerator and denominator of the discount factor
// 1/(1 + rate*tau/year).
func (f *FixedRateMarket) discount(maturity uint64, now time.Time) (*big.Int, *big.Int) {
	nowSec := now.Unix()
	if nowSec < 0 {
		nowSec = 0
	}
	if uint64(nowSec) >= maturity {
		return big.NewInt(1), big.NewInt(1)
	}
	tau := new(big.Int).SetUint64(maturity - uint64(nowSec))
	num := new(big.Int).Mul(fixedpoint.RatePrecision, big.NewInt(secondsPerYear))
	den := new(big.Int).Mul(new(big.Int).SetUint64(f.Rate(maturity)), tau)
	den.Add(den, num)
	return num, den
}

// PresentValue implements DebtMarket.
func (f *FixedRateMarket) PresentValue(maturity uint64, debt *big.Int, now time.Time, mode fixedpoint.Rounding) (*big.Int, error) {
	if debt == nil || debt.Sign() < 0 {
		return nil, fmt.Errorf("%w: debt", ErrInvalidAmount)
	}
	face := fixedpoint.ToExternal(debt, f.decimals, mode)
	num, den := f.discount(maturity, now)
	return fixedpoint.MulDivRounding(face, num, den, mode), nil
}

// DebtForCash implements DebtMarket.
func (f *FixedRateMarket) DebtForCash(maturity uint64, cash *big.Int, now time.Time) (*big.Int, error) {
	if cash == nil || cash.Sign() < 0 {
		return nil, fmt.Errorf("%w: cash", ErrInvalidAmount)
	}
	num, den := f.discount(maturity, now)
	face := fixedpoint.MulDiv(cash, den, num)
	return fixedpoint.ToInternal(face, f.decimals), nil
}
