package vault

import (
	"math/big"
	"testing"
	"time"

	"strategyvaults/native/fixedpoint"
)

func TestFixedRatePresentValue(t *testing.T) {
	market := NewFixedRateMarket(18, 100_000)
	maturity := uint64(startUnix + secondsPerYear)
	now := time.Unix(startUnix, 0)

	pv, err := market.PresentValue(maturity, debt(11), now, fixedpoint.RoundDown)
	if err != nil {
		t.Fatalf("present value: %v", err)
	}
	// 11 / 1.1 = 10 exactly.
	if pv.Cmp(ether(10)) != 0 {
		t.Fatalf("expected 10 ether, got %s", pv)
	}

	face, err := market.PresentValue(maturity, debt(11), time.Unix(int64(maturity), 0), fixedpoint.RoundDown)
	if err != nil {
		t.Fatalf("face value: %v", err)
	}
	if face.Cmp(ether(11)) != 0 {
		t.Fatalf("expected face value at maturity, got %s", face)
	}
}

func TestFixedRateRoundingDirection(t *testing.T) {
	market := NewFixedRateMarket(18, 50_000)
	now := time.Unix(startUnix, 0)
	down, err := market.PresentValue(maturity1, debt(3), now, fixedpoint.RoundDown)
	if err != nil {
		t.Fatalf("pv down: %v", err)
	}
	up, err := market.PresentValue(maturity1, debt(3), now, fixedpoint.RoundUp)
	if err != nil {
		t.Fatalf("pv up: %v", err)
	}
	if up.Cmp(down) <= 0 {
		t.Fatalf("expected round up above round down: up=%s down=%s", up, down)
	}
	if new(big.Int).Sub(up, down).Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("rounding modes should differ by one unit: up=%s down=%s", up, down)
	}
}

func TestDebtForCashInvertsPresentValue(t *testing.T) {
	market := NewFixedRateMarket(18, 50_000)
	market.SetRate(maturity2, 80_000)
	now := time.Unix(startUnix, 0)
	for _, maturity := range []uint64{maturity1, maturity2} {
		pv, err := market.PresentValue(maturity, debt(4), now, fixedpoint.RoundDown)
		if err != nil {
			t.Fatalf("pv: %v", err)
		}
		back, err := market.DebtForCash(maturity, pv, now)
		if err != nil {
			t.Fatalf("debt for cash: %v", err)
		}
		diff := new(big.Int).Sub(debt(4), back)
		if diff.Sign() < 0 || diff.Cmp(big.NewInt(1)) > 0 {
			t.Fatalf("maturity %d: expected ~4e8 debt units, got %s", maturity, back)
		}
	}
	if market.Rate(maturity2) != 80_000 || market.Rate(maturity1) != 50_000 {
		t.Fatalf("unexpected rates")
	}
}

func TestFixedRateRejectsNegative(t *testing.T) {
	market := NewFixedRateMarket(18, 50_000)
	if _, err := market.PresentValue(maturity1, big.NewInt(-1), time.Unix(startUnix, 0), fixedpoint.RoundDown); err == nil {
		t.Fatalf("expected error for negative debt")
	}
	if _, err := market.DebtForCash(maturity1, nil, time.Unix(startUnix, 0)); err == nil {
		t.Fatalf("expected error for nil cash")
	}
}
