package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type feedFunc func(token common.Address) (Round, error)

func (f feedFunc) LatestRound(token common.Address) (Round, error) { return f(token) }

var (
	weth = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	usdc = common.HexToAddress("0x00000000000000000000000000000000000000e2")
)

func TestManualFeedProvidesRounds(t *testing.T) {
	manual := NewManualFeed()
	now := time.Unix(1_700_000_000, 0)
	if err := manual.SetDecimal(weth, "1850.5", now); err != nil {
		t.Fatalf("set price: %v", err)
	}
	round, err := manual.LatestRound(weth)
	if err != nil {
		t.Fatalf("latest round: %v", err)
	}
	if round.Price().FloatString(1) != "1850.5" || !round.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected round: %+v", round)
	}
	if err := manual.SetDecimal(weth, "-1", now); err == nil {
		t.Fatalf("expected error for negative price")
	}
	if _, err := manual.LatestRound(usdc); !errors.Is(err, ErrNoFeed) {
		t.Fatalf("expected ErrNoFeed, got %v", err)
	}
}

func TestAggregatorPairwiseRate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	manual := NewManualFeed()
	manual.Set(weth, big.NewRat(2000, 1), now)
	manual.Set(usdc, big.NewRat(1, 1), now.Add(-time.Minute))
	agg := NewAggregator([]string{"manual"}, time.Hour)
	agg.Register("manual", manual)

	quote, err := agg.Rate(weth, usdc, ReadOptions{Now: now})
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if quote.RateString(0) != "2000" {
		t.Fatalf("unexpected rate %s", quote.RateString(6))
	}
	if !quote.Timestamp.Equal(now.Add(-time.Minute)) {
		t.Fatalf("expected oldest timestamp, got %v", quote.Timestamp)
	}
	inverse, err := agg.Rate(usdc, weth, ReadOptions{Now: now})
	if err != nil {
		t.Fatalf("inverse rate: %v", err)
	}
	if inverse.Rate.Cmp(big.NewRat(1, 2000)) != 0 {
		t.Fatalf("unexpected inverse rate %s", inverse.RateString(8))
	}
}

func TestAggregatorFreshness(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	manual := NewManualFeed()
	manual.Set(weth, big.NewRat(2000, 1), now.Add(-2*time.Hour))
	agg := NewAggregator([]string{"manual"}, time.Hour)
	agg.Register("manual", manual)

	if _, _, err := agg.Price(weth, ReadOptions{Now: now}); !errors.Is(err, ErrOracleStale) {
		t.Fatalf("expected stale error, got %v", err)
	}
	if _, _, err := agg.Price(weth, ReadOptions{Now: now, SkipFreshness: true}); err != nil {
		t.Fatalf("skip freshness should succeed: %v", err)
	}
	agg.SetMaxFreshness(FreshnessDisabled)
	if _, _, err := agg.Price(weth, ReadOptions{Now: now}); err != nil {
		t.Fatalf("disabled freshness should succeed: %v", err)
	}
}

func TestAggregatorPriorityFallback(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	manual := NewManualFeed()
	manual.Set(weth, big.NewRat(1900, 1), now)
	agg := NewAggregator([]string{"primary", "manual"}, time.Minute)
	agg.Register("primary", feedFunc(func(common.Address) (Round, error) {
		return Round{}, fmt.Errorf("primary down")
	}))
	agg.Register("manual", manual)

	round, source, err := agg.Price(weth, ReadOptions{Now: now})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if source != "manual" || round.Price().Cmp(big.NewRat(1900, 1)) != 0 {
		t.Fatalf("unexpected fallback result %s %v", source, round.Price())
	}

	agg.Register("zero", feedFunc(func(common.Address) (Round, error) {
		return Round{Answer: big.NewInt(0), UpdatedAt: now}, nil
	}))
	empty := NewAggregator([]string{"zero"}, time.Minute)
	empty.Register("zero", feedFunc(func(common.Address) (Round, error) {
		return Round{Answer: big.NewInt(0), UpdatedAt: now}, nil
	}))
	if _, _, err := empty.Price(weth, ReadOptions{Now: now}); !errors.Is(err, ErrInvalidRound) {
		t.Fatalf("expected invalid round, got %v", err)
	}
}

func TestCheckDeviation(t *testing.T) {
	if err := CheckDeviation(big.NewRat(1005, 1000), big.NewRat(1, 1), 100); err != nil {
		t.Fatalf("50 bps within 100 bps limit: %v", err)
	}
	if err := CheckDeviation(big.NewRat(102, 100), big.NewRat(1, 1), 100); !errors.Is(err, ErrOracleDeviation) {
		t.Fatalf("expected deviation error, got %v", err)
	}
}
