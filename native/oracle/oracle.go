// Package oracle resolves token prices from registered feeds and combines
// them into pairwise exchange rates with freshness and deviation checks.
package oracle

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/native/fixedpoint"
)

// FreshnessDisabled is the sentinel that turns off freshness checks. Any
// MaxFreshness below it is enforced.
const FreshnessDisabled time.Duration = math.MaxInt64

var (
	// ErrOracleStale indicates that no feed returned a round within the
	// configured freshness window.
	ErrOracleStale = errors.New("oracle: no fresh round available")
	// ErrOracleDeviation indicates that a spot price disagrees with the
	// oracle beyond the permitted limit.
	ErrOracleDeviation = errors.New("oracle: spot price deviates from oracle")
	// ErrNoFeed indicates that no registered feed prices the token.
	ErrNoFeed = errors.New("oracle: no feed for token")
	// ErrInvalidRound rejects rounds with a non-positive answer.
	ErrInvalidRound = errors.New("oracle: invalid round")
)

// Round is one observation from a feed: Answer scaled by 10^Decimals, in the
// feed's common quote unit.
type Round struct {
	Answer    *big.Int
	Decimals  uint8
	UpdatedAt time.Time
}

// Price returns the round as a rational number of quote units.
func (r Round) Price() *big.Rat {
	if r.Answer == nil {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(r.Answer, fixedpoint.Pow10(r.Decimals))
}

// Feed reports the latest round for a token.
type Feed interface {
	LatestRound(token common.Address) (Round, error)
}

// Quote is a resolved exchange rate: whole quote tokens per whole base token.
type Quote struct {
	Rate      *big.Rat
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// RateString renders the rate using the supplied precision.
func (q Quote) RateString(precision int) string {
	if q.Rate == nil {
		return ""
	}
	return q.Rate.FloatString(precision)
}

// ReadOptions tunes a single read.
type ReadOptions struct {
	// Now overrides the wall clock used for freshness.
	Now time.Time
	// SkipFreshness bypasses the freshness window for this read only.
	SkipFreshness bool
}

// Aggregator consults registered feeds in priority order until a fresh round
// is obtained.
type Aggregator struct {
	mu           sync.RWMutex
	priority     []string
	feeds        map[string]Feed
	maxFreshness time.Duration
}

// NewAggregator constructs an aggregator with the provided priority and
// freshness window.
func NewAggregator(priority []string, maxFreshness time.Duration) *Aggregator {
	prio := make([]string, 0, len(priority))
	for _, name := range priority {
		if trimmed := normaliseName(name); trimmed != "" {
			prio = append(prio, trimmed)
		}
	}
	return &Aggregator{
		priority:     prio,
		feeds:        make(map[string]Feed),
		maxFreshness: maxFreshness,
	}
}

func normaliseName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds or replaces a feed under the supplied identifier. New
// identifiers are appended to the priority list.
func (a *Aggregator) Register(name string, feed Feed) {
	if a == nil || feed == nil {
		return
	}
	trimmed := normaliseName(name)
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feeds[trimmed] = feed
	for _, entry := range a.priority {
		if entry == trimmed {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// SetMaxFreshness updates the freshness window. Pass FreshnessDisabled to
// accept rounds of any age.
func (a *Aggregator) SetMaxFreshness(d time.Duration) {
	if a == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	a.mu.Lock()
	a.maxFreshness = d
	a.mu.Unlock()
}

// MaxFreshness returns the current freshness window.
func (a *Aggregator) MaxFreshness() time.Duration {
	if a == nil {
		return 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.maxFreshness
}

// Price resolves the price of token in the feeds' common quote unit.
func (a *Aggregator) Price(token common.Address, opts ReadOptions) (Round, string, error) {
	if a == nil {
		return Round{}, "", fmt.Errorf("oracle aggregator not configured")
	}
	a.mu.RLock()
	priority := append([]string(nil), a.priority...)
	maxFreshness := a.maxFreshness
	a.mu.RUnlock()

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	enforce := !opts.SkipFreshness && maxFreshness < FreshnessDisabled

	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		feed := a.feeds[name]
		a.mu.RUnlock()
		if feed == nil {
			continue
		}
		round, err := feed.LatestRound(token)
		if err != nil {
			lastErr = err
			continue
		}
		if round.Answer == nil || round.Answer.Sign() <= 0 {
			lastErr = fmt.Errorf("%w: feed %s token %s", ErrInvalidRound, name, token.Hex())
			continue
		}
		if enforce && now.Sub(round.UpdatedAt) > maxFreshness {
			lastErr = fmt.Errorf("%w: feed %s token %s updated %s", ErrOracleStale, name, token.Hex(), round.UpdatedAt.UTC().Format(time.RFC3339))
			continue
		}
		return Round{Answer: new(big.Int).Set(round.Answer), Decimals: round.Decimals, UpdatedAt: round.UpdatedAt}, name, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %s", ErrNoFeed, token.Hex())
	}
	return Round{}, "", lastErr
}

// Rate combines the prices of base and quote into a pairwise rate. The quote
// timestamp is the older of the two rounds.
func (a *Aggregator) Rate(base, quote common.Address, opts ReadOptions) (Quote, error) {
	if base == quote {
		ts := opts.Now
		if ts.IsZero() {
			ts = time.Now()
		}
		return Quote{Rate: big.NewRat(1, 1), Timestamp: ts, Source: "identity"}, nil
	}
	baseRound, baseSource, err := a.Price(base, opts)
	if err != nil {
		return Quote{}, err
	}
	quoteRound, quoteSource, err := a.Price(quote, opts)
	if err != nil {
		return Quote{}, err
	}
	rate := new(big.Rat).Quo(baseRound.Price(), quoteRound.Price())
	ts := baseRound.UpdatedAt
	if quoteRound.UpdatedAt.Before(ts) {
		ts = quoteRound.UpdatedAt
	}
	source := baseSource
	if quoteSource != baseSource {
		source = baseSource + "/" + quoteSource
	}
	return Quote{Rate: rate, Timestamp: ts, Source: source}, nil
}

// CheckDeviation returns ErrOracleDeviation when spot differs from reference
// by more than limitBps.
func CheckDeviation(spot, reference *big.Rat, limitBps uint64) error {
	deviation := fixedpoint.DeviationBps(spot, reference)
	if deviation > limitBps {
		return fmt.Errorf("%w: %d bps exceeds limit %d bps", ErrOracleDeviation, deviation, limitBps)
	}
	return nil
}
