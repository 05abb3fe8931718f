package oracle

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/native/fixedpoint"
)

// ManualDecimals is the precision used for rounds stored by ManualFeed.
const ManualDecimals uint8 = 18

// ManualFeed provides an in-memory feed used for tests, the sandbox daemon
// and manual overrides during incident response.
type ManualFeed struct {
	mu     sync.RWMutex
	rounds map[common.Address]Round
}

// NewManualFeed constructs an empty manual feed.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{rounds: make(map[common.Address]Round)}
}

// SetDecimal records a decimal price such as "1850.25" for token.
func (m *ManualFeed) SetDecimal(token common.Address, price string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual feed not configured")
	}
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return fmt.Errorf("manual feed: price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("manual feed: invalid price %q", price)
	}
	if rat.Sign() <= 0 {
		return fmt.Errorf("manual feed: price must be positive")
	}
	m.Set(token, rat, ts)
	return nil
}

// Set stores the provided rational price for token.
func (m *ManualFeed) Set(token common.Address, price *big.Rat, ts time.Time) {
	if m == nil || price == nil {
		return
	}
	scaled := new(big.Int).Mul(price.Num(), fixedpoint.Pow10(ManualDecimals))
	scaled.Quo(scaled, price.Denom())
	m.mu.Lock()
	m.rounds[token] = Round{Answer: scaled, Decimals: ManualDecimals, UpdatedAt: ts}
	m.mu.Unlock()
}

// Touch refreshes the timestamp of every stored round.
func (m *ManualFeed) Touch(ts time.Time) {
	if m == nil {
		return
	}
	m.mu.Lock()
	for token, round := range m.rounds {
		round.UpdatedAt = ts
		m.rounds[token] = round
	}
	m.mu.Unlock()
}

// LatestRound implements Feed.
func (m *ManualFeed) LatestRound(token common.Address) (Round, error) {
	if m == nil {
		return Round{}, fmt.Errorf("manual feed not configured")
	}
	m.mu.RLock()
	round, ok := m.rounds[token]
	m.mu.RUnlock()
	if !ok {
		return Round{}, fmt.Errorf("%w: %s", ErrNoFeed, token.Hex())
	}
	return Round{Answer: new(big.Int).Set(round.Answer), Decimals: round.Decimals, UpdatedAt: round.UpdatedAt}, nil
}
