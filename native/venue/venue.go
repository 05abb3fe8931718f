// Package venue is the gateway to the external pool and staking system that
// holds a vault's liquidity.
package venue

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientOutput is returned when a join or exit falls short of
	// the caller's minimum.
	ErrInsufficientOutput = errors.New("venue: insufficient output")
	// ErrInsufficientStake is returned when exiting more claim than staked.
	ErrInsufficientStake = errors.New("venue: insufficient staked claim")
	// ErrEmptyPool is returned when the pool holds no liquidity.
	ErrEmptyPool = errors.New("venue: pool is empty")
	// ErrUnknownToken is returned for tokens that are not part of the pool.
	ErrUnknownToken = errors.New("venue: token not in pool")
	// ErrInvalidAmount rejects negative inputs.
	ErrInvalidAmount = errors.New("venue: invalid amount")
)

// Source describes how a valuation was obtained.
type Source uint8

const (
	// SourceOracle means the oracle was fresh and agreed with pool spot.
	SourceOracle Source = iota
	// SourceUncheckedOracle means freshness was bypassed; callers should
	// treat the value as an emergency-path reading.
	SourceUncheckedOracle
)

func (s Source) String() string {
	switch s {
	case SourceOracle:
		return "oracle"
	case SourceUncheckedOracle:
		return "unchecked-oracle"
	default:
		return "unknown"
	}
}

// Valuation is the primary-denominated value of a pool claim.
type Valuation struct {
	Value  *big.Int
	Source Source
}

// ValueOptions tunes a valuation read.
type ValueOptions struct {
	Now               time.Time
	SkipFreshness     bool
	DeviationLimitBps uint64
}

// Reward is one harvested reward token amount.
type Reward struct {
	Token  common.Address
	Amount *big.Int
}

// Gateway stakes and unstakes pool claims on behalf of vaults. Amounts of
// primary and secondary are in their native decimals; claim amounts are in
// the claim token's 1e18 precision.
type Gateway interface {
	Tokens() (primary, secondary common.Address)
	ClaimToken() common.Address
	Join(ctx context.Context, vault common.Address, primaryIn, secondaryIn, minClaimOut *big.Int) (*big.Int, error)
	Exit(ctx context.Context, vault common.Address, claimIn, minPrimaryOut, minSecondaryOut *big.Int) (primaryOut, secondaryOut *big.Int, err error)
	EmergencyExit(ctx context.Context, vault common.Address, claimIn *big.Int) (primaryOut, secondaryOut *big.Int, err error)
	ValueInPrimary(ctx context.Context, claim *big.Int, opts ValueOptions) (Valuation, error)
	ClaimRewards(ctx context.Context, vault common.Address) ([]Reward, error)
	StakedBalance(vault common.Address) (*big.Int, error)
	TotalSupply() (*big.Int, error)
	SpotPrice() (*big.Rat, error)
}
