// Package trade executes swaps for vaults through registered DEX adapters,
// enforcing per-(vault, sell token) permissions and slippage bounds.
package trade

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DexID identifies a DEX adapter.
type DexID uint8

const (
	DexUniswapV2     DexID = 1
	DexUniswapV3     DexID = 2
	DexZeroEx        DexID = 3
	DexBalancerV2    DexID = 4
	DexCurve         DexID = 5
	DexNotionalVault DexID = 6
	DexCurveV2       DexID = 7
	DexCamelotV3     DexID = 8
)

var dexNames = map[DexID]string{
	DexUniswapV2:     "uniswap-v2",
	DexUniswapV3:     "uniswap-v3",
	DexZeroEx:        "0x",
	DexBalancerV2:    "balancer-v2",
	DexCurve:         "curve",
	DexNotionalVault: "notional-vault",
	DexCurveV2:       "curve-v2",
	DexCamelotV3:     "camelot-v3",
}

// Valid reports whether id is a known DEX.
func (d DexID) Valid() bool {
	_, ok := dexNames[d]
	return ok
}

func (d DexID) String() string {
	if name, ok := dexNames[d]; ok {
		return name
	}
	return fmt.Sprintf("dex(%d)", uint8(d))
}

// ParseDexID resolves a DEX by its canonical name.
func ParseDexID(name string) (DexID, bool) {
	for id, n := range dexNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// TradeType selects exact-in or exact-out and single or batch routing.
type TradeType uint8

const (
	ExactInSingle  TradeType = 0
	ExactOutSingle TradeType = 1
	ExactInBatch   TradeType = 2
	ExactOutBatch  TradeType = 3
)

// Valid reports whether t is a known trade type.
func (t TradeType) Valid() bool { return t <= ExactOutBatch }

// ExactIn reports whether Amount is the amount sold.
func (t TradeType) ExactIn() bool { return t == ExactInSingle || t == ExactInBatch }

func (t TradeType) String() string {
	switch t {
	case ExactInSingle:
		return "exact-in-single"
	case ExactOutSingle:
		return "exact-out-single"
	case ExactInBatch:
		return "exact-in-batch"
	case ExactOutBatch:
		return "exact-out-batch"
	default:
		return fmt.Sprintf("trade-type(%d)", uint8(t))
	}
}

// ParseTradeType resolves a trade type by its canonical name.
func ParseTradeType(name string) (TradeType, bool) {
	for t := ExactInSingle; t <= ExactOutBatch; t++ {
		if t.String() == name {
			return t, true
		}
	}
	return 0, false
}

// NativeToken is the ledger address standing in for the chain's native asset.
var NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Permission is the owner-managed allowlist for one (vault, sell token) pair.
type Permission struct {
	Enabled       bool
	DexMask       uint16
	TradeTypeMask uint16
}

// AllowsDex reports whether bit id of DexMask is set.
func (p Permission) AllowsDex(id DexID) bool {
	return id < 16 && p.DexMask&(1<<id) != 0
}

// AllowsTradeType reports whether bit t of TradeTypeMask is set.
func (p Permission) AllowsTradeType(t TradeType) bool {
	return t < 16 && p.TradeTypeMask&(1<<t) != 0
}

// ParsePermission builds an enabled permission allowing the named DEXes and
// trade types.
func ParsePermission(dexes, tradeTypes []string) (Permission, error) {
	perm := Permission{Enabled: true}
	for _, name := range dexes {
		id, ok := ParseDexID(name)
		if !ok {
			return Permission{}, fmt.Errorf("%w: %q", ErrUnknownDex, name)
		}
		perm.DexMask |= 1 << id
	}
	for _, name := range tradeTypes {
		t, ok := ParseTradeType(name)
		if !ok {
			return Permission{}, fmt.Errorf("%w: %q", ErrUnknownTradeType, name)
		}
		perm.TradeTypeMask |= 1 << t
	}
	return perm, nil
}

// Spec is the caller-supplied description of a trade, carried inside the
// deposit, redeem and reinvest parameter blobs.
type Spec struct {
	DexID               DexID
	TradeType           TradeType
	Limit               *big.Int
	OracleSlippage      bool
	UnwrapWrappedNative bool
	Payload             []byte
}

// Validate rejects unknown DEX ids and trade types.
func (s Spec) Validate() error {
	if !s.DexID.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownDex, s.DexID)
	}
	if !s.TradeType.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownTradeType, s.TradeType)
	}
	return nil
}

// Trade is a fully resolved swap request.
type Trade struct {
	TradeType TradeType
	SellToken common.Address
	BuyToken  common.Address
	// Amount is the amount sold for exact-in trades and the amount bought
	// for exact-out trades.
	Amount *big.Int
	// Limit is min out (exact-in) or max in (exact-out) under static
	// slippage, and a basis point tolerance under oracle slippage.
	Limit    *big.Int
	Deadline time.Time
	Payload  []byte
}

// Options carries the execution context of a trade.
type Options struct {
	DexID          DexID
	OracleSlippage bool
	// SlippageCapBps bounds the oracle slippage tolerance for the phase the
	// trade runs in (deposit, settlement, post-maturity, emergency).
	SlippageCapBps uint64
	Unwrap         bool
	Now            time.Time
	SkipFreshness  bool
}

// Result reports the amounts actually exchanged.
type Result struct {
	DexID  DexID
	Sold   *big.Int
	Bought *big.Int
}
