package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/native/fixedpoint"
)

// Flags is the 16-bit vault feature mask.
type Flags uint16

const (
	FlagEnabled Flags = 1 << iota
	FlagAllowRollPosition
	FlagOnlyVaultEntry
	FlagOnlyVaultExit
	FlagOnlyVaultRoll
	FlagOnlyVaultDeleverage
	FlagOnlyVaultSettle
	FlagTransferSharesOnDeleverage
	FlagAllowReentrancy
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagEnabled, "enabled"},
	{FlagAllowRollPosition, "allow_roll_position"},
	{FlagOnlyVaultEntry, "only_vault_entry"},
	{FlagOnlyVaultExit, "only_vault_exit"},
	{FlagOnlyVaultRoll, "only_vault_roll"},
	{FlagOnlyVaultDeleverage, "only_vault_deleverage"},
	{FlagOnlyVaultSettle, "only_vault_settle"},
	{FlagTransferSharesOnDeleverage, "transfer_shares_on_deleverage"},
	{FlagAllowReentrancy, "allow_reentrancy"},
}

// Has reports whether every bit of flag is set.
func (f Flags) Has(flag Flags) bool { return f&flag == flag }

// Names lists the set flags in bit order.
func (f Flags) Names() []string {
	out := make([]string, 0, len(flagNames))
	for _, entry := range flagNames {
		if f.Has(entry.flag) {
			out = append(out, entry.name)
		}
	}
	return out
}

// ParseFlags converts flag names into a mask.
func ParseFlags(names []string) (Flags, error) {
	var out Flags
	for _, name := range names {
		found := false
		for _, entry := range flagNames {
			if entry.name == name {
				out |= entry.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("vault: unknown flag %q", name)
		}
	}
	return out, nil
}

// Config is the registration record of a vault. Ratios are in
// fixedpoint.RatePrecision, borrow amounts in debt units.
type Config struct {
	Vault             common.Address
	Host              common.Address
	Owner             common.Address
	PrimaryToken      common.Address
	PrimaryDecimals   uint8
	SecondaryToken    common.Address
	SecondaryDecimals uint8
	Flags             Flags

	MaxPrimaryBorrowCapacity *big.Int
	MinAccountBorrowSize     *big.Int

	MinCollateralRatio                uint64
	MaxDeleverageCollateralRatio      uint64
	MaxRequiredAccountCollateralRatio uint64
	LiquidationDiscount               uint64
	ReserveFeeShare                   uint64

	MaxDebtMarketIndex uint64
	SettlementWindow   uint64
	MinEntryBlocks     uint64
	ActiveMarkets      []uint64
}

// DefaultMinEntryBlocks is applied when a config leaves MinEntryBlocks unset.
const DefaultMinEntryBlocks = 5

// Validate checks the static consistency of the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return newError(KindConfiguration, "vault: config required")
	}
	if c.Vault == (common.Address{}) || c.Host == (common.Address{}) || c.Owner == (common.Address{}) {
		return newError(KindConfiguration, "vault: vault, host and owner addresses required")
	}
	if c.PrimaryToken == (common.Address{}) || c.SecondaryToken == (common.Address{}) {
		return newError(KindConfiguration, "vault: pool tokens required")
	}
	if c.PrimaryToken == c.SecondaryToken {
		return newError(KindConfiguration, "vault: primary and secondary tokens must differ")
	}
	one := fixedpoint.RatePrecision.Uint64()
	if c.LiquidationDiscount == 0 || c.LiquidationDiscount >= one {
		return newError(KindConfiguration, "vault: liquidation discount must be within (0, 1)")
	}
	if c.MinCollateralRatio <= one+c.LiquidationDiscount {
		return newError(KindConfiguration, "vault: min collateral ratio must exceed 1 + liquidation discount")
	}
	if c.MaxDeleverageCollateralRatio <= c.MinCollateralRatio {
		return newError(KindConfiguration, "vault: max deleverage ratio must exceed min collateral ratio")
	}
	if c.MaxRequiredAccountCollateralRatio < c.MaxDeleverageCollateralRatio {
		return newError(KindConfiguration, "vault: max required ratio must be at least the max deleverage ratio")
	}
	if c.ReserveFeeShare > one {
		return newError(KindConfiguration, "vault: reserve fee share above 100%")
	}
	if c.MaxPrimaryBorrowCapacity == nil || c.MaxPrimaryBorrowCapacity.Sign() <= 0 {
		return newError(KindConfiguration, "vault: borrow capacity must be positive")
	}
	if c.MinAccountBorrowSize == nil || c.MinAccountBorrowSize.Sign() < 0 {
		return newError(KindConfiguration, "vault: min borrow size must not be negative")
	}
	if err := fixedpoint.CheckU256(c.MaxPrimaryBorrowCapacity); err != nil {
		return newError(KindConfiguration, "vault: borrow capacity out of range")
	}
	if c.SettlementWindow == 0 {
		return newError(KindConfiguration, "vault: settlement window required")
	}
	if c.MaxDebtMarketIndex == 0 {
		return newError(KindConfiguration, "vault: max debt market index must be positive")
	}
	for i := 1; i < len(c.ActiveMarkets); i++ {
		if c.ActiveMarkets[i] <= c.ActiveMarkets[i-1] {
			return newError(KindConfiguration, "vault: active markets must be strictly increasing")
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.MaxPrimaryBorrowCapacity = fixedpoint.Copy(c.MaxPrimaryBorrowCapacity)
	out.MinAccountBorrowSize = fixedpoint.Copy(c.MinAccountBorrowSize)
	out.ActiveMarkets = append([]uint64(nil), c.ActiveMarkets...)
	return &out
}

// Enterable reports whether maturity is among the first MaxDebtMarketIndex
// active markets.
func (c *Config) Enterable(maturity uint64) bool {
	for i, m := range c.ActiveMarkets {
		if uint64(i) >= c.MaxDebtMarketIndex {
			return false
		}
		if m == maturity {
			return true
		}
	}
	return false
}

// Settings are the owner-tuned operating limits of a vault.
type Settings struct {
	MaxUnderlyingSurplus                   *big.Int
	SettlementSlippageLimitBps             uint64
	PostMaturitySettlementSlippageLimitBps uint64
	EmergencySettlementSlippageLimitBps    uint64
	MaxPoolShareBps                        uint64
	SettlementCoolDown                     uint64
	OraclePriceDeviationLimitBps           uint64
	PoolSlippageLimitBps                   uint64
	FeeBps                                 uint64
	FeeReceiver                            common.Address
}

// Validate bounds every basis point field.
func (s *Settings) Validate() error {
	if s == nil {
		return newError(KindConfiguration, "vault: settings required")
	}
	limits := []struct {
		name  string
		value uint64
	}{
		{"settlement slippage", s.SettlementSlippageLimitBps},
		{"post-maturity slippage", s.PostMaturitySettlementSlippageLimitBps},
		{"emergency slippage", s.EmergencySettlementSlippageLimitBps},
		{"max pool share", s.MaxPoolShareBps},
		{"oracle deviation", s.OraclePriceDeviationLimitBps},
		{"pool slippage", s.PoolSlippageLimitBps},
		{"fee", s.FeeBps},
	}
	for _, l := range limits {
		if l.value > 10_000 {
			return newError(KindConfiguration, fmt.Sprintf("vault: %s limit %d bps above 100%%", l.name, l.value))
		}
	}
	if s.FeeBps > 0 && s.FeeReceiver == (common.Address{}) {
		return newError(KindConfiguration, "vault: fee receiver required when a fee is set")
	}
	if s.MaxUnderlyingSurplus != nil && s.MaxUnderlyingSurplus.Sign() < 0 {
		return newError(KindConfiguration, "vault: max underlying surplus must not be negative")
	}
	return nil
}

// Clone returns a deep copy.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	out := *s
	out.MaxUnderlyingSurplus = fixedpoint.Copy(s.MaxUnderlyingSurplus)
	return &out
}

// VaultState holds the vault-wide totals.
type VaultState struct {
	TotalPoolClaim      *big.Int
	TotalStrategyTokens *big.Int
	TotalDebt           *big.Int
}

func (v *VaultState) normalize() {
	v.TotalPoolClaim = fixedpoint.Copy(v.TotalPoolClaim)
	v.TotalStrategyTokens = fixedpoint.Copy(v.TotalStrategyTokens)
	v.TotalDebt = fixedpoint.Copy(v.TotalDebt)
}

// MaturityState tracks one debt maturity.
type MaturityState struct {
	Maturity            uint64
	TotalDebt           *big.Int
	TotalVaultShares    *big.Int
	TotalStrategyTokens *big.Int
	TotalAssetCash      *big.Int
	Shortfall           *big.Int
	IsSettled           bool
	LastSettlement      uint64
}

func (m *MaturityState) normalize() {
	m.TotalDebt = fixedpoint.Copy(m.TotalDebt)
	m.TotalVaultShares = fixedpoint.Copy(m.TotalVaultShares)
	m.TotalStrategyTokens = fixedpoint.Copy(m.TotalStrategyTokens)
	m.TotalAssetCash = fixedpoint.Copy(m.TotalAssetCash)
	m.Shortfall = fixedpoint.Copy(m.Shortfall)
}

// Account is one vault position. An account holds shares in at most one
// maturity at a time.
type Account struct {
	Owner          common.Address
	Maturity       uint64
	VaultShares    *big.Int
	Debt           *big.Int
	LastEntryBlock uint64
	// Entered is set once the account has entered through deposit or roll;
	// block zero is a valid entry block.
	Entered bool `rlp:"optional"`
}

func (a *Account) normalize() {
	a.VaultShares = fixedpoint.Copy(a.VaultShares)
	a.Debt = fixedpoint.Copy(a.Debt)
}

// Empty reports whether the account holds neither shares nor debt.
func (a *Account) Empty() bool {
	return a == nil || (fixedpoint.IsZero(a.VaultShares) && fixedpoint.IsZero(a.Debt))
}

// Status is the lifecycle stage of a maturity.
type Status uint8

const (
	StatusPreActive Status = iota
	StatusActive
	StatusSettling
	StatusSettled
)

func (s Status) String() string {
	switch s {
	case StatusPreActive:
		return "pre-active"
	case StatusActive:
		return "active"
	case StatusSettling:
		return "settling"
	case StatusSettled:
		return "settled"
	default:
		return "unknown"
	}
}

func statusOf(m *MaturityState, exists bool) Status {
	switch {
	case !exists || m == nil:
		return StatusPreActive
	case m.IsSettled:
		return StatusSettled
	case m.TotalAssetCash.Sign() > 0 || m.LastSettlement > 0:
		return StatusSettling
	case m.TotalVaultShares.Sign() == 0:
		return StatusPreActive
	default:
		return StatusActive
	}
}
