package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"strategyvaults/native/vault"
)

const (
	DefaultBlockSeconds        = 12
	DefaultMaxFreshnessSeconds = 3600
	DefaultOracleSource        = "manual"
)

// Load loads the registry at path. A missing file is replaced by the default
// sandbox registry, which is written to path.
func Load(path string) (*Registry, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	reg := &Registry{}
	meta, err := toml.DecodeFile(path, reg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	reg.applyDefaults()
	if err := ValidateConfig(reg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return reg, nil
}

// Decode parses a registry from TOML text, applying defaults and validation.
func Decode(data string) (*Registry, error) {
	reg := &Registry{}
	if _, err := toml.Decode(data, reg); err != nil {
		return nil, err
	}
	reg.applyDefaults()
	if err := ValidateConfig(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) applyDefaults() {
	if r.Clock.BlockSeconds == 0 {
		r.Clock.BlockSeconds = DefaultBlockSeconds
	}
	if r.Oracle.MaxFreshnessSeconds == 0 {
		r.Oracle.MaxFreshnessSeconds = DefaultMaxFreshnessSeconds
	}
	if len(r.Oracle.Priority) == 0 {
		r.Oracle.Priority = []string{DefaultOracleSource}
	}
	for i := range r.Vaults {
		v := &r.Vaults[i]
		if v.MinEntryBlocks == 0 {
			v.MinEntryBlocks = vault.DefaultMinEntryBlocks
		}
		if v.MaxDebtMarketIndex == 0 {
			v.MaxDebtMarketIndex = uint64(len(v.ActiveMarkets))
		}
		if strings.TrimSpace(v.MinBorrowSize) == "" {
			v.MinBorrowSize = "0"
		}
		if v.Roles == nil {
			v.Roles = map[string][]string{}
		}
	}
}

// Token returns the token registered under symbol.
func (r *Registry) Token(symbol string) (Token, bool) {
	for _, tok := range r.Tokens {
		if strings.EqualFold(tok.Symbol, symbol) {
			return tok, true
		}
	}
	return Token{}, false
}

// Pool returns the pool registered under name.
func (r *Registry) Pool(name string) (Pool, bool) {
	for _, pool := range r.Pools {
		if pool.Name == name {
			return pool, true
		}
	}
	return Pool{}, false
}

func createDefault(path string) (*Registry, error) {
	reg := Default()
	if err := persist(path, reg); err != nil {
		return nil, err
	}
	reg.applyDefaults()
	if err := ValidateConfig(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func persist(path string, reg *Registry) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(reg)
}

// Default returns a one-vault sandbox: a WETH/wstETH pool with BAL rewards,
// an oracle-priced DEX and a WETH flash lender.
func Default() *Registry {
	const (
		start    = 1_700_000_000
		day      = 24 * 60 * 60
		host     = "0x00000000000000000000000000000000000000f2"
		operator = "0x00000000000000000000000000000000000000f4"
	)
	return &Registry{
		WrappedNative: "WETH",
		Clock:         Clock{StartUnix: start, StartBlock: 100, BlockSeconds: DefaultBlockSeconds},
		Oracle:        Oracle{Priority: []string{DefaultOracleSource}, MaxFreshnessSeconds: DefaultMaxFreshnessSeconds},
		Tokens: []Token{
			{Symbol: "WETH", Address: "0x00000000000000000000000000000000000000e1", Decimals: 18, PriceUSD: "2000"},
			{Symbol: "WSTETH", Address: "0x00000000000000000000000000000000000000e3", Decimals: 18, PriceUSD: "2000"},
			{Symbol: "BAL", Address: "0x00000000000000000000000000000000000000e4", Decimals: 18, PriceUSD: "5"},
		},
		Pools: []Pool{{
			Name:              "weth-wsteth",
			Address:           "0x00000000000000000000000000000000000000a7",
			Primary:           "WETH",
			Secondary:         "WSTETH",
			SwapFeeBps:        10,
			LiquidityProvider: "0x00000000000000000000000000000000000000f9",
			SeedPrimary:       "1000",
			SeedSecondary:     "1000",
		}},
		Dexes: []Dex{{
			Name:      "uniswap-v2",
			Reserve:   "0x00000000000000000000000000000000000000d1",
			SpreadBps: 30,
			Liquidity: map[string]string{"WETH": "500", "WSTETH": "500"},
		}, {
			Name: "balancer-v2",
			Pool: "weth-wsteth",
		}},
		FlashLender: FlashLender{
			Reserve:   "0x00000000000000000000000000000000000000c1",
			Token:     "WETH",
			FeeBps:    9,
			Liquidity: "100",
		},
		Vaults: []Vault{{
			Name:                              "wsteth-leveraged",
			Address:                           "0x00000000000000000000000000000000000000f1",
			Host:                              host,
			Owner:                             "0x00000000000000000000000000000000000000f3",
			Pool:                              "weth-wsteth",
			Flags:                             []string{"enabled", "allow_roll_position"},
			MaxBorrowCapacity:                 "100",
			MinBorrowSize:                     "1",
			MinCollateralRatio:                1_200_000,
			MaxDeleverageCollateralRatio:      1_300_000,
			MaxRequiredAccountCollateralRatio: 2_000_000,
			LiquidationDiscount:               40_000,
			ReserveFeeShare:                   500_000,
			MaxDebtMarketIndex:                2,
			SettlementWindowSeconds:           7 * day,
			MinEntryBlocks:                    vault.DefaultMinEntryBlocks,
			ActiveMarkets:                     []uint64{start + 90*day, start + 180*day},
			DebtRate:                          50_000,
			HostLiquidity:                     "200",
			Settings: VaultSettings{
				MaxUnderlyingSurplus:                   "100",
				SettlementSlippageLimitBps:             500,
				PostMaturitySettlementSlippageLimitBps: 1_000,
				EmergencySettlementSlippageLimitBps:    2_000,
				MaxPoolShareBps:                        5_000,
				SettlementCoolDownSeconds:              3_600,
				OraclePriceDeviationLimitBps:           200,
				PoolSlippageLimitBps:                   500,
				FeeBps:                                 1_000,
				FeeReceiver:                            "0x00000000000000000000000000000000000000f5",
			},
			TradePermissions: []TradePermission{
				{Token: "WETH", Dexes: []string{"uniswap-v2"}, TradeTypes: []string{"exact-in-single", "exact-out-single"}},
				{Token: "WSTETH", Dexes: []string{"uniswap-v2", "balancer-v2"}, TradeTypes: []string{"exact-in-single", "exact-out-single"}},
				{Token: "BAL", Dexes: []string{"uniswap-v2"}, TradeTypes: []string{"exact-in-single"}},
			},
			Roles: map[string][]string{
				vault.RoleNormalSettlement:       {operator},
				vault.RolePostMaturitySettlement: {operator},
				vault.RoleEmergencySettlement:    {operator},
				vault.RoleRewardReinvestment:     {operator},
			},
		}},
	}
}
