package config

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleRegistry = `
[clock]
StartUnix = 1700000000
StartBlock = 10

[oracle]
Priority = ["manual"]

[[tokens]]
Symbol = "WETH"
Address = "0x00000000000000000000000000000000000000e1"
Decimals = 18
PriceUSD = "2000"

[[tokens]]
Symbol = "WSTETH"
Address = "0x00000000000000000000000000000000000000e3"
Decimals = 18
PriceUSD = "2312.5"

[[pools]]
Name = "main"
Address = "0x00000000000000000000000000000000000000a7"
Primary = "WETH"
Secondary = "WSTETH"
SwapFeeBps = 10
LiquidityProvider = "0x00000000000000000000000000000000000000f9"
SeedPrimary = "10"
SeedSecondary = "8.5"

[[dexes]]
Name = "curve"
Reserve = "0x00000000000000000000000000000000000000d1"
SpreadBps = 5
Liquidity = { WETH = "50", WSTETH = "50" }

[flash_lender]
Reserve = "0x00000000000000000000000000000000000000c1"
Token = "WETH"
FeeBps = 9
Liquidity = "25"

[[vaults]]
Name = "leveraged"
Address = "0x00000000000000000000000000000000000000f1"
Host = "0x00000000000000000000000000000000000000f2"
Owner = "0x00000000000000000000000000000000000000f3"
Pool = "main"
Flags = ["enabled"]
MaxBorrowCapacity = "50"
MinCollateralRatio = 1200000
MaxDeleverageCollateralRatio = 1300000
MaxRequiredAccountCollateralRatio = 2000000
LiquidationDiscount = 40000
ReserveFeeShare = 500000
SettlementWindowSeconds = 604800
ActiveMarkets = [1707776000, 1715552000]

  [vaults.settings]
  MaxUnderlyingSurplus = "1.5"
  FeeBps = 100
  FeeReceiver = "0x00000000000000000000000000000000000000f5"

  [[vaults.trade_permissions]]
  Token = "WSTETH"
  Dexes = ["curve"]
  TradeTypes = ["exact-in-single"]

  [vaults.roles]
  normal_settlement = ["0x00000000000000000000000000000000000000f4"]
`

func writeRegistry(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	return path
}

func TestLoadParsesRegistry(t *testing.T) {
	reg, err := Load(writeRegistry(t, sampleRegistry))
	require.NoError(t, err)

	require.Len(t, reg.Tokens, 2)
	require.Equal(t, uint64(DefaultBlockSeconds), reg.Clock.BlockSeconds)
	require.Equal(t, uint64(DefaultMaxFreshnessSeconds), reg.Oracle.MaxFreshnessSeconds)
	require.Equal(t, "curve", reg.Dexes[0].Name)
	require.Equal(t, "50", reg.Dexes[0].Liquidity["WSTETH"])

	v := reg.Vaults[0]
	require.Equal(t, uint64(5), v.MinEntryBlocks)
	require.Equal(t, uint64(2), v.MaxDebtMarketIndex)
	require.Equal(t, "0", v.MinBorrowSize)
	require.Equal(t, "1.5", v.Settings.MaxUnderlyingSurplus)
	require.Equal(t, []string{"exact-in-single"}, v.TradePermissions[0].TradeTypes)
	require.Len(t, v.Roles["normal_settlement"], 1)

	tok, ok := reg.Token("wsteth")
	require.True(t, ok)
	require.Equal(t, "2312.5", tok.PriceUSD)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	body := strings.Replace(sampleRegistry, "[oracle]", "[oracle]\nMaxStaleness = 10", 1)
	_, err := Load(writeRegistry(t, body))
	require.Error(t, err)
	require.Contains(t, err.Error(), "oracle.MaxStaleness")
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "registry.toml")
	reg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, reg.Vaults, 1)
	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, reg.Vaults[0].Address, again.Vaults[0].Address)
	require.Equal(t, reg.Vaults[0].ActiveMarkets, again.Vaults[0].ActiveMarkets)
	require.ElementsMatch(t, reg.Vaults[0].Flags, again.Vaults[0].Flags)
}

func TestValidateRejectsBrokenReferences(t *testing.T) {
	cases := []struct {
		name string
		old  string
		new  string
		want string
	}{
		{"unknown dex", `Name = "curve"`, `Name = "sushiswap"`, "unknown dex"},
		{"unknown pool token", `Secondary = "WSTETH"`, `Secondary = "USDC"`, "unknown token"},
		{"bad flag", `Flags = ["enabled"]`, `Flags = ["enabled", "turbo"]`, "unknown flag"},
		{"bad trade type", `TradeTypes = ["exact-in-single"]`, `TradeTypes = ["exact-in"]`, "unknown trade type"},
		{"bad role", `normal_settlement = [`, `janitor = [`, "unknown role"},
		{"bad amount", `MaxBorrowCapacity = "50"`, `MaxBorrowCapacity = "5.000000001"`, "more than 8 decimals"},
		{"bad address", `Host = "0x00000000000000000000000000000000000000f2"`, `Host = "f2"`, "invalid address"},
		{"bad price", `PriceUSD = "2000"`, `PriceUSD = "-1"`, "invalid price"},
		{"missing pool", `Pool = "main"`, `Pool = "side"`, "unknown pool"},
		{"zero start block", `StartBlock = 10`, `StartBlock = 0`, "start_block"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := strings.Replace(sampleRegistry, tc.old, tc.new, 1)
			require.NotEqual(t, sampleRegistry, body)
			_, err := Decode(body)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in       string
		decimals uint8
		want     string
		ok       bool
	}{
		{"1", 18, "1000000000000000000", true},
		{"0.5", 6, "500000", true},
		{"12.345", 3, "12345", true},
		{" 7 ", 0, "7", true},
		{"1.", 6, "", false},
		{".5", 6, "", false},
		{"1e3", 6, "", false},
		{"-1", 6, "", false},
		{"0.0001", 3, "", false},
		{"", 6, "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in, tc.decimals)
		if !tc.ok {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		want, _ := new(big.Int).SetString(tc.want, 10)
		require.Equal(t, 0, got.Cmp(want), tc.in)
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x00000000000000000000000000000000000000e1")
	require.NoError(t, err)
	require.Equal(t, "0x00000000000000000000000000000000000000E1", addr.Hex())

	_, err = ParseAddress("0x0000000000000000000000000000000000000000")
	require.Error(t, err)
	_, err = ParseAddress("0xzz")
	require.Error(t, err)
}
