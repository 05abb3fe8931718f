package config

// Token registers one ledger token.
type Token struct {
	Symbol   string `toml:"Symbol"`
	Address  string `toml:"Address"`
	Decimals uint8  `toml:"Decimals"`
	// PriceUSD seeds the manual oracle feed, as a decimal string.
	PriceUSD string `toml:"PriceUSD"`
}

// Oracle configures the price aggregator.
type Oracle struct {
	Priority            []string `toml:"Priority"`
	MaxFreshnessSeconds uint64   `toml:"MaxFreshnessSeconds"`
}

// Clock configures the sandbox block clock.
type Clock struct {
	StartUnix    int64  `toml:"StartUnix"`
	StartBlock   uint64 `toml:"StartBlock"`
	BlockSeconds uint64 `toml:"BlockSeconds"`
}

// Pool configures a two-token weighted venue pool. Seed amounts are whole
// token units.
type Pool struct {
	Name              string `toml:"Name"`
	Address           string `toml:"Address"`
	Primary           string `toml:"Primary"`
	Secondary         string `toml:"Secondary"`
	SwapFeeBps        uint64 `toml:"SwapFeeBps"`
	LiquidityProvider string `toml:"LiquidityProvider"`
	SeedPrimary       string `toml:"SeedPrimary"`
	SeedSecondary     string `toml:"SeedSecondary"`
}

// Dex configures a DEX adapter. With Pool set the DEX swaps against that
// venue pool; otherwise it fills at oracle price plus SpreadBps out of
// Reserve. Liquidity maps token symbols to the whole units minted into the
// reserve.
type Dex struct {
	Name      string            `toml:"Name"`
	Pool      string            `toml:"Pool"`
	Reserve   string            `toml:"Reserve"`
	SpreadBps uint64            `toml:"SpreadBps"`
	Liquidity map[string]string `toml:"Liquidity"`
}

// FlashLender configures the liquidation flash lender.
type FlashLender struct {
	Reserve   string `toml:"Reserve"`
	Token     string `toml:"Token"`
	FeeBps    uint64 `toml:"FeeBps"`
	Liquidity string `toml:"Liquidity"`
}

// TradePermission allows a vault to sell Token through Dexes using
// TradeTypes.
type TradePermission struct {
	Token      string   `toml:"Token"`
	Dexes      []string `toml:"Dexes"`
	TradeTypes []string `toml:"TradeTypes"`
}

// VaultSettings mirrors the owner-tuned limits of a vault.
type VaultSettings struct {
	MaxUnderlyingSurplus                   string `toml:"MaxUnderlyingSurplus"`
	SettlementSlippageLimitBps             uint64 `toml:"SettlementSlippageLimitBps"`
	PostMaturitySettlementSlippageLimitBps uint64 `toml:"PostMaturitySettlementSlippageLimitBps"`
	EmergencySettlementSlippageLimitBps    uint64 `toml:"EmergencySettlementSlippageLimitBps"`
	MaxPoolShareBps                        uint64 `toml:"MaxPoolShareBps"`
	SettlementCoolDownSeconds              uint64 `toml:"SettlementCoolDownSeconds"`
	OraclePriceDeviationLimitBps           uint64 `toml:"OraclePriceDeviationLimitBps"`
	PoolSlippageLimitBps                   uint64 `toml:"PoolSlippageLimitBps"`
	FeeBps                                 uint64 `toml:"FeeBps"`
	FeeReceiver                            string `toml:"FeeReceiver"`
}

// Vault registers one strategy vault. Borrow amounts are whole primary units;
// ratios are in 1e6 precision.
type Vault struct {
	Name                              string              `toml:"Name"`
	Address                           string              `toml:"Address"`
	Host                              string              `toml:"Host"`
	Owner                             string              `toml:"Owner"`
	Pool                              string              `toml:"Pool"`
	Flags                             []string            `toml:"Flags"`
	MaxBorrowCapacity                 string              `toml:"MaxBorrowCapacity"`
	MinBorrowSize                     string              `toml:"MinBorrowSize"`
	MinCollateralRatio                uint64              `toml:"MinCollateralRatio"`
	MaxDeleverageCollateralRatio      uint64              `toml:"MaxDeleverageCollateralRatio"`
	MaxRequiredAccountCollateralRatio uint64              `toml:"MaxRequiredAccountCollateralRatio"`
	LiquidationDiscount               uint64              `toml:"LiquidationDiscount"`
	ReserveFeeShare                   uint64              `toml:"ReserveFeeShare"`
	MaxDebtMarketIndex                uint64              `toml:"MaxDebtMarketIndex"`
	SettlementWindowSeconds           uint64              `toml:"SettlementWindowSeconds"`
	MinEntryBlocks                    uint64              `toml:"MinEntryBlocks"`
	ActiveMarkets                     []uint64            `toml:"ActiveMarkets"`
	DebtRate                          uint64              `toml:"DebtRate"`
	HostLiquidity                     string              `toml:"HostLiquidity"`
	Settings                          VaultSettings       `toml:"settings"`
	TradePermissions                  []TradePermission   `toml:"trade_permissions"`
	Roles                             map[string][]string `toml:"roles"`
}

// Registry is the sandbox world: tokens, oracle, venue pools, DEXes, the
// flash lender and the vaults built on them.
type Registry struct {
	// WrappedNative is the symbol of the token trades may unwrap to native.
	WrappedNative string      `toml:"WrappedNative"`
	Clock         Clock       `toml:"clock"`
	Oracle        Oracle      `toml:"oracle"`
	Tokens        []Token     `toml:"tokens"`
	Pools         []Pool      `toml:"pools"`
	Dexes         []Dex       `toml:"dexes"`
	FlashLender   FlashLender `toml:"flash_lender"`
	Vaults        []Vault     `toml:"vaults"`
}
