package config

import (
	"fmt"
	"strings"

	"strategyvaults/native/fixedpoint"
	"strategyvaults/native/trade"
	"strategyvaults/native/vault"
)

// MaxTokenDecimals bounds registered token precision.
const MaxTokenDecimals = 36

// DebtDecimals is the precision of borrow amounts in the registry.
const DebtDecimals = fixedpoint.InternalDecimals

// ValidateConfig checks that every registry entry parses and that cross
// references resolve.
func ValidateConfig(r *Registry) error {
	if r == nil {
		return fmt.Errorf("registry required")
	}
	if r.Clock.BlockSeconds == 0 {
		return fmt.Errorf("clock: block_seconds must be positive")
	}
	if r.Clock.StartBlock == 0 {
		return fmt.Errorf("clock: start_block must be positive")
	}
	if r.Clock.StartUnix < 0 {
		return fmt.Errorf("clock: start_unix must not be negative")
	}
	if len(r.Tokens) == 0 {
		return fmt.Errorf("tokens: at least one token required")
	}
	symbols := make(map[string]bool, len(r.Tokens))
	addresses := make(map[string]string)
	for _, tok := range r.Tokens {
		sym := strings.ToUpper(strings.TrimSpace(tok.Symbol))
		if sym == "" {
			return fmt.Errorf("tokens: symbol required")
		}
		if symbols[sym] {
			return fmt.Errorf("tokens: duplicate symbol %s", sym)
		}
		symbols[sym] = true
		addr, err := ParseAddress(tok.Address)
		if err != nil {
			return fmt.Errorf("tokens: %s: %w", sym, err)
		}
		if other, ok := addresses[addr.Hex()]; ok {
			return fmt.Errorf("tokens: %s reuses the address of %s", sym, other)
		}
		addresses[addr.Hex()] = sym
		if tok.Decimals > MaxTokenDecimals {
			return fmt.Errorf("tokens: %s decimals %d above %d", sym, tok.Decimals, MaxTokenDecimals)
		}
		if _, err := ParsePrice(tok.PriceUSD); err != nil {
			return fmt.Errorf("tokens: %s: %w", sym, err)
		}
	}
	decimalsOf := func(section, symbol string) (uint8, error) {
		tok, ok := r.Token(symbol)
		if !ok {
			return 0, fmt.Errorf("%s: unknown token %q", section, symbol)
		}
		return tok.Decimals, nil
	}

	pools := make(map[string]bool, len(r.Pools))
	for _, pool := range r.Pools {
		section := "pools: " + pool.Name
		if strings.TrimSpace(pool.Name) == "" {
			return fmt.Errorf("pools: name required")
		}
		if pools[pool.Name] {
			return fmt.Errorf("pools: duplicate pool %s", pool.Name)
		}
		pools[pool.Name] = true
		if _, err := ParseAddress(pool.Address); err != nil {
			return fmt.Errorf("%s: %w", section, err)
		}
		if strings.EqualFold(pool.Primary, pool.Secondary) {
			return fmt.Errorf("%s: primary and secondary must differ", section)
		}
		primaryDecimals, err := decimalsOf(section, pool.Primary)
		if err != nil {
			return err
		}
		secondaryDecimals, err := decimalsOf(section, pool.Secondary)
		if err != nil {
			return err
		}
		if pool.SwapFeeBps >= 10_000 {
			return fmt.Errorf("%s: swap_fee_bps must be below 10000", section)
		}
		if pool.SeedPrimary != "" || pool.SeedSecondary != "" {
			if _, err := ParseAddress(pool.LiquidityProvider); err != nil {
				return fmt.Errorf("%s: liquidity_provider: %w", section, err)
			}
			if _, err := ParseAmount(pool.SeedPrimary, primaryDecimals); err != nil {
				return fmt.Errorf("%s: seed_primary: %w", section, err)
			}
			if _, err := ParseAmount(pool.SeedSecondary, secondaryDecimals); err != nil {
				return fmt.Errorf("%s: seed_secondary: %w", section, err)
			}
		}
	}

	if r.WrappedNative != "" {
		if _, ok := r.Token(r.WrappedNative); !ok {
			return fmt.Errorf("wrapped_native: unknown token %q", r.WrappedNative)
		}
	}

	dexes := make(map[string]bool, len(r.Dexes))
	for _, dex := range r.Dexes {
		section := "dexes: " + dex.Name
		if _, ok := trade.ParseDexID(dex.Name); !ok {
			return fmt.Errorf("dexes: unknown dex %q", dex.Name)
		}
		if dexes[dex.Name] {
			return fmt.Errorf("dexes: duplicate dex %s", dex.Name)
		}
		dexes[dex.Name] = true
		if dex.Pool != "" {
			if !pools[dex.Pool] {
				return fmt.Errorf("%s: unknown pool %q", section, dex.Pool)
			}
			if dex.Reserve != "" || len(dex.Liquidity) > 0 {
				return fmt.Errorf("%s: pool-backed dex takes no reserve or liquidity", section)
			}
			continue
		}
		if _, err := ParseAddress(dex.Reserve); err != nil {
			return fmt.Errorf("%s: reserve: %w", section, err)
		}
		if dex.SpreadBps >= 10_000 {
			return fmt.Errorf("%s: spread_bps must be below 10000", section)
		}
		for symbol, amount := range dex.Liquidity {
			decimals, err := decimalsOf(section, symbol)
			if err != nil {
				return err
			}
			if _, err := ParseAmount(amount, decimals); err != nil {
				return fmt.Errorf("%s: liquidity %s: %w", section, symbol, err)
			}
		}
	}

	if fl := r.FlashLender; fl.Reserve != "" {
		if _, err := ParseAddress(fl.Reserve); err != nil {
			return fmt.Errorf("flash_lender: reserve: %w", err)
		}
		decimals, err := decimalsOf("flash_lender", fl.Token)
		if err != nil {
			return err
		}
		if fl.FeeBps >= 10_000 {
			return fmt.Errorf("flash_lender: fee_bps must be below 10000")
		}
		if fl.Liquidity != "" {
			if _, err := ParseAmount(fl.Liquidity, decimals); err != nil {
				return fmt.Errorf("flash_lender: liquidity: %w", err)
			}
		}
	}

	vaults := make(map[string]bool, len(r.Vaults))
	for _, v := range r.Vaults {
		if err := validateVault(r, v, pools, dexes); err != nil {
			return fmt.Errorf("vaults: %s: %w", v.Name, err)
		}
		addr, _ := ParseAddress(v.Address)
		if vaults[addr.Hex()] {
			return fmt.Errorf("vaults: duplicate vault address %s", addr.Hex())
		}
		vaults[addr.Hex()] = true
	}
	return nil
}

func validateVault(r *Registry, v Vault, pools, dexes map[string]bool) error {
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("name required")
	}
	for field, value := range map[string]string{"address": v.Address, "host": v.Host, "owner": v.Owner} {
		if _, err := ParseAddress(value); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	if !pools[v.Pool] {
		return fmt.Errorf("unknown pool %q", v.Pool)
	}
	if _, err := vault.ParseFlags(v.Flags); err != nil {
		return err
	}
	if _, err := ParseAmount(v.MaxBorrowCapacity, DebtDecimals); err != nil {
		return fmt.Errorf("max_borrow_capacity: %w", err)
	}
	if _, err := ParseAmount(v.MinBorrowSize, DebtDecimals); err != nil {
		return fmt.Errorf("min_borrow_size: %w", err)
	}
	if v.DebtRate > fixedpoint.RatePrecision.Uint64() {
		return fmt.Errorf("debt_rate above 100%%")
	}
	pool, _ := r.Pool(v.Pool)
	primary, _ := r.Token(pool.Primary)
	if v.HostLiquidity != "" {
		if _, err := ParseAmount(v.HostLiquidity, primary.Decimals); err != nil {
			return fmt.Errorf("host_liquidity: %w", err)
		}
	}
	if _, err := ParseAmount(v.Settings.MaxUnderlyingSurplus, primary.Decimals); err != nil {
		return fmt.Errorf("settings: max_underlying_surplus: %w", err)
	}
	if v.Settings.FeeReceiver != "" {
		if _, err := ParseAddress(v.Settings.FeeReceiver); err != nil {
			return fmt.Errorf("settings: fee_receiver: %w", err)
		}
	}
	for _, perm := range v.TradePermissions {
		if _, ok := r.Token(perm.Token); !ok {
			return fmt.Errorf("trade_permissions: unknown token %q", perm.Token)
		}
		for _, name := range perm.Dexes {
			if _, ok := trade.ParseDexID(name); !ok {
				return fmt.Errorf("trade_permissions: %s: unknown dex %q", perm.Token, name)
			}
			if !dexes[name] {
				return fmt.Errorf("trade_permissions: %s: dex %q is not configured", perm.Token, name)
			}
		}
		for _, name := range perm.TradeTypes {
			if _, ok := trade.ParseTradeType(name); !ok {
				return fmt.Errorf("trade_permissions: %s: unknown trade type %q", perm.Token, name)
			}
		}
	}
	for role, members := range v.Roles {
		known := false
		for _, name := range vault.Roles {
			if name == role {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("roles: unknown role %q", role)
		}
		for _, member := range members {
			if _, err := ParseAddress(member); err != nil {
				return fmt.Errorf("roles: %s: %w", role, err)
			}
		}
	}
	return nil
}
