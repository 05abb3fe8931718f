package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAmount converts a decimal amount of whole units into base units of a
// token with decimals. Fractions finer than the token's precision are
// rejected.
func ParseAmount(value string, decimals uint8) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	whole, frac, hasFrac := strings.Cut(trimmed, ".")
	if whole == "" || !digits(whole) || (hasFrac && (frac == "" || !digits(frac))) {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", value, decimals)
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))
	out, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return out, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParsePrice parses a positive decimal price.
func ParsePrice(value string) (*big.Rat, error) {
	price, ok := new(big.Rat).SetString(strings.TrimSpace(value))
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("invalid price %q", value)
	}
	return price, nil
}

// ParseAddress parses a 0x-prefixed hex address. The zero address is
// rejected.
func ParseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address not allowed")
	}
	return addr, nil
}
