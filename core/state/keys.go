package state

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

var (
	vaultConfigPrefix     = []byte("vault-config:")
	vaultSettingsPrefix   = []byte("vault-settings:")
	vaultTotalsPrefix     = []byte("vault-totals:")
	vaultMaturityPrefix   = []byte("vault-maturity:")
	vaultMaturitiesPrefix = []byte("vault-maturities:")
	vaultAccountPrefix    = []byte("vault-account:")
	vaultAccountsPrefix   = []byte("vault-accounts:")
	vaultListKey          = []byte("vault-list")
	tradePermissionPrefix = []byte("trade-permission:")
	balancePrefix         = []byte("balance:")
	supplyPrefix          = []byte("supply:")
	rolePrefix            = []byte("role:")
	tokenPrefix           = []byte("token:")
	tokenListKey          = []byte("token-list")
)

func join(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

func uint64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

// VaultConfigKey addresses the configuration record of a vault.
func VaultConfigKey(vault common.Address) []byte {
	return join(vaultConfigPrefix, vault.Bytes())
}

// VaultSettingsKey addresses the owner-controlled settings of a vault.
func VaultSettingsKey(vault common.Address) []byte {
	return join(vaultSettingsPrefix, vault.Bytes())
}

// VaultTotalsKey addresses the vault-wide aggregates.
func VaultTotalsKey(vault common.Address) []byte {
	return join(vaultTotalsPrefix, vault.Bytes())
}

// MaturityKey addresses the aggregate state of one maturity.
func MaturityKey(vault common.Address, maturity uint64) []byte {
	return join(vaultMaturityPrefix, vault.Bytes(), uint64Bytes(maturity))
}

// MaturityIndexKey addresses the list of maturities a vault has opened.
func MaturityIndexKey(vault common.Address) []byte {
	return join(vaultMaturitiesPrefix, vault.Bytes())
}

// AccountKey addresses a single account position.
func AccountKey(vault, account common.Address) []byte {
	return join(vaultAccountPrefix, vault.Bytes(), account.Bytes())
}

// AccountIndexKey addresses the list of accounts holding a position.
func AccountIndexKey(vault common.Address) []byte {
	return join(vaultAccountsPrefix, vault.Bytes())
}

// VaultListKey addresses the list of registered vaults.
func VaultListKey() []byte {
	return append([]byte(nil), vaultListKey...)
}

// TradePermissionKey addresses the permission for a vault selling token.
func TradePermissionKey(vault, token common.Address) []byte {
	return join(tradePermissionPrefix, vault.Bytes(), token.Bytes())
}

func balanceKey(token, holder common.Address) []byte {
	return join(balancePrefix, token.Bytes(), holder.Bytes())
}

func supplyKey(token common.Address) []byte {
	return join(supplyPrefix, token.Bytes())
}

func roleKey(scope common.Address, role string) []byte {
	return join(rolePrefix, scope.Bytes(), []byte(":"), []byte(role))
}

func tokenMetadataKey(token common.Address) []byte {
	return join(tokenPrefix, token.Bytes())
}
