package trade

import (
	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/core/state"
)

// PermissionStore resolves the permission for a vault selling token.
type PermissionStore interface {
	TradePermission(vault, token common.Address) (Permission, error)
}

// StatePermissions keeps permissions in the journaled state so that owner
// updates commit and revert with the surrounding operation.
type StatePermissions struct {
	st *state.StateDB
}

// NewStatePermissions returns a store over st.
func NewStatePermissions(st *state.StateDB) *StatePermissions {
	return &StatePermissions{st: st}
}

// TradePermission returns the stored permission or the zero (disabled) value.
func (p *StatePermissions) TradePermission(vault, token common.Address) (Permission, error) {
	var perm Permission
	if p == nil || p.st == nil {
		return perm, nil
	}
	if _, err := p.st.KVGet(state.TradePermissionKey(vault, token), &perm); err != nil {
		return Permission{}, err
	}
	return perm, nil
}

// SetTradePermission stores perm. A zero permission deletes the record.
func (p *StatePermissions) SetTradePermission(vault, token common.Address, perm Permission) error {
	key := state.TradePermissionKey(vault, token)
	if perm == (Permission{}) {
		return p.st.KVDelete(key)
	}
	return p.st.KVPut(key, perm)
}
