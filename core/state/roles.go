package state

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func normalizeRole(role string) (string, error) {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return "", fmt.Errorf("role must not be empty")
	}
	return trimmed, nil
}

// RoleMembers lists the holders of role within scope in address order.
func (s *StateDB) RoleMembers(scope common.Address, role string) ([]common.Address, error) {
	trimmed, err := normalizeRole(role)
	if err != nil {
		return nil, err
	}
	return s.AddressList(roleKey(scope, trimmed))
}

// HasRole reports whether addr holds role within scope.
func (s *StateDB) HasRole(scope common.Address, role string, addr common.Address) bool {
	members, err := s.RoleMembers(scope, role)
	if err != nil {
		return false
	}
	for _, member := range members {
		if member == addr {
			return true
		}
	}
	return false
}

// GrantRole adds addr to role within scope. Granting twice is a no-op.
func (s *StateDB) GrantRole(scope common.Address, role string, addr common.Address) error {
	trimmed, err := normalizeRole(role)
	if err != nil {
		return err
	}
	if addr == (common.Address{}) {
		return fmt.Errorf("address must not be empty")
	}
	return s.AddressListAdd(roleKey(scope, trimmed), addr)
}

// RevokeRole removes addr from role within scope.
func (s *StateDB) RevokeRole(scope common.Address, role string, addr common.Address) error {
	trimmed, err := normalizeRole(role)
	if err != nil {
		return err
	}
	return s.AddressListRemove(roleKey(scope, trimmed), addr)
}

// AddressList decodes a sorted address set stored under key.
func (s *StateDB) AddressList(key []byte) ([]common.Address, error) {
	var list []common.Address
	if _, err := s.KVGet(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// AddressListAdd inserts addr into the set stored under key, keeping it
// sorted so the encoding stays deterministic.
func (s *StateDB) AddressListAdd(key []byte, addr common.Address) error {
	list, err := s.AddressList(key)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing == addr {
			return nil
		}
	}
	list = append(list, addr)
	sort.Slice(list, func(i, j int) bool {
		return bytes.Compare(list[i].Bytes(), list[j].Bytes()) < 0
	})
	return s.KVPut(key, list)
}

// AddressListRemove deletes addr from the set stored under key.
func (s *StateDB) AddressListRemove(key []byte, addr common.Address) error {
	list, err := s.AddressList(key)
	if err != nil {
		return err
	}
	out := list[:0]
	for _, existing := range list {
		if existing != addr {
			out = append(out, existing)
		}
	}
	if len(out) == len(list) {
		return nil
	}
	if len(out) == 0 {
		return s.KVDelete(key)
	}
	return s.KVPut(key, out)
}

// Uint64List decodes a sorted uint64 set stored under key.
func (s *StateDB) Uint64List(key []byte) ([]uint64, error) {
	var list []uint64
	if _, err := s.KVGet(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Uint64ListAdd inserts v into the sorted set stored under key.
func (s *StateDB) Uint64ListAdd(key []byte, v uint64) error {
	list, err := s.Uint64List(key)
	if err != nil {
		return err
	}
	idx := sort.Search(len(list), func(i int) bool { return list[i] >= v })
	if idx < len(list) && list[idx] == v {
		return nil
	}
	list = append(list, 0)
	copy(list[idx+1:], list[idx:])
	list[idx] = v
	return s.KVPut(key, list)
}
