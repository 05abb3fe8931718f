package state

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrTokenNotRegistered is returned when metadata for a token is missing.
var ErrTokenNotRegistered = errors.New("state: token not registered")

// TokenMetadata describes a token known to the ledger.
type TokenMetadata struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// RegisterToken stores the metadata for a token and records it in the token
// index.
func (s *StateDB) RegisterToken(token common.Address, symbol string, decimals uint8) error {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if token == (common.Address{}) {
		return fmt.Errorf("token %s: address must not be empty", normalized)
	}
	if decimals > 36 {
		return fmt.Errorf("token %s: decimals %d out of range", normalized, decimals)
	}
	ok, err := s.KVGet(tokenMetadataKey(token), nil)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("token %s already registered", token.Hex())
	}
	if err := s.AddressListAdd(tokenListKey, token); err != nil {
		return err
	}
	return s.KVPut(tokenMetadataKey(token), &TokenMetadata{Address: token, Symbol: normalized, Decimals: decimals})
}

// Token retrieves metadata for a registered token.
func (s *StateDB) Token(token common.Address) (*TokenMetadata, error) {
	meta := new(TokenMetadata)
	ok, err := s.KVGet(tokenMetadataKey(token), meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotRegistered, token.Hex())
	}
	return meta, nil
}

// Decimals returns the precision of a registered token.
func (s *StateDB) Decimals(token common.Address) (uint8, error) {
	meta, err := s.Token(token)
	if err != nil {
		return 0, err
	}
	return meta.Decimals, nil
}

// TokenList returns all registered tokens in address order.
func (s *StateDB) TokenList() ([]common.Address, error) {
	return s.AddressList(tokenListKey)
}
