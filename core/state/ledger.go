package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the holder's
	// balance.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrNegativeAmount rejects negative transfer, mint and burn amounts.
	ErrNegativeAmount = errors.New("state: negative amount")
)

// Balance returns the token balance of holder, zero when absent.
func (s *StateDB) Balance(token, holder common.Address) (*big.Int, error) {
	out := new(big.Int)
	if _, err := s.KVGet(balanceKey(token, holder), out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetBalance overwrites the holder's balance without touching total supply.
func (s *StateDB) SetBalance(token, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return s.KVDelete(balanceKey(token, holder))
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	return s.KVPut(balanceKey(token, holder), amount)
}

// TotalSupply returns the minted supply of token.
func (s *StateDB) TotalSupply(token common.Address) (*big.Int, error) {
	out := new(big.Int)
	if _, err := s.KVGet(supplyKey(token), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *StateDB) setSupply(token common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return s.KVDelete(supplyKey(token))
	}
	return s.KVPut(supplyKey(token), amount)
}

func (s *StateDB) credit(token, holder common.Address, amount *big.Int) error {
	bal, err := s.Balance(token, holder)
	if err != nil {
		return err
	}
	return s.SetBalance(token, holder, bal.Add(bal, amount))
}

func (s *StateDB) debit(token, holder common.Address, amount *big.Int) error {
	bal, err := s.Balance(token, holder)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s holder %s has %s needs %s", ErrInsufficientBalance, token.Hex(), holder.Hex(), bal, amount)
	}
	return s.SetBalance(token, holder, bal.Sub(bal, amount))
}

func checkAmount(amount *big.Int) error {
	if amount == nil {
		return ErrNegativeAmount
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	return nil
}

// Transfer moves amount of token from one holder to another.
func (s *StateDB) Transfer(token, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	if err := s.debit(token, from, amount); err != nil {
		return err
	}
	return s.credit(token, to, amount)
}

// Mint credits amount of token to holder and grows the supply.
func (s *StateDB) Mint(token, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	supply, err := s.TotalSupply(token)
	if err != nil {
		return err
	}
	if err := s.credit(token, to, amount); err != nil {
		return err
	}
	return s.setSupply(token, supply.Add(supply, amount))
}

// Burn debits amount of token from holder and shrinks the supply.
func (s *StateDB) Burn(token, from common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	supply, err := s.TotalSupply(token)
	if err != nil {
		return err
	}
	if err := s.debit(token, from, amount); err != nil {
		return err
	}
	if supply.Cmp(amount) < 0 {
		return fmt.Errorf("%w: supply of %s below burn amount", ErrInsufficientBalance, token.Hex())
	}
	return s.setSupply(token, supply.Sub(supply, amount))
}
