package state

import (
	"errors"
	"fmt"
	"math"
)

// StateVersion identifies the expected schema layout for vault state.
// Increment this constant whenever breaking changes are made to the stored
// structure.
const StateVersion uint32 = 1

var (
	stateVersionKey = []byte("state/version")
	// ErrStateVersionMismatch indicates the stored schema version does not
	// match the version supported by the current binary.
	ErrStateVersionMismatch = errors.New("state: schema version mismatch")
)

// SetStateVersion records the provided schema version in state. Callers should
// invoke this after performing any required migrations.
func (s *StateDB) SetStateVersion(version uint32) error {
	if s == nil {
		return fmt.Errorf("state: statedb unavailable")
	}
	return s.KVPut(stateVersionKey, uint64(version))
}

// StateVersion returns the stored schema version and whether it was present.
func (s *StateDB) StateVersion() (uint32, bool, error) {
	if s == nil {
		return 0, false, fmt.Errorf("state: statedb unavailable")
	}
	var stored uint64
	ok, err := s.KVGet(stateVersionKey, &stored)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	if stored > uint64(math.MaxUint32) {
		return 0, false, fmt.Errorf("state: schema version overflow: %d", stored)
	}
	return uint32(stored), true, nil
}

// EnsureStateVersion verifies that the stored state version matches the
// version supported by this binary. A database without a version tag is
// stamped with the current version. When allowMigrate is true, mismatches are
// tolerated so operators can perform manual migrations.
func EnsureStateVersion(s *StateDB, allowMigrate bool) error {
	if s == nil {
		return fmt.Errorf("state: statedb must not be nil")
	}
	version, ok, err := s.StateVersion()
	if err != nil {
		return err
	}
	if !ok {
		if err := s.SetStateVersion(StateVersion); err != nil {
			return err
		}
		return s.Commit()
	}
	if version == StateVersion || allowMigrate {
		return nil
	}
	return fmt.Errorf("%w: on-disk=%d expected=%d", ErrStateVersionMismatch, version, StateVersion)
}
