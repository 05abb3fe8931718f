package state

import (
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"strategyvaults/storage"
)

// RecordVersion tags every record written through the StateDB. Bump it when a
// stored layout changes; EnsureStateVersion guards the schema as a whole.
const RecordVersion uint16 = 1

var (
	// ErrRecordVersion is returned when a stored record carries a version
	// this binary does not understand.
	ErrRecordVersion = errors.New("state: unsupported record version")
	// ErrInvalidSnapshot is returned when reverting to an unknown snapshot.
	ErrInvalidSnapshot = errors.New("state: invalid snapshot id")
)

type versionedRecord struct {
	Version uint16
	Data    []byte
}

type dirtyValue struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    dirtyValue
	hadPrev bool
}

// StateDB is a write-back cache over a storage.Database. Every mutation is
// journaled so an operation can be rolled back with RevertToSnapshot; nothing
// reaches the backing database until Commit.
//
// StateDB is not safe for concurrent use. Callers sharing one instance must
// serialize access themselves.
type StateDB struct {
	db      storage.Database
	dirty   map[string]dirtyValue
	journal []journalEntry
}

// New returns a StateDB backed by db.
func New(db storage.Database) *StateDB {
	return &StateDB{db: db, dirty: make(map[string]dirtyValue)}
}

// NewMemory returns a StateDB over a fresh in-memory database.
func NewMemory() *StateDB {
	return New(storage.NewMemDB())
}

func hashKey(key []byte) string {
	return string(ethcrypto.Keccak256(key))
}

func (s *StateDB) getRaw(hashed string) ([]byte, bool, error) {
	if v, ok := s.dirty[hashed]; ok {
		if v.deleted {
			return nil, false, nil
		}
		return v.value, true, nil
	}
	data, err := s.db.Get([]byte(hashed))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *StateDB) setRaw(hashed string, v dirtyValue) {
	prev, hadPrev := s.dirty[hashed]
	s.journal = append(s.journal, journalEntry{key: hashed, prev: prev, hadPrev: hadPrev})
	s.dirty[hashed] = v
}

// KVPut RLP-encodes value and stores it under key.
func (s *StateDB) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	payload, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(versionedRecord{Version: RecordVersion, Data: payload})
	if err != nil {
		return err
	}
	s.setRaw(hashKey(key), dirtyValue{value: encoded})
	return nil
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (s *StateDB) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := s.getRaw(hashKey(key))
	if err != nil || !ok {
		return false, err
	}
	var record versionedRecord
	if err := rlp.DecodeBytes(data, &record); err != nil {
		return false, err
	}
	if record.Version != RecordVersion {
		return false, fmt.Errorf("%w: got %d want %d", ErrRecordVersion, record.Version, RecordVersion)
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(record.Data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key. Deleting an absent key is a no-op.
func (s *StateDB) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := hashKey(key)
	if _, ok, err := s.getRaw(hashed); err != nil || !ok {
		return err
	}
	s.setRaw(hashed, dirtyValue{deleted: true})
	return nil
}

// Snapshot returns an identifier for the current journal position.
func (s *StateDB) Snapshot() int {
	return len(s.journal)
}

// RevertToSnapshot undoes every mutation recorded after id.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id > len(s.journal) {
		return ErrInvalidSnapshot
	}
	for i := len(s.journal) - 1; i >= id; i-- {
		entry := s.journal[i]
		if entry.hadPrev {
			s.dirty[entry.key] = entry.prev
		} else {
			delete(s.dirty, entry.key)
		}
	}
	s.journal = s.journal[:id]
	return nil
}

// Pending reports how many keys are waiting to be committed.
func (s *StateDB) Pending() int {
	return len(s.dirty)
}

// Commit flushes every dirty key to the backing database in one batch and
// clears the journal. Snapshots taken before Commit become invalid.
func (s *StateDB) Commit() error {
	if len(s.dirty) == 0 {
		s.journal = s.journal[:0]
		return nil
	}
	keys := make([]string, 0, len(s.dirty))
	for k := range s.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := s.db.NewBatch()
	for _, k := range keys {
		v := s.dirty[k]
		if v.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), v.value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	s.dirty = make(map[string]dirtyValue)
	s.journal = s.journal[:0]
	return nil
}

// Discard drops every uncommitted change.
func (s *StateDB) Discard() {
	s.dirty = make(map[string]dirtyValue)
	s.journal = s.journal[:0]
}
