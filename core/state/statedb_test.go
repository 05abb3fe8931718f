package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"strategyvaults/storage"
)

type sampleRecord struct {
	Name   string
	Amount *big.Int
}

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bob    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	vaultX = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func TestKVRoundTripAndCommit(t *testing.T) {
	db := storage.NewMemDB()
	st := New(db)

	require.NoError(t, st.KVPut([]byte("record"), sampleRecord{Name: "x", Amount: big.NewInt(42)}))
	var got sampleRecord
	ok, err := st.KVGet([]byte("record"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "x", got.Name)
	require.Equal(t, int64(42), got.Amount.Int64())

	// Nothing is visible to a fresh view until Commit.
	ok, err = New(db).KVGet([]byte("record"), nil)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.Commit())
	require.Zero(t, st.Pending())
	ok, err = New(db).KVGet([]byte("record"), &got)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSnapshotRevert(t *testing.T) {
	st := NewMemory()
	require.NoError(t, st.Mint(tokenA, alice, big.NewInt(100)))
	require.NoError(t, st.Commit())

	snap := st.Snapshot()
	require.NoError(t, st.Transfer(tokenA, alice, bob, big.NewInt(60)))
	require.NoError(t, st.KVPut([]byte("scratch"), uint64(7)))
	inner := st.Snapshot()
	require.NoError(t, st.Burn(tokenA, bob, big.NewInt(10)))

	require.NoError(t, st.RevertToSnapshot(inner))
	bal, err := st.Balance(tokenA, bob)
	require.NoError(t, err)
	require.Equal(t, int64(60), bal.Int64())

	require.NoError(t, st.RevertToSnapshot(snap))
	bal, err = st.Balance(tokenA, alice)
	require.NoError(t, err)
	require.Equal(t, int64(100), bal.Int64())
	bal, err = st.Balance(tokenA, bob)
	require.NoError(t, err)
	require.Zero(t, bal.Sign())
	ok, err := st.KVGet([]byte("scratch"), nil)
	require.NoError(t, err)
	require.False(t, ok)

	supply, err := st.TotalSupply(tokenA)
	require.NoError(t, err)
	require.Equal(t, int64(100), supply.Int64())

	require.ErrorIs(t, st.RevertToSnapshot(snap+5), ErrInvalidSnapshot)
}

func TestLedgerRejectsOverdraft(t *testing.T) {
	st := NewMemory()
	require.NoError(t, st.Mint(tokenA, alice, big.NewInt(5)))
	err := st.Transfer(tokenA, alice, bob, big.NewInt(6))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.ErrorIs(t, st.Transfer(tokenA, alice, bob, big.NewInt(-1)), ErrNegativeAmount)
}

func TestRolesAndLists(t *testing.T) {
	st := NewMemory()
	require.NoError(t, st.GrantRole(vaultX, "settler", bob))
	require.NoError(t, st.GrantRole(vaultX, "settler", alice))
	require.NoError(t, st.GrantRole(vaultX, "settler", alice))
	members, err := st.RoleMembers(vaultX, "settler")
	require.NoError(t, err)
	require.Equal(t, []common.Address{alice, bob}, members)
	require.True(t, st.HasRole(vaultX, " settler ", alice))
	require.False(t, st.HasRole(common.Address{}, "settler", alice))

	require.NoError(t, st.RevokeRole(vaultX, "settler", alice))
	require.False(t, st.HasRole(vaultX, "settler", alice))
	require.Error(t, st.GrantRole(vaultX, " ", alice))

	key := MaturityIndexKey(vaultX)
	for _, v := range []uint64{30, 10, 20, 10} {
		require.NoError(t, st.Uint64ListAdd(key, v))
	}
	list, err := st.Uint64List(key)
	require.NoError(t, err)
	require.Equal(t, []uint64{10, 20, 30}, list)
}

func TestUnknownRecordVersionRejected(t *testing.T) {
	db := storage.NewMemDB()
	payload, err := rlp.EncodeToBytes(uint64(1))
	require.NoError(t, err)
	raw, err := rlp.EncodeToBytes(versionedRecord{Version: RecordVersion + 1, Data: payload})
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte(hashKey([]byte("future"))), raw))

	_, err = New(db).KVGet([]byte("future"), new(uint64))
	require.True(t, errors.Is(err, ErrRecordVersion))
}

func TestEnsureStateVersion(t *testing.T) {
	db := storage.NewMemDB()
	st := New(db)
	require.NoError(t, EnsureStateVersion(st, false))
	version, ok, err := New(db).StateVersion()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StateVersion, version)

	require.NoError(t, st.SetStateVersion(StateVersion+1))
	require.ErrorIs(t, EnsureStateVersion(st, false), ErrStateVersionMismatch)
	require.NoError(t, EnsureStateVersion(st, true))
}

func TestRegisterToken(t *testing.T) {
	st := NewMemory()
	require.NoError(t, st.RegisterToken(tokenA, " weth ", 18))
	require.Error(t, st.RegisterToken(tokenA, "WETH", 18))
	require.Error(t, st.RegisterToken(common.Address{}, "X", 6))

	meta, err := st.Token(tokenA)
	require.NoError(t, err)
	require.Equal(t, "WETH", meta.Symbol)
	dec, err := st.Decimals(tokenA)
	require.NoError(t, err)
	require.Equal(t, uint8(18), dec)

	_, err = st.Token(alice)
	require.ErrorIs(t, err, ErrTokenNotRegistered)
	list, err := st.TokenList()
	require.NoError(t, err)
	require.Equal(t, []common.Address{tokenA}, list)
}
