package block

import (
	"path/filepath"
	"testing"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	db, err := bolt.Open(filepath.Join(dir, "repo.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := Open(db)
	require.NoError(t, err)
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := openTestStore(t)

	id := types.BlockId(crypto.H([]byte("plaintext")))
	var nonce crypto.Nonce
	copy(nonce[:], []byte("0123456789ab"))

	require.NoError(t, store.Put(id, nonce, []byte("ciphertext-bytes")))

	gotNonce, gotCT, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, nonce, gotNonce)
	assert.Equal(t, []byte("ciphertext-bytes"), gotCT)
}

func TestPutIsIdempotent(t *testing.T) {
	store := openTestStore(t)

	id := types.BlockId(crypto.H([]byte("x")))
	var nonce crypto.Nonce
	require.NoError(t, store.Put(id, nonce, []byte("same")))
	require.NoError(t, store.Put(id, nonce, []byte("same")))
}

func TestPutDetectsCorruption(t *testing.T) {
	store := openTestStore(t)

	id := types.BlockId(crypto.H([]byte("x")))
	var nonce crypto.Nonce
	require.NoError(t, store.Put(id, nonce, []byte("first")))

	err := store.Put(id, nonce, []byte("different"))
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestGetMissingIsNotFound(t *testing.T) {
	store := openTestStore(t)
	_, _, err := store.Get(types.BlockId{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGarbageCollectRemovesUnreferencedBlocks(t *testing.T) {
	store := openTestStore(t)

	var branch types.UserId
	copy(branch[:], []byte("branch-user-id-32-bytes!!!!!!!!!"))
	var locator types.Locator
	copy(locator[:], []byte("locator-32-bytes!!!!!!!!!!!!!!!!"))

	id := types.BlockId(crypto.H([]byte("content")))
	var nonce crypto.Nonce
	require.NoError(t, store.Put(id, nonce, []byte("ct")))
	require.NoError(t, store.Reference(Ref{Branch: branch, Locator: locator}, id))

	removed, err := store.GarbageCollect()
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "referenced block must survive GC")

	require.NoError(t, store.Unreference(Ref{Branch: branch, Locator: locator}))
	removed, err = store.GarbageCollect()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, _, err = store.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReferenceReassignsWithoutLeakingOldReverseEntry(t *testing.T) {
	store := openTestStore(t)

	var branch types.UserId
	var locator types.Locator
	idA := types.BlockId(crypto.H([]byte("a")))
	idB := types.BlockId(crypto.H([]byte("b")))
	var nonce crypto.Nonce

	require.NoError(t, store.Put(idA, nonce, []byte("a-ct")))
	require.NoError(t, store.Put(idB, nonce, []byte("b-ct")))
	require.NoError(t, store.Reference(Ref{Branch: branch, Locator: locator}, idA))
	require.NoError(t, store.Reference(Ref{Branch: branch, Locator: locator}, idB))

	removed, err := store.GarbageCollect()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, _, err = store.Get(idA)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = store.Get(idB)
	assert.NoError(t, err)
}
