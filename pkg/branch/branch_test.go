package branch

import (
	"path/filepath"
	"testing"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/index"
	"github.com/ouisync/ouisync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestLocal(t *testing.T) *Local {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "repo.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tree, err := index.Open(db)
	require.NoError(t, err)

	store, err := Open(db)
	require.NoError(t, err)

	key, err := crypto.NewSigningKey()
	require.NoError(t, err)

	return NewLocal(store, tree, key, NewWriteLocks())
}

func TestMutateSignsAndAdvancesVersionVector(t *testing.T) {
	local := openTestLocal(t)
	loc := types.LocatorFromHash(crypto.H([]byte("loc-a")))
	id := types.BlockId(crypto.H([]byte("block-a")))

	root, err := local.Mutate(func(indexRoot crypto.Hash) (crypto.Hash, error) {
		return local.Tree().Insert(indexRoot, loc, id)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), root.VV[local.UserID()])
	require.NoError(t, root.Verify())

	root2, err := local.Mutate(func(indexRoot crypto.Hash) (crypto.Hash, error) {
		return local.Tree().Insert(indexRoot, types.LocatorFromHash(crypto.H([]byte("loc-b"))), id)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), root2.VV[local.UserID()])
	require.NoError(t, root2.Verify())
}

func TestMutateFailurePreservesPriorRoot(t *testing.T) {
	local := openTestLocal(t)

	boom := assert.AnError
	_, err := local.Mutate(func(indexRoot crypto.Hash) (crypto.Hash, error) {
		return crypto.Hash{}, boom
	})
	require.ErrorIs(t, err, boom)

	current, err := local.Current()
	require.NoError(t, err)
	assert.Equal(t, types.VersionVector{}, current.VV)
}

func TestStoreAcceptRejectsNonMonotonicRoot(t *testing.T) {
	local := openTestLocal(t)
	loc := types.LocatorFromHash(crypto.H([]byte("loc")))
	id := types.BlockId(crypto.H([]byte("block")))

	first, err := local.Mutate(func(indexRoot crypto.Hash) (crypto.Hash, error) {
		return local.Tree().Insert(indexRoot, loc, id)
	})
	require.NoError(t, err)

	// Resubmitting the exact same root (no VV advance) must be rejected.
	err = local.store.Accept(first)
	require.ErrorIs(t, err, ErrRootRejected)
}

func TestStoreAcceptRejectsBadSignature(t *testing.T) {
	local := openTestLocal(t)
	other, err := crypto.NewSigningKey()
	require.NoError(t, err)

	forged := Root{
		UserID: local.UserID(),
		Hash:   crypto.Hash{},
		VV:     types.VersionVector{local.UserID(): 1},
	}
	forged.Sig = other.Sign(forged.SigningBytes())

	err = local.store.Accept(forged)
	require.ErrorIs(t, err, ErrRootRejected)
}

func TestMergeEntryOutcomes(t *testing.T) {
	a := types.UserId(crypto.H([]byte("alice")))
	b := types.UserId(crypto.H([]byte("bob")))

	local := types.VersionVector{a: 2, b: 1}
	remoteAhead := types.VersionVector{a: 2, b: 2}
	assert.Equal(t, RemoteWins, MergeEntry(local, remoteAhead, false))

	localAhead := types.VersionVector{a: 3, b: 1}
	assert.Equal(t, LocalWins, MergeEntry(localAhead, local, false))

	concurrent := types.VersionVector{a: 1, b: 2}
	assert.Equal(t, Forked, MergeEntry(local, concurrent, false))

	assert.Equal(t, LocalWins, MergeEntry(local, local.Clone(), true))
	assert.Equal(t, Forked, MergeEntry(local, local.Clone(), false))
}
