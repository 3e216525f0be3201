package reconciler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/access"
	"github.com/ouisync/ouisync/pkg/block"
	"github.com/ouisync/ouisync/pkg/branch"
	"github.com/ouisync/ouisync/pkg/index"
	"github.com/ouisync/ouisync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

type testPeer struct {
	tree  *index.Tree
	store block.Store
	local *branch.Local
}

func setupPeer(t *testing.T) *testPeer {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "peer.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tree, err := index.Open(db)
	require.NoError(t, err)
	store, err := block.Open(db)
	require.NoError(t, err)
	bstore, err := branch.Open(db)
	require.NoError(t, err)

	key, err := crypto.NewSigningKey()
	require.NoError(t, err)

	return &testPeer{tree: tree, store: store, local: branch.NewLocal(bstore, tree, key, branch.NewWriteLocks())}
}

type fakeFetcher struct {
	tree       *index.Tree
	store      block.Store
	failBlocks map[types.BlockId]bool
}

func (f *fakeFetcher) FetchChildren(ctx context.Context, parent crypto.Hash) ([]byte, error) {
	return f.tree.ChildrenBytes(parent)
}

func (f *fakeFetcher) FetchBlock(ctx context.Context, id types.BlockId) (crypto.Nonce, []byte, error) {
	if f.failBlocks[id] {
		return crypto.Nonce{}, nil, errors.New("fake fetcher: simulated transport failure")
	}
	return f.store.Get(id)
}

func writeRemoteBlock(t *testing.T, remote *testPeer, readKey crypto.SecretKey, seed string) (types.Locator, types.BlockId, branch.Root) {
	t.Helper()
	plaintext := []byte("payload-" + seed)
	locator := types.LocatorFromHash(crypto.H([]byte("loc-" + seed)))
	blockID := types.BlockIdFromHash(crypto.H(plaintext))

	var nonce crypto.Nonce
	copy(nonce[:], crypto.H([]byte("nonce-"+seed)).Bytes())
	ciphertext, err := crypto.Encrypt(readKey, nonce, plaintext)
	require.NoError(t, err)

	require.NoError(t, remote.store.Put(blockID, nonce, ciphertext))
	require.NoError(t, remote.store.Reference(block.Ref{Branch: remote.local.UserID(), Locator: locator}, blockID))

	root, err := remote.local.Mutate(func(indexRoot crypto.Hash) (crypto.Hash, error) {
		return remote.local.Tree().Insert(indexRoot, locator, blockID)
	})
	require.NoError(t, err)
	return locator, blockID, root
}

func TestReconcilerPullsAndInstallsMissingBlocks(t *testing.T) {
	remote := setupPeer(t)
	localDB, err := bolt.Open(filepath.Join(t.TempDir(), "local.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { localDB.Close() })
	localTree, err := index.Open(localDB)
	require.NoError(t, err)
	localStore, err := block.Open(localDB)
	require.NoError(t, err)
	localBranches, err := branch.Open(localDB)
	require.NoError(t, err)

	writeKey, err := crypto.NewSecretKey()
	require.NoError(t, err)
	ks := crypto.DeriveFromWriteKey(writeKey)

	locator, blockID, root := writeRemoteBlock(t, remote, ks.ReadKey, "a")

	fetcher := &fakeFetcher{tree: remote.tree, store: remote.store}
	rec := NewReconciler(localTree, localStore, localBranches, access.ReadSecrets(ks.ReadKey))

	var mergedCount int
	var mergedPeer types.UserId
	rec.OnMerged(func(peer types.UserId) {
		mergedCount++
		mergedPeer = peer
	})

	err = rec.HandleRootAnnounce(context.Background(), root, fetcher)
	require.NoError(t, err)

	assert.Equal(t, 1, mergedCount)
	assert.Equal(t, remote.local.UserID(), mergedPeer)

	_, _, err = localStore.Get(blockID)
	require.NoError(t, err)

	gotID, ok, err := localTree.Lookup(root.Hash, locator)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blockID, gotID)
}

func TestReconcilerSecondAnnounceOnlyPullsTheDelta(t *testing.T) {
	remote := setupPeer(t)
	localDB, err := bolt.Open(filepath.Join(t.TempDir(), "local.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { localDB.Close() })
	localTree, err := index.Open(localDB)
	require.NoError(t, err)
	localStore, err := block.Open(localDB)
	require.NoError(t, err)
	localBranches, err := branch.Open(localDB)
	require.NoError(t, err)

	writeKey, err := crypto.NewSecretKey()
	require.NoError(t, err)
	ks := crypto.DeriveFromWriteKey(writeKey)

	_, _, root1 := writeRemoteBlock(t, remote, ks.ReadKey, "a")
	fetcher := &fakeFetcher{tree: remote.tree, store: remote.store}
	rec := NewReconciler(localTree, localStore, localBranches, access.ReadSecrets(ks.ReadKey))
	require.NoError(t, rec.HandleRootAnnounce(context.Background(), root1, fetcher))

	locator2, blockID2, root2 := writeRemoteBlock(t, remote, ks.ReadKey, "b")
	require.NoError(t, rec.HandleRootAnnounce(context.Background(), root2, fetcher))

	gotID, ok, err := localTree.Lookup(root2.Hash, locator2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blockID2, gotID)
}

func TestReconcilerRejectsNonMonotonicRoot(t *testing.T) {
	remote := setupPeer(t)
	localDB, err := bolt.Open(filepath.Join(t.TempDir(), "local.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { localDB.Close() })
	localTree, err := index.Open(localDB)
	require.NoError(t, err)
	localStore, err := block.Open(localDB)
	require.NoError(t, err)
	localBranches, err := branch.Open(localDB)
	require.NoError(t, err)

	writeKey, err := crypto.NewSecretKey()
	require.NoError(t, err)
	ks := crypto.DeriveFromWriteKey(writeKey)

	_, _, root := writeRemoteBlock(t, remote, ks.ReadKey, "a")
	fetcher := &fakeFetcher{tree: remote.tree, store: remote.store}
	rec := NewReconciler(localTree, localStore, localBranches, access.ReadSecrets(ks.ReadKey))
	require.NoError(t, rec.HandleRootAnnounce(context.Background(), root, fetcher))

	err = rec.HandleRootAnnounce(context.Background(), root, fetcher)
	require.Error(t, err)
	assert.ErrorIs(t, err, branch.ErrRootRejected)
}

func TestReconcilerDemotesPeerAfterRepeatedFailures(t *testing.T) {
	remote := setupPeer(t)
	localDB, err := bolt.Open(filepath.Join(t.TempDir(), "local.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { localDB.Close() })
	localTree, err := index.Open(localDB)
	require.NoError(t, err)
	localStore, err := block.Open(localDB)
	require.NoError(t, err)
	localBranches, err := branch.Open(localDB)
	require.NoError(t, err)

	writeKey, err := crypto.NewSecretKey()
	require.NoError(t, err)
	ks := crypto.DeriveFromWriteKey(writeKey)

	failing := map[types.BlockId]bool{}
	var root branch.Root
	for _, seed := range []string{"a", "b", "c"} {
		var blockID types.BlockId
		_, blockID, root = writeRemoteBlock(t, remote, ks.ReadKey, seed)
		failing[blockID] = true
	}

	fetcher := &fakeFetcher{tree: remote.tree, store: remote.store, failBlocks: failing}
	rec := NewReconciler(localTree, localStore, localBranches, access.ReadSecrets(ks.ReadKey))

	var mergedCount int
	rec.OnMerged(func(types.UserId) { mergedCount++ })

	require.NoError(t, rec.HandleRootAnnounce(context.Background(), root, fetcher))

	assert.Equal(t, 0, mergedCount)
	assert.True(t, rec.PeerBackoff(remote.local.UserID()))
}

func TestReconcilerBlindSecretsSkipPlaintextVerification(t *testing.T) {
	remote := setupPeer(t)
	localDB, err := bolt.Open(filepath.Join(t.TempDir(), "local.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { localDB.Close() })
	localTree, err := index.Open(localDB)
	require.NoError(t, err)
	localStore, err := block.Open(localDB)
	require.NoError(t, err)
	localBranches, err := branch.Open(localDB)
	require.NoError(t, err)

	writeKey, err := crypto.NewSecretKey()
	require.NoError(t, err)
	ks := crypto.DeriveFromWriteKey(writeKey)

	_, blockID, root := writeRemoteBlock(t, remote, ks.ReadKey, "a")
	fetcher := &fakeFetcher{tree: remote.tree, store: remote.store}
	rec := NewReconciler(localTree, localStore, localBranches, access.BlindSecrets(ks.BlindID))

	var mergedCount int
	rec.OnMerged(func(types.UserId) { mergedCount++ })

	require.NoError(t, rec.HandleRootAnnounce(context.Background(), root, fetcher))
	assert.Equal(t, 1, mergedCount)

	_, _, err = localStore.Get(blockID)
	require.NoError(t, err)
}
