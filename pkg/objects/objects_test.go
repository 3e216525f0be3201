package objects

import (
	"path/filepath"
	"testing"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/block"
	"github.com/ouisync/ouisync/pkg/branch"
	"github.com/ouisync/ouisync/pkg/index"
	"github.com/ouisync/ouisync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

type testRepo struct {
	store   block.Store
	tree    *index.Tree
	readKey crypto.SecretKey
	branch  types.UserId
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "repo.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := block.Open(db)
	require.NoError(t, err)
	tree, err := index.Open(db)
	require.NoError(t, err)

	writeKey, err := crypto.NewSecretKey()
	require.NoError(t, err)
	ks := crypto.DeriveFromWriteKey(writeKey)

	return &testRepo{store: store, tree: tree, readKey: ks.ReadKey, branch: types.UserId(crypto.H([]byte("branch-a")))}
}

func TestBlobWriteReadRoundTripWithinOneBlock(t *testing.T) {
	repo := newTestRepo(t)
	blob := NewBlob(repo.store, repo.tree, repo.readKey, repo.branch, crypto.H([]byte("file-1")))

	root, err := blob.WriteAt(crypto.Hash{}, 0, []byte("hello, ouisync"))
	require.NoError(t, err)

	size, err := blob.Size(root)
	require.NoError(t, err)
	assert.Equal(t, uint64(len("hello, ouisync")), size)

	got, err := blob.ReadAt(root, 0, len("hello, ouisync"))
	require.NoError(t, err)
	assert.Equal(t, "hello, ouisync", string(got))
}

func TestBlobWriteSpanningMultipleBlocks(t *testing.T) {
	repo := newTestRepo(t)
	blob := NewBlob(repo.store, repo.tree, repo.readKey, repo.branch, crypto.H([]byte("file-2")))

	data := make([]byte, chunkSize+100)
	for i := range data {
		data[i] = byte(i % 251)
	}

	root, err := blob.WriteAt(crypto.Hash{}, 0, data)
	require.NoError(t, err)

	size, err := blob.Size(root)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), size)

	got, err := blob.ReadAt(root, 0, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestBlobWriteAtOffsetStraddlesBlockBoundary(t *testing.T) {
	repo := newTestRepo(t)
	blob := NewBlob(repo.store, repo.tree, repo.readKey, repo.branch, crypto.H([]byte("file-3")))

	root, err := blob.WriteAt(crypto.Hash{}, 0, make([]byte, chunkSize+10))
	require.NoError(t, err)

	patch := []byte("BOUNDARY")
	root, err = blob.WriteAt(root, uint64(chunkSize-4), patch)
	require.NoError(t, err)

	got, err := blob.ReadAt(root, uint64(chunkSize-4), len(patch))
	require.NoError(t, err)
	assert.Equal(t, patch, got)
}

func TestBlobTruncateDropsTrailingBlocksAndUpdatesSize(t *testing.T) {
	repo := newTestRepo(t)
	blob := NewBlob(repo.store, repo.tree, repo.readKey, repo.branch, crypto.H([]byte("file-4")))

	root, err := blob.WriteAt(crypto.Hash{}, 0, make([]byte, chunkSize*2+50))
	require.NoError(t, err)

	root, err = blob.Truncate(root, 10)
	require.NoError(t, err)

	size, err := blob.Size(root)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), size)

	got, err := blob.ReadAt(root, 0, 100)
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func TestDirectoryInsertLoadRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	dir := NewDirectory(repo.store, repo.tree, repo.readKey, repo.branch, RootDirectoryID)

	fileID := crypto.H([]byte("a.txt-root"))
	root, err := dir.Insert(crypto.Hash{}, "a.txt", Entry{
		Kind:   KindFile,
		RootID: fileID,
		VV:     types.VersionVector{repo.branch: 1},
	})
	require.NoError(t, err)

	entries, err := dir.Load(root)
	require.NoError(t, err)
	require.Contains(t, entries, "a.txt")
	assert.Equal(t, fileID, entries["a.txt"].RootID)
	assert.Equal(t, KindFile, entries["a.txt"].Kind)
}

func TestDirectoryNeverWrittenLoadsAsEmpty(t *testing.T) {
	repo := newTestRepo(t)
	dir := NewDirectory(repo.store, repo.tree, repo.readKey, repo.branch, RootDirectoryID)

	root, err := dir.Insert(crypto.Hash{}, "sub", Entry{Kind: KindDirectory, RootID: crypto.H([]byte("sub-root"))})
	require.NoError(t, err)

	sub := NewDirectory(repo.store, repo.tree, repo.readKey, repo.branch, crypto.H([]byte("sub-root")))
	entries, err := sub.Load(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDirectoryRenamePreservesEntry(t *testing.T) {
	repo := newTestRepo(t)
	dir := NewDirectory(repo.store, repo.tree, repo.readKey, repo.branch, RootDirectoryID)

	fileID := crypto.H([]byte("b.txt-root"))
	root, err := dir.Insert(crypto.Hash{}, "b.txt", Entry{Kind: KindFile, RootID: fileID})
	require.NoError(t, err)

	root, err = dir.Rename(root, "b.txt", "c.txt")
	require.NoError(t, err)

	entries, err := dir.Load(root)
	require.NoError(t, err)
	assert.NotContains(t, entries, "b.txt")
	require.Contains(t, entries, "c.txt")
	assert.Equal(t, fileID, entries["c.txt"].RootID)
}

func TestResolvePathSingleBranch(t *testing.T) {
	repo := newTestRepo(t)
	root := NewDirectory(repo.store, repo.tree, repo.readKey, repo.branch, RootDirectoryID)

	subID := crypto.H([]byte("sub-dir"))
	indexRoot, err := root.Insert(crypto.Hash{}, "docs", Entry{Kind: KindDirectory, RootID: subID})
	require.NoError(t, err)

	sub := NewDirectory(repo.store, repo.tree, repo.readKey, repo.branch, subID)
	fileID := crypto.H([]byte("readme-root"))
	indexRoot, err = sub.Insert(indexRoot, "readme.md", Entry{Kind: KindFile, RootID: fileID})
	require.NoError(t, err)

	resolver := NewResolver(repo.store, repo.tree, repo.readKey)
	entry, user, multi, err := resolver.Resolve(map[types.UserId]crypto.Hash{repo.branch: indexRoot}, []string{"docs", "readme.md"})
	require.NoError(t, err)
	assert.Nil(t, multi)
	assert.Equal(t, repo.branch, user)
	assert.Equal(t, fileID, entry.RootID)
}

func TestResolvePathMissingComponentIsEntryNotFound(t *testing.T) {
	repo := newTestRepo(t)
	resolver := NewResolver(repo.store, repo.tree, repo.readKey)
	_, _, _, err := resolver.Resolve(map[types.UserId]crypto.Hash{repo.branch: crypto.Hash{}}, []string{"nope"})
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestResolvePathTombstoneIsEntryNotFound(t *testing.T) {
	repo := newTestRepo(t)
	root := NewDirectory(repo.store, repo.tree, repo.readKey, repo.branch, RootDirectoryID)
	indexRoot, err := root.Insert(crypto.Hash{}, "gone.txt", Entry{Kind: KindTombstone, VV: types.VersionVector{repo.branch: 1}})
	require.NoError(t, err)

	resolver := NewResolver(repo.store, repo.tree, repo.readKey)
	_, _, _, err = resolver.Resolve(map[types.UserId]crypto.Hash{repo.branch: indexRoot}, []string{"gone.txt"})
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestResolvePathConcurrentWritesAreAmbiguous(t *testing.T) {
	repo := newTestRepo(t)
	userA := types.UserId(crypto.H([]byte("alice")))
	userB := types.UserId(crypto.H([]byte("bob")))

	dirA := NewDirectory(repo.store, repo.tree, repo.readKey, userA, RootDirectoryID)
	rootA, err := dirA.Insert(crypto.Hash{}, "a.txt", Entry{
		Kind: KindFile, RootID: crypto.H([]byte("content-A")),
		VV: types.VersionVector{userA: 1},
	})
	require.NoError(t, err)

	dirB := NewDirectory(repo.store, repo.tree, repo.readKey, userB, RootDirectoryID)
	rootB, err := dirB.Insert(crypto.Hash{}, "a.txt", Entry{
		Kind: KindFile, RootID: crypto.H([]byte("content-B")),
		VV: types.VersionVector{userB: 1},
	})
	require.NoError(t, err)

	resolver := NewResolver(repo.store, repo.tree, repo.readKey)
	_, _, multi, err := resolver.Resolve(map[types.UserId]crypto.Hash{userA: rootA, userB: rootB}, []string{"a.txt"})
	require.ErrorIs(t, err, ErrAmbiguousEntry)
	require.NotNil(t, multi)
	assert.Len(t, multi.Branches, 2)
}

func TestMergeEntryDirectlyAgreesWithResolver(t *testing.T) {
	a := types.UserId(crypto.H([]byte("alice")))
	b := types.UserId(crypto.H([]byte("bob")))
	vvA := types.VersionVector{a: 1, b: 1}
	vvB := types.VersionVector{a: 1, b: 2}
	assert.Equal(t, branch.RemoteWins, branch.MergeEntry(vvA, vvB, false))
}
