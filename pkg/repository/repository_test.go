package repository

import (
	"testing"
	"time"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/access"
	"github.com/ouisync/ouisync/pkg/events"
	"github.com/ouisync/ouisync/pkg/objects"
	"github.com/ouisync/ouisync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	writeKey, err := crypto.NewSecretKey()
	require.NoError(t, err)
	secrets := access.WriteSecrets(writeKey)

	dir := t.TempDir()
	id, err := Create(dir, secrets)
	require.NoError(t, err)

	repo, err := Open(dir, id, secrets, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestCreateRejectsDuplicateRepository(t *testing.T) {
	writeKey, err := crypto.NewSecretKey()
	require.NoError(t, err)
	secrets := access.WriteSecrets(writeKey)
	dir := t.TempDir()

	_, err = Create(dir, secrets)
	require.NoError(t, err)

	_, err = Create(dir, secrets)
	assert.ErrorIs(t, err, ErrEntryExists)
}

func TestOpenUnknownRepositoryFails(t *testing.T) {
	writeKey, err := crypto.NewSecretKey()
	require.NoError(t, err)
	secrets := access.WriteSecrets(writeKey)

	id := types.RepositoryIdFromHash(crypto.RepositoryID(writeKey))
	_, err = Open(t.TempDir(), id, secrets, Options{})
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestOpenWrongSecretsIsPermissionDenied(t *testing.T) {
	writeKey, err := crypto.NewSecretKey()
	require.NoError(t, err)
	secrets := access.WriteSecrets(writeKey)

	dir := t.TempDir()
	id, err := Create(dir, secrets)
	require.NoError(t, err)

	otherKey, err := crypto.NewSecretKey()
	require.NoError(t, err)
	_, err = Open(dir, id, access.WriteSecrets(otherKey), Options{})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestReopenReusesPersistedSigningKey(t *testing.T) {
	writeKey, err := crypto.NewSecretKey()
	require.NoError(t, err)
	secrets := access.WriteSecrets(writeKey)
	dir := t.TempDir()

	id, err := Create(dir, secrets)
	require.NoError(t, err)

	repo1, err := Open(dir, id, secrets, Options{})
	require.NoError(t, err)
	user1 := repo1.local.UserID()
	require.NoError(t, repo1.Close())

	repo2, err := Open(dir, id, secrets, Options{})
	require.NoError(t, err)
	defer repo2.Close()
	assert.Equal(t, user1, repo2.local.UserID())
}

func TestCreateFileThenReadRoundTrips(t *testing.T) {
	repo := openTestRepo(t)
	path := []string{"docs", "hello.txt"}

	require.NoError(t, repo.CreateDirectory([]string{"docs"}))
	require.NoError(t, repo.CreateFile(path))
	require.NoError(t, repo.WriteFile(path, 0, []byte("hello ouisync")))

	data, err := repo.ReadFile(path, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, "hello ouisync", string(data))
}

func TestCreateFileTwiceIsEntryExists(t *testing.T) {
	repo := openTestRepo(t)
	require.NoError(t, repo.CreateFile([]string{"a.txt"}))
	err := repo.CreateFile([]string{"a.txt"})
	assert.ErrorIs(t, err, ErrEntryExists)
}

func TestWriteFileMissingParentIsEntryNotFound(t *testing.T) {
	repo := openTestRepo(t)
	err := repo.CreateFile([]string{"missing", "a.txt"})
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestTruncateShrinksFile(t *testing.T) {
	repo := openTestRepo(t)
	path := []string{"a.txt"}
	require.NoError(t, repo.CreateFile(path))
	require.NoError(t, repo.WriteFile(path, 0, []byte("0123456789")))

	require.NoError(t, repo.Truncate(path, 4))
	data, err := repo.ReadFile(path, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(data))
}

func TestRemoveNonRecursiveNonEmptyDirFails(t *testing.T) {
	repo := openTestRepo(t)
	require.NoError(t, repo.CreateDirectory([]string{"dir"}))
	require.NoError(t, repo.CreateFile([]string{"dir", "a.txt"}))

	err := repo.Remove([]string{"dir"}, false)
	assert.ErrorIs(t, err, ErrDirectoryNotEmpty)

	require.NoError(t, repo.Remove([]string{"dir"}, true))
	_, err = repo.ReadFile([]string{"dir", "a.txt"}, 0, 1)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestMoveEntryRelocatesContent(t *testing.T) {
	repo := openTestRepo(t)
	require.NoError(t, repo.CreateDirectory([]string{"dst"}))
	require.NoError(t, repo.CreateFile([]string{"a.txt"}))
	require.NoError(t, repo.WriteFile([]string{"a.txt"}, 0, []byte("moved")))

	require.NoError(t, repo.MoveEntry([]string{"a.txt"}, []string{"dst", "a.txt"}))

	_, err := repo.ReadFile([]string{"a.txt"}, 0, 1)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	data, err := repo.ReadFile([]string{"dst", "a.txt"}, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, "moved", string(data))
}

func TestMoveEntryOntoExistingDestinationFails(t *testing.T) {
	repo := openTestRepo(t)
	require.NoError(t, repo.CreateFile([]string{"a.txt"}))
	require.NoError(t, repo.CreateFile([]string{"b.txt"}))

	err := repo.MoveEntry([]string{"a.txt"}, []string{"b.txt"})
	assert.ErrorIs(t, err, ErrEntryExists)
}

func TestListDirectoryListsLiveEntriesOnly(t *testing.T) {
	repo := openTestRepo(t)
	require.NoError(t, repo.CreateFile([]string{"a.txt"}))
	require.NoError(t, repo.CreateFile([]string{"b.txt"}))
	require.NoError(t, repo.Remove([]string{"b.txt"}, false))

	entries, err := repo.ListDirectory(nil)
	require.NoError(t, err)
	_, ok := entries["a.txt"]
	assert.True(t, ok)
	_, ok = entries["b.txt"]
	assert.False(t, ok)
}

func TestCreateShareTokenCannotExceedOwnMode(t *testing.T) {
	repo := openTestRepo(t)

	readToken, err := repo.CreateShareToken(access.Read)
	require.NoError(t, err)
	assert.Equal(t, access.Read, readToken.Mode)

	readSecrets := readToken.Secrets()
	_, ok := readSecrets.WriteKey()
	assert.False(t, ok)
}

func TestReadOnlyRepositoryRejectsWrites(t *testing.T) {
	writeKey, err := crypto.NewSecretKey()
	require.NoError(t, err)
	writeSecrets := access.WriteSecrets(writeKey)
	dir := t.TempDir()
	id, err := Create(dir, writeSecrets)
	require.NoError(t, err)

	writeRepo, err := Open(dir, id, writeSecrets, Options{})
	require.NoError(t, err)
	readToken, err := writeRepo.CreateShareToken(access.Read)
	require.NoError(t, err)
	require.NoError(t, writeRepo.Close())

	readRepo, err := Open(dir, id, readToken.Secrets(), Options{})
	require.NoError(t, err)
	defer readRepo.Close()

	err = readRepo.CreateFile([]string{"a.txt"})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestSubscribeEventsReceivesBranchChanged(t *testing.T) {
	repo := openTestRepo(t)
	sub := repo.SubscribeEvents()
	defer repo.UnsubscribeEvents(sub)

	require.NoError(t, repo.CreateFile([]string{"a.txt"}))

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventBranchChanged, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a published BranchChanged event")
	}
}

func TestCreateDirectoryThenListDirectoryFindsNestedFile(t *testing.T) {
	repo := openTestRepo(t)
	require.NoError(t, repo.CreateDirectory([]string{"a"}))
	require.NoError(t, repo.CreateDirectory([]string{"a", "b"}))
	require.NoError(t, repo.CreateFile([]string{"a", "b", "c.txt"}))

	entries, err := repo.ListDirectory([]string{"a", "b"})
	require.NoError(t, err)
	entry, ok := entries["c.txt"]
	require.True(t, ok)
	assert.Equal(t, objects.KindFile, entry.Kind)
}
