package session

import (
	"testing"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/access"
	"github.com/ouisync/ouisync/pkg/config"
	"github.com/ouisync/ouisync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	opts := config.Default()
	opts.StoreDir = t.TempDir()

	s, err := Init(opts)
	require.NoError(t, err)
	t.Cleanup(func() { Shutdown() })
	return s
}

func TestInitTwiceFails(t *testing.T) {
	newTestSession(t)
	_, err := Init(config.Default())
	assert.Error(t, err)
}

func TestOpenIsIdempotentForSameID(t *testing.T) {
	s := newTestSession(t)

	writeKey, err := crypto.NewSecretKey()
	require.NoError(t, err)
	secrets := access.WriteSecrets(writeKey)

	id, err := s.Create(secrets)
	require.NoError(t, err)

	repo1, err := s.Open(id, secrets)
	require.NoError(t, err)
	repo2, err := s.Open(id, secrets)
	require.NoError(t, err)
	assert.Same(t, repo1, repo2)

	assert.Equal(t, []types.RepositoryId{id}, s.Repositories())
}

func TestShutdownClosesAllRepositories(t *testing.T) {
	s := newTestSession(t)

	writeKey, err := crypto.NewSecretKey()
	require.NoError(t, err)
	secrets := access.WriteSecrets(writeKey)

	id, err := s.Create(secrets)
	require.NoError(t, err)
	_, err = s.Open(id, secrets)
	require.NoError(t, err)

	require.NoError(t, Shutdown())
	assert.Nil(t, Current())
}
