package syncproto

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/branch"
	"github.com/ouisync/ouisync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	roots    map[types.UserId]branch.Root
	children map[crypto.Hash][]byte
	blocks   map[types.BlockId]struct {
		nonce      crypto.Nonce
		ciphertext []byte
	}
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		roots:    make(map[types.UserId]branch.Root),
		children: make(map[crypto.Hash][]byte),
		blocks: make(map[types.BlockId]struct {
			nonce      crypto.Nonce
			ciphertext []byte
		}),
	}
}

func (s *fakeServer) Root(user types.UserId) (branch.Root, bool, error) {
	r, ok := s.roots[user]
	return r, ok, nil
}

func (s *fakeServer) ChildrenBytes(parent crypto.Hash) ([]byte, error) {
	return s.children[parent], nil
}

func (s *fakeServer) Block(id types.BlockId) (crypto.Nonce, []byte, error) {
	b := s.blocks[id]
	return b.nonce, b.ciphertext, nil
}

func TestSessionFetchChildrenAndFetchBlock(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	server := newFakeServer()
	parent := crypto.H([]byte("parent"))
	server.children[parent] = []byte("node-bytes")

	blockID := types.BlockIdFromHash(crypto.H([]byte("block")))
	var nonce crypto.Nonce
	copy(nonce[:], crypto.H([]byte("nonce")).Bytes())
	entry := server.blocks[blockID]
	entry.nonce = nonce
	entry.ciphertext = []byte("ciphertext")
	server.blocks[blockID] = entry

	serverSession := NewSession(serverConn, server)
	go serverSession.Run(nil)

	clientSession := NewSession(clientConn, nil)
	go clientSession.Run(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := clientSession.FetchChildren(ctx, parent)
	require.NoError(t, err)
	assert.Equal(t, []byte("node-bytes"), data)

	gotNonce, gotCiphertext, err := clientSession.FetchBlock(ctx, blockID)
	require.NoError(t, err)
	assert.Equal(t, nonce, gotNonce)
	assert.Equal(t, []byte("ciphertext"), gotCiphertext)
}

func TestSessionRootAnnounceDispatchesToCallback(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	announced := make(chan branch.Root, 1)
	serverSession := NewSession(serverConn, nil)
	go serverSession.Run(func(root branch.Root) { announced <- root })

	clientSession := NewSession(clientConn, nil)
	go clientSession.Run(nil)

	root := branch.Root{Hash: crypto.H([]byte("root")), Sig: []byte("sig")}
	require.NoError(t, clientSession.AnnounceRoot(root))

	select {
	case got := <-announced:
		assert.Equal(t, root.Hash, got.Hash)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RootAnnounce dispatch")
	}
}

func TestSessionUnknownKindEndsRun(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	serverSession := NewSession(serverConn, nil)
	done := make(chan error, 1)
	go func() { done <- serverSession.Run(nil) }()

	f, err := Encode(Kind(200), 0, struct{}{})
	require.NoError(t, err)
	require.NoError(t, WriteFrame(clientConn, f))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrUnknownMessageKind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session to end on unknown kind")
	}
}
