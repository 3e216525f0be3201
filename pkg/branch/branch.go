package branch

import (
	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/internal/lockorder"
	"github.com/ouisync/ouisync/pkg/index"
	"github.com/ouisync/ouisync/pkg/types"
)

// Local is the one branch this repository can write to: it owns the
// Ed25519 signing key, so it can mint new Roots, while every other branch
// in the same repository is read-only here (spec.md §4.6).
type Local struct {
	store      *Store
	tree       *index.Tree
	signingKey crypto.SigningKey
	locks      *WriteLocks
}

// NewLocal wires a Local branch from its shared-bbolt-backed Store and
// Tree and a freshly generated or previously persisted signing key. The
// branch's UserId is the key's public half.
func NewLocal(store *Store, tree *index.Tree, signingKey crypto.SigningKey, locks *WriteLocks) *Local {
	return &Local{store: store, tree: tree, signingKey: signingKey, locks: locks}
}

// UserID is this branch's identity, and the Ed25519 public key every peer
// verifies its roots against.
func (l *Local) UserID() types.UserId {
	return types.UserId(l.signingKey.PublicKey())
}

// Current returns this branch's last accepted root, or the empty Root if
// nothing has been written yet.
func (l *Local) Current() (Root, error) {
	root, ok, err := l.store.Get(l.UserID())
	if err != nil {
		return Root{}, err
	}
	if !ok {
		return Root{UserID: l.UserID(), VV: types.VersionVector{}}, nil
	}
	return root, nil
}

// Mutate performs one local write (spec.md §4.6's four-step sequence):
// it hands change the current index root hash, expects back the new index
// root hash after change has applied its object-layer edit, then
// increments this branch's own VersionVector counter, signs the result,
// and persists it as the new accepted root — all while holding this
// branch's write lock, so two concurrent local writers of the same
// repository (e.g. two filesystem operations racing) serialize rather
// than clobber one another's VersionVector counter.
func (l *Local) Mutate(change func(indexRoot crypto.Hash) (crypto.Hash, error)) (Root, error) {
	lockorder.Acquire(lockorder.PerBranchWrite)
	defer lockorder.Release(lockorder.PerBranchWrite)

	unlock := l.locks.Lock(l.UserID())
	defer unlock()

	current, err := l.Current()
	if err != nil {
		return Root{}, err
	}

	newIndexRoot, err := change(current.Hash)
	if err != nil {
		return Root{}, err
	}

	next := Root{
		UserID: l.UserID(),
		Hash:   newIndexRoot,
		VV:     current.VV.Incr(l.UserID()),
	}
	next.Sig = l.signingKey.Sign(next.SigningBytes())

	if err := l.store.Accept(next); err != nil {
		return Root{}, err
	}
	return next, nil
}

// Tree exposes the shared index, so callers building a change closure for
// Mutate can look up, insert into, or remove from it.
func (l *Local) Tree() *index.Tree {
	return l.tree
}
