package block

import (
	"errors"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/types"
)

// PlaintextSize is the fixed size of a block's decrypted payload.
const PlaintextSize = 32 * 1024

// ErrNotFound is returned by Get when no block with the given id exists.
var ErrNotFound = errors.New("block: not found")

// ErrCorruption is returned by Put when the same BlockId is inserted twice
// with differing ciphertext (spec.md §4.2).
var ErrCorruption = errors.New("block: corruption, id collides with different content")

// Ref identifies one (branch, locator) slot in the reachability view.
type Ref struct {
	Branch  types.UserId
	Locator types.Locator
}

// Store is the content-addressed block persistence contract (spec.md
// §4.2). All methods may be called concurrently; Put is idempotent.
type Store interface {
	// Put inserts (or no-ops on an identical re-insert of) a block. Higher
	// layers call it alongside a Reference, and each of the two calls
	// commits in its own transaction. The interface keeps them separate so reconciler
	// writes (which reference a remote branch) and local writes (which
	// reference the local branch) share one code path.
	Put(id types.BlockId, nonce crypto.Nonce, ciphertext []byte) error

	// Get returns the stored nonce and ciphertext for id, or ErrNotFound.
	Get(id types.BlockId) (crypto.Nonce, []byte, error)

	// Reference records that (branch, locator) now indexes id, adjusting
	// the reachability view GC consults. Superseding a previous id at the
	// same ref is allowed; the previous id becomes unreferenced only when
	// no other ref points to it.
	Reference(ref Ref, id types.BlockId) error

	// Unreference removes the (branch, locator) entry without replacing
	// it, used by truncate/remove.
	Unreference(ref Ref) error

	// GarbageCollect deletes every block not referenced by any branch and
	// returns the number of blocks removed.
	GarbageCollect() (int, error)

	Close() error
}

var (
	_ Store = (*BoltStore)(nil)
	_ Store = (*CachedStore)(nil)
)
