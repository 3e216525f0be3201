package index

import (
	"errors"
	"fmt"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/internal/lockorder"
	"github.com/ouisync/ouisync/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketNodes = []byte("index_nodes")

// ErrMalformedNode is returned when a node's persisted bytes don't decode,
// or an internal node's byte length doesn't match the fixed fanout.
var ErrMalformedNode = errors.New("index: malformed node")

// Tree is a persistent, content-addressed Merkle trie over Locator ->
// BlockId, shared by every branch stored in the same repository (nodes
// are addressed by hash, so identical subtrees across branches are
// physically shared).
type Tree struct {
	db *bolt.DB
}

// Open creates the index_nodes bucket in db and returns a Tree backed by
// it.
func Open(db *bolt.DB) (*Tree, error) {
	err := updateTx(db, func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNodes)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Tree{db: db}, nil
}

func (t *Tree) loadNode(tx *bolt.Tx, h crypto.Hash) (*node, error) {
	if h.IsZero() {
		return newInternal(), nil
	}
	data := tx.Bucket(bucketNodes).Get(h.Bytes())
	if data == nil {
		return nil, fmt.Errorf("index: node %x missing from store", h.Bytes())
	}
	return decodeNode(data)
}

func (t *Tree) storeNode(tx *bolt.Tx, n *node) (crypto.Hash, error) {
	h := n.hash()
	b := tx.Bucket(bucketNodes)
	if b.Get(h.Bytes()) != nil {
		return h, nil // already persisted (shared subtree or re-insert)
	}
	return h, b.Put(h.Bytes(), n.encode())
}

// Lookup returns the BlockId indexed at locator under root, or ok=false
// if absent.
func (t *Tree) Lookup(root crypto.Hash, locator types.Locator) (id types.BlockId, ok bool, err error) {
	err = viewTx(t.db, func(tx *bolt.Tx) error {
		h := root
		for depth := 0; depth <= maxDepth; depth++ {
			n, lerr := t.loadNode(tx, h)
			if lerr != nil {
				return lerr
			}
			if n.kind == kindLeaf {
				for _, e := range n.entries {
					if e.Locator == locator {
						id = e.BlockID
						ok = true
						return nil
					}
				}
				return nil
			}
			h = n.children[nibble(locator, depth)]
			if h.IsZero() {
				return nil
			}
		}
		return nil
	})
	return id, ok, err
}

// Insert returns the new root hash after indexing locator -> id under
// root, refreshing every internal node hash on the path (spec.md §4.3).
// If locator already maps to a different BlockId, it is replaced
// (spec.md invariant 4: exactly one BlockId per (branch, locator)).
func (t *Tree) Insert(root crypto.Hash, locator types.Locator, id types.BlockId) (crypto.Hash, error) {
	var newRoot crypto.Hash
	err := updateTx(t.db, func(tx *bolt.Tx) error {
		h, err := t.insert(tx, root, locator, id, 0)
		if err != nil {
			return err
		}
		newRoot = h
		return nil
	})
	return newRoot, err
}

func (t *Tree) insert(tx *bolt.Tx, h crypto.Hash, locator types.Locator, id types.BlockId, depth int) (crypto.Hash, error) {
	n, err := t.loadNode(tx, h)
	if err != nil {
		return crypto.Hash{}, err
	}

	if depth == maxDepth {
		entries := replaceOrAppend(n.entries, LeafEntry{Locator: locator, BlockID: id})
		leaf := newLeaf(entries)
		return t.storeNode(tx, leaf)
	}

	childHash := n.children[nibble(locator, depth)]
	newChild, err := t.insert(tx, childHash, locator, id, depth+1)
	if err != nil {
		return crypto.Hash{}, err
	}

	updated := *n
	updated.children[nibble(locator, depth)] = newChild
	return t.storeNode(tx, &updated)
}

// Remove returns the new root hash with locator's entry dropped, if
// present. Used by truncate (drop trailing blocks) and directory entry
// removal.
func (t *Tree) Remove(root crypto.Hash, locator types.Locator) (crypto.Hash, error) {
	var newRoot crypto.Hash
	err := updateTx(t.db, func(tx *bolt.Tx) error {
		h, err := t.remove(tx, root, locator, 0)
		if err != nil {
			return err
		}
		newRoot = h
		return nil
	})
	return newRoot, err
}

func (t *Tree) remove(tx *bolt.Tx, h crypto.Hash, locator types.Locator, depth int) (crypto.Hash, error) {
	if h.IsZero() {
		return crypto.Hash{}, nil
	}
	n, err := t.loadNode(tx, h)
	if err != nil {
		return crypto.Hash{}, err
	}

	if depth == maxDepth {
		out := n.entries[:0:0]
		for _, e := range n.entries {
			if e.Locator != locator {
				out = append(out, e)
			}
		}
		if len(out) == 0 {
			return crypto.Hash{}, nil
		}
		return t.storeNode(tx, newLeaf(out))
	}

	idx := nibble(locator, depth)
	newChild, err := t.remove(tx, n.children[idx], locator, depth+1)
	if err != nil {
		return crypto.Hash{}, err
	}
	updated := *n
	updated.children[idx] = newChild
	if isEmptyInternal(&updated) {
		return crypto.Hash{}, nil
	}
	return t.storeNode(tx, &updated)
}

func isEmptyInternal(n *node) bool {
	if n.kind != kindInternal {
		return false
	}
	for _, c := range n.children {
		if !c.IsZero() {
			return false
		}
	}
	return true
}

func replaceOrAppend(entries []LeafEntry, e LeafEntry) []LeafEntry {
	out := make([]LeafEntry, 0, len(entries)+1)
	replaced := false
	for _, existing := range entries {
		if existing.Locator == e.Locator {
			out = append(out, e)
			replaced = true
		} else {
			out = append(out, existing)
		}
	}
	if !replaced {
		out = append(out, e)
	}
	return out
}

// Entries returns every (Locator, BlockId) pair reachable from root.
func (t *Tree) Entries(root crypto.Hash) ([]LeafEntry, error) {
	var out []LeafEntry
	err := viewTx(t.db, func(tx *bolt.Tx) error {
		return t.walk(tx, root, 0, func(e LeafEntry) { out = append(out, e) })
	})
	return out, err
}

func (t *Tree) walk(tx *bolt.Tx, h crypto.Hash, depth int, visit func(LeafEntry)) error {
	if h.IsZero() {
		return nil
	}
	n, err := t.loadNode(tx, h)
	if err != nil {
		return err
	}
	if n.kind == kindLeaf {
		for _, e := range n.entries {
			visit(e)
		}
		return nil
	}
	for _, c := range n.children {
		if err := t.walk(tx, c, depth+1, visit); err != nil {
			return err
		}
	}
	return nil
}

// updateTx and viewTx bracket a bbolt transaction with spec.md §5's
// block_store_tx level: index nodes live in the same shared bbolt file
// as blocks and branch roots, so they serialize under the same rung.
func updateTx(db *bolt.DB, fn func(tx *bolt.Tx) error) error {
	lockorder.Acquire(lockorder.BlockStoreTx)
	defer lockorder.Release(lockorder.BlockStoreTx)
	return db.Update(fn)
}

func viewTx(db *bolt.DB, fn func(tx *bolt.Tx) error) error {
	lockorder.Acquire(lockorder.BlockStoreTx)
	defer lockorder.Release(lockorder.BlockStoreTx)
	return db.View(fn)
}
