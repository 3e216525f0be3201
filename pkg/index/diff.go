package index

import (
	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// Diff is one entry present under remoteRoot that is absent, or mapped to
// a different BlockId, under localRoot.
type Diff struct {
	Locator types.Locator
	BlockID types.BlockId
}

// Missing descends localRoot and remoteRoot in lockstep, skipping any
// subtree whose hash already matches on both sides, and returns every
// (Locator, BlockId) pair that remoteRoot has and localRoot doesn't
// (spec.md §4.3: "the core of bandwidth-efficient sync"). remoteRoot's
// nodes must already be present in the index's node store — callers first
// pull missing Merkle nodes via ChildrenRequest (pkg/syncproto), then call
// Missing to compute the block-level diff.
func (t *Tree) Missing(localRoot, remoteRoot crypto.Hash) ([]Diff, error) {
	var out []Diff
	err := viewTx(t.db, func(tx *bolt.Tx) error {
		return t.diff(tx, localRoot, remoteRoot, 0, &out)
	})
	return out, err
}

func (t *Tree) diff(tx *bolt.Tx, local, remote crypto.Hash, depth int, out *[]Diff) error {
	if local == remote {
		return nil // identical subtree, nothing to do
	}
	if remote.IsZero() {
		return nil // remote has nothing here
	}

	remoteNode, err := t.loadNode(tx, remote)
	if err != nil {
		return err
	}

	var localNode *node
	if local.IsZero() {
		localNode = newInternal()
	} else {
		localNode, err = t.loadNode(tx, local)
		if err != nil {
			return err
		}
	}

	if remoteNode.kind == kindLeaf {
		localEntries := map[types.Locator]types.BlockId{}
		if localNode.kind == kindLeaf {
			for _, e := range localNode.entries {
				localEntries[e.Locator] = e.BlockID
			}
		}
		for _, e := range remoteNode.entries {
			if got, ok := localEntries[e.Locator]; !ok || got != e.BlockID {
				*out = append(*out, Diff{Locator: e.Locator, BlockID: e.BlockID})
			}
		}
		return nil
	}

	// Both are internal (or local is the zero/empty stand-in): recurse
	// per child, still skipping identical child hashes.
	for i := 0; i < fanout; i++ {
		var localChild crypto.Hash
		if localNode.kind == kindInternal {
			localChild = localNode.children[i]
		}
		if err := t.diff(tx, localChild, remoteNode.children[i], depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

// ChildrenBytes returns the raw encoded bytes of the node addressed by h,
// for serving a ChildrenRequest (spec.md §4.8) to a peer that doesn't yet
// have this subtree.
func (t *Tree) ChildrenBytes(h crypto.Hash) ([]byte, error) {
	var out []byte
	err := viewTx(t.db, func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get(h.Bytes())
		if data == nil {
			return ErrMalformedNode
		}
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

// StoreForeignNode persists a node's bytes received from a peer after
// structural validation, so future lockstep descents (including this
// peer's own future diffs) can load it. Callers must verify h == H(data)
// is the hash they requested before calling this.
func (t *Tree) StoreForeignNode(h crypto.Hash, data []byte) error {
	if _, err := decodeNode(data); err != nil {
		return err
	}
	return updateTx(t.db, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Put(h.Bytes(), append([]byte(nil), data...))
	})
}

// HasNode reports whether h's bytes are already present in the node
// store. The zero hash (the empty-subtree sentinel) always counts as
// present. Used by the reconciler to decide which nodes of a newly
// announced remote root still need a ChildrenRequest before Missing can
// descend into them.
func (t *Tree) HasNode(h crypto.Hash) (bool, error) {
	if h.IsZero() {
		return true, nil
	}
	var ok bool
	err := viewTx(t.db, func(tx *bolt.Tx) error {
		ok = tx.Bucket(bucketNodes).Get(h.Bytes()) != nil
		return nil
	})
	return ok, err
}

// Children returns the child hashes of the internal node addressed by h,
// or nil if h addresses a leaf (leaves have no children to request). h
// must already be present in the node store.
func (t *Tree) Children(h crypto.Hash) ([]crypto.Hash, error) {
	if h.IsZero() {
		return nil, nil
	}
	var out []crypto.Hash
	err := viewTx(t.db, func(tx *bolt.Tx) error {
		n, err := t.loadNode(tx, h)
		if err != nil {
			return err
		}
		if n.kind == kindLeaf {
			return nil
		}
		out = make([]crypto.Hash, 0, fanout)
		for _, c := range n.children {
			if !c.IsZero() {
				out = append(out, c)
			}
		}
		return nil
	})
	return out, err
}
