package index

import (
	"encoding/binary"
	"sort"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/types"
)

// fanout is the number of children of each internal node: one per nibble
// of the Locator's first bytes.
const fanout = 16

// maxDepth bounds the trie so a lookup never descends more than maxDepth
// nibbles before reaching a leaf bucket.
const maxDepth = 4

type nodeKind uint8

const (
	kindInternal nodeKind = iota
	kindLeaf
)

// LeafEntry is one (Locator -> BlockId) mapping stored at a leaf.
type LeafEntry struct {
	Locator types.Locator
	BlockID types.BlockId
}

// node is either an internal fan-out node (children hashes, zero hash =
// empty subtree) or a leaf bucket (a small sorted list of entries that
// share the same path prefix).
type node struct {
	kind     nodeKind
	children [fanout]crypto.Hash
	entries  []LeafEntry
}

func newInternal() *node {
	return &node{kind: kindInternal}
}

func newLeaf(entries []LeafEntry) *node {
	sortEntries(entries)
	return &node{kind: kindLeaf, entries: entries}
}

func sortEntries(entries []LeafEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return string(entries[i].Locator[:]) < string(entries[j].Locator[:])
	})
}

// hash is the content address of the node: H over its kind tag and,
// depending on kind, either all 16 child hashes (including zero hashes for
// empty slots, so structure is part of the hash) or the sorted entries.
func (n *node) hash() crypto.Hash {
	switch n.kind {
	case kindInternal:
		bufs := make([][]byte, 0, fanout+1)
		bufs = append(bufs, []byte{byte(kindInternal)})
		for _, c := range n.children {
			bufs = append(bufs, c.Bytes())
		}
		return crypto.H(bufs...)
	default:
		bufs := make([][]byte, 0, len(n.entries)*2+1)
		bufs = append(bufs, []byte{byte(kindLeaf)})
		for _, e := range n.entries {
			bufs = append(bufs, e.Locator[:], e.BlockID[:])
		}
		return crypto.H(bufs...)
	}
}

// encode serializes the node for persistence in index_nodes.
func (n *node) encode() []byte {
	if n.kind == kindInternal {
		out := make([]byte, 1, 1+fanout*crypto.HashSize)
		out[0] = byte(kindInternal)
		for _, c := range n.children {
			out = append(out, c.Bytes()...)
		}
		return out
	}

	out := make([]byte, 1, 1+4+len(n.entries)*(types.IDSize*2))
	out[0] = byte(kindLeaf)
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(n.entries)))
	out = append(out, countBuf[:]...)
	for _, e := range n.entries {
		out = append(out, e.Locator[:]...)
		out = append(out, e.BlockID[:]...)
	}
	return out
}

func decodeNode(data []byte) (*node, error) {
	if len(data) == 0 {
		return nil, ErrMalformedNode
	}
	switch nodeKind(data[0]) {
	case kindInternal:
		if len(data) != 1+fanout*crypto.HashSize {
			return nil, ErrMalformedNode
		}
		n := newInternal()
		for i := 0; i < fanout; i++ {
			off := 1 + i*crypto.HashSize
			copy(n.children[i][:], data[off:off+crypto.HashSize])
		}
		return n, nil
	case kindLeaf:
		if len(data) < 5 {
			return nil, ErrMalformedNode
		}
		count := binary.BigEndian.Uint32(data[1:5])
		entrySize := types.IDSize * 2
		want := 5 + int(count)*entrySize
		if len(data) != want {
			return nil, ErrMalformedNode
		}
		entries := make([]LeafEntry, count)
		for i := range entries {
			off := 5 + i*entrySize
			copy(entries[i].Locator[:], data[off:off+types.IDSize])
			copy(entries[i].BlockID[:], data[off+types.IDSize:off+entrySize])
		}
		return &node{kind: kindLeaf, entries: entries}, nil
	default:
		return nil, ErrMalformedNode
	}
}

// nibble extracts the nibble of locator at the given depth (0-indexed),
// used to pick a child index while descending the trie.
func nibble(locator types.Locator, depth int) int {
	b := locator[depth/2]
	if depth%2 == 0 {
		return int(b >> 4)
	}
	return int(b & 0x0f)
}
