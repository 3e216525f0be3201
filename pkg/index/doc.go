/*
Package index implements the per-branch Merkle-summarized map from Locator
to BlockId described in spec.md §4.3: a fixed-fanout trie keyed by nibbles
of the Locator, whose internal nodes store their children's hashes so two
peers can diff two roots by descending in lockstep and skipping any
subtree whose hash already matches.

	root (depth 0)
	 ├─ nibble 0x0 ─ internal (depth 1)
	 │                ├─ ... 16 children ...
	 │                └─ nibble 0xf ─ leaf (depth maxDepth): [(Locator, BlockId), ...]
	 └─ nibble 0xf ─ ...

Nodes are content-addressed (hash = H(serialized node)) and cached in
bbolt's index_nodes bucket keyed by that hash, never by parent pointer —
the hash is simultaneously the cache key and the node's own authenticity
proof (spec.md §9 design note).
*/
package index
