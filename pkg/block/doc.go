/*
Package block provides content-addressed storage for fixed-size encrypted
blocks, backed by bbolt.

	┌───────────────────────── BLOCK STORE ─────────────────────────┐
	│                                                                 │
	│  ┌───────────────────────────────────────────────┐            │
	│  │                  Store                          │            │
	│  │  - File: <repoDir>/<repositoryID>.db             │            │
	│  │  - Buckets: blocks, refs, reverse                │            │
	│  └──────────────────────┬────────────────────────┘            │
	│                         │                                       │
	│  ┌──────────────────────▼────────────────────────┐            │
	│  │  blocks   BlockId -> nonce ‖ ciphertext          │            │
	│  │  refs     branch‖locator -> BlockId              │            │
	│  │  reverse  BlockId -> set of branch‖locator        │            │
	│  │           (reachability view consumed by GC)      │            │
	│  └──────────────────────┬────────────────────────┘            │
	│                         │                                       │
	│  ┌──────────────────────▼────────────────────────┐            │
	│  │              LRU ciphertext cache                │            │
	│  │  keyed by BlockId, capped by a byte budget        │            │
	│  └───────────────────────────────────────────────┘            │
	└─────────────────────────────────────────────────────────────────┘

Each Put, Reference, Unreference and GarbageCollect call executes inside
its own bbolt transaction. Several calls made for one user-visible
mutation are separate transactions, so block insertion and reachability
bookkeeping for that mutation are not committed atomically together.
*/
package block
