/*
Package types defines the core identifiers and value types shared across
every Ouisync package: BlockId, Locator, UserId, RepositoryId, and
VersionVector. Centralizing them here (mirroring the teacher's single
types package) avoids import cycles between pkg/block, pkg/index,
pkg/objects and pkg/branch, all of which need the same identifiers.

# Core Types

  - BlockId: content hash of a block's plaintext.
  - Locator: deterministic logical address of a block inside a file.
  - UserId: an Ed25519 public key identifying one writer/branch.
  - RepositoryId: identifies a repository across peers.
  - VersionVector: per-user causal counter map.
*/
package types
