/*
Package reconciler implements the pull-based sync engine: the part of
ouisync that turns a peer's signed root announcement into locally
present, verified blocks.

# Five-step pull

On a new root announced for peer P (HandleRootAnnounce):

 1. Validate the root's signature and VersionVector monotonicity via
    pkg/branch.Store.Accept, which also persists it.
 2. Diff the peer's previously accepted root against the new one
    (pkg/index.Tree.Missing) to build the set of blocks the new root
    introduces.
 3. Enqueue block requests against the peer's BlockFetcher, bounded by
    a per-peer in-flight Window (scheduler.go) so one slow or adversarial
    peer cannot starve requests to others.
 4. As blocks arrive, verify them: H(plaintext) == block_id when the
    local secrets include the read_key, otherwise (Blind mode) trust the
    signed Merkle path alone. Verified blocks are installed into the
    shared block.Store and referenced against the peer's branch.
 5. Once every block the new root names is present, the merged view is
    considered caught up for that branch and onMerged fires.

# Back-off

A peer whose blocks repeatedly fail verification is demoted for a
back-off window (peerstate.go); pulls are skipped, not retried, while
demoted.

Partial progress survives disconnects: a root whose pull did not finish
stays pending and is pulled again, and index nodes and blocks already
present locally are skipped on that pass, so only what is still missing
is re-requested.

# Transport

Reconciler never speaks the wire protocol itself. It defines
BlockFetcher, the minimum a peer session must support (fetch a Merkle
node's children, fetch a block); pkg/syncproto's session implements it.
*/
package reconciler
