/*
Package branch implements one writer's replica (spec.md §4.6): a
VersionVector-stamped, signed pointer at an index.Tree root, a per-branch
write lock serializing local mutations, and the merge rule used when a
directory entry exists in more than one branch.

Every local mutation takes the current VersionVector, increments the local
user's counter, performs the object-layer change against the index, then
re-signs and persists the new root (spec.md §4.6, invariant 3). These
steps do not share one bbolt transaction: each index update commits in
its own transaction, and the new root is persisted last in a separate
one. Index nodes are content-addressed and never rewritten in place, so a
failure before the root is persisted leaves the previous root, and the
nodes it points at, unchanged; nodes written by the failed mutation stay
in the store unreferenced.
*/
package branch
