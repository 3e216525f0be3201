// Package lockorder encodes the total lock order spec.md §5 requires
// across the subsystems that take a lock of their own: the reconciler's
// peer table, the session's repository map, a repository's metadata
// bucket, a branch's write lock, and a block store transaction.
//
//	peer_table < repository_map < per_repo_metadata < per_branch_write < block_store_tx
//
// A goroutine that acquires these out of order risks the same deadlock
// shape a reversed lock order always risks: two goroutines each holding
// one level and blocked waiting for the other's. Acquire/Release let the
// call sites that take these locks declare which level they're taking,
// so the order can be checked instead of merely documented.
//
// Checking only happens in builds tagged "debug" (see checker_debug.go);
// checker_release.go compiles the same calls away to nothing everywhere
// else, so there is no runtime cost in production builds.
package lockorder

// Level is one rung of the total lock order. Lower values must be
// acquired before higher ones within the same goroutine.
type Level int

const (
	PeerTable Level = iota
	RepositoryMap
	PerRepoMetadata
	PerBranchWrite
	BlockStoreTx
)

func (l Level) String() string {
	switch l {
	case PeerTable:
		return "peer_table"
	case RepositoryMap:
		return "repository_map"
	case PerRepoMetadata:
		return "per_repo_metadata"
	case PerBranchWrite:
		return "per_branch_write"
	case BlockStoreTx:
		return "block_store_tx"
	default:
		return "unknown lock level"
	}
}
