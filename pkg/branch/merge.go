package branch

import "github.com/ouisync/ouisync/pkg/types"

// Outcome is the result of comparing one directory entry's VersionVector
// against another branch's entry of the same name (spec.md §4.6).
type Outcome int

const (
	// LocalWins: the local entry strictly dominates (or ties and matches)
	// the other branch's entry; keep the local one.
	LocalWins Outcome = iota
	// RemoteWins: the other branch's entry strictly dominates; adopt it.
	RemoteWins
	// Forked: the two entries are causally concurrent (or tie on
	// VersionVector while disagreeing on content); both are retained and
	// surfaced through MultiDir.
	Forked
)

// MergeEntry implements spec.md §4.6's per-entry merge rule:
//
//	vv_A <= vv_B -> keep B
//	vv_A >= vv_B -> keep A
//	otherwise    -> forked, both retained
//
// contentEqual resolves the case left open by the source material: two
// entries with equal VersionVectors (e.g. a Tombstone racing a live write
// from another branch, both stamped at the same counts) are a fork rather
// than an arbitrary pick, since equal vectors alone don't establish which
// one causally subsumes the other.
func MergeEntry(localVV, remoteVV types.VersionVector, contentEqual bool) Outcome {
	switch localVV.Compare(remoteVV) {
	case types.Equal:
		if contentEqual {
			return LocalWins
		}
		return Forked
	case types.Before:
		return RemoteWins
	case types.After:
		return LocalWins
	default: // types.Concurrent
		return Forked
	}
}
