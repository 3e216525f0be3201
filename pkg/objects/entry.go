package objects

import (
	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/types"
)

// Kind tags the variant an Entry holds (spec.md §6 glossary: "Entry:
// tagged variant, File | Directory | Tombstone"). Resolved by exhaustive
// switch wherever it matters; a new kind is a schema change, not a new
// polymorphic type.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindTombstone
)

// Entry is one named slot in a Directory's entry map. RootID seeds the
// Locator derivation for the File or Directory blob it names; it is the
// zero hash for a Tombstone, which carries nothing but its VersionVector.
type Entry struct {
	Kind   Kind
	RootID crypto.Hash
	VV     types.VersionVector
}

// IsLive reports whether this entry still names live content (i.e. is
// not a deletion marker).
func (e Entry) IsLive() bool { return e.Kind != KindTombstone }
