package types

import (
	"encoding/hex"
	"sort"

	"github.com/ouisync/ouisync/internal/crypto"
)

// IDSize is the width in bytes of every identifier in this package.
const IDSize = crypto.HashSize

// BlockId is the content hash of a block's plaintext (spec.md §3).
type BlockId [IDSize]byte

func (id BlockId) String() string { return hex.EncodeToString(id[:]) }
func (id BlockId) IsZero() bool   { return id == BlockId{} }

// BlockIdFromHash converts a crypto.Hash into a BlockId.
func BlockIdFromHash(h crypto.Hash) BlockId { return BlockId(h) }

// Locator is the deterministic logical address of a block inside a file:
// H(file_root_id ‖ sequence number).
type Locator [IDSize]byte

func (l Locator) String() string { return hex.EncodeToString(l[:]) }

func LocatorFromHash(h crypto.Hash) Locator { return Locator(h) }

// UserId is an Ed25519 public key identifying one writer/branch.
type UserId [IDSize]byte

func (u UserId) String() string { return hex.EncodeToString(u[:]) }
func (u UserId) IsZero() bool   { return u == UserId{} }

// RepositoryId identifies a repository across every peer that holds it.
type RepositoryId [IDSize]byte

func (r RepositoryId) String() string { return hex.EncodeToString(r[:]) }

func RepositoryIdFromHash(h crypto.Hash) RepositoryId { return RepositoryId(h) }

// VersionVector is a per-user causal counter map (spec.md §3).
//
// a <= b iff for every u, a[u] <= b[u]. Strict < means causally older;
// incomparable vectors are concurrent and produce forks.
type VersionVector map[UserId]uint64

// Clone returns an independent copy.
func (vv VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(vv))
	for k, v := range vv {
		out[k] = v
	}
	return out
}

// Incr returns a copy of vv with user's counter incremented by one. vv
// itself is left untouched.
func (vv VersionVector) Incr(user UserId) VersionVector {
	out := vv.Clone()
	out[user] = out[user] + 1
	return out
}

// Order is the result of comparing two VersionVectors.
type Order int

const (
	// Equal: the vectors are identical.
	Equal Order = iota
	// Before: a happened-before b (a <= b, a != b).
	Before
	// After: b happened-before a (a >= b, a != b).
	After
	// Concurrent: neither dominates the other.
	Concurrent
)

// Compare implements the partial order from spec.md §3.
func (vv VersionVector) Compare(other VersionVector) Order {
	aLessOrEqual := true
	bLessOrEqual := true

	users := make(map[UserId]struct{}, len(vv)+len(other))
	for u := range vv {
		users[u] = struct{}{}
	}
	for u := range other {
		users[u] = struct{}{}
	}

	for u := range users {
		a := vv[u]
		b := other[u]
		if a > b {
			bLessOrEqual = false
		}
		if b > a {
			aLessOrEqual = false
		}
	}

	switch {
	case aLessOrEqual && bLessOrEqual:
		return Equal
	case aLessOrEqual:
		return Before
	case bLessOrEqual:
		return After
	default:
		return Concurrent
	}
}

// LessOrEqual reports vv <= other.
func (vv VersionVector) LessOrEqual(other VersionVector) bool {
	o := vv.Compare(other)
	return o == Before || o == Equal
}

// Merge returns the pointwise maximum of vv and other (the join used when
// reconciling two causal histories that are about to be superseded by a
// fresh local write, not when picking a merge winner between branches).
func (vv VersionVector) Merge(other VersionVector) VersionVector {
	out := vv.Clone()
	for u, b := range other {
		if b > out[u] {
			out[u] = b
		}
	}
	return out
}

// SortedUserIds returns the vector's keys in a stable order, used when
// canonically encoding a VersionVector for signing or serialization.
func (vv VersionVector) SortedUserIds() []UserId {
	out := make([]UserId, 0, len(vv))
	for u := range vv {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}
