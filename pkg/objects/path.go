package objects

import (
	"errors"
	"sort"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/block"
	"github.com/ouisync/ouisync/pkg/branch"
	"github.com/ouisync/ouisync/pkg/index"
	"github.com/ouisync/ouisync/pkg/types"
)

// ErrEntryNotFound is returned when a path component is absent, or names
// a Tombstone (spec.md §4.5 steps 2-3).
var ErrEntryNotFound = errors.New("objects: entry not found")

// ErrAmbiguousEntry is returned when a path component resolves to
// genuinely concurrent entries across branches that no VersionVector
// comparison can order (spec.md §4.5's MultiDir).
var ErrAmbiguousEntry = errors.New("objects: ambiguous entry")

// RootDirectoryID is the well-known blob seed every branch's top-level
// directory is addressed by. It is the same constant across branches;
// what distinguishes one branch's root directory from another's is the
// branch's own index root, not this id.
var RootDirectoryID = crypto.H([]byte("ouisync-root-directory-v1"))

// MultiDir is the merged view spec.md §4.5 describes for a path that
// resolves to more than one branch's entry: the union of every branch's
// version of one directory slot.
type MultiDir struct {
	Name     string
	Branches map[types.UserId]Entry
}

// Resolver resolves slash-split paths against a set of branch index
// roots, descending one directory at a time. Path resolution is
// naturally iterative (one loop per path component); no recursion is
// involved even once nested directories are unioned across branches, per
// spec.md §9's "explicit work stack, not recursion" design note for
// directory traversal.
type Resolver struct {
	store   block.Store
	tree    *index.Tree
	readKey crypto.SecretKey
}

// NewResolver wires a Resolver over the repository's shared block store,
// index, and the read_key needed to decrypt directory blobs.
func NewResolver(store block.Store, tree *index.Tree, readKey crypto.SecretKey) *Resolver {
	return &Resolver{store: store, tree: tree, readKey: readKey}
}

// Resolve walks path component-by-component starting from every
// branch's root directory. branches maps each visible UserId to that
// branch's current accepted index root (spec.md §4.6's Root.Hash).
//
// On success it returns the resolved Entry and the UserId of the branch
// whose version won. On ErrAmbiguousEntry it also returns the MultiDir
// describing the divergence at the component where resolution stalled.
func (r *Resolver) Resolve(branches map[types.UserId]crypto.Hash, path []string) (Entry, types.UserId, *MultiDir, error) {
	dirRootID := make(map[types.UserId]crypto.Hash, len(branches))
	for user := range branches {
		dirRootID[user] = RootDirectoryID
	}

	var winner Entry
	var winnerUser types.UserId

	for i, name := range path {
		entries := map[types.UserId]Entry{}
		for user, indexRoot := range branches {
			seed, ok := dirRootID[user]
			if !ok {
				continue
			}
			dir := NewDirectory(r.store, r.tree, r.readKey, user, seed)
			m, err := dir.Load(indexRoot)
			if err != nil {
				return Entry{}, types.UserId{}, nil, err
			}
			if e, ok := m[name]; ok {
				entries[user] = e
			}
		}

		w, wu, forked, err := resolveAcrossBranches(entries)
		if err != nil {
			if errors.Is(err, ErrAmbiguousEntry) {
				return Entry{}, types.UserId{}, &MultiDir{Name: name, Branches: forked}, err
			}
			return Entry{}, types.UserId{}, nil, err
		}
		if w.Kind == KindTombstone {
			return Entry{}, types.UserId{}, nil, ErrEntryNotFound
		}

		winner, winnerUser = w, wu
		if i < len(path)-1 {
			if w.Kind != KindDirectory {
				return Entry{}, types.UserId{}, nil, ErrEntryNotFound
			}
			for user := range dirRootID {
				dirRootID[user] = w.RootID
			}
		}
	}

	return winner, winnerUser, nil, nil
}

// candidateEntry pairs one branch's entry with its owning user, for the
// surviving-set fold below.
type candidateEntry struct {
	user  types.UserId
	entry Entry
}

// resolveAcrossBranches folds every branch's candidate entry for one path
// component through spec.md §4.6's pairwise merge rule, maintaining a set
// of entries no other entry has been found to dominate rather than a
// single running "dominant" value: a later entry can dominate more than
// one earlier fork member at once, and re-checking only the most recent
// dominant against it would miss that and report a false fork. If the
// set reduces to one survivor it is returned as the winner; otherwise the
// full set of mutually-concurrent survivors is returned as a fork.
func resolveAcrossBranches(entries map[types.UserId]Entry) (Entry, types.UserId, map[types.UserId]Entry, error) {
	if len(entries) == 0 {
		return Entry{}, types.UserId{}, nil, ErrEntryNotFound
	}

	users := make([]types.UserId, 0, len(entries))
	for u := range entries {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return string(users[i][:]) < string(users[j][:]) })

	survivors := []candidateEntry{{users[0], entries[users[0]]}}

	for _, u := range users[1:] {
		e := entries[u]
		next := survivors[:0]
		dominated := false
		for _, s := range survivors {
			contentEqual := s.entry.RootID == e.RootID && s.entry.Kind == e.Kind
			switch branch.MergeEntry(s.entry.VV, e.VV, contentEqual) {
			case branch.LocalWins:
				next = append(next, s)
				dominated = true
			case branch.RemoteWins:
				// e dominates s; s is dropped from the surviving set.
			case branch.Forked:
				next = append(next, s)
			}
		}
		if !dominated {
			next = append(next, candidateEntry{u, e})
		}
		survivors = next
	}

	if len(survivors) == 1 {
		return survivors[0].entry, survivors[0].user, nil, nil
	}

	forked := make(map[types.UserId]Entry, len(survivors))
	for _, s := range survivors {
		forked[s.user] = s.entry
	}
	return Entry{}, types.UserId{}, forked, ErrAmbiguousEntry
}
