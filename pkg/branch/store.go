package branch

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/internal/lockorder"
	"github.com/ouisync/ouisync/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketBranches = []byte("branches")

// ErrRootRejected covers every reason §4.3's three checks can fail:
// structural validation, bad signature, or non-monotonic VersionVector.
var ErrRootRejected = errors.New("branch: root rejected")

// Store persists one Root per UserId in the repository's shared bbolt
// file (spec.md §6 branches table).
type Store struct {
	db *bolt.DB
}

// Open creates the branches bucket in db.
func Open(db *bolt.DB) (*Store, error) {
	err := updateTx(db, func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBranches)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Get returns the currently accepted root for user, or ok=false if this
// repository has never seen a root from that user.
func (s *Store) Get(user types.UserId) (root Root, ok bool, err error) {
	err = viewTx(s.db, func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBranches).Get(user[:])
		if data == nil {
			return nil
		}
		r, derr := decodeRoot(user, data)
		if derr != nil {
			return derr
		}
		root = r
		ok = true
		return nil
	})
	return root, ok, err
}

// List returns every branch currently known to this repository.
func (s *Store) List() ([]Root, error) {
	var out []Root
	err := viewTx(s.db, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBranches)
		return b.ForEach(func(k, v []byte) error {
			var user types.UserId
			copy(user[:], k)
			r, err := decodeRoot(user, v)
			if err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

// Accept validates candidate against spec.md §4.3's three checks
// (structural validation is the caller's responsibility via index.Tree,
// which only ever stores well-formed nodes; here we check signature and
// VersionVector monotonicity) and, if it passes, persists it as the new
// accepted root for candidate.UserID.
//
// Local writes always pass a strictly-dominating VV by construction
// (branch.Local.Mutate increments before signing), so Accept's
// monotonicity check is really only ever exercised against roots received
// from peers; on the local branch it is a consistency assertion.
func (s *Store) Accept(candidate Root) error {
	if err := candidate.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrRootRejected, err)
	}

	return updateTx(s.db, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBranches)
		existing := b.Get(candidate.UserID[:])
		if existing != nil {
			prev, err := decodeRoot(candidate.UserID, existing)
			if err != nil {
				return err
			}
			if prev.VV.Compare(candidate.VV) != types.Before {
				return fmt.Errorf("%w: version vector does not strictly dominate previous root", ErrRootRejected)
			}
		}
		return b.Put(candidate.UserID[:], encodeRoot(candidate))
	})
}

func encodeRoot(r Root) []byte {
	ids := r.VV.SortedUserIds()
	out := make([]byte, 0, crypto.HashSize+4+len(ids)*(types.IDSize+8)+4+len(r.Sig))

	out = append(out, r.Hash.Bytes()...)

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(ids)))
	out = append(out, countBuf[:]...)
	for _, u := range ids {
		out = append(out, u[:]...)
		var cv [8]byte
		binary.BigEndian.PutUint64(cv[:], r.VV[u])
		out = append(out, cv[:]...)
	}

	var sigLen [4]byte
	binary.BigEndian.PutUint32(sigLen[:], uint32(len(r.Sig)))
	out = append(out, sigLen[:]...)
	out = append(out, r.Sig...)
	return out
}

func decodeRoot(user types.UserId, data []byte) (Root, error) {
	if len(data) < crypto.HashSize+4 {
		return Root{}, fmt.Errorf("branch: truncated root record")
	}
	var h crypto.Hash
	copy(h[:], data[:crypto.HashSize])
	off := crypto.HashSize

	count := binary.BigEndian.Uint32(data[off : off+4])
	off += 4

	vv := make(types.VersionVector, count)
	for i := uint32(0); i < count; i++ {
		var u types.UserId
		copy(u[:], data[off:off+types.IDSize])
		off += types.IDSize
		v := binary.BigEndian.Uint64(data[off : off+8])
		off += 8
		vv[u] = v
	}

	if len(data) < off+4 {
		return Root{}, fmt.Errorf("branch: truncated root record")
	}
	sigLen := binary.BigEndian.Uint32(data[off : off+4])
	off += 4
	if len(data) < off+int(sigLen) {
		return Root{}, fmt.Errorf("branch: truncated root record")
	}
	sig := append([]byte(nil), data[off:off+int(sigLen)]...)

	return Root{UserID: user, Hash: h, VV: vv, Sig: sig}, nil
}

// updateTx and viewTx bracket a bbolt transaction with spec.md §5's
// block_store_tx level: branch roots live in the same shared bbolt file
// as blocks and index nodes.
func updateTx(db *bolt.DB, fn func(tx *bolt.Tx) error) error {
	lockorder.Acquire(lockorder.BlockStoreTx)
	defer lockorder.Release(lockorder.BlockStoreTx)
	return db.Update(fn)
}

func viewTx(db *bolt.DB, fn func(tx *bolt.Tx) error) error {
	lockorder.Acquire(lockorder.BlockStoreTx)
	defer lockorder.Release(lockorder.BlockStoreTx)
	return db.View(fn)
}
