package block

import (
	"bytes"
	"fmt"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/internal/lockorder"
	"github.com/ouisync/ouisync/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketBlocks  = []byte("blocks")  // BlockId -> nonce ‖ ciphertext
	bucketRefs    = []byte("refs")    // branch ‖ locator -> BlockId
	bucketReverse = []byte("reverse") // BlockId ‖ branch ‖ locator -> nil
)

// BoltStore is the bbolt-backed implementation of Store.
type BoltStore struct {
	db *bolt.DB
}

// Open creates the blocks/refs/reverse buckets in db (the repository's
// single shared bbolt file, per spec.md §6) and returns a Store backed by
// it. db's lifecycle is owned by the caller; Close is a no-op here.
func Open(db *bolt.DB) (*BoltStore, error) {
	err := updateTx(db, func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlocks, bucketRefs, bucketReverse} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close is a no-op: the bbolt file is owned and closed by whoever opened
// it (pkg/repository), since blocks/index/branch tables share one file.
func (s *BoltStore) Close() error { return nil }

// updateTx and viewTx bracket a bbolt transaction with spec.md §5's
// block_store_tx level, the innermost rung of the total lock order: a
// block store transaction is always the last lock a call path takes,
// never the one another lock nests inside.
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

func (s *BoltStore) Put(id types.BlockId, nonce crypto.Nonce, ciphertext []byte) error {
	return updateTx(s.db, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		if existing := b.Get(id[:]); existing != nil {
			if !bytes.Equal(existing[crypto.NonceSize:], ciphertext) {
				return ErrCorruption
			}
			return nil
		}
		return b.Put(id[:], encodeBlock(nonce, ciphertext))
	})
}

func (s *BoltStore) Get(id types.BlockId) (crypto.Nonce, []byte, error) {
	var nonce crypto.Nonce
	var ciphertext []byte
	err := viewTx(s.db, func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBlocks).Get(id[:])
		if data == nil {
			return ErrNotFound
		}
		n, ct := decodeBlock(data)
		nonce = n
		ciphertext = append([]byte(nil), ct...)
		return nil
	})
	return nonce, ciphertext, err
}

func (s *BoltStore) Reference(ref Ref, id types.BlockId) error {
	return updateTx(s.db, func(tx *bolt.Tx) error {
		refs := tx.Bucket(bucketRefs)
		reverse := tx.Bucket(bucketReverse)

		key := refKey(ref)
		if old := refs.Get(key); old != nil && !bytes.Equal(old, id[:]) {
			if err := reverse.Delete(reverseKey(types.BlockId(decodeBlockId(old)), ref)); err != nil {
				return err
			}
		}
		if err := refs.Put(key, id[:]); err != nil {
			return err
		}
		return reverse.Put(reverseKey(id, ref), nil)
	})
}

func (s *BoltStore) Unreference(ref Ref) error {
	return updateTx(s.db, func(tx *bolt.Tx) error {
		refs := tx.Bucket(bucketRefs)
		reverse := tx.Bucket(bucketReverse)

		key := refKey(ref)
		old := refs.Get(key)
		if old == nil {
			return nil
		}
		if err := refs.Delete(key); err != nil {
			return err
		}
		return reverse.Delete(reverseKey(types.BlockId(decodeBlockId(old)), ref))
	})
}

func (s *BoltStore) GarbageCollect() (int, error) {
	removed := 0
	err := updateTx(s.db, func(tx *bolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		reverse := tx.Bucket(bucketReverse)

		var dead [][]byte
		c := blocks.Cursor()
		for id, _ := c.First(); id != nil; id, _ = c.Next() {
			rc := reverse.Cursor()
			prefix := id
			k, _ := rc.Seek(prefix)
			reachable := k != nil && bytes.HasPrefix(k, prefix)
			if !reachable {
				dead = append(dead, append([]byte(nil), id...))
			}
		}
		for _, id := range dead {
			if err := blocks.Delete(id); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func encodeBlock(nonce crypto.Nonce, ciphertext []byte) []byte {
	out := make([]byte, 0, crypto.NonceSize+len(ciphertext))
	out = append(out, nonce[:]...)
	return append(out, ciphertext...)
}

func decodeBlock(data []byte) (crypto.Nonce, []byte) {
	var nonce crypto.Nonce
	copy(nonce[:], data[:crypto.NonceSize])
	return nonce, data[crypto.NonceSize:]
}

func refKey(ref Ref) []byte {
	key := make([]byte, 0, types.IDSize*2)
	key = append(key, ref.Branch[:]...)
	return append(key, ref.Locator[:]...)
}

func reverseKey(id types.BlockId, ref Ref) []byte {
	key := make([]byte, 0, types.IDSize*3)
	key = append(key, id[:]...)
	return append(key, refKey(ref)...)
}

func decodeBlockId(b []byte) [32]byte {
	var id [32]byte
	copy(id[:], b)
	return id
}
