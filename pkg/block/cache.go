package block

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/types"
)

type cachedBlock struct {
	nonce      crypto.Nonce
	ciphertext []byte
}

// CachedStore wraps a Store with an LRU cache of decrypted-or-not
// ciphertext keyed by BlockId, shared among every branch (spec.md §5:
// "Block cache: LRU by BlockId, shared among all branches; capped by a
// configurable byte budget").
type CachedStore struct {
	Store
	mu        sync.Mutex
	cache     *lru.Cache
	byteCap   int64
	bytesUsed int64
}

// NewCachedStore wraps store with an LRU cache capped at byteBudget bytes
// of ciphertext. The entry count passed to the underlying LRU is a large
// fixed ceiling; actual eviction is driven by bytesUsed, which is cheaper
// to reason about than counting entries for variable-size payloads.
func NewCachedStore(store Store, byteBudget int64) (*CachedStore, error) {
	const maxEntries = 1 << 20
	c, err := lru.New(maxEntries)
	if err != nil {
		return nil, err
	}
	return &CachedStore{Store: store, cache: c, byteCap: byteBudget}, nil
}

func (s *CachedStore) Get(id types.BlockId) (crypto.Nonce, []byte, error) {
	s.mu.Lock()
	if v, ok := s.cache.Get(id); ok {
		cb := v.(cachedBlock)
		s.mu.Unlock()
		return cb.nonce, append([]byte(nil), cb.ciphertext...), nil
	}
	s.mu.Unlock()

	nonce, ciphertext, err := s.Store.Get(id)
	if err != nil {
		return nonce, ciphertext, err
	}
	s.insert(id, nonce, ciphertext)
	return nonce, ciphertext, nil
}

func (s *CachedStore) Put(id types.BlockId, nonce crypto.Nonce, ciphertext []byte) error {
	if err := s.Store.Put(id, nonce, ciphertext); err != nil {
		return err
	}
	s.insert(id, nonce, ciphertext)
	return nil
}

func (s *CachedStore) insert(id types.BlockId, nonce crypto.Nonce, ciphertext []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cache.Get(id); !ok {
		atomic.AddInt64(&s.bytesUsed, int64(len(ciphertext)))
	}
	s.cache.Add(id, cachedBlock{nonce: nonce, ciphertext: append([]byte(nil), ciphertext...)})

	for atomic.LoadInt64(&s.bytesUsed) > s.byteCap && s.cache.Len() > 0 {
		_, v, ok := s.cache.RemoveOldest()
		if !ok {
			break
		}
		atomic.AddInt64(&s.bytesUsed, -int64(len(v.(cachedBlock).ciphertext)))
	}
}

// BytesUsed reports the cache's current estimated ciphertext footprint,
// exposed for metrics.
func (s *CachedStore) BytesUsed() int64 {
	return atomic.LoadInt64(&s.bytesUsed)
}
