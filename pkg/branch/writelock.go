package branch

import (
	"sync"

	"github.com/ouisync/ouisync/pkg/types"
)

// WriteLocks hands out one mutex per local user, so concurrent mutations
// against the same branch serialize while mutations against different
// branches never block each other (spec.md §4.6: "each branch has exactly
// one writer; mutations against a branch are serialized").
type WriteLocks struct {
	mu    sync.Mutex
	perID map[types.UserId]*sync.Mutex
}

// NewWriteLocks returns an empty lock table.
func NewWriteLocks() *WriteLocks {
	return &WriteLocks{perID: make(map[types.UserId]*sync.Mutex)}
}

// Lock blocks until the caller holds the exclusive write lock for user,
// and returns an unlock function.
func (w *WriteLocks) Lock(user types.UserId) func() {
	w.mu.Lock()
	lock, ok := w.perID[user]
	if !ok {
		lock = &sync.Mutex{}
		w.perID[user] = lock
	}
	w.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
