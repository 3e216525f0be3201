package reconciler

import (
	"context"
	"sync"

	"github.com/ouisync/ouisync/pkg/types"
)

// DefaultInFlightWindow bounds how many BlockRequests may be outstanding
// to one peer at once (spec.md §4.7 step 3).
const DefaultInFlightWindow = 8

// Window enforces a bounded in-flight BlockRequest count per peer.
// Adapted from pkg/scheduler's mutex-guarded-map-of-resources shape, but
// repurposed from a periodic placement loop into a simple per-peer
// admission gate: Acquire blocks until a slot frees, Release gives it
// back. One Window instance is shared by the whole Reconciler; each peer
// gets its own independent semaphore so a slow peer's exhausted window
// never blocks requests to a different peer.
type Window struct {
	mu    sync.Mutex
	limit int
	slots map[types.UserId]chan struct{}
}

// NewWindow creates a Window admitting up to limit concurrent in-flight
// requests per peer.
func NewWindow(limit int) *Window {
	return &Window{limit: limit, slots: make(map[types.UserId]chan struct{})}
}

func (w *Window) slotFor(peer types.UserId) chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.slots[peer]
	if !ok {
		s = make(chan struct{}, w.limit)
		w.slots[peer] = s
	}
	return s
}

// Acquire blocks until a slot for peer is free, or ctx is done.
func (w *Window) Acquire(ctx context.Context, peer types.UserId) error {
	select {
	case w.slotFor(peer) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a previously acquired slot for peer.
func (w *Window) Release(peer types.UserId) {
	select {
	case <-w.slotFor(peer):
	default:
	}
}
