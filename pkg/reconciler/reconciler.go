package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/internal/lockorder"
	"github.com/ouisync/ouisync/pkg/access"
	"github.com/ouisync/ouisync/pkg/block"
	"github.com/ouisync/ouisync/pkg/branch"
	"github.com/ouisync/ouisync/pkg/index"
	"github.com/ouisync/ouisync/pkg/log"
	"github.com/ouisync/ouisync/pkg/metrics"
	"github.com/ouisync/ouisync/pkg/types"
	"github.com/rs/zerolog"
)

// BlockFetcher is the transport-facing side of one peer session: enough
// for the reconciler to pull whatever a diff names. pkg/syncproto's
// session implements this over the wire.
type BlockFetcher interface {
	// FetchChildren returns the raw encoded bytes of the Merkle node
	// addressed by parent (a ChildrenRequest/Children round trip).
	FetchChildren(ctx context.Context, parent crypto.Hash) ([]byte, error)
	// FetchBlock returns the nonce and ciphertext for id (a
	// BlockRequest/Block round trip).
	FetchBlock(ctx context.Context, id types.BlockId) (crypto.Nonce, []byte, error)
}

type pendingRoot struct {
	prevHash crypto.Hash
	root     branch.Root
	fetcher  BlockFetcher
}

// Reconciler runs the five-step pull loop documented in doc.go.
type Reconciler struct {
	tree     *index.Tree
	blocks   block.Store
	branches *branch.Store
	secrets  access.Secrets
	window   *Window
	backoff  BackoffConfig

	logger zerolog.Logger

	mu      sync.Mutex
	peers   map[types.UserId]*PeerState
	pending map[types.UserId]pendingRoot

	onMerged func(peer types.UserId)

	stopCh chan struct{}
}

// NewReconciler wires a Reconciler over the repository's shared index
// and block store. secrets determines whether verification can decrypt
// block plaintext (Read/Write) or must trust the signed Merkle path
// alone (Blind).
func NewReconciler(tree *index.Tree, blocks block.Store, branches *branch.Store, secrets access.Secrets) *Reconciler {
	return &Reconciler{
		tree:     tree,
		blocks:   blocks,
		branches: branches,
		secrets:  secrets,
		window:   NewWindow(DefaultInFlightWindow),
		backoff:  DefaultBackoffConfig(),
		logger:   log.WithComponent("reconciler"),
		peers:    make(map[types.UserId]*PeerState),
		pending:  make(map[types.UserId]pendingRoot),
		stopCh:   make(chan struct{}),
	}
}

// lockPeers and unlockPeers wrap r.mu, the reconciler's peer table lock
// (spec.md §5's peer_table, the lowest rung of the total lock order).
func (r *Reconciler) lockPeers() {
	lockorder.Acquire(lockorder.PeerTable)
	r.mu.Lock()
}

func (r *Reconciler) unlockPeers() {
	r.mu.Unlock()
	lockorder.Release(lockorder.PeerTable)
}

// OnMerged registers a callback fired once a peer's announced root is
// fully pulled and installed (spec.md §4.7 step 5: "publish a local
// merged view"). Typically wired to pkg/repository's event broker.
func (r *Reconciler) OnMerged(fn func(peer types.UserId)) {
	r.onMerged = fn
}

// Start begins the retry loop that re-attempts any pending root whose
// previous pull stalled (a peer disconnected mid-window, or was demoted
// and has since recovered).
func (r *Reconciler) Start() {
	go r.run()
}

// Stop halts the retry loop. In-flight pulls started from
// HandleRootAnnounce are not interrupted; callers wanting a hard stop
// should cancel the context they passed to it.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			r.retryPending()
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

func (r *Reconciler) retryPending() {
	r.lockPeers()
	peers := make([]types.UserId, 0, len(r.pending))
	for peer := range r.pending {
		peers = append(peers, peer)
	}
	r.unlockPeers()

	for _, peer := range peers {
		if err := r.pull(context.Background(), peer); err != nil {
			r.logger.Warn().Err(err).Str("peer", peer.String()).Msg("retry pull failed")
		}
	}
}

// HandleRootAnnounce is step 1 and the entry point into steps 2-5: it
// validates and persists root, then pulls whatever it is missing from
// fetcher.
func (r *Reconciler) HandleRootAnnounce(ctx context.Context, root branch.Root, fetcher BlockFetcher) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	peer := root.UserID

	var prevHash crypto.Hash
	if existing, ok, err := r.branches.Get(peer); err != nil {
		return fmt.Errorf("reconciler: read prior root for %s: %w", peer, err)
	} else if ok {
		prevHash = existing.Hash
	}

	if err := r.branches.Accept(root); err != nil {
		r.recordFailure(peer)
		return fmt.Errorf("reconciler: reject root from %s: %w", peer, err)
	}

	r.lockPeers()
	r.pending[peer] = pendingRoot{prevHash: prevHash, root: root, fetcher: fetcher}
	r.unlockPeers()
	metrics.PeersTotal.Set(float64(r.peerCount()))

	return r.pull(ctx, peer)
}

func (r *Reconciler) peerCount() int {
	r.lockPeers()
	defer r.unlockPeers()
	return len(r.peers)
}

// PeerBackoff reports whether peer is currently serving a demotion
// window, so callers (e.g. pkg/syncproto deciding whether to dial) can
// skip it without going through a full pull attempt.
func (r *Reconciler) PeerBackoff(peer types.UserId) bool {
	return r.peerState(peer).Backoff(r.backoff)
}

func (r *Reconciler) peerState(peer types.UserId) *PeerState {
	r.lockPeers()
	defer r.unlockPeers()
	s, ok := r.peers[peer]
	if !ok {
		s = newPeerState()
		r.peers[peer] = s
	}
	return s
}

func (r *Reconciler) recordFailure(peer types.UserId) {
	s := r.peerState(peer)
	s.RecordFailure(r.backoff)
	if s.Demoted {
		metrics.PeerBackoffTotal.Inc()
		r.logger.Warn().Str("peer", peer.String()).Msg("peer demoted after repeated corruption")
	}
}

// pull runs steps 2-5 for whatever is currently pending for peer.
func (r *Reconciler) pull(ctx context.Context, peer types.UserId) error {
	r.lockPeers()
	p, ok := r.pending[peer]
	r.unlockPeers()
	if !ok {
		return nil
	}

	state := r.peerState(peer)
	if state.Backoff(r.backoff) {
		r.logger.Debug().Str("peer", peer.String()).Msg("peer in back-off window, deferring pull")
		return nil
	}

	if err := r.ensureNodes(ctx, p.fetcher, p.root.Hash); err != nil {
		return fmt.Errorf("reconciler: fetch index nodes from %s: %w", peer, err)
	}

	diffs, err := r.tree.Missing(p.prevHash, p.root.Hash)
	if err != nil {
		return fmt.Errorf("reconciler: diff against %s: %w", peer, err)
	}

	if len(diffs) == 0 {
		r.complete(peer)
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed int

	for _, d := range diffs {
		d := d
		if err := r.window.Acquire(ctx, peer); err != nil {
			mu.Lock()
			failed++
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer r.window.Release(peer)
			if err := r.fetchAndInstall(ctx, peer, p.fetcher, d); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if failed == 0 {
		r.complete(peer)
	}
	return nil
}

func (r *Reconciler) complete(peer types.UserId) {
	r.lockPeers()
	delete(r.pending, peer)
	r.unlockPeers()
	if r.onMerged != nil {
		r.onMerged(peer)
	}
}

// ensureNodes pulls whatever Merkle nodes on the path to root are not yet
// present locally, so Tree.Missing can descend into root without
// erroring on a node it hasn't seen (index.diff.go's precondition). It
// walks breadth-first with an explicit work queue, not recursion.
func (r *Reconciler) ensureNodes(ctx context.Context, fetcher BlockFetcher, root crypto.Hash) error {
	queue := []crypto.Hash{root}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]

		have, err := r.tree.HasNode(h)
		if err != nil {
			return err
		}
		if !have {
			data, err := fetcher.FetchChildren(ctx, h)
			if err != nil {
				return err
			}
			if err := r.tree.StoreForeignNode(h, data); err != nil {
				return err
			}
		}

		children, err := r.tree.Children(h)
		if err != nil {
			return err
		}
		queue = append(queue, children...)
	}
	return nil
}

func (r *Reconciler) fetchAndInstall(ctx context.Context, peer types.UserId, fetcher BlockFetcher, d index.Diff) error {
	if _, _, err := r.blocks.Get(d.BlockID); err == nil {
		return r.blocks.Reference(block.Ref{Branch: peer, Locator: d.Locator}, d.BlockID)
	}

	nonce, ciphertext, err := fetcher.FetchBlock(ctx, d.BlockID)
	if err != nil {
		r.logger.Warn().Err(err).Str("peer", peer.String()).Str("locator", d.Locator.String()).Msg("block fetch failed")
		r.recordFailure(peer)
		return err
	}

	if err := r.verifyBlock(d.BlockID, nonce, ciphertext); err != nil {
		r.logger.Warn().Err(err).Str("peer", peer.String()).Str("block_id", d.BlockID.String()).Msg("block failed verification, dropping")
		r.recordFailure(peer)
		return err
	}

	if err := r.blocks.Put(d.BlockID, nonce, ciphertext); err != nil {
		return err
	}
	if err := r.blocks.Reference(block.Ref{Branch: peer, Locator: d.Locator}, d.BlockID); err != nil {
		return err
	}

	r.peerState(peer).RecordSuccess()
	return nil
}

// verifyBlock checks H(plaintext) == id (spec.md §4.7 step 4) whenever
// the local secrets hold a read_key. A Blind replica cannot decrypt, so
// it has nothing to check beyond what ensureNodes and the tree's hashing
// already enforce on the Merkle path; it stores ciphertext on trust of
// the signed root alone.
func (r *Reconciler) verifyBlock(id types.BlockId, nonce crypto.Nonce, ciphertext []byte) error {
	readKey, ok := r.secrets.ReadKey()
	if !ok {
		return nil
	}
	plaintext, err := crypto.Decrypt(readKey, nonce, ciphertext)
	if err != nil {
		return fmt.Errorf("reconciler: decrypt block %s: %w", id, err)
	}
	if types.BlockIdFromHash(crypto.H(plaintext)) != id {
		return fmt.Errorf("reconciler: block %s content hash mismatch", id)
	}
	return nil
}
