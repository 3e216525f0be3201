package reconciler

import (
	"sync"
	"time"
)

// BackoffConfig tunes peer demotion (spec.md §4.7: "repeated corruption
// demotes the peer"). Adapted from pkg/health's Config/Retries idea:
// MaxFailures plays the role of Retries, Window the role of a recovery
// grace period.
type BackoffConfig struct {
	MaxFailures int
	Window      time.Duration
}

// DefaultBackoffConfig demotes a peer after three consecutive corrupt
// blocks and holds the demotion for one minute.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{MaxFailures: 3, Window: time.Minute}
}

// PeerState tracks one peer's recent block-verification history. Shaped
// after pkg/health's Status, with ConsecutiveFailures/ConsecutiveSuccesses
// and a timestamp-gated instead of boolean Healthy field: a peer doesn't
// recover by one success, it recovers by the back-off window elapsing.
//
// A single pull's block requests run concurrently (bounded by Window),
// so all mutating methods take an internal lock; ConsecutiveFailures
// etc. are exported for read-only inspection by tests and are not safe
// to read concurrently with a mutating call.
type PeerState struct {
	mu sync.Mutex

	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastSeen             time.Time
	Demoted              bool
	DemotedAt            time.Time
}

func newPeerState() *PeerState {
	return &PeerState{LastSeen: time.Now()}
}

// RecordSuccess resets the failure streak on a verified block.
func (s *PeerState) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConsecutiveSuccesses++
	s.ConsecutiveFailures = 0
	s.LastSeen = time.Now()
}

// RecordFailure registers a corrupt or unfetchable block and demotes the
// peer once cfg.MaxFailures is reached.
func (s *PeerState) RecordFailure(cfg BackoffConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	s.LastSeen = time.Now()
	if s.ConsecutiveFailures >= cfg.MaxFailures {
		s.Demoted = true
		s.DemotedAt = time.Now()
	}
}

// Backoff reports whether the peer is still serving its demotion window.
// Once the window elapses the peer is quietly re-admitted; a fresh
// failure right after re-admission demotes it again from a clean streak.
func (s *PeerState) Backoff(cfg BackoffConfig) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Demoted {
		return false
	}
	if time.Since(s.DemotedAt) >= cfg.Window {
		s.Demoted = false
		s.ConsecutiveFailures = 0
		return false
	}
	return true
}
