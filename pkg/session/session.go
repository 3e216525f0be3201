// Package session is the one legitimate process-wide global spec.md §9
// allows beyond the logger: a registry of currently open repositories,
// keyed by RepositoryId, with explicit Init/Shutdown tied to the host
// process's own lifetime. A caller that wants no global state at all can
// ignore this package and call pkg/repository directly.
package session

import (
	"fmt"
	"sync"

	"github.com/ouisync/ouisync/internal/lockorder"
	"github.com/ouisync/ouisync/pkg/access"
	"github.com/ouisync/ouisync/pkg/config"
	"github.com/ouisync/ouisync/pkg/log"
	"github.com/ouisync/ouisync/pkg/repository"
	"github.com/ouisync/ouisync/pkg/types"
)

// Session owns every repository a process has opened, so a single
// Shutdown call tears them all down in place of the caller tracking each
// handle itself.
type Session struct {
	opts config.Options

	mu    sync.Mutex
	repos map[types.RepositoryId]*repository.Repository
}

var (
	globalMu sync.Mutex
	global   *Session
)

// lockRepos and unlockRepos wrap s.mu, spec.md §5's repository_map: the
// second rung of the total lock order, taken before any per-repository
// lock a call it makes (repository.Open, repo.Close) might acquire.
func (s *Session) lockRepos() {
	lockorder.Acquire(lockorder.RepositoryMap)
	s.mu.Lock()
}

func (s *Session) unlockRepos() {
	s.mu.Unlock()
	lockorder.Release(lockorder.RepositoryMap)
}

// Init starts the process-wide session. Calling it twice without an
// intervening Shutdown returns an error rather than silently replacing
// the existing registry out from under whatever already holds a
// repository from it.
func Init(opts config.Options) (*Session, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return nil, fmt.Errorf("session: already initialized")
	}

	log.Init(log.Config{Level: log.Level(opts.LogFilter)})

	global = &Session{
		opts:  opts,
		repos: make(map[types.RepositoryId]*repository.Repository),
	}
	return global, nil
}

// Current returns the process-wide session, or nil if Init hasn't been
// called.
func Current() *Session {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// Shutdown closes every repository this session opened and clears the
// process-wide registry, so a later Init starts clean.
func Shutdown() error {
	globalMu.Lock()
	s := global
	global = nil
	globalMu.Unlock()

	if s == nil {
		return nil
	}
	return s.closeAll()
}

// Open opens (or returns the already-open handle for) the repository
// identified by id. Repeated Open calls for the same id under the same
// session share one *repository.Repository, matching spec.md §4.9's
// Handle semantics: a Handle is a reference to the one open instance, not
// a fresh storage connection per call.
func (s *Session) Open(id types.RepositoryId, secrets access.Secrets) (*repository.Repository, error) {
	s.lockRepos()
	defer s.unlockRepos()

	if repo, ok := s.repos[id]; ok {
		return repo, nil
	}

	repo, err := repository.Open(s.opts.StoreDir, id, secrets, s.opts.RepositoryOptions())
	if err != nil {
		return nil, err
	}
	s.repos[id] = repo
	return repo, nil
}

// Create mints a new repository under this session's store directory.
func (s *Session) Create(secrets access.Secrets) (types.RepositoryId, error) {
	return repository.Create(s.opts.StoreDir, secrets)
}

// Close closes and forgets the repository identified by id, if this
// session currently has it open. Closing an id this session never opened
// is a no-op.
func (s *Session) Close(id types.RepositoryId) error {
	s.lockRepos()
	repo, ok := s.repos[id]
	if ok {
		delete(s.repos, id)
	}
	s.unlockRepos()

	if !ok {
		return nil
	}
	return repo.Close()
}

// Repositories lists the RepositoryIds currently open under this
// session.
func (s *Session) Repositories() []types.RepositoryId {
	s.lockRepos()
	defer s.unlockRepos()

	ids := make([]types.RepositoryId, 0, len(s.repos))
	for id := range s.repos {
		ids = append(ids, id)
	}
	return ids
}

func (s *Session) closeAll() error {
	s.lockRepos()
	repos := make([]*repository.Repository, 0, len(s.repos))
	for id, repo := range s.repos {
		repos = append(repos, repo)
		delete(s.repos, id)
	}
	s.unlockRepos()

	var firstErr error
	for _, repo := range repos {
		if err := repo.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
