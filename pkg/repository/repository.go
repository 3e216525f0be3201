package repository

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/internal/lockorder"
	"github.com/ouisync/ouisync/pkg/access"
	"github.com/ouisync/ouisync/pkg/block"
	"github.com/ouisync/ouisync/pkg/branch"
	"github.com/ouisync/ouisync/pkg/events"
	"github.com/ouisync/ouisync/pkg/index"
	"github.com/ouisync/ouisync/pkg/log"
	"github.com/ouisync/ouisync/pkg/metrics"
	"github.com/ouisync/ouisync/pkg/objects"
	"github.com/ouisync/ouisync/pkg/reconciler"
	"github.com/ouisync/ouisync/pkg/types"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

// anyKind tells loadOrMirrorEntry to accept whichever Kind resolution
// finds, used by operations (Remove, MoveEntry) that work on files and
// directories alike.
const anyKind = objects.Kind(-1)

// CurrentSchemaVersion is the on-disk metadata layout version Open
// requires (exported so cmd/ouisync-migrate can check a repository's
// version without duplicating it).
const CurrentSchemaVersion uint32 = 1

var (
	bucketMetadata   = []byte("metadata")
	keySchemaVersion = []byte("schema_version")
	keyBlindID       = []byte("blind_id")
	keySigningKey    = []byte("signing_key")
)

// Options tunes a Repository's runtime behavior. It is deliberately
// self-contained rather than depending on pkg/config, so pkg/config can
// build one of these from a parsed on-disk configuration without
// creating an import cycle.
type Options struct {
	// BlockCacheBytes is the byte budget for the in-memory LRU block
	// cache. Zero disables the cache: every Get goes straight to bbolt.
	BlockCacheBytes int64
	// GCInterval is how often the background garbage collector sweeps
	// unreferenced blocks. Zero disables background GC.
	GCInterval time.Duration
}

// DefaultOptions returns the options a repository is opened with when
// the caller doesn't care to tune them.
func DefaultOptions() Options {
	return Options{
		BlockCacheBytes: 64 * 1024 * 1024,
		GCInterval:      10 * time.Minute,
	}
}

// Repository is the public façade over one repository's storage, index,
// branches, and reconciliation state (spec.md §4.9). It owns the single
// bbolt file the blocks, index_nodes, branches, and metadata buckets all
// share.
type Repository struct {
	id      types.RepositoryId
	secrets access.Secrets

	db         *bolt.DB
	blocks     block.Store
	tree       *index.Tree
	branches   *branch.Store
	locks      *branch.WriteLocks
	local      *branch.Local
	resolver   *objects.Resolver
	reconciler *reconciler.Reconciler
	events     *events.Broker

	logger zerolog.Logger

	gcStop    chan struct{}
	closeOnce sync.Once
}

// Create mints a new repository at storePath under secrets, which must
// hold at least a write_key (spec.md §4.9: create(store_path, secrets)
// -> RepositoryId). The repository's id is derived deterministically
// from the write_key, so every peer that later imports the same key
// agrees on it without ever exchanging it.
func Create(storePath string, secrets access.Secrets) (types.RepositoryId, error) {
	writeKey, ok := secrets.WriteKey()
	if !ok {
		return types.RepositoryId{}, ErrPermissionDenied
	}
	id := types.RepositoryIdFromHash(crypto.RepositoryID(writeKey))

	if err := os.MkdirAll(storePath, 0o700); err != nil {
		return types.RepositoryId{}, wrapStoreErr("create", err)
	}

	path := dbPath(storePath, id)
	if _, err := os.Stat(path); err == nil {
		return types.RepositoryId{}, ErrEntryExists
	} else if !os.IsNotExist(err) {
		return types.RepositoryId{}, wrapStoreErr("create", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return types.RepositoryId{}, wrapStoreErr("create", err)
	}
	defer db.Close()

	if _, err := block.Open(db); err != nil {
		return types.RepositoryId{}, wrapStoreErr("create", err)
	}
	if _, err := index.Open(db); err != nil {
		return types.RepositoryId{}, wrapStoreErr("create", err)
	}
	if _, err := branch.Open(db); err != nil {
		return types.RepositoryId{}, wrapStoreErr("create", err)
	}
	if err := initMetadata(db, secrets.BlindID()); err != nil {
		return types.RepositoryId{}, wrapStoreErr("create", err)
	}

	return id, nil
}

// Open opens a previously created repository (spec.md §4.9: open
// fails with PermissionDenied if secrets don't match, StorageVersionMismatch
// if the database format is from a newer release).
func Open(storePath string, id types.RepositoryId, secrets access.Secrets, opts Options) (*Repository, error) {
	path := dbPath(storePath, id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, ErrEntryNotFound
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, wrapStoreErr("open", err)
	}

	if err := checkMetadata(db, secrets.BlindID()); err != nil {
		db.Close()
		return nil, err
	}

	boltBlocks, err := block.Open(db)
	if err != nil {
		db.Close()
		return nil, wrapStoreErr("open", err)
	}
	var blocks block.Store = boltBlocks
	if opts.BlockCacheBytes > 0 {
		cached, err := block.NewCachedStore(blocks, opts.BlockCacheBytes)
		if err != nil {
			db.Close()
			return nil, wrapStoreErr("open", err)
		}
		blocks = cached
	}

	tree, err := index.Open(db)
	if err != nil {
		db.Close()
		return nil, wrapStoreErr("open", err)
	}

	branches, err := branch.Open(db)
	if err != nil {
		db.Close()
		return nil, wrapStoreErr("open", err)
	}

	readKey, _ := secrets.ReadKey()
	broker := events.NewBroker()

	repo := &Repository{
		id:         id,
		secrets:    secrets,
		db:         db,
		blocks:     blocks,
		tree:       tree,
		branches:   branches,
		locks:      branch.NewWriteLocks(),
		resolver:   objects.NewResolver(blocks, tree, readKey),
		reconciler: reconciler.NewReconciler(tree, blocks, branches, secrets),
		events:     broker,
		logger:     log.WithRepository(id.String()),
		gcStop:     make(chan struct{}),
	}

	repo.reconciler.OnMerged(func(peer types.UserId) {
		broker.Publish(&events.Event{
			Type:     events.EventBranchChanged,
			Message:  "peer root merged",
			Metadata: map[string]string{"peer": peer.String()},
		})
	})

	if secrets.Mode() == access.Write {
		signingKey, err := loadOrCreateSigningKey(db, readKey)
		if err != nil {
			db.Close()
			return nil, err
		}
		repo.local = branch.NewLocal(branches, tree, signingKey, repo.locks)
	}

	broker.Start()
	repo.reconciler.Start()
	metrics.RepositoriesOpenTotal.Inc()

	if opts.GCInterval > 0 {
		go repo.runGC(opts.GCInterval)
	}

	return repo, nil
}

// Close releases every resource this repository holds. It is safe to
// call more than once.
func (r *Repository) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.gcStop)
		r.reconciler.Stop()
		r.events.Stop()
		metrics.RepositoriesOpenTotal.Dec()
		err = r.db.Close()
	})
	return err
}

// ID is this repository's RepositoryId.
func (r *Repository) ID() types.RepositoryId { return r.id }

// Reconciler exposes the pull engine so a syncproto session can feed it
// announced roots and fetch callbacks.
func (r *Repository) Reconciler() *reconciler.Reconciler { return r.reconciler }

func dbPath(storePath string, id types.RepositoryId) string {
	return filepath.Join(storePath, id.String()+".db")
}

// withMetadataLock brackets a metadata-bucket access with spec.md §5's
// per_repo_metadata level: the third rung of the total lock order, taken
// after repository_map (pkg/session) and before per_branch_write.
func withMetadataLock(fn func() error) error {
	lockorder.Acquire(lockorder.PerRepoMetadata)
	defer lockorder.Release(lockorder.PerRepoMetadata)
	return fn()
}

func initMetadata(db *bolt.DB, blindID crypto.Hash) error {
	return withMetadataLock(func() error {
		return db.Update(func(tx *bolt.Tx) error {
			b, err := tx.CreateBucketIfNotExists(bucketMetadata)
			if err != nil {
				return err
			}
			var v [4]byte
			binary.BigEndian.PutUint32(v[:], CurrentSchemaVersion)
			if err := b.Put(keySchemaVersion, v[:]); err != nil {
				return err
			}
			return b.Put(keyBlindID, blindID.Bytes())
		})
	})
}

func checkMetadata(db *bolt.DB, blindID crypto.Hash) error {
	return withMetadataLock(func() error {
		return db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketMetadata)
			if b == nil {
				return ErrStorageVersionMismatch
			}
			v := b.Get(keySchemaVersion)
			if v == nil || binary.BigEndian.Uint32(v) != CurrentSchemaVersion {
				return ErrStorageVersionMismatch
			}
			stored := b.Get(keyBlindID)
			if stored == nil || !bytes.Equal(stored, blindID.Bytes()) {
				return ErrPermissionDenied
			}
			return nil
		})
	})
}

// loadOrCreateSigningKey decrypts a previously persisted signing key
// seed, or mints and persists a fresh one on first open at Write mode.
// The seed is encrypted under read_key (not write_key). Open loads it
// only at Write mode, but the encryption itself does not keep it from
// anyone else who holds read_key and the database file.
func loadOrCreateSigningKey(db *bolt.DB, readKey crypto.SecretKey) (crypto.SigningKey, error) {
	var seed []byte
	err := withMetadataLock(func() error {
		return db.View(func(tx *bolt.Tx) error {
			v := tx.Bucket(bucketMetadata).Get(keySigningKey)
			if v == nil {
				return nil
			}
			if len(v) < crypto.NonceSize {
				return ErrMalformedData
			}
			var nonce crypto.Nonce
			copy(nonce[:], v[:crypto.NonceSize])
			plaintext, err := crypto.Decrypt(readKey, nonce, v[crypto.NonceSize:])
			if err != nil {
				return fmt.Errorf("%w: %v", ErrMalformedData, err)
			}
			seed = plaintext
			return nil
		})
	})
	if err != nil {
		return crypto.SigningKey{}, err
	}
	if seed != nil {
		return crypto.SigningKeyFromSeed(seed)
	}

	key, err := crypto.NewSigningKey()
	if err != nil {
		return crypto.SigningKey{}, wrapStoreErr("open", err)
	}

	var nonce crypto.Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return crypto.SigningKey{}, wrapStoreErr("open", err)
	}
	ciphertext, err := crypto.Encrypt(readKey, nonce, key.Seed())
	if err != nil {
		return crypto.SigningKey{}, wrapStoreErr("open", err)
	}

	err = withMetadataLock(func() error {
		return db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketMetadata).Put(keySigningKey, append(nonce[:], ciphertext...))
		})
	})
	if err != nil {
		return crypto.SigningKey{}, wrapStoreErr("open", err)
	}
	return key, nil
}

func (r *Repository) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			timer := metrics.NewTimer()
			removed, err := r.blocks.GarbageCollect()
			timer.ObserveDuration(metrics.GCDuration)
			if err != nil {
				r.logger.Warn().Err(err).Msg("garbage collection failed")
				continue
			}
			if removed > 0 {
				metrics.GCBlocksRemovedTotal.Add(float64(removed))
				r.logger.Debug().Int("removed", removed).Msg("garbage collection swept blocks")
			}
		case <-r.gcStop:
			return
		}
	}
}

// branchRoots builds the merged-view root map every path resolution
// starts from: every branch this repository has ever accepted a root
// for, plus the local branch's current root (even before its first
// write, since index.Tree treats a zero hash as an empty tree).
func (r *Repository) branchRoots() (map[types.UserId]crypto.Hash, error) {
	list, err := r.branches.List()
	if err != nil {
		return nil, wrapStoreErr("branch_roots", err)
	}
	roots := make(map[types.UserId]crypto.Hash, len(list)+1)
	for _, root := range list {
		roots[root.UserID] = root.Hash
	}
	if r.local != nil {
		current, err := r.local.Current()
		if err != nil {
			return nil, wrapStoreErr("branch_roots", err)
		}
		roots[r.local.UserID()] = current.Hash
	}
	return roots, nil
}

// resolveMerged is branchRoots plus Resolve, overriding the local
// branch's root with localRoot: the index root threaded through an
// in-progress Mutate closure, so a later path component in the same
// transaction sees content this same write already mirrored in.
func (r *Repository) resolveMerged(localRoot crypto.Hash, path []string) (objects.Entry, types.UserId, *objects.MultiDir, error) {
	roots, err := r.branchRoots()
	if err != nil {
		return objects.Entry{}, types.UserId{}, nil, err
	}
	roots[r.local.UserID()] = localRoot
	return r.resolver.Resolve(roots, path)
}

// nextVV is the VersionVector the local branch's root will carry once
// the in-progress Mutate finishes (branch.Local.Mutate computes the same
// value internally once change returns). Entries touched by this
// mutation are stamped with it too: spec.md §4.6 gives each entry its
// own VersionVector so that per-entry forks are detected independently
// of the rest of the directory tree, and the natural value to stamp a
// just-written entry with is the writer's own version as of this write,
// i.e. the same counter the enclosing root is about to carry.
func (r *Repository) nextVV() (types.VersionVector, error) {
	current, err := r.local.Current()
	if err != nil {
		return nil, wrapStoreErr("next_vv", err)
	}
	return current.VV.Incr(r.local.UserID()), nil
}

func randomHash() (crypto.Hash, error) {
	var b [crypto.HashSize]byte
	if _, err := rand.Read(b[:]); err != nil {
		return crypto.Hash{}, err
	}
	return crypto.Hash(b), nil
}

// mirrorEntry copies entry's content, unchanged (same Kind and RootID),
// from the branch that currently owns the merged view into the local
// branch's own index, so a subsequent local write can proceed against it
// (spec.md §9's copy-on-write decision for a path that resolves to
// someone else's branch). Locators are derived purely from RootID, so
// reusing the same RootID means the copied blocks re-encrypt to
// identical ciphertext; Put's idempotent dedup turns this into an index
// update with no actual data duplication.
func (r *Repository) mirrorEntry(localRoot crypto.Hash, entry objects.Entry, sourceUser types.UserId, sourceRoot crypto.Hash, readKey crypto.SecretKey) (crypto.Hash, error) {
	switch entry.Kind {
	case objects.KindDirectory:
		return r.mirrorDirectory(localRoot, sourceUser, sourceRoot, entry.RootID, readKey)
	case objects.KindFile:
		return r.mirrorFile(localRoot, sourceUser, sourceRoot, entry.RootID, readKey)
	default:
		return localRoot, nil
	}
}

func (r *Repository) mirrorDirectory(localRoot crypto.Hash, sourceUser types.UserId, sourceRoot, rootID crypto.Hash, readKey crypto.SecretKey) (crypto.Hash, error) {
	src := objects.NewDirectory(r.blocks, r.tree, readKey, sourceUser, rootID)
	entries, err := src.Load(sourceRoot)
	if err != nil {
		return crypto.Hash{}, err
	}
	dst := objects.NewDirectory(r.blocks, r.tree, readKey, r.local.UserID(), rootID)
	return dst.Replace(localRoot, entries)
}

func (r *Repository) mirrorFile(localRoot crypto.Hash, sourceUser types.UserId, sourceRoot, rootID crypto.Hash, readKey crypto.SecretKey) (crypto.Hash, error) {
	src := objects.NewFile(r.blocks, r.tree, readKey, sourceUser, rootID)
	size, err := src.Size(sourceRoot)
	if err != nil {
		return crypto.Hash{}, err
	}
	data, err := src.ReadAt(sourceRoot, 0, int(size))
	if err != nil {
		return crypto.Hash{}, err
	}

	dst := objects.NewFile(r.blocks, r.tree, readKey, r.local.UserID(), rootID)
	root, err := dst.Truncate(localRoot, 0)
	if err != nil {
		return crypto.Hash{}, err
	}
	if len(data) == 0 {
		return root, nil
	}
	return dst.WriteAt(root, 0, data)
}

// reclaim unreferences every block under entry, used when a recursive
// Remove drops a subtree: without this, files nested under a removed
// directory would stay forever reachable from the reverse index and
// garbage collection could never free them.
func (r *Repository) reclaim(indexRoot crypto.Hash, entry objects.Entry, readKey crypto.SecretKey) (crypto.Hash, error) {
	switch entry.Kind {
	case objects.KindFile:
		file := objects.NewFile(r.blocks, r.tree, readKey, r.local.UserID(), entry.RootID)
		return file.Truncate(indexRoot, 0)
	case objects.KindDirectory:
		dir := objects.NewDirectory(r.blocks, r.tree, readKey, r.local.UserID(), entry.RootID)
		entries, err := dir.Load(indexRoot)
		if err != nil {
			return crypto.Hash{}, err
		}
		root := indexRoot
		for _, child := range entries {
			if !child.IsLive() {
				continue
			}
			root, err = r.reclaim(root, child, readKey)
			if err != nil {
				return crypto.Hash{}, err
			}
		}
		return dir.Clear(root)
	default:
		return indexRoot, nil
	}
}

// descendParent walks parentPath inside the local branch starting from
// root, mirroring in any directory along the way that this branch
// hasn't locally written to yet, and returns the (possibly advanced)
// local root plus the RootID seed of the final parent directory.
// Parent directories are never auto-created: a missing one is
// ErrEntryNotFound (spec.md §4.9's create_file/create_directory do not
// imply mkdir -p).
func (r *Repository) descendParent(root crypto.Hash, parentPath []string, readKey crypto.SecretKey) (crypto.Hash, crypto.Hash, error) {
	seed := objects.RootDirectoryID

	for i, name := range parentPath {
		dir := objects.NewDirectory(r.blocks, r.tree, readKey, r.local.UserID(), seed)

		newRoot, entry, err := r.loadOrMirrorEntry(root, dir, parentPath[:i], name, readKey, objects.KindDirectory)
		if err != nil {
			return crypto.Hash{}, crypto.Hash{}, err
		}
		root = newRoot
		seed = entry.RootID
	}
	return root, seed, nil
}

// loadOrMirrorEntry returns name's entry out of dir at root, mirroring
// it in from whichever branch currently wins the merged view at
// parentPath/name if the local branch hasn't recorded it yet. wantKind
// rejects a resolved entry of the wrong kind with ErrInvalidArgument
// (anyKind accepts either File or Directory, for operations like Remove
// and MoveEntry that work on both).
func (r *Repository) loadOrMirrorEntry(root crypto.Hash, dir *objects.Directory, parentPath []string, name string, readKey crypto.SecretKey, wantKind objects.Kind) (crypto.Hash, objects.Entry, error) {
	entries, err := dir.Load(root)
	if err != nil {
		return crypto.Hash{}, objects.Entry{}, err
	}

	if entry, ok := entries[name]; ok && entry.IsLive() {
		if wantKind != anyKind && entry.Kind != wantKind {
			return root, objects.Entry{}, ErrInvalidArgument
		}
		return root, entry, nil
	}

	fullPath := make([]string, len(parentPath)+1)
	copy(fullPath, parentPath)
	fullPath[len(parentPath)] = name

	mirrored, owner, _, err := r.resolveMerged(root, fullPath)
	if err != nil {
		return crypto.Hash{}, objects.Entry{}, err
	}
	if wantKind != anyKind && mirrored.Kind != wantKind {
		return crypto.Hash{}, objects.Entry{}, ErrInvalidArgument
	}

	ownerRoots, err := r.branchRoots()
	if err != nil {
		return crypto.Hash{}, objects.Entry{}, err
	}
	ownerRoots[r.local.UserID()] = root
	root, err = r.mirrorEntry(root, mirrored, owner, ownerRoots[owner], readKey)
	if err != nil {
		return crypto.Hash{}, objects.Entry{}, err
	}
	return root, mirrored, nil
}

// mutate runs change as one local branch Mutate, records the operation
// in ouisync_mutations_total, and publishes a BranchChanged event on
// success.
func (r *Repository) mutate(op string, change func(crypto.Hash) (crypto.Hash, error)) error {
	_, err := r.local.Mutate(change)
	if err != nil {
		metrics.MutationsTotal.WithLabelValues(op, "error").Inc()
		return wrapMutationErr(err)
	}
	metrics.MutationsTotal.WithLabelValues(op, "ok").Inc()
	r.events.Publish(&events.Event{
		Type:     events.EventBranchChanged,
		Message:  op,
		Metadata: map[string]string{"branch": r.local.UserID().String()},
	})
	return nil
}

func (r *Repository) publishBlockWritten(rootID crypto.Hash, path []string) {
	r.events.Publish(&events.Event{
		Type:    events.EventBlockWritten,
		Message: "block written",
		Metadata: map[string]string{
			"locator": hex.EncodeToString(rootID.Bytes()),
			"path":    joinPath(path),
		},
	})
}

func joinPath(path []string) string {
	var b bytes.Buffer
	for _, p := range path {
		b.WriteByte('/')
		b.WriteString(p)
	}
	return b.String()
}

// wrapMutationErr passes the façade's own sentinel errors through
// unwrapped so callers can keep using errors.Is against them, and
// normalizes everything else (bbolt, block, index I/O failures) to
// ErrStore.
func wrapMutationErr(err error) error {
	for _, sentinel := range []error{
		ErrEntryExists, ErrEntryNotFound, ErrAmbiguousEntry,
		ErrInvalidArgument, ErrPermissionDenied, ErrDirectoryNotEmpty,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return wrapStoreErr("mutate", err)
}

// ReadFile reads up to length bytes of path's content starting at
// offset, resolved against the merged view of every known branch.
func (r *Repository) ReadFile(path []string, offset uint64, length int) ([]byte, error) {
	if err := r.secrets.Require(access.Read); err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return nil, ErrInvalidArgument
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReadFileDuration)

	readKey, _ := r.secrets.ReadKey()
	roots, err := r.branchRoots()
	if err != nil {
		return nil, err
	}

	entry, owner, _, err := r.resolver.Resolve(roots, path)
	if err != nil {
		return nil, err
	}
	if entry.Kind != objects.KindFile {
		return nil, ErrInvalidArgument
	}

	file := objects.NewFile(r.blocks, r.tree, readKey, owner, entry.RootID)
	data, err := file.ReadAt(roots[owner], offset, length)
	if err != nil {
		return nil, wrapStoreErr("read_file", err)
	}
	return data, nil
}

// ListDirectory returns the merged, live entries named directly under
// path (the repository's top-level directory for an empty path). Unlike
// ReadFile/write operations, which surface AmbiguousEntry on a genuine
// fork, this picks whichever entry's VersionVector currently dominates
// per name, for a best-effort listing convenient for a shell-style `ls`.
func (r *Repository) ListDirectory(path []string) (map[string]objects.Entry, error) {
	if err := r.secrets.Require(access.Read); err != nil {
		return nil, err
	}
	readKey, _ := r.secrets.ReadKey()
	roots, err := r.branchRoots()
	if err != nil {
		return nil, err
	}

	seed := objects.RootDirectoryID
	if len(path) > 0 {
		entry, _, _, err := r.resolver.Resolve(roots, path)
		if err != nil {
			return nil, err
		}
		if entry.Kind != objects.KindDirectory {
			return nil, ErrInvalidArgument
		}
		seed = entry.RootID
	}

	out := map[string]objects.Entry{}
	for user, root := range roots {
		dir := objects.NewDirectory(r.blocks, r.tree, readKey, user, seed)
		entries, err := dir.Load(root)
		if err != nil {
			return nil, wrapStoreErr("list_directory", err)
		}
		for name, e := range entries {
			if !e.IsLive() {
				continue
			}
			existing, ok := out[name]
			if !ok || e.VV.Compare(existing.VV) == types.After {
				out[name] = e
			}
		}
	}
	return out, nil
}

// CreateFile creates an empty file at path. The parent directory must
// already exist (locally or in the merged view); it is never implicitly
// created.
func (r *Repository) CreateFile(path []string) error {
	return r.createEntry(path, objects.KindFile)
}

// CreateDirectory creates an empty directory at path.
func (r *Repository) CreateDirectory(path []string) error {
	return r.createEntry(path, objects.KindDirectory)
}

func (r *Repository) createEntry(path []string, kind objects.Kind) error {
	if err := r.secrets.Require(access.Write); err != nil {
		return err
	}
	if len(path) == 0 {
		return ErrInvalidArgument
	}
	readKey, _ := r.secrets.ReadKey()
	name := path[len(path)-1]
	parentPath := path[:len(path)-1]

	op := "create_file"
	if kind == objects.KindDirectory {
		op = "create_directory"
	}

	var rootID crypto.Hash
	err := r.mutate(op, func(root crypto.Hash) (crypto.Hash, error) {
		root, parentSeed, err := r.descendParent(root, parentPath, readKey)
		if err != nil {
			return crypto.Hash{}, err
		}

		dir := objects.NewDirectory(r.blocks, r.tree, readKey, r.local.UserID(), parentSeed)
		entries, err := dir.Load(root)
		if err != nil {
			return crypto.Hash{}, err
		}
		if existing, ok := entries[name]; ok && existing.IsLive() {
			return crypto.Hash{}, ErrEntryExists
		}

		vv, err := r.nextVV()
		if err != nil {
			return crypto.Hash{}, err
		}
		seed, err := randomHash()
		if err != nil {
			return crypto.Hash{}, wrapStoreErr(op, err)
		}
		rootID = seed

		return dir.Insert(root, name, objects.Entry{Kind: kind, RootID: seed, VV: vv})
	})
	if err != nil {
		return err
	}
	if kind == objects.KindFile {
		r.publishBlockWritten(rootID, path)
	}
	return nil
}

// WriteFile writes data at offset into path, growing it if needed. The
// first local write to a file that only exists in another branch's view
// copies that branch's current content in first (spec.md §9's
// copy-on-write), then applies this write on top of it.
func (r *Repository) WriteFile(path []string, offset uint64, data []byte) error {
	if err := r.secrets.Require(access.Write); err != nil {
		return err
	}
	if len(path) == 0 {
		return ErrInvalidArgument
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.WriteFileDuration)

	readKey, _ := r.secrets.ReadKey()
	name := path[len(path)-1]
	parentPath := path[:len(path)-1]

	var rootID crypto.Hash
	err := r.mutate("write_file", func(root crypto.Hash) (crypto.Hash, error) {
		root, parentSeed, err := r.descendParent(root, parentPath, readKey)
		if err != nil {
			return crypto.Hash{}, err
		}
		dir := objects.NewDirectory(r.blocks, r.tree, readKey, r.local.UserID(), parentSeed)

		root, entry, err := r.loadOrMirrorEntry(root, dir, parentPath, name, readKey, objects.KindFile)
		if err != nil {
			return crypto.Hash{}, err
		}

		vv, err := r.nextVV()
		if err != nil {
			return crypto.Hash{}, err
		}
		entry.VV = vv
		rootID = entry.RootID

		file := objects.NewFile(r.blocks, r.tree, readKey, r.local.UserID(), entry.RootID)
		root, err = file.WriteAt(root, offset, data)
		if err != nil {
			return crypto.Hash{}, err
		}
		return dir.Insert(root, name, entry)
	})
	if err != nil {
		return err
	}
	r.publishBlockWritten(rootID, path)
	return nil
}

// Truncate drops path to size, discarding trailing blocks.
func (r *Repository) Truncate(path []string, size uint64) error {
	if err := r.secrets.Require(access.Write); err != nil {
		return err
	}
	if len(path) == 0 {
		return ErrInvalidArgument
	}

	readKey, _ := r.secrets.ReadKey()
	name := path[len(path)-1]
	parentPath := path[:len(path)-1]

	var rootID crypto.Hash
	err := r.mutate("truncate", func(root crypto.Hash) (crypto.Hash, error) {
		root, parentSeed, err := r.descendParent(root, parentPath, readKey)
		if err != nil {
			return crypto.Hash{}, err
		}
		dir := objects.NewDirectory(r.blocks, r.tree, readKey, r.local.UserID(), parentSeed)

		root, entry, err := r.loadOrMirrorEntry(root, dir, parentPath, name, readKey, objects.KindFile)
		if err != nil {
			return crypto.Hash{}, err
		}

		vv, err := r.nextVV()
		if err != nil {
			return crypto.Hash{}, err
		}
		entry.VV = vv
		rootID = entry.RootID

		file := objects.NewFile(r.blocks, r.tree, readKey, r.local.UserID(), entry.RootID)
		root, err = file.Truncate(root, size)
		if err != nil {
			return crypto.Hash{}, err
		}
		return dir.Insert(root, name, entry)
	})
	if err != nil {
		return err
	}
	r.publishBlockWritten(rootID, path)
	return nil
}

// Remove deletes path, replacing its slot with a Tombstone so the
// deletion's VersionVector survives merge (spec.md §4.6: "Tombstones
// dominate nothing by age; they participate in VV comparison like any
// other entry"). A non-empty directory requires recursive, in which
// case every block beneath it is also reclaimed so garbage collection
// can free them.
func (r *Repository) Remove(path []string, recursive bool) error {
	if err := r.secrets.Require(access.Write); err != nil {
		return err
	}
	if len(path) == 0 {
		return ErrInvalidArgument
	}

	readKey, _ := r.secrets.ReadKey()
	name := path[len(path)-1]
	parentPath := path[:len(path)-1]

	return r.mutate("remove", func(root crypto.Hash) (crypto.Hash, error) {
		root, parentSeed, err := r.descendParent(root, parentPath, readKey)
		if err != nil {
			return crypto.Hash{}, err
		}
		dir := objects.NewDirectory(r.blocks, r.tree, readKey, r.local.UserID(), parentSeed)

		root, entry, err := r.loadOrMirrorEntry(root, dir, parentPath, name, readKey, anyKind)
		if err != nil {
			return crypto.Hash{}, err
		}

		if entry.Kind == objects.KindDirectory {
			childDir := objects.NewDirectory(r.blocks, r.tree, readKey, r.local.UserID(), entry.RootID)
			children, err := childDir.Load(root)
			if err != nil {
				return crypto.Hash{}, err
			}
			hasLive := false
			for _, child := range children {
				if child.IsLive() {
					hasLive = true
					break
				}
			}
			if hasLive && !recursive {
				return crypto.Hash{}, ErrDirectoryNotEmpty
			}
			if hasLive {
				root, err = r.reclaim(root, entry, readKey)
				if err != nil {
					return crypto.Hash{}, err
				}
			}
		} else {
			root, err = r.reclaim(root, entry, readKey)
			if err != nil {
				return crypto.Hash{}, err
			}
		}

		vv, err := r.nextVV()
		if err != nil {
			return crypto.Hash{}, err
		}
		return dir.Insert(root, name, objects.Entry{Kind: objects.KindTombstone, VV: vv})
	})
}

// MoveEntry moves the entry at src to dst, preserving its content
// (Kind, RootID) but bumping its VersionVector, and leaves a Tombstone
// at src. Moving an entry that only exists in another branch's merged
// view mirrors it locally first, the same copy-on-write path ordinary
// writes take (spec.md §9 decision: move_entry copies into the local
// branch rather than rewriting the remote one).
func (r *Repository) MoveEntry(src, dst []string) error {
	if err := r.secrets.Require(access.Write); err != nil {
		return err
	}
	if len(src) == 0 || len(dst) == 0 {
		return ErrInvalidArgument
	}

	readKey, _ := r.secrets.ReadKey()
	srcName := src[len(src)-1]
	srcParentPath := src[:len(src)-1]
	dstName := dst[len(dst)-1]
	dstParentPath := dst[:len(dst)-1]

	return r.mutate("move_entry", func(root crypto.Hash) (crypto.Hash, error) {
		root, srcParentSeed, err := r.descendParent(root, srcParentPath, readKey)
		if err != nil {
			return crypto.Hash{}, err
		}
		srcDir := objects.NewDirectory(r.blocks, r.tree, readKey, r.local.UserID(), srcParentSeed)

		root, entry, err := r.loadOrMirrorEntry(root, srcDir, srcParentPath, srcName, readKey, anyKind)
		if err != nil {
			return crypto.Hash{}, err
		}

		root, dstParentSeed, err := r.descendParent(root, dstParentPath, readKey)
		if err != nil {
			return crypto.Hash{}, err
		}
		dstDir := objects.NewDirectory(r.blocks, r.tree, readKey, r.local.UserID(), dstParentSeed)

		dstEntries, err := dstDir.Load(root)
		if err != nil {
			return crypto.Hash{}, err
		}
		if existing, ok := dstEntries[dstName]; ok && existing.IsLive() {
			return crypto.Hash{}, ErrEntryExists
		}

		vv, err := r.nextVV()
		if err != nil {
			return crypto.Hash{}, err
		}
		moved := entry
		moved.VV = vv

		root, err = dstDir.Insert(root, dstName, moved)
		if err != nil {
			return crypto.Hash{}, err
		}
		return srcDir.Insert(root, srcName, objects.Entry{Kind: objects.KindTombstone, VV: vv})
	})
}

// CreateShareToken mints a Token granting mode, derived from whichever
// secrets this repository was opened with. mode cannot exceed the
// opening mode: a Read-mode handle can only ever hand out Read or Blind
// tokens.
func (r *Repository) CreateShareToken(mode access.Mode) (access.Token, error) {
	token, err := r.ownToken().Derive(mode)
	if err != nil {
		return access.Token{}, ErrPermissionDenied
	}
	return token, nil
}

func (r *Repository) ownToken() access.Token {
	if writeKey, ok := r.secrets.WriteKey(); ok {
		return access.NewWriteToken(r.id, writeKey)
	}
	if readKey, ok := r.secrets.ReadKey(); ok {
		return access.Token{Repository: r.id, Mode: access.Read, Key: readKey}
	}
	blindKey, _ := crypto.SecretKeyFromBytes(r.secrets.BlindID().Bytes())
	return access.Token{Repository: r.id, Mode: access.Blind, Key: blindKey}
}

// SubscribeEvents returns a channel delivering every BlockWritten,
// BranchChanged, and PeerSetChanged notification this repository
// publishes (spec.md §4.9).
func (r *Repository) SubscribeEvents() events.Subscriber {
	return r.events.Subscribe()
}

// UnsubscribeEvents stops delivery to a channel returned by
// SubscribeEvents.
func (r *Repository) UnsubscribeEvents(sub events.Subscriber) {
	r.events.Unsubscribe(sub)
}
