package repository

import (
	"errors"
	"fmt"

	"github.com/ouisync/ouisync/pkg/access"
	"github.com/ouisync/ouisync/pkg/block"
	"github.com/ouisync/ouisync/pkg/branch"
	"github.com/ouisync/ouisync/pkg/objects"
)

// Error taxonomy for the repository façade (spec.md §7). A handful of
// these wrap sentinels already defined one layer down (access,
// objects, branch, block) rather than re-declaring them, so errors.Is
// against either the façade or the underlying package sentinel works.
var (
	ErrStore                  = errors.New("repository: store error")
	ErrPermissionDenied       = access.ErrPermissionDenied
	ErrMalformedData          = errors.New("repository: malformed data")
	ErrEntryExists            = errors.New("repository: entry already exists")
	ErrEntryNotFound          = objects.ErrEntryNotFound
	ErrAmbiguousEntry         = objects.ErrAmbiguousEntry
	ErrDirectoryNotEmpty      = errors.New("repository: directory not empty")
	ErrOperationNotSupported  = errors.New("repository: operation not supported")
	ErrStorageVersionMismatch = errors.New("repository: storage version mismatch")
	ErrConnectionLost         = errors.New("repository: connection lost")
	ErrCancelled              = errors.New("repository: operation cancelled")
	ErrConfig                 = errors.New("repository: configuration error")
	ErrInvalidArgument        = errors.New("repository: invalid argument")
	ErrOther                  = errors.New("repository: internal error")
)

// wrapStoreErr normalizes a lower-layer storage error (bbolt, block, or
// index I/O failure) into ErrStore, preserving the original error in the
// chain for diagnostics.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, block.ErrCorruption) {
		return fmt.Errorf("%s: %w: %w", op, ErrMalformedData, err)
	}
	if errors.Is(err, branch.ErrRootRejected) {
		return fmt.Errorf("%s: %w: %w", op, ErrMalformedData, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}
