package objects

import (
	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/block"
	"github.com/ouisync/ouisync/pkg/index"
	"github.com/ouisync/ouisync/pkg/types"
)

// File is a block-list blob whose plaintext is opaque file content
// (spec.md §4.5). Every method takes and returns an index root hash:
// callers (pkg/branch's Mutate closures) thread it through and commit
// the final value as the new signed root.
type File struct {
	blob *Blob
}

// NewFile wires a File over rootID, the per-file random seed recorded in
// its owning directory Entry.
func NewFile(store block.Store, tree *index.Tree, readKey crypto.SecretKey, branch types.UserId, rootID crypto.Hash) *File {
	return &File{blob: NewBlob(store, tree, readKey, branch, rootID)}
}

// Size returns the file's current length, re-read from the head block's
// size prefix (spec.md §4.5: "reopening the file re-reads it before
// exposing length").
func (f *File) Size(indexRoot crypto.Hash) (uint64, error) {
	return f.blob.Size(indexRoot)
}

// ReadAt reads up to length bytes starting at offset.
func (f *File) ReadAt(indexRoot crypto.Hash, offset uint64, length int) ([]byte, error) {
	return f.blob.ReadAt(indexRoot, offset, length)
}

// WriteAt writes data at offset, straddling block boundaries as needed.
func (f *File) WriteAt(indexRoot crypto.Hash, offset uint64, data []byte) (crypto.Hash, error) {
	return f.blob.WriteAt(indexRoot, offset, data)
}

// Truncate drops the file to size, discarding trailing blocks.
func (f *File) Truncate(indexRoot crypto.Hash, size uint64) (crypto.Hash, error) {
	return f.blob.Truncate(indexRoot, size)
}
