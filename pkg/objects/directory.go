package objects

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/block"
	"github.com/ouisync/ouisync/pkg/index"
	"github.com/ouisync/ouisync/pkg/types"
)

// ErrMalformedDirectory is returned when a directory blob's bytes don't
// decode as a canonical entry map.
var ErrMalformedDirectory = errors.New("objects: malformed directory")

// Directory is a block-list blob whose plaintext is a canonical, name-
// sorted serialization of its entry map (spec.md §4.5). Mutations
// (Insert, Remove, Rename) rewrite the whole map atomically within
// one index update; an empty directory still occupies block 0 so its
// presence is never confused with absence.
type Directory struct {
	blob *Blob
}

// NewDirectory wires a Directory over rootID.
func NewDirectory(store block.Store, tree *index.Tree, readKey crypto.SecretKey, branch types.UserId, rootID crypto.Hash) *Directory {
	return &Directory{blob: NewBlob(store, tree, readKey, branch, rootID)}
}

// Load decodes the full entry map at indexRoot. A directory that has
// never been written (index root carries nothing at this blob's
// locators) decodes as empty, matching "empty directories are
// represented by a one-block serialized empty map, not by absence" for a
// directory that exists but whose creation write hasn't landed yet.
func (d *Directory) Load(indexRoot crypto.Hash) (map[string]Entry, error) {
	size, err := d.blob.Size(indexRoot)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return map[string]Entry{}, nil
	}
	data, err := d.blob.ReadAt(indexRoot, 0, int(size))
	if err != nil {
		return nil, err
	}
	return decodeEntries(data)
}

// save canonically re-serializes entries (sorted by name) and writes the
// whole map back, truncating any stale tail from a previously larger map.
func (d *Directory) save(indexRoot crypto.Hash, entries map[string]Entry) (crypto.Hash, error) {
	data := encodeEntries(entries)
	root, err := d.blob.Truncate(indexRoot, 0)
	if err != nil {
		return crypto.Hash{}, err
	}
	return d.blob.WriteAt(root, 0, data)
}

// Insert adds or replaces the entry named name.
func (d *Directory) Insert(indexRoot crypto.Hash, name string, entry Entry) (crypto.Hash, error) {
	entries, err := d.Load(indexRoot)
	if err != nil {
		return crypto.Hash{}, err
	}
	entries[name] = entry
	return d.save(indexRoot, entries)
}

// Replace atomically rewrites the whole entry map. Used when mirroring a
// directory's content verbatim into another branch under the same
// RootID: identical plaintext re-encrypts to identical ciphertext at
// identical locators (same rootID, same block index), so this is a
// no-op at the block-store level beyond recording the new branch's
// reference and index mapping.
func (d *Directory) Replace(indexRoot crypto.Hash, entries map[string]Entry) (crypto.Hash, error) {
	return d.save(indexRoot, entries)
}

// Clear truncates this directory's own blob to empty, releasing every
// block it held. Used when reclaiming a recursively removed directory's
// own entry-map storage, after its children have already been reclaimed.
func (d *Directory) Clear(indexRoot crypto.Hash) (crypto.Hash, error) {
	return d.blob.Truncate(indexRoot, 0)
}

// Remove drops name from the map outright. Callers implementing a
// user-visible delete should Insert a Tombstone instead, so the
// VersionVector of the deletion is preserved for merge (spec.md §4.6);
// Remove is for cases that truly want the slot gone, e.g. collapsing a
// resolved fork.
func (d *Directory) Remove(indexRoot crypto.Hash, name string) (crypto.Hash, error) {
	entries, err := d.Load(indexRoot)
	if err != nil {
		return crypto.Hash{}, err
	}
	delete(entries, name)
	return d.save(indexRoot, entries)
}

// Rename moves the entry at oldName to newName, preserving its Entry
// value (including VersionVector) unchanged.
func (d *Directory) Rename(indexRoot crypto.Hash, oldName, newName string) (crypto.Hash, error) {
	entries, err := d.Load(indexRoot)
	if err != nil {
		return crypto.Hash{}, err
	}
	entry, ok := entries[oldName]
	if !ok {
		return crypto.Hash{}, ErrEntryNotFound
	}
	delete(entries, oldName)
	entries[newName] = entry
	return d.save(indexRoot, entries)
}

// encodeEntries canonically serializes entries sorted by name: for each,
// name length + name bytes, kind byte, root id, VV entry count, then each
// (UserId, counter) pair sorted by UserId.
func encodeEntries(entries map[string]Entry) []byte {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		e := entries[name]

		var nameLen [4]byte
		binary.BigEndian.PutUint32(nameLen[:], uint32(len(name)))
		buf.Write(nameLen[:])
		buf.WriteString(name)

		buf.WriteByte(byte(e.Kind))
		buf.Write(e.RootID.Bytes())

		ids := e.VV.SortedUserIds()
		var count [4]byte
		binary.BigEndian.PutUint32(count[:], uint32(len(ids)))
		buf.Write(count[:])
		for _, u := range ids {
			buf.Write(u[:])
			var cv [8]byte
			binary.BigEndian.PutUint64(cv[:], e.VV[u])
			buf.Write(cv[:])
		}
	}
	return buf.Bytes()
}

func decodeEntries(data []byte) (map[string]Entry, error) {
	entries := map[string]Entry{}
	off := 0
	for off < len(data) {
		if len(data)-off < 4 {
			return nil, ErrMalformedDirectory
		}
		nameLen := int(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		if len(data)-off < nameLen+1+crypto.HashSize+4 {
			return nil, ErrMalformedDirectory
		}
		name := string(data[off : off+nameLen])
		off += nameLen

		kind := Kind(data[off])
		off++
		var rootID crypto.Hash
		copy(rootID[:], data[off:off+crypto.HashSize])
		off += crypto.HashSize

		count := binary.BigEndian.Uint32(data[off : off+4])
		off += 4

		vv := make(types.VersionVector, count)
		for i := uint32(0); i < count; i++ {
			if len(data)-off < types.IDSize+8 {
				return nil, ErrMalformedDirectory
			}
			var u types.UserId
			copy(u[:], data[off:off+types.IDSize])
			off += types.IDSize
			v := binary.BigEndian.Uint64(data[off : off+8])
			off += 8
			vv[u] = v
		}

		entries[name] = Entry{Kind: kind, RootID: rootID, VV: vv}
	}
	return entries, nil
}
