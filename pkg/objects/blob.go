package objects

import (
	"encoding/binary"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/block"
	"github.com/ouisync/ouisync/pkg/index"
	"github.com/ouisync/ouisync/pkg/types"
)

// lengthPrefixSize is the size of the length header stored at the front
// of block 0.
const lengthPrefixSize = 8

// chunkSize is the amount of plaintext payload carried per block once the
// length prefix is accounted for.
const chunkSize = block.PlaintextSize - lengthPrefixSize

// Blob is a byte stream chunked into fixed-size encrypted blocks whose
// ith block's Locator is H(rootID ‖ i) (spec.md §4.5: "a file is stored
// as a logical block list"). Directories are built on the same
// primitive, interpreting the bytes as a serialized entry map rather
// than opaque content.
type Blob struct {
	store   block.Store
	tree    *index.Tree
	readKey crypto.SecretKey
	branch  types.UserId
	rootID  crypto.Hash
}

// NewBlob wires a Blob over a fresh or existing rootID. rootID is
// typically a freshly random Hash minted at creation time (so two files
// created with the same name never collide on Locator) and is recorded
// in the owning Entry.
func NewBlob(store block.Store, tree *index.Tree, readKey crypto.SecretKey, branch types.UserId, rootID crypto.Hash) *Blob {
	return &Blob{store: store, tree: tree, readKey: readKey, branch: branch, rootID: rootID}
}

func (b *Blob) locator(i uint64) types.Locator {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], i)
	return types.LocatorFromHash(crypto.H(b.rootID.Bytes(), idx[:]))
}

func (b *Blob) nonce(locator types.Locator) crypto.Nonce {
	h := crypto.H(locator[:])
	var n crypto.Nonce
	copy(n[:], h.Bytes())
	return n
}

func (b *Blob) readBlock(indexRoot crypto.Hash, i uint64) ([]byte, bool, error) {
	id, ok, err := b.tree.Lookup(indexRoot, b.locator(i))
	if err != nil || !ok {
		return nil, ok, err
	}
	nonce, ciphertext, err := b.store.Get(id)
	if err != nil {
		return nil, false, err
	}
	plaintext, err := crypto.Decrypt(b.readKey, nonce, ciphertext)
	if err != nil {
		return nil, false, err
	}
	return plaintext, true, nil
}

// writeBlock encrypts plaintext (padded to the fixed block size by the
// caller) under this blob's locator i, persists and references it, and
// returns the new index root.
func (b *Blob) writeBlock(indexRoot crypto.Hash, i uint64, plaintext []byte) (crypto.Hash, error) {
	loc := b.locator(i)
	nonce := b.nonce(loc)
	id := types.BlockIdFromHash(crypto.H(plaintext))

	ciphertext, err := crypto.Encrypt(b.readKey, nonce, plaintext)
	if err != nil {
		return crypto.Hash{}, err
	}
	if err := b.store.Put(id, nonce, ciphertext); err != nil {
		return crypto.Hash{}, err
	}
	if err := b.store.Reference(block.Ref{Branch: b.branch, Locator: loc}, id); err != nil {
		return crypto.Hash{}, err
	}
	return b.tree.Insert(indexRoot, loc, id)
}

func (b *Blob) removeBlock(indexRoot crypto.Hash, i uint64) (crypto.Hash, error) {
	loc := b.locator(i)
	if err := b.store.Unreference(block.Ref{Branch: b.branch, Locator: loc}); err != nil {
		return crypto.Hash{}, err
	}
	return b.tree.Remove(indexRoot, loc)
}

// Size reads block 0's length prefix, or 0 if the blob has never been
// written.
func (b *Blob) Size(indexRoot crypto.Hash) (uint64, error) {
	head, ok, err := b.readBlock(indexRoot, 0)
	if err != nil || !ok {
		return 0, err
	}
	return binary.BigEndian.Uint64(head[:lengthPrefixSize]), nil
}

// ReadAt reads length bytes starting at offset. Reads past the end of
// the blob are truncated short, mirroring io.Reader semantics with no
// error on a partial final read.
func (b *Blob) ReadAt(indexRoot crypto.Hash, offset uint64, length int) ([]byte, error) {
	size, err := b.Size(indexRoot)
	if err != nil {
		return nil, err
	}
	if offset >= size {
		return nil, nil
	}
	if offset+uint64(length) > size {
		length = int(size - offset)
	}

	out := make([]byte, 0, length)
	for len(out) < length {
		blockIdx := (offset + uint64(len(out))) / chunkSize
		withinBlock := (offset + uint64(len(out))) % chunkSize

		payload, ok, err := b.readBlock(indexRoot, blockIdx)
		if err != nil {
			return nil, err
		}
		var chunk []byte
		if ok {
			chunk = payload[lengthPrefixSize:]
		} else {
			chunk = make([]byte, chunkSize)
		}

		take := len(chunk) - int(withinBlock)
		if remaining := length - len(out); take > remaining {
			take = remaining
		}
		out = append(out, chunk[withinBlock:withinBlock+uint64(take)]...)
	}
	return out, nil
}

// WriteAt writes data at offset, growing the blob and updating its size
// header if the write extends past the current end. Writes that land
// inside an existing block read-modify-write that single block (spec.md
// §4.5: "writes that straddle block boundaries read, modify, and
// re-encrypt affected blocks").
func (b *Blob) WriteAt(indexRoot crypto.Hash, offset uint64, data []byte) (crypto.Hash, error) {
	size, err := b.Size(indexRoot)
	if err != nil {
		return crypto.Hash{}, err
	}
	newSize := size
	if end := offset + uint64(len(data)); end > newSize {
		newSize = end
	}

	root := indexRoot
	written := 0
	for written < len(data) {
		pos := offset + uint64(written)
		blockIdx := pos / chunkSize
		withinBlock := int(pos % chunkSize)

		payload, err := b.loadOrZeroBlock(root, blockIdx)
		if err != nil {
			return crypto.Hash{}, err
		}
		bodyOff := lengthPrefixSize + withinBlock

		n := copy(payload[bodyOff:], data[written:])
		written += n

		root, err = b.writeBlock(root, blockIdx, payload)
		if err != nil {
			return crypto.Hash{}, err
		}
	}

	return b.setSize(root, newSize)
}

// loadOrZeroBlock returns block i's current full-width payload (creating
// a zero-filled one, with the length prefix reserved on block 0, if it
// doesn't exist yet).
func (b *Blob) loadOrZeroBlock(indexRoot crypto.Hash, i uint64) ([]byte, error) {
	existing, ok, err := b.readBlock(indexRoot, i)
	if err != nil {
		return nil, err
	}
	if ok {
		out := make([]byte, block.PlaintextSize)
		copy(out, existing)
		return out, nil
	}
	return make([]byte, block.PlaintextSize), nil
}

func (b *Blob) setSize(indexRoot crypto.Hash, size uint64) (crypto.Hash, error) {
	head, err := b.loadOrZeroBlock(indexRoot, 0)
	if err != nil {
		return crypto.Hash{}, err
	}
	binary.BigEndian.PutUint64(head[:lengthPrefixSize], size)
	return b.writeBlock(indexRoot, 0, head)
}

// Truncate drops trailing blocks past size and updates the size header
// (spec.md §4.5: "truncation drops trailing blocks from the list and the
// size header").
func (b *Blob) Truncate(indexRoot crypto.Hash, size uint64) (crypto.Hash, error) {
	oldSize, err := b.Size(indexRoot)
	if err != nil {
		return crypto.Hash{}, err
	}
	if size >= oldSize {
		return indexRoot, nil
	}

	root := indexRoot
	lastKept := size / chunkSize
	if size%chunkSize == 0 && size > 0 {
		lastKept--
	}
	oldLast := oldSize / chunkSize
	if oldSize%chunkSize == 0 && oldSize > 0 {
		oldLast--
	}
	for i := oldLast; i > lastKept; i-- {
		root, err = b.removeBlock(root, i)
		if err != nil {
			return crypto.Hash{}, err
		}
	}

	if size == 0 {
		// Size() already reports 0 for a blob with no block 0 (readBlock's
		// not-found case), so truncating to empty just drops the block
		// rather than rewriting it with a zero size header: the index for
		// an empty file has zero entries.
		return b.removeBlock(root, 0)
	}

	// Zero the tail of the last kept block past the new size so a
	// subsequent append never resurrects stale bytes.
	payload, err := b.loadOrZeroBlock(root, lastKept)
	if err != nil {
		return crypto.Hash{}, err
	}
	cut := lengthPrefixSize + int(size%chunkSize)
	if size%chunkSize == 0 && size >= chunkSize {
		cut = len(payload)
	}
	for i := cut; i < len(payload); i++ {
		payload[i] = 0
	}
	root, err = b.writeBlock(root, lastKept, payload)
	if err != nil {
		return crypto.Hash{}, err
	}

	return b.setSize(root, size)
}
