package crypto

import "lukechampine.com/blake3"

// HashSize is the width in bytes of H, BlockId, Locator, UserId and
// RepositoryId.
const HashSize = 32

// Hash is a 256-bit BLAKE3 digest.
type Hash [HashSize]byte

// IsZero reports whether h is the zero hash (used as a sentinel for "no
// parent"/"empty tree" in pkg/index).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) Bytes() []byte {
	return h[:]
}

// H hashes plaintext with unkeyed BLAKE3. It is the content-addressing
// function for blocks (BlockId = H(plaintext)) and the node-hashing
// function for the Merkle index.
func H(data ...[]byte) Hash {
	hasher := blake3.New(HashSize, nil)
	for _, d := range data {
		hasher.Write(d)
	}
	var out Hash
	copy(out[:], hasher.Sum(nil))
	return out
}
