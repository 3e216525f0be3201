package crypto

import (
	"crypto/ed25519"
	"fmt"
)

// SigningKey is an Ed25519 keypair. Only a write-mode branch holds one;
// read and blind peers verify against the public half only.
type SigningKey struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// NewSigningKey generates a fresh Ed25519 keypair for a new local branch.
func NewSigningKey() (SigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return SigningKey{}, err
	}
	return SigningKey{public: pub, private: priv}, nil
}

// SigningKeyFromSeed reconstructs a SigningKey from a 32-byte Ed25519
// seed, letting a repository persist its local branch's identity across
// restarts instead of minting a new one on every open.
func SigningKeyFromSeed(seed []byte) (SigningKey, error) {
	if len(seed) != ed25519.SeedSize {
		return SigningKey{}, fmt.Errorf("crypto: signing key seed must be %d bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return SigningKey{public: priv.Public().(ed25519.PublicKey), private: priv}, nil
}

// Seed returns the 32-byte seed this key was generated or reconstructed
// from, for encrypted persistence alongside the repository's metadata.
func (k SigningKey) Seed() []byte {
	return k.private.Seed()
}

// PublicKey returns the UserId-sized public key.
func (k SigningKey) PublicKey() [HashSize]byte {
	var out [HashSize]byte
	copy(out[:], k.public)
	return out
}

// Sign signs msg (the canonical encoding of an index root) with the
// private half of the key.
func (k SigningKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.private, msg)
}

// Verify checks sig against msg under the given UserId (Ed25519 public
// key). Used by every peer, regardless of access mode, to authenticate a
// received index root.
func Verify(userID [HashSize]byte, msg, sig []byte) error {
	if !ed25519.Verify(ed25519.PublicKey(userID[:]), msg, sig) {
		return ErrSignatureInvalid
	}
	return nil
}
