package crypto

import (
	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the width of the ChaCha20-Poly1305 nonce.
const NonceSize = chacha20poly1305.NonceSize

// Nonce is derived deterministically from a Locator (see pkg/block), never
// randomly: the same logical slot in two replicas must encrypt identical
// plaintext to identical ciphertext (spec.md invariant 5).
type Nonce [NonceSize]byte

// Encrypt seals plaintext under readKey with the given nonce. Called with a
// Locator-derived nonce, encryption is a pure function of
// (read_key, locator, plaintext).
func Encrypt(readKey SecretKey, nonce Nonce, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(readKey.Bytes())
	if err != nil {
		return nil, ErrMalformedKey
	}
	return aead.Seal(nil, nonce[:], plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt. Failure is always
// ErrDecryptFailed: the caller is expected to discard the data and, for
// data received from a peer, penalize that peer rather than retry.
func Decrypt(readKey SecretKey, nonce Nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(readKey.Bytes())
	if err != nil {
		return nil, ErrMalformedKey
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
