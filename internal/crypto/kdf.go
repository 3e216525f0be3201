package crypto

import "golang.org/x/crypto/argon2"

// Argon2id parameters for passphrase-protected share tokens. These are
// deliberately modest (tokens are decoded interactively, not on a hot
// path) but well above the OWASP-recommended floor for Argon2id.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// DeriveFromPassphrase stretches a passphrase and salt into a 32-byte
// wrapping key, used by pkg/access to protect a share token's mode key at
// rest (spec.md §4.4: "protected by an optional passphrase").
func DeriveFromPassphrase(passphrase string, salt []byte) SecretKey {
	raw := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, HashSize)
	k, _ := SecretKeyFromBytes(raw)
	return k
}
