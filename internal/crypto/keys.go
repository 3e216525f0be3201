package crypto

import "crypto/rand"

// Domain-separation strings for H, so that read-key derivation and
// repository-id derivation can never collide even if fed the same bytes.
// Blind-id derivation uses no domain string: it is plain H(read_key).
const (
	domainReadKey      = "ouisync-read-key-v1"
	domainRepositoryID = "ouisync-repository-id-v1"
)

// SecretKey is a 32-byte secret (a write key, a read key, or a derived
// wrapping key) held in memory that is overwritten when Close is called.
// Callers must always `defer key.Close()`.
type SecretKey struct {
	b [HashSize]byte
}

// NewSecretKey generates a fresh random secret key, used as a new
// repository's write_key.
func NewSecretKey() (SecretKey, error) {
	var k SecretKey
	if _, err := rand.Read(k.b[:]); err != nil {
		return SecretKey{}, err
	}
	return k, nil
}

// SecretKeyFromBytes wraps caller-supplied key material (e.g. a value
// recovered from a share token). The slice must be exactly HashSize bytes.
func SecretKeyFromBytes(b []byte) (SecretKey, error) {
	var k SecretKey
	if len(b) != HashSize {
		return SecretKey{}, ErrMalformedKey
	}
	copy(k.b[:], b)
	return k, nil
}

func (k SecretKey) Bytes() []byte {
	return k.b[:]
}

// Close overwrites the key material. It is the zeroization contract
// required of all key-bearing types in this module.
func (k *SecretKey) Close() {
	for i := range k.b {
		k.b[i] = 0
	}
}

// KeySchedule derives the read key and blind id from a write key, per
// spec.md §4.1: write_key -> read_key (KDF_r) -> blind_id (H).
type KeySchedule struct {
	WriteKey SecretKey
	ReadKey  SecretKey
	BlindID  Hash
}

// DeriveFromWriteKey builds the full three-tier schedule from a write key.
func DeriveFromWriteKey(writeKey SecretKey) KeySchedule {
	readKey := deriveReadKey(writeKey)
	return KeySchedule{
		WriteKey: writeKey,
		ReadKey:  readKey,
		BlindID:  H(readKey.Bytes()),
	}
}

// deriveReadKey is KDF_r: a one-way function of write_key, so read_key
// never reveals write_key.
func deriveReadKey(writeKey SecretKey) SecretKey {
	h := H(writeKey.Bytes(), []byte(domainReadKey))
	k, _ := SecretKeyFromBytes(h.Bytes())
	return k
}

// Close zeroes every key held by the schedule.
func (ks *KeySchedule) Close() {
	ks.WriteKey.Close()
	ks.ReadKey.Close()
}

// RepositoryID derives a RepositoryId from a write key, stable across every
// peer that holds it.
func RepositoryID(writeKey SecretKey) Hash {
	return H(writeKey.Bytes(), []byte(domainRepositoryID))
}
