package access

import (
	"errors"

	"github.com/ouisync/ouisync/internal/crypto"
)

// ErrPermissionDenied is returned whenever an operation needs a stronger
// Mode than the caller's Secrets hold (spec.md §4.4: "Opening a
// repository with secrets stronger than the token allows is
// PermissionDenied").
var ErrPermissionDenied = errors.New("access: permission denied")

// Mode is one of the three observable capability levels spec.md §4.4
// defines. Modes form a total order: Write > Read > Blind.
type Mode int

const (
	// Blind can verify signed roots but not decrypt block contents or
	// mint new ones.
	Blind Mode = iota
	// Read can additionally decrypt block contents.
	Read
	// Write can additionally mint and sign new index roots.
	Write
)

func (m Mode) String() string {
	switch m {
	case Blind:
		return "blind"
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// Secrets bundles whichever tier of the write_key -> read_key -> blind_id
// schedule a repository was opened with. Write mode holds both WriteKey and
// ReadKey, Read mode holds ReadKey only, and Blind mode holds neither
// (BlindID only).
type Secrets struct {
	mode     Mode
	writeKey crypto.SecretKey
	readKey  crypto.SecretKey
	blindID  crypto.Hash
}

// WriteSecrets derives the full schedule from a write_key, the mode
// granted to whoever mints a repository.
func WriteSecrets(writeKey crypto.SecretKey) Secrets {
	ks := crypto.DeriveFromWriteKey(writeKey)
	return Secrets{mode: Write, writeKey: writeKey, readKey: ks.ReadKey, blindID: ks.BlindID}
}

// ReadSecrets derives the read and blind tiers from a read_key, for a
// recipient whose token only grants read access. write_key is
// unrecoverable from here by construction.
func ReadSecrets(readKey crypto.SecretKey) Secrets {
	return Secrets{mode: Read, readKey: readKey, blindID: crypto.H(readKey.Bytes())}
}

// BlindSecrets holds only the blind_id, for a recipient whose token
// grants neither decryption nor write access.
func BlindSecrets(blindID crypto.Hash) Secrets {
	return Secrets{mode: Blind, blindID: blindID}
}

// Mode reports the capability tier these Secrets were opened at.
func (s Secrets) Mode() Mode { return s.mode }

// BlindID is the repository-membership identifier every mode can compute
// and compare, regardless of tier.
func (s Secrets) BlindID() crypto.Hash { return s.blindID }

// ReadKey returns the block-decryption key and true, or false if these
// Secrets were opened in Blind mode.
func (s Secrets) ReadKey() (crypto.SecretKey, bool) {
	if s.mode < Read {
		return crypto.SecretKey{}, false
	}
	return s.readKey, true
}

// WriteKey returns the root-signing key and true, or false if these
// Secrets were not opened at Write mode.
func (s Secrets) WriteKey() (crypto.SecretKey, bool) {
	if s.mode < Write {
		return crypto.SecretKey{}, false
	}
	return s.writeKey, true
}

// Require returns ErrPermissionDenied if these Secrets were opened below
// the given Mode.
func (s Secrets) Require(want Mode) error {
	if s.mode < want {
		return ErrPermissionDenied
	}
	return nil
}

// Close zeroes whichever key material these Secrets hold.
func (s *Secrets) Close() {
	s.writeKey.Close()
	s.readKey.Close()
}
