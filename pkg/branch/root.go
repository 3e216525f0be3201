package branch

import (
	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/types"
)

// Root is the signed, versioned pointer at one branch's index root
// (spec.md §3, §4.3).
type Root struct {
	UserID  types.UserId
	Hash    crypto.Hash // index.Tree root hash
	VV      types.VersionVector
	Sig     []byte
}

// SigningBytes is the canonical message a Root's signature covers:
// UserID ‖ index root hash ‖ VersionVector in a stable user order. Both
// signer and verifier must produce byte-identical output.
func (r *Root) SigningBytes() []byte {
	out := make([]byte, 0, types.IDSize*2+8*len(r.VV))
	out = append(out, r.UserID[:]...)
	out = append(out, r.Hash.Bytes()...)
	for _, u := range r.VV.SortedUserIds() {
		out = append(out, u[:]...)
		out = append(out, encodeUint64(r.VV[u])...)
	}
	return out
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b[:]
}

// Verify checks the signature against UserID (treated as an Ed25519
// public key), per spec.md §4.3 check 2.
func (r *Root) Verify() error {
	return crypto.Verify(r.UserID, r.SigningBytes(), r.Sig)
}
