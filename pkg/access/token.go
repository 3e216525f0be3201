package access

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/types"
)

const tokenVersion byte = 1

const saltSize = 16

// tokenURLPrefix is the share link form spec.md §6 describes: everything
// after the fragment is the same byte layout Encode/Decode produce,
// base64url-encoded so it survives being pasted into a URL bar.
const tokenURLPrefix = "https://ouisync.net/r#"

// ErrMalformedToken is returned when a token's encoded bytes are
// truncated or carry an unrecognized version.
var ErrMalformedToken = errors.New("access: malformed token")

// Token is the compact bundle spec.md §4.4 describes: a RepositoryId,
// the Mode it grants, and that mode's key — optionally protected by a
// passphrase rather than stored in the clear.
type Token struct {
	Repository types.RepositoryId
	Mode       Mode
	Key        crypto.SecretKey
}

// NewWriteToken mints a token granting Write access, the only mode that
// can be minted fresh; Read and Blind tokens are always derived from one
// via Derive, mirroring the one-way key schedule.
func NewWriteToken(repo types.RepositoryId, writeKey crypto.SecretKey) Token {
	return Token{Repository: repo, Mode: Write, Key: writeKey}
}

// Derive returns a new Token granting want, derived locally from t
// without contacting anything holding the stronger key. want must not
// exceed t.Mode.
func (t Token) Derive(want Mode) (Token, error) {
	if want > t.Mode {
		return Token{}, fmt.Errorf("access: cannot derive %s token from %s token", want, t.Mode)
	}
	switch want {
	case Write:
		return t, nil
	case Read:
		if t.Mode == Read {
			return t, nil
		}
		ks := crypto.DeriveFromWriteKey(t.Key)
		return Token{Repository: t.Repository, Mode: Read, Key: ks.ReadKey}, nil
	default: // Blind
		var blindKey crypto.SecretKey
		if t.Mode == Write {
			ks := crypto.DeriveFromWriteKey(t.Key)
			blindKey, _ = crypto.SecretKeyFromBytes(ks.BlindID.Bytes())
		} else {
			blindKey, _ = crypto.SecretKeyFromBytes(crypto.H(t.Key.Bytes()).Bytes())
		}
		return Token{Repository: t.Repository, Mode: Blind, Key: blindKey}, nil
	}
}

// Secrets converts an opened token into the Secrets its Mode grants.
func (t Token) Secrets() Secrets {
	switch t.Mode {
	case Write:
		return WriteSecrets(t.Key)
	case Read:
		return ReadSecrets(t.Key)
	default:
		var h crypto.Hash
		copy(h[:], t.Key.Bytes())
		return BlindSecrets(h)
	}
}

// Encode serializes t. If passphrase is non-empty, the key material is
// wrapped with an Argon2id-derived key (spec.md §4.4's "optional
// passphrase") instead of stored in the clear; Decode requires the same
// passphrase to recover it.
func (t Token) Encode(passphrase string) ([]byte, error) {
	out := make([]byte, 0, 64)
	out = append(out, tokenVersion, byte(t.Mode))
	out = append(out, t.Repository[:]...)

	if passphrase == "" {
		out = append(out, 0)
		out = append(out, t.Key.Bytes()...)
		return out, nil
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	wrapKey := crypto.DeriveFromPassphrase(passphrase, salt)
	defer wrapKey.Close()

	var nonce crypto.Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	ciphertext, err := crypto.Encrypt(wrapKey, nonce, t.Key.Bytes())
	if err != nil {
		return nil, err
	}

	out = append(out, 1)
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decode reverses Encode. passphrase must match what Encode was called
// with, or be empty if the token was not passphrase-protected.
func Decode(data []byte, passphrase string) (Token, error) {
	if len(data) < 1+1+types.IDSize+1 {
		return Token{}, ErrMalformedToken
	}
	if data[0] != tokenVersion {
		return Token{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedToken, data[0])
	}
	mode := Mode(data[1])
	if mode > Write {
		return Token{}, fmt.Errorf("%w: unknown mode %d", ErrMalformedToken, data[1])
	}
	off := 2

	var repo types.RepositoryId
	copy(repo[:], data[off:off+types.IDSize])
	off += types.IDSize

	protected := data[off]
	off++

	var keyBytes []byte
	if protected == 0 {
		if len(data[off:]) != crypto.HashSize {
			return Token{}, ErrMalformedToken
		}
		keyBytes = data[off:]
	} else {
		if len(data[off:]) < saltSize+crypto.NonceSize {
			return Token{}, ErrMalformedToken
		}
		salt := data[off : off+saltSize]
		off += saltSize
		var nonce crypto.Nonce
		copy(nonce[:], data[off:off+crypto.NonceSize])
		off += crypto.NonceSize
		ciphertext := data[off:]

		wrapKey := crypto.DeriveFromPassphrase(passphrase, salt)
		defer wrapKey.Close()
		plaintext, err := crypto.Decrypt(wrapKey, nonce, ciphertext)
		if err != nil {
			return Token{}, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		keyBytes = plaintext
	}

	key, err := crypto.SecretKeyFromBytes(keyBytes)
	if err != nil {
		return Token{}, err
	}
	return Token{Repository: repo, Mode: mode, Key: key}, nil
}

// EncodeURL wraps Encode into the shareable link form spec.md §6 gives:
// "https://ouisync.net/r#" followed by the encoded bytes, base64url
// encoded without padding.
func (t Token) EncodeURL(passphrase string) (string, error) {
	data, err := t.Encode(passphrase)
	if err != nil {
		return "", err
	}
	return tokenURLPrefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeURL reverses EncodeURL.
func DecodeURL(link string, passphrase string) (Token, error) {
	rest, ok := strings.CutPrefix(link, tokenURLPrefix)
	if !ok {
		return Token{}, ErrMalformedToken
	}
	data, err := base64.RawURLEncoding.DecodeString(rest)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return Decode(data, passphrase)
}
