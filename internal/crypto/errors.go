package crypto

import "errors"

// Fatal errors for the operation that raised them; callers never retry these.
var (
	ErrMalformedKey     = errors.New("crypto: malformed key")
	ErrSignatureInvalid = errors.New("crypto: signature invalid")
	ErrDecryptFailed    = errors.New("crypto: decrypt failed")
)
