package domain

import "errors"

// Sentinel errors for the token engine. Handlers collapse everything that
// IsTokenInvalid reports into a single unauthorized response so callers can't
// probe which check rejected their token.
var (
	// ErrAuthentication means the presented credentials were rejected by the
	// identity backend. The caller may re-prompt and retry.
	ErrAuthentication = errors.New("authentication_failed")

	// ErrInvalidScope reports a malformed scope at payload construction,
	// e.g. both project and domain set, or a scoped token with no roles.
	ErrInvalidScope = errors.New("invalid_scope")

	// ErrEmptyMethods reports payload construction without any
	// authentication method.
	ErrEmptyMethods = errors.New("empty_methods")

	// ErrUnknownFormat means no registered provider claims the token's
	// format tag.
	ErrUnknownFormat = errors.New("unknown_token_format")

	// ErrMalformedToken reports structural corruption of a token string or
	// its decoded payload.
	ErrMalformedToken = errors.New("malformed_token")

	// ErrSignatureInvalid reports a signature that does not verify against
	// any known signing key.
	ErrSignatureInvalid = errors.New("signature_invalid")

	// ErrDecryption reports an authentication-tag mismatch while opening an
	// encrypted token.
	ErrDecryption = errors.New("decryption_failed")

	// ErrDecompression reports a decompression failure on a compressed
	// token body.
	ErrDecompression = errors.New("decompression_failed")

	// ErrKeyNotFound means the key id embedded in a token names a retired
	// or unknown key.
	ErrKeyNotFound = errors.New("key_not_found")

	// ErrTokenExpired reports a token past its expires_at.
	ErrTokenExpired = errors.New("token_expired")

	// ErrTokenRevoked reports a token matched by a revocation event.
	ErrTokenRevoked = errors.New("token_revoked")

	// ErrTokenNotFound reports an opaque token with no live store entry.
	// Whether the entry was purged, deleted at logout, or never existed is
	// deliberately indistinguishable.
	ErrTokenNotFound = errors.New("token_not_found")

	// ErrBindMismatch reports a token bound to a different client channel
	// than the one presenting it.
	ErrBindMismatch = errors.New("bind_mismatch")

	// ErrBackendUnavailable is a transient backing-store failure. Unlike
	// the token errors above it is retryable by the caller.
	ErrBackendUnavailable = errors.New("backend_unavailable")
)

// IsTokenInvalid reports whether err is any of the deterministic
// "this token is not acceptable" failures. These are never retried and are
// all surfaced externally as the same unauthorized outcome.
func IsTokenInvalid(err error) bool {
	for _, target := range []error{
		ErrUnknownFormat,
		ErrMalformedToken,
		ErrSignatureInvalid,
		ErrDecryption,
		ErrDecompression,
		ErrKeyNotFound,
		ErrTokenExpired,
		ErrTokenRevoked,
		ErrTokenNotFound,
		ErrBindMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
