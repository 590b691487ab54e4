package auth

import "errors"

// Authentication errors.
//
// The API layer maps all of these to the same generic 401 response so
// callers cannot probe which identifiers exist; the distinction is for
// logging and the audit trail only.
var (
	// ErrMissingCredentials is returned when a required header is absent.
	ErrMissingCredentials = errors.New("auth: missing credentials")

	// ErrUnknownIdentifier is returned when the identifier does not match
	// an activated device record.
	ErrUnknownIdentifier = errors.New("auth: unknown identifier")

	// ErrStaleTimestamp is returned when the request timestamp falls
	// outside the freshness window or cannot be parsed.
	ErrStaleTimestamp = errors.New("auth: stale timestamp")

	// ErrBadSignature is returned when the HMAC signature does not verify.
	ErrBadSignature = errors.New("auth: bad signature")

	// ErrAdminTokenInvalid is returned when the admin token does not match.
	ErrAdminTokenInvalid = errors.New("auth: invalid admin token")
)
