package auth

import "crypto/subtle"

// AdminVerifier checks the static admin token carried by admin requests.
//
// The token is deployment configuration, not a session credential; it is
// compared in constant time to avoid leaking prefix matches.
type AdminVerifier struct {
	token string
}

// NewAdminVerifier creates a verifier for the configured admin token.
func NewAdminVerifier(token string) *AdminVerifier {
	return &AdminVerifier{token: token}
}

// Verify checks a supplied admin token.
// Returns ErrAdminTokenInvalid on mismatch or when no token is configured.
func (v *AdminVerifier) Verify(supplied string) error {
	if v.token == "" || supplied == "" {
		return ErrAdminTokenInvalid
	}
	if subtle.ConstantTimeCompare([]byte(v.token), []byte(supplied)) != 1 {
		return ErrAdminTokenInvalid
	}
	return nil
}
