package device

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Identifier and secret sizes, in random bytes (hex doubles the length).
const (
	deviceIDBytes    = 8  // 16 hex chars
	emergencyIDBytes = 8  // 16 hex chars
	tokenBytes       = 32 // 64 hex chars
)

// maxIDAttempts bounds identifier generation retries on collision.
// With 64 bits of randomness collisions are vanishingly rare; the bound
// exists so a broken entropy source fails loudly instead of looping.
const maxIDAttempts = 5

// NewDeviceID generates a random public device identifier.
func NewDeviceID() (string, error) {
	return randomHex(deviceIDBytes)
}

// NewEmergencyID generates a random emergency identifier.
func NewEmergencyID() (string, error) {
	return randomHex(emergencyIDBytes)
}

// NewToken generates a random shared secret.
//
// The token doubles as the HMAC key for request authentication and the
// decryption key released to unlocked devices, so it uses the full
// 256 bits of randomness.
func NewToken() (string, error) {
	return randomHex(tokenBytes)
}

// randomHex returns n bytes from crypto/rand as a lowercase hex string.
func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
