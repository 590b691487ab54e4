// Package auth implements request authentication for CorePost.
//
// # Device and mobile requests
//
// Devices and mobile clients authenticate every request with a keyed
// signature instead of a session. The request carries three values: an
// identifier (device or emergency), a Unix timestamp, and
// HMAC-SHA256(token, timestamp) in hex. Verification checks, in order:
//
//  1. The identifier resolves to an activated record.
//  2. The timestamp is within the freshness window of the server clock.
//  3. The signature matches, compared in constant time.
//
// The freshness window is what defeats replay: a captured request is
// only useful until the window closes, and the signature binds the
// timestamp so it cannot be refreshed without the token.
//
// # Admin requests
//
// Admin endpoints use a single static token from deployment
// configuration, compared in constant time. There are no admin accounts
// or sessions; rotating the token is a config change.
//
// # Security Considerations
//
//   - All authentication failures map to one generic API response so
//     identifiers cannot be enumerated.
//   - Tokens and signatures are never logged.
//   - The device token doubles as the decryption key; it exists only in
//     the devices table and in registration responses.
package auth
