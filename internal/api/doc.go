// Package api implements the HTTP REST API for CorePost.
//
// This package provides:
//   - The client surface: registration, heartbeat, decryption token release
//   - The mobile surface: panic state checks and lock/unlock requests
//   - The admin surface: pre-registration, force unlock, fleet and audit views
//   - Middleware stack (request ID, logging, recovery, body size limit, auth)
//   - TLS support for production deployments
//
// # Architecture
//
// Each surface authenticates differently. Client calls are signed with
// the device token and identified by X-DeviceId; mobile calls are signed
// with the same token but identified by X-EmergencyId, so the phone app
// never learns the device identifier; admin calls present a static
// shared secret in X-Admin-Token. The authenticated record travels in
// the request context from middleware to handler.
//
// # Security
//
// Every authentication failure on the signed surfaces returns the same
// generic 401 body. The refusal reason (unknown identifier, stale
// timestamp, bad signature) is logged server-side only, so the API
// cannot be used to enumerate identifiers. Device tokens never appear
// in logs or in JSON responses; the only outputs carrying a token are
// the registration response and /client/decrypt.
package api
