// Package device provides the device fleet core for CorePost.
//
// It manages the lifecycle of protected devices (registration, admin
// pre-registration, heartbeats, decryption token release) and the
// two-phase panic-lock state machine that governs whether a device may
// receive its decryption token.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                        device package                         │
//	│                                                               │
//	│  ┌──────────────┐   ┌───────────────┐   ┌─────────────────┐  │
//	│  │   Registry   │   │  PanicService │   │      Store      │  │
//	│  │ (registry.go)│   │   (panic.go)  │──▶│   (store.go)    │  │
//	│  │              │   │               │   │                 │  │
//	│  │ • register   │   │ • lock/unlock │   │ • SQLite CRUD   │  │
//	│  │ • heartbeat  │   │ • admin force │   │ • per-device    │  │
//	│  │ • token      │   │ • approval    │   │   locking       │  │
//	│  │   release    │   │   windows     │   │ • transactions  │  │
//	│  └──────┬───────┘   └───────────────┘   └─────────────────┘  │
//	└─────────│────────────────────────────────────────────────────┘
//	          │
//	          ▼
//	  EventPublisher / AuditRecorder / Telemetry (wired by cmd/corepost)
//
// # Key Types
//
//   - Record: the persistent state of one protected device
//   - EmergencyState: unlocked / lock_pending / locked / unlock_pending
//   - Registry: registration, heartbeats, token release
//   - PanicService: the lock/unlock state machine
//   - Store: persistence with per-device write serialisation
//
// # Identifiers
//
// Each device carries two independent identifiers. The device ID is used
// by the device itself; the emergency ID is used by the owner's mobile
// surface for panic actions. Keeping them separate means a captured
// mobile credential never reveals which device it controls and vice
// versa. The token is the shared secret behind both: HMAC key for
// request authentication and the decryption key released to unlocked
// devices.
//
// # Thread Safety
//
// Registry and PanicService are stateless and safe for concurrent use.
// All read-modify-write sequences go through Store.WithDevice /
// Store.WithEmergency, which serialise per device.
package device
