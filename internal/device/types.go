package device

import (
	"context"
	"time"
)

// EmergencyState is the panic-lock state of a device.
//
// The state machine is a two-phase cycle:
//
//	unlocked → lock_pending → locked → unlock_pending → unlocked
//
// Pending states exist only when lock approval is enabled; with approval
// disabled a single request moves straight to the target state. The admin
// override moves any state directly to unlocked.
type EmergencyState string

const (
	// StateUnlocked is the normal operating state. The decryption token
	// is released to the device on request.
	StateUnlocked EmergencyState = "unlocked"

	// StateLockPending means a lock was requested and awaits confirmation
	// within the approval window.
	StateLockPending EmergencyState = "lock_pending"

	// StateLocked means the device is panic-locked. Token retrieval is
	// refused until the device is unlocked.
	StateLocked EmergencyState = "locked"

	// StateUnlockPending means an unlock was requested and awaits
	// confirmation within the approval window.
	StateUnlockPending EmergencyState = "unlock_pending"
)

// Valid reports whether the state is one of the recognised values.
func (s EmergencyState) Valid() bool {
	switch s {
	case StateUnlocked, StateLockPending, StateLocked, StateUnlockPending:
		return true
	}
	return false
}

// Pending reports whether the state awaits a confirming request.
func (s EmergencyState) Pending() bool {
	return s == StateLockPending || s == StateUnlockPending
}

// Outcome describes the result of a lock or unlock request.
type Outcome string

const (
	// OutcomeConfirmed means the request completed the transition.
	OutcomeConfirmed Outcome = "confirmed"

	// OutcomePending means the request opened (or reopened) an approval
	// window and a confirming request is required.
	OutcomePending Outcome = "pending_confirmation"
)

// TransitionResult is the outcome of a panic-state request.
type TransitionResult struct {
	State   EmergencyState `json:"state"`
	Outcome Outcome        `json:"outcome"`
}

// Record is the persistent state of a protected device.
//
// A record is created either by self-registration (fully populated) or by
// admin pre-registration (DeviceID only; EmergencyID and Token are assigned
// when the device registers). Activated() distinguishes the two.
type Record struct {
	// DeviceID is the public identifier the device authenticates with.
	DeviceID string `json:"device_id"`

	// EmergencyID is the separate identifier used by the owner's mobile
	// surface, so panic actions never expose the device identifier.
	// Empty until activation.
	EmergencyID string `json:"emergency_id,omitempty"`

	// Token is the shared secret: HMAC key for request authentication and
	// the decryption key released to unlocked devices. Never serialised.
	Token string `json:"-"`

	// HWID optionally binds the record to a hardware identifier.
	HWID string `json:"hwid,omitempty"`

	// State is the current panic-lock state.
	State EmergencyState `json:"state"`

	// PendingActionTime is when the current approval window opened.
	// Nil unless State is pending.
	PendingActionTime *time.Time `json:"pending_action_time,omitempty"`

	// UserCanUnlock controls whether the owner may unlock the device
	// without admin intervention.
	UserCanUnlock bool `json:"user_can_unlock"`

	// LastSeen is the time of the last authenticated contact.
	LastSeen *time.Time `json:"last_seen,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Activated reports whether the device has completed registration.
// Pre-registered records have no token until the device claims them.
func (r *Record) Activated() bool {
	return r.Token != ""
}

// Credentials is the secret material returned once at registration.
type Credentials struct {
	DeviceID    string `json:"deviceId"`
	EmergencyID string `json:"emergencyId"`
	Token       string `json:"token"`
}

// RegistrationPolicy controls how new devices join the fleet.
type RegistrationPolicy struct {
	// NeedApproval requires admin pre-registration before a device can
	// register. When false, any device may self-register.
	NeedApproval bool

	// NeedHWID requires devices to present a hardware identifier.
	NeedHWID bool

	// DefaultUserCanUnlock is the unlock permission for new records.
	DefaultUserCanUnlock bool
}

// LockPolicy controls the panic-lock state machine.
type LockPolicy struct {
	// NeedApproval requires a confirming second request for lock and
	// unlock transitions. When false, a single request completes.
	NeedApproval bool

	// ApprovalWindow is how long a confirming request remains valid.
	// An expired window reopens rather than fails.
	ApprovalWindow time.Duration
}

// Logger is the minimal logging interface the device services need.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventPublisher receives fleet events for external notification.
// Implementations must not block; failures are the publisher's concern.
type EventPublisher interface {
	// DeviceRegistered is called when a device completes registration.
	DeviceRegistered(deviceID string)

	// StateChanged is called after a committed panic-state transition.
	StateChanged(deviceID string, from, to EmergencyState)
}

// noopEvents discards all events.
type noopEvents struct{}

func (noopEvents) DeviceRegistered(string)                            {}
func (noopEvents) StateChanged(string, EmergencyState, EmergencyState) {}

// AuditRecorder receives security-relevant events for the audit trail.
// Recording failures must not affect the triggering operation.
type AuditRecorder interface {
	Record(ctx context.Context, actor, action, deviceID, detail string)
}

// noopAudit discards all audit events.
type noopAudit struct{}

func (noopAudit) Record(context.Context, string, string, string, string) {}

// Telemetry receives measurement points for time-series storage.
// Implementations must not block.
type Telemetry interface {
	// Heartbeat records an authenticated check-in.
	Heartbeat(deviceID string, state EmergencyState, surface string)

	// StateTransition records a committed panic-state change.
	StateTransition(deviceID string, from, to EmergencyState)
}

// noopTelemetry discards all measurements.
type noopTelemetry struct{}

func (noopTelemetry) Heartbeat(string, EmergencyState, string)              {}
func (noopTelemetry) StateTransition(string, EmergencyState, EmergencyState) {}
