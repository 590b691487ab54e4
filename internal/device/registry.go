package device

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Registry manages the device fleet: registration, pre-registration,
// heartbeats and decryption token release.
//
// Thread Safety: the Registry is stateless; concurrency control lives in
// the Store's per-device locking.
type Registry struct {
	store  Store
	policy RegistrationPolicy

	logger    Logger
	events    EventPublisher
	audit     AuditRecorder
	telemetry Telemetry
}

// NewRegistry creates a registry backed by the given store.
// Optional collaborators default to no-ops; wire them with the setters.
func NewRegistry(store Store, policy RegistrationPolicy) *Registry {
	return &Registry{
		store:     store,
		policy:    policy,
		logger:    noopLogger{},
		events:    noopEvents{},
		audit:     noopAudit{},
		telemetry: noopTelemetry{},
	}
}

// SetLogger wires a logger for operational events.
func (r *Registry) SetLogger(logger Logger) { r.logger = logger }

// SetEventPublisher wires an event publisher for fleet notifications.
func (r *Registry) SetEventPublisher(events EventPublisher) { r.events = events }

// SetAuditRecorder wires an audit trail recorder.
func (r *Registry) SetAuditRecorder(audit AuditRecorder) { r.audit = audit }

// SetTelemetry wires a telemetry sink for check-in measurements.
func (r *Registry) SetTelemetry(telemetry Telemetry) { r.telemetry = telemetry }

// Register handles a device's registration request and returns its
// credentials. The credentials are returned exactly once; the token is
// never retrievable again except via the decryption endpoint.
//
// Behaviour depends on the registration policy:
//   - With approval required, the deviceID must name an admin
//     pre-registration that has not yet been claimed.
//   - Without approval, a fresh record with generated identifiers is
//     created; a pending pre-registration can still be claimed by its
//     deviceID.
//
// Returns ErrHWIDRequired, ErrApprovalRequired or ErrExists on refusal.
func (r *Registry) Register(ctx context.Context, deviceID, hwid string) (*Credentials, error) {
	if r.policy.NeedHWID && hwid == "" {
		return nil, ErrHWIDRequired
	}

	if deviceID == "" {
		if r.policy.NeedApproval {
			return nil, ErrApprovalRequired
		}
		return r.createActivated(ctx, hwid)
	}

	cred, err := r.activate(ctx, deviceID, hwid)
	if errors.Is(err, ErrNotFound) {
		if r.policy.NeedApproval {
			return nil, ErrApprovalRequired
		}
		// Device identifiers are only ever server-generated on open
		// registration; a supplied one that names no pre-registration
		// is discarded rather than claimed.
		return r.createActivated(ctx, hwid)
	}
	return cred, err
}

// activate claims an existing pre-registration, assigning the emergency
// identifier and token. The emergency identifier is regenerated if it
// collides with an existing one on commit.
func (r *Registry) activate(ctx context.Context, deviceID, hwid string) (*Credentials, error) {
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		emergencyID, err := NewEmergencyID()
		if err != nil {
			return nil, fmt.Errorf("generating emergency id: %w", err)
		}
		token, err := NewToken()
		if err != nil {
			return nil, fmt.Errorf("generating token: %w", err)
		}

		var alreadyClaimed bool
		rec, err := r.store.WithDevice(ctx, deviceID, func(rec *Record) error {
			if rec.Activated() {
				alreadyClaimed = true
				return ErrExists
			}
			if rec.HWID != "" && hwid != "" && rec.HWID != hwid {
				return ErrHWIDMismatch
			}
			rec.EmergencyID = emergencyID
			rec.Token = token
			if hwid != "" {
				rec.HWID = hwid
			}
			return nil
		})
		if err != nil {
			// ErrExists from the commit itself is the emergency_id
			// UNIQUE constraint, not a claimed record.
			if errors.Is(err, ErrExists) && !alreadyClaimed {
				continue
			}
			return nil, err
		}

		r.logger.Info("device registration completed", "device_id", rec.DeviceID, "pre_registered", true)
		r.audit.Record(ctx, "device", "register", rec.DeviceID, "claimed pre-registration")
		r.events.DeviceRegistered(rec.DeviceID)

		return &Credentials{
			DeviceID:    rec.DeviceID,
			EmergencyID: rec.EmergencyID,
			Token:       rec.Token,
		}, nil
	}

	return nil, ErrIdentifierExhausted
}

// createActivated creates a fully activated record with freshly
// generated identifiers, regenerating the full set on the unlikely
// collision.
func (r *Registry) createActivated(ctx context.Context, hwid string) (*Credentials, error) {
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id, err := NewDeviceID()
		if err != nil {
			return nil, fmt.Errorf("generating device id: %w", err)
		}
		emergencyID, err := NewEmergencyID()
		if err != nil {
			return nil, fmt.Errorf("generating emergency id: %w", err)
		}
		token, err := NewToken()
		if err != nil {
			return nil, fmt.Errorf("generating token: %w", err)
		}

		rec := &Record{
			DeviceID:      id,
			EmergencyID:   emergencyID,
			Token:         token,
			HWID:          hwid,
			State:         StateUnlocked,
			UserCanUnlock: r.policy.DefaultUserCanUnlock,
		}

		err = r.store.Create(ctx, rec)
		if err == nil {
			r.logger.Info("device registered", "device_id", rec.DeviceID, "pre_registered", false)
			r.audit.Record(ctx, "device", "register", rec.DeviceID, "self-registered")
			r.events.DeviceRegistered(rec.DeviceID)

			return &Credentials{
				DeviceID:    rec.DeviceID,
				EmergencyID: rec.EmergencyID,
				Token:       rec.Token,
			}, nil
		}
		if !errors.Is(err, ErrExists) {
			return nil, err
		}
	}

	return nil, ErrIdentifierExhausted
}

// PreRegister creates a pending record that a device can later claim.
// When deviceID is empty a fresh identifier is generated. A non-empty
// hwid binds the pre-registration to that hardware; activation with a
// different hwid is refused. Returns the device identifier of the
// pending record, or ErrExists if the supplied identifier is taken.
func (r *Registry) PreRegister(ctx context.Context, deviceID, hwid string) (string, error) {
	generated := deviceID == ""
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id := deviceID
		if generated {
			var err error
			id, err = NewDeviceID()
			if err != nil {
				return "", fmt.Errorf("generating device id: %w", err)
			}
		}

		rec := &Record{
			DeviceID:      id,
			HWID:          hwid,
			State:         StateUnlocked,
			UserCanUnlock: r.policy.DefaultUserCanUnlock,
		}

		err := r.store.Create(ctx, rec)
		if err == nil {
			r.logger.Info("device pre-registered", "device_id", id)
			r.audit.Record(ctx, "admin", "pre_register", id, "")
			return id, nil
		}
		if !errors.Is(err, ErrExists) {
			return "", err
		}
		if !generated {
			return "", ErrExists
		}
	}

	return "", ErrIdentifierExhausted
}

// Heartbeat records an authenticated device check-in and returns the
// current record so the caller can report the panic state.
//
// LastSeen is stamped even when the device is locked or mid-transition.
// A stolen machine phoning home is exactly the signal the owner wants,
// so the check-in commits first and ErrLocked is reported afterwards.
func (r *Registry) Heartbeat(ctx context.Context, deviceID string) (*Record, error) {
	rec, err := r.store.WithDevice(ctx, deviceID, func(rec *Record) error {
		if !rec.Activated() {
			return ErrNotActivated
		}
		now := time.Now().UTC()
		rec.LastSeen = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.telemetry.Heartbeat(rec.DeviceID, rec.State, "client")
	if rec.State != StateUnlocked {
		return rec, ErrLocked
	}
	return rec, nil
}

// RetrieveToken releases the decryption token to an unlocked device.
// Locked and pending states refuse with ErrLocked; the token must stay
// unreachable while a panic action is in flight.
func (r *Registry) RetrieveToken(ctx context.Context, deviceID string) (string, error) {
	rec, err := r.store.WithDevice(ctx, deviceID, func(rec *Record) error {
		if !rec.Activated() {
			return ErrNotActivated
		}
		if rec.State != StateUnlocked {
			return ErrLocked
		}
		now := time.Now().UTC()
		rec.LastSeen = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLocked) {
			r.logger.Warn("token retrieval refused", "device_id", deviceID)
			r.audit.Record(ctx, "device", "token_refused", deviceID, "device not unlocked")
		}
		return "", err
	}

	r.audit.Record(ctx, "device", "token_released", rec.DeviceID, "")
	return rec.Token, nil
}

// Get retrieves a record by device identifier.
func (r *Registry) Get(ctx context.Context, deviceID string) (*Record, error) {
	return r.store.GetByDeviceID(ctx, deviceID)
}

// List retrieves all records for fleet overview.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	return r.store.List(ctx)
}
