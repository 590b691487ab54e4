package device

import (
	"context"
	"time"
)

// PanicService drives the two-phase panic-lock state machine.
//
// Lock and unlock requests arrive on the mobile surface keyed by the
// emergency identifier; the admin override arrives keyed by device ID.
// All transitions run inside the store's per-device lock, so concurrent
// requests for one device serialise and each sees the previous outcome.
//
// # Approval windows
//
// With approval enabled, the first request opens a pending state and
// stamps the window start. A second request within the window confirms
// the transition. Expiry is lazy: nothing fires when the window lapses,
// the next request simply reopens it. A request in the opposite
// direction abandons the pending action and opens a window for the new
// direction.
type PanicService struct {
	store  Store
	policy LockPolicy

	logger    Logger
	events    EventPublisher
	audit     AuditRecorder
	telemetry Telemetry

	// now is swappable for tests.
	now func() time.Time
}

// NewPanicService creates a panic service backed by the given store.
// Optional collaborators default to no-ops; wire them with the setters.
func NewPanicService(store Store, policy LockPolicy) *PanicService {
	return &PanicService{
		store:     store,
		policy:    policy,
		logger:    noopLogger{},
		events:    noopEvents{},
		audit:     noopAudit{},
		telemetry: noopTelemetry{},
		now:       time.Now,
	}
}

// SetLogger wires a logger for operational events.
func (s *PanicService) SetLogger(logger Logger) { s.logger = logger }

// SetEventPublisher wires an event publisher for state-change notifications.
func (s *PanicService) SetEventPublisher(events EventPublisher) { s.events = events }

// SetAuditRecorder wires an audit trail recorder.
func (s *PanicService) SetAuditRecorder(audit AuditRecorder) { s.audit = audit }

// SetTelemetry wires a telemetry sink for transition measurements.
func (s *PanicService) SetTelemetry(telemetry Telemetry) { s.telemetry = telemetry }

// RequestLock processes a lock request for the device behind emergencyID.
//
// Already locked devices confirm idempotently. A pending unlock is
// abandoned in favour of the lock. Returns the resulting state and
// whether confirmation is still required.
func (s *PanicService) RequestLock(ctx context.Context, emergencyID string) (*TransitionResult, error) {
	var result TransitionResult
	var from EmergencyState

	rec, err := s.store.WithEmergency(ctx, emergencyID, func(rec *Record) error {
		from = rec.State
		result = s.applyLock(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.finishTransition(ctx, "user", "lock", rec, from, result)
	return &result, nil
}

// RequestUnlock processes an unlock request for the device behind
// emergencyID.
//
// Devices whose owner may not unlock refuse with ErrUnlockNotPermitted
// before any state change; the admin override is the only way out.
// Already unlocked devices confirm idempotently. A pending lock is
// abandoned in favour of the unlock.
func (s *PanicService) RequestUnlock(ctx context.Context, emergencyID string) (*TransitionResult, error) {
	var result TransitionResult
	var from EmergencyState

	rec, err := s.store.WithEmergency(ctx, emergencyID, func(rec *Record) error {
		if !rec.UserCanUnlock {
			return ErrUnlockNotPermitted
		}
		from = rec.State
		result = s.applyUnlock(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.finishTransition(ctx, "user", "unlock", rec, from, result)
	return &result, nil
}

// ForceUnlock is the admin override: the device moves straight to
// unlocked from any state, ignoring the approval window and the owner's
// unlock permission.
func (s *PanicService) ForceUnlock(ctx context.Context, deviceID string) (*TransitionResult, error) {
	var from EmergencyState

	rec, err := s.store.WithDevice(ctx, deviceID, func(rec *Record) error {
		from = rec.State
		rec.State = StateUnlocked
		rec.PendingActionTime = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := TransitionResult{State: StateUnlocked, Outcome: OutcomeConfirmed}
	s.finishTransition(ctx, "admin", "force_unlock", rec, from, result)
	return &result, nil
}

// Status returns the record behind an emergency identifier for the
// mobile surface's state check.
func (s *PanicService) Status(ctx context.Context, emergencyID string) (*Record, error) {
	return s.store.GetByEmergencyID(ctx, emergencyID)
}

// applyLock mutates rec for a lock request and reports the outcome.
func (s *PanicService) applyLock(rec *Record) TransitionResult {
	switch {
	case rec.State == StateLocked:
		// Idempotent: already in the target state.
		return TransitionResult{State: StateLocked, Outcome: OutcomeConfirmed}

	case !s.policy.NeedApproval:
		rec.State = StateLocked
		rec.PendingActionTime = nil
		return TransitionResult{State: StateLocked, Outcome: OutcomeConfirmed}

	case rec.State == StateLockPending && s.windowOpen(rec):
		rec.State = StateLocked
		rec.PendingActionTime = nil
		return TransitionResult{State: StateLocked, Outcome: OutcomeConfirmed}

	default:
		// Fresh request, expired window, or abandoning a pending unlock.
		now := s.now().UTC()
		rec.State = StateLockPending
		rec.PendingActionTime = &now
		return TransitionResult{State: StateLockPending, Outcome: OutcomePending}
	}
}

// applyUnlock mutates rec for an unlock request and reports the outcome.
func (s *PanicService) applyUnlock(rec *Record) TransitionResult {
	switch {
	case rec.State == StateUnlocked:
		// Idempotent: already in the target state.
		return TransitionResult{State: StateUnlocked, Outcome: OutcomeConfirmed}

	case !s.policy.NeedApproval:
		rec.State = StateUnlocked
		rec.PendingActionTime = nil
		return TransitionResult{State: StateUnlocked, Outcome: OutcomeConfirmed}

	case rec.State == StateUnlockPending && s.windowOpen(rec):
		rec.State = StateUnlocked
		rec.PendingActionTime = nil
		return TransitionResult{State: StateUnlocked, Outcome: OutcomeConfirmed}

	default:
		now := s.now().UTC()
		rec.State = StateUnlockPending
		rec.PendingActionTime = &now
		return TransitionResult{State: StateUnlockPending, Outcome: OutcomePending}
	}
}

// windowOpen reports whether the approval window opened by a pending
// request is still valid.
func (s *PanicService) windowOpen(rec *Record) bool {
	if rec.PendingActionTime == nil {
		return false
	}
	return s.now().UTC().Sub(*rec.PendingActionTime) <= s.policy.ApprovalWindow
}

// finishTransition emits logging, audit, events and telemetry for a
// committed request. No-op side channels keep this cheap when unwired.
func (s *PanicService) finishTransition(ctx context.Context, actor, action string, rec *Record, from EmergencyState, result TransitionResult) {
	s.logger.Info("panic state request",
		"device_id", rec.DeviceID,
		"action", action,
		"actor", actor,
		"from", string(from),
		"to", string(rec.State),
		"outcome", string(result.Outcome),
	)
	s.audit.Record(ctx, actor, action, rec.DeviceID, string(from)+" -> "+string(rec.State))

	if from != rec.State {
		s.events.StateChanged(rec.DeviceID, from, rec.State)
		s.telemetry.StateTransition(rec.DeviceID, from, rec.State)
	}
}
