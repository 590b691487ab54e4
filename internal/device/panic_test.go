package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// testClock is a manually advanced clock for window expiry tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingEvents captures published events for assertions.
type recordingEvents struct {
	mu          sync.Mutex
	registered  []string
	transitions []string
}

func (e *recordingEvents) DeviceRegistered(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registered = append(e.registered, deviceID)
}

func (e *recordingEvents) StateChanged(deviceID string, from, to EmergencyState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transitions = append(e.transitions, deviceID+":"+string(from)+">"+string(to))
}

func (e *recordingEvents) Transitions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.transitions...)
}

// setupPanicTest creates a panic service over a mock store with one
// activated device, returning its emergency ID for requests.
func setupPanicTest(t *testing.T, policy LockPolicy) (*PanicService, *MockStore, *testClock, string) {
	t.Helper()

	store := NewMockStore()
	rec := &Record{
		DeviceID:      "dev-1",
		EmergencyID:   "em-1",
		Token:         "secret",
		State:         StateUnlocked,
		UserCanUnlock: true,
	}
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	clock := newTestClock()
	svc := NewPanicService(store, policy)
	svc.now = clock.Now

	return svc, store, clock, "em-1"
}

func TestPanicService_RequestLock_NoApproval(t *testing.T) {
	ctx := context.Background()
	svc, store, _, emID := setupPanicTest(t, LockPolicy{NeedApproval: false})

	result, err := svc.RequestLock(ctx, emID)
	if err != nil {
		t.Fatalf("RequestLock() error = %v", err)
	}
	if result.State != StateLocked || result.Outcome != OutcomeConfirmed {
		t.Errorf("result = %+v, want locked/confirmed", result)
	}

	rec, _ := store.GetByDeviceID(ctx, "dev-1")
	if rec.State != StateLocked {
		t.Errorf("persisted State = %q, want %q", rec.State, StateLocked)
	}
	if rec.PendingActionTime != nil {
		t.Error("PendingActionTime should be nil after direct lock")
	}
}

func TestPanicService_RequestLock_TwoPhase(t *testing.T) {
	ctx := context.Background()
	svc, store, _, emID := setupPanicTest(t, LockPolicy{NeedApproval: true, ApprovalWindow: 30 * time.Second})

	// First request opens the window.
	result, err := svc.RequestLock(ctx, emID)
	if err != nil {
		t.Fatalf("RequestLock() error = %v", err)
	}
	if result.State != StateLockPending || result.Outcome != OutcomePending {
		t.Fatalf("first result = %+v, want lock_pending/pending_confirmation", result)
	}

	rec, _ := store.GetByDeviceID(ctx, "dev-1")
	if rec.PendingActionTime == nil {
		t.Fatal("PendingActionTime not stamped")
	}

	// Confirming request inside the window completes the lock.
	result, err = svc.RequestLock(ctx, emID)
	if err != nil {
		t.Fatalf("RequestLock() confirm error = %v", err)
	}
	if result.State != StateLocked || result.Outcome != OutcomeConfirmed {
		t.Fatalf("confirm result = %+v, want locked/confirmed", result)
	}

	rec, _ = store.GetByDeviceID(ctx, "dev-1")
	if rec.PendingActionTime != nil {
		t.Error("PendingActionTime should be cleared after confirmation")
	}
}

func TestPanicService_RequestLock_WindowExpiry(t *testing.T) {
	ctx := context.Background()
	svc, store, clock, emID := setupPanicTest(t, LockPolicy{NeedApproval: true, ApprovalWindow: 30 * time.Second})

	if _, err := svc.RequestLock(ctx, emID); err != nil {
		t.Fatalf("RequestLock() error = %v", err)
	}
	opened, _ := store.GetByDeviceID(ctx, "dev-1")

	// A request after the window lapses reopens it instead of confirming.
	clock.Advance(31 * time.Second)
	result, err := svc.RequestLock(ctx, emID)
	if err != nil {
		t.Fatalf("RequestLock() after expiry error = %v", err)
	}
	if result.State != StateLockPending || result.Outcome != OutcomePending {
		t.Fatalf("result = %+v, want lock_pending/pending_confirmation", result)
	}

	reopened, _ := store.GetByDeviceID(ctx, "dev-1")
	if !reopened.PendingActionTime.After(*opened.PendingActionTime) {
		t.Error("PendingActionTime not restamped on reopened window")
	}

	// The reopened window confirms normally.
	result, err = svc.RequestLock(ctx, emID)
	if err != nil {
		t.Fatalf("RequestLock() confirm error = %v", err)
	}
	if result.State != StateLocked {
		t.Errorf("State = %q after confirm, want %q", result.State, StateLocked)
	}
}

func TestPanicService_RequestLock_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, store, _, emID := setupPanicTest(t, LockPolicy{NeedApproval: true, ApprovalWindow: 30 * time.Second})

	events := &recordingEvents{}
	svc.SetEventPublisher(events)

	if _, err := store.WithDevice(ctx, "dev-1", func(rec *Record) error {
		rec.State = StateLocked
		return nil
	}); err != nil {
		t.Fatalf("setting state: %v", err)
	}

	result, err := svc.RequestLock(ctx, emID)
	if err != nil {
		t.Fatalf("RequestLock() error = %v", err)
	}
	if result.State != StateLocked || result.Outcome != OutcomeConfirmed {
		t.Errorf("result = %+v, want locked/confirmed", result)
	}
	if len(events.Transitions()) != 0 {
		t.Errorf("no-op request published %v, want none", events.Transitions())
	}
}

func TestPanicService_CrossDirectionPending(t *testing.T) {
	ctx := context.Background()
	svc, store, _, emID := setupPanicTest(t, LockPolicy{NeedApproval: true, ApprovalWindow: 30 * time.Second})

	// Reach locked, then open an unlock window.
	if _, err := store.WithDevice(ctx, "dev-1", func(rec *Record) error {
		rec.State = StateLocked
		return nil
	}); err != nil {
		t.Fatalf("setting state: %v", err)
	}
	result, err := svc.RequestUnlock(ctx, emID)
	if err != nil {
		t.Fatalf("RequestUnlock() error = %v", err)
	}
	if result.State != StateUnlockPending {
		t.Fatalf("State = %q, want %q", result.State, StateUnlockPending)
	}

	// A lock request abandons the pending unlock and opens a lock window.
	result, err = svc.RequestLock(ctx, emID)
	if err != nil {
		t.Fatalf("RequestLock() error = %v", err)
	}
	if result.State != StateLockPending || result.Outcome != OutcomePending {
		t.Errorf("result = %+v, want lock_pending/pending_confirmation", result)
	}
}

func TestPanicService_RequestUnlock(t *testing.T) {
	ctx := context.Background()

	t.Run("two phase", func(t *testing.T) {
		svc, store, _, emID := setupPanicTest(t, LockPolicy{NeedApproval: true, ApprovalWindow: 30 * time.Second})
		if _, err := store.WithDevice(ctx, "dev-1", func(rec *Record) error {
			rec.State = StateLocked
			return nil
		}); err != nil {
			t.Fatalf("setting state: %v", err)
		}

		result, err := svc.RequestUnlock(ctx, emID)
		if err != nil {
			t.Fatalf("RequestUnlock() error = %v", err)
		}
		if result.State != StateUnlockPending || result.Outcome != OutcomePending {
			t.Fatalf("first result = %+v, want unlock_pending/pending_confirmation", result)
		}

		result, err = svc.RequestUnlock(ctx, emID)
		if err != nil {
			t.Fatalf("RequestUnlock() confirm error = %v", err)
		}
		if result.State != StateUnlocked || result.Outcome != OutcomeConfirmed {
			t.Errorf("confirm result = %+v, want unlocked/confirmed", result)
		}
	})

	t.Run("idempotent when unlocked", func(t *testing.T) {
		svc, _, _, emID := setupPanicTest(t, LockPolicy{NeedApproval: true, ApprovalWindow: 30 * time.Second})

		result, err := svc.RequestUnlock(ctx, emID)
		if err != nil {
			t.Fatalf("RequestUnlock() error = %v", err)
		}
		if result.State != StateUnlocked || result.Outcome != OutcomeConfirmed {
			t.Errorf("result = %+v, want unlocked/confirmed", result)
		}
	})

	t.Run("permission gate", func(t *testing.T) {
		svc, store, _, emID := setupPanicTest(t, LockPolicy{NeedApproval: true, ApprovalWindow: 30 * time.Second})
		if _, err := store.WithDevice(ctx, "dev-1", func(rec *Record) error {
			rec.State = StateLocked
			rec.UserCanUnlock = false
			return nil
		}); err != nil {
			t.Fatalf("setting state: %v", err)
		}

		_, err := svc.RequestUnlock(ctx, emID)
		if !errors.Is(err, ErrUnlockNotPermitted) {
			t.Fatalf("RequestUnlock() error = %v, want ErrUnlockNotPermitted", err)
		}

		rec, _ := store.GetByDeviceID(ctx, "dev-1")
		if rec.State != StateLocked {
			t.Errorf("State = %q after refused unlock, want %q", rec.State, StateLocked)
		}
	})
}

func TestPanicService_ForceUnlock(t *testing.T) {
	ctx := context.Background()

	states := []EmergencyState{StateUnlocked, StateLockPending, StateLocked, StateUnlockPending}
	for _, state := range states {
		t.Run(string(state), func(t *testing.T) {
			svc, store, clock, _ := setupPanicTest(t, LockPolicy{NeedApproval: true, ApprovalWindow: 30 * time.Second})
			opened := clock.Now()
			if _, err := store.WithDevice(ctx, "dev-1", func(rec *Record) error {
				rec.State = state
				// Overrides must work even for owners who cannot unlock.
				rec.UserCanUnlock = false
				if state.Pending() {
					rec.PendingActionTime = &opened
				}
				return nil
			}); err != nil {
				t.Fatalf("setting state: %v", err)
			}

			result, err := svc.ForceUnlock(ctx, "dev-1")
			if err != nil {
				t.Fatalf("ForceUnlock() error = %v", err)
			}
			if result.State != StateUnlocked || result.Outcome != OutcomeConfirmed {
				t.Errorf("result = %+v, want unlocked/confirmed", result)
			}

			rec, _ := store.GetByDeviceID(ctx, "dev-1")
			if rec.State != StateUnlocked {
				t.Errorf("State = %q, want %q", rec.State, StateUnlocked)
			}
			if rec.PendingActionTime != nil {
				t.Error("PendingActionTime should be cleared by override")
			}
		})
	}

	t.Run("unknown device", func(t *testing.T) {
		svc, _, _, _ := setupPanicTest(t, LockPolicy{})
		_, err := svc.ForceUnlock(ctx, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("ForceUnlock() error = %v, want ErrNotFound", err)
		}
	})
}

func TestPanicService_Status(t *testing.T) {
	ctx := context.Background()
	svc, _, _, emID := setupPanicTest(t, LockPolicy{})

	rec, err := svc.Status(ctx, emID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if rec.DeviceID != "dev-1" {
		t.Errorf("DeviceID = %q, want %q", rec.DeviceID, "dev-1")
	}

	if _, err := svc.Status(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Status() error = %v, want ErrNotFound", err)
	}
}

func TestPanicService_UnknownEmergencyID(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := setupPanicTest(t, LockPolicy{})

	if _, err := svc.RequestLock(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RequestLock() error = %v, want ErrNotFound", err)
	}
	if _, err := svc.RequestUnlock(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RequestUnlock() error = %v, want ErrNotFound", err)
	}
}

func TestPanicService_FullCycle(t *testing.T) {
	ctx := context.Background()
	svc, _, _, emID := setupPanicTest(t, LockPolicy{NeedApproval: true, ApprovalWindow: 30 * time.Second})

	events := &recordingEvents{}
	svc.SetEventPublisher(events)

	steps := []struct {
		action      func() (*TransitionResult, error)
		wantState   EmergencyState
		wantOutcome Outcome
	}{
		{func() (*TransitionResult, error) { return svc.RequestLock(ctx, emID) }, StateLockPending, OutcomePending},
		{func() (*TransitionResult, error) { return svc.RequestLock(ctx, emID) }, StateLocked, OutcomeConfirmed},
		{func() (*TransitionResult, error) { return svc.RequestUnlock(ctx, emID) }, StateUnlockPending, OutcomePending},
		{func() (*TransitionResult, error) { return svc.RequestUnlock(ctx, emID) }, StateUnlocked, OutcomeConfirmed},
	}

	for i, step := range steps {
		result, err := step.action()
		if err != nil {
			t.Fatalf("step %d error = %v", i, err)
		}
		if result.State != step.wantState || result.Outcome != step.wantOutcome {
			t.Fatalf("step %d result = %+v, want %s/%s", i, result, step.wantState, step.wantOutcome)
		}
	}

	want := []string{
		"dev-1:unlocked>lock_pending",
		"dev-1:lock_pending>locked",
		"dev-1:locked>unlock_pending",
		"dev-1:unlock_pending>unlocked",
	}
	got := events.Transitions()
	if len(got) != len(want) {
		t.Fatalf("published %d transitions, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, got[i], want[i])
		}
	}
}
