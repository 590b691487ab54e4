package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the devices table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// In-memory databases are per-connection; keep the pool at one so
	// every query sees the same database. Production uses the same limit.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE devices (
			device_id           TEXT PRIMARY KEY,
			emergency_id        TEXT UNIQUE,
			token               TEXT NOT NULL DEFAULT '',
			hwid                TEXT,
			emergency_state     TEXT NOT NULL DEFAULT 'unlocked',
			pending_action_time TEXT,
			user_can_unlock     INTEGER NOT NULL DEFAULT 1,
			last_seen           TEXT,
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL
		);
		CREATE INDEX idx_devices_emergency_state ON devices(emergency_state);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close() //nolint:errcheck // Test cleanup
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close() //nolint:errcheck // Test cleanup
	})

	return db
}

// testRecord creates an activated record for testing.
func testRecord(deviceID, emergencyID string) *Record {
	return &Record{
		DeviceID:      deviceID,
		EmergencyID:   emergencyID,
		Token:         "token-" + deviceID,
		State:         StateUnlocked,
		UserCanUnlock: true,
	}
}

func TestSQLiteStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("creates and reads back", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))

		rec := testRecord("dev-1", "em-1")
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		got, err := store.GetByDeviceID(ctx, "dev-1")
		if err != nil {
			t.Fatalf("GetByDeviceID() error = %v", err)
		}
		if got.EmergencyID != "em-1" {
			t.Errorf("EmergencyID = %q, want %q", got.EmergencyID, "em-1")
		}
		if got.Token != "token-dev-1" {
			t.Errorf("Token = %q, want %q", got.Token, "token-dev-1")
		}
		if got.State != StateUnlocked {
			t.Errorf("State = %q, want %q", got.State, StateUnlocked)
		}
		if !got.UserCanUnlock {
			t.Error("UserCanUnlock = false, want true")
		}
		if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
			t.Error("timestamps not set on create")
		}
	})

	t.Run("duplicate device id", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))

		if err := store.Create(ctx, testRecord("dev-1", "em-1")); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		err := store.Create(ctx, testRecord("dev-1", "em-2"))
		if !errors.Is(err, ErrExists) {
			t.Errorf("Create() error = %v, want ErrExists", err)
		}
	})

	t.Run("duplicate emergency id", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))

		if err := store.Create(ctx, testRecord("dev-1", "em-1")); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		err := store.Create(ctx, testRecord("dev-2", "em-1"))
		if !errors.Is(err, ErrExists) {
			t.Errorf("Create() error = %v, want ErrExists", err)
		}
	})

	t.Run("multiple pending records", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))

		// Pre-registered records have no emergency ID; the UNIQUE
		// constraint must not make them collide.
		for i := 1; i <= 3; i++ {
			rec := &Record{DeviceID: fmt.Sprintf("pending-%d", i), State: StateUnlocked}
			if err := store.Create(ctx, rec); err != nil {
				t.Fatalf("Create() pending record %d error = %v", i, err)
			}
		}

		records, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(records) != 3 {
			t.Errorf("List() returned %d records, want 3", len(records))
		}
	})
}

func TestSQLiteStore_GetByDeviceID(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(setupTestDB(t))

	if err := store.Create(ctx, testRecord("dev-1", "em-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("found", func(t *testing.T) {
		got, err := store.GetByDeviceID(ctx, "dev-1")
		if err != nil {
			t.Fatalf("GetByDeviceID() error = %v", err)
		}
		if got.DeviceID != "dev-1" {
			t.Errorf("DeviceID = %q, want %q", got.DeviceID, "dev-1")
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.GetByDeviceID(ctx, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("GetByDeviceID() error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLiteStore_GetByEmergencyID(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(setupTestDB(t))

	if err := store.Create(ctx, testRecord("dev-1", "em-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("found", func(t *testing.T) {
		got, err := store.GetByEmergencyID(ctx, "em-1")
		if err != nil {
			t.Fatalf("GetByEmergencyID() error = %v", err)
		}
		if got.DeviceID != "dev-1" {
			t.Errorf("DeviceID = %q, want %q", got.DeviceID, "dev-1")
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.GetByEmergencyID(ctx, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("GetByEmergencyID() error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLiteStore_List(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(setupTestDB(t))

	t.Run("empty", func(t *testing.T) {
		records, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(records) != 0 {
			t.Errorf("List() returned %d records, want 0", len(records))
		}
	})

	t.Run("multiple", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			rec := testRecord(fmt.Sprintf("dev-%d", i), fmt.Sprintf("em-%d", i))
			if err := store.Create(ctx, rec); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
		}

		records, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(records) != 3 {
			t.Errorf("List() returned %d records, want 3", len(records))
		}
	})
}

func TestSQLiteStore_WithDevice(t *testing.T) {
	ctx := context.Background()

	t.Run("persists mutation", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))
		if err := store.Create(ctx, testRecord("dev-1", "em-1")); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		now := time.Now().UTC().Truncate(time.Second)
		rec, err := store.WithDevice(ctx, "dev-1", func(rec *Record) error {
			rec.State = StateLockPending
			rec.PendingActionTime = &now
			return nil
		})
		if err != nil {
			t.Fatalf("WithDevice() error = %v", err)
		}
		if rec.State != StateLockPending {
			t.Errorf("returned State = %q, want %q", rec.State, StateLockPending)
		}

		got, err := store.GetByDeviceID(ctx, "dev-1")
		if err != nil {
			t.Fatalf("GetByDeviceID() error = %v", err)
		}
		if got.State != StateLockPending {
			t.Errorf("persisted State = %q, want %q", got.State, StateLockPending)
		}
		if got.PendingActionTime == nil || !got.PendingActionTime.Equal(now) {
			t.Errorf("persisted PendingActionTime = %v, want %v", got.PendingActionTime, now)
		}
	})

	t.Run("fn error aborts", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))
		if err := store.Create(ctx, testRecord("dev-1", "em-1")); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		wantErr := errors.New("refused")
		_, err := store.WithDevice(ctx, "dev-1", func(rec *Record) error {
			rec.State = StateLocked
			return wantErr
		})
		if !errors.Is(err, wantErr) {
			t.Fatalf("WithDevice() error = %v, want %v", err, wantErr)
		}

		got, err := store.GetByDeviceID(ctx, "dev-1")
		if err != nil {
			t.Fatalf("GetByDeviceID() error = %v", err)
		}
		if got.State != StateUnlocked {
			t.Errorf("State = %q after aborted mutation, want %q", got.State, StateUnlocked)
		}
	})

	t.Run("not found", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))

		_, err := store.WithDevice(ctx, "missing", func(*Record) error { return nil })
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("WithDevice() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("serialises concurrent writers", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))
		rec := testRecord("dev-1", "em-1")
		rec.HWID = "0"
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		// Each goroutine increments a counter stored in the record. Lost
		// updates would leave the final value short.
		const writers = 25
		var wg sync.WaitGroup
		wg.Add(writers)
		for i := 0; i < writers; i++ {
			go func() {
				defer wg.Done()
				_, err := store.WithDevice(ctx, "dev-1", func(rec *Record) error {
					n, err := strconv.Atoi(rec.HWID)
					if err != nil {
						return err
					}
					rec.HWID = strconv.Itoa(n + 1)
					return nil
				})
				if err != nil {
					t.Errorf("WithDevice() error = %v", err)
				}
			}()
		}
		wg.Wait()

		got, err := store.GetByDeviceID(ctx, "dev-1")
		if err != nil {
			t.Fatalf("GetByDeviceID() error = %v", err)
		}
		if got.HWID != strconv.Itoa(writers) {
			t.Errorf("counter = %s after %d writers, want %d", got.HWID, writers, writers)
		}
	})
}

func TestSQLiteStore_WithEmergency(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(setupTestDB(t))

	if err := store.Create(ctx, testRecord("dev-1", "em-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("resolves and mutates", func(t *testing.T) {
		rec, err := store.WithEmergency(ctx, "em-1", func(rec *Record) error {
			rec.State = StateLocked
			return nil
		})
		if err != nil {
			t.Fatalf("WithEmergency() error = %v", err)
		}
		if rec.DeviceID != "dev-1" {
			t.Errorf("DeviceID = %q, want %q", rec.DeviceID, "dev-1")
		}

		got, err := store.GetByDeviceID(ctx, "dev-1")
		if err != nil {
			t.Fatalf("GetByDeviceID() error = %v", err)
		}
		if got.State != StateLocked {
			t.Errorf("State = %q, want %q", got.State, StateLocked)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.WithEmergency(ctx, "missing", func(*Record) error { return nil })
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("WithEmergency() error = %v, want ErrNotFound", err)
		}
	})
}

func TestScanRecord_InvalidState(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewSQLiteStore(db)

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.Exec(
		`INSERT INTO devices (device_id, emergency_id, token, emergency_state, user_can_unlock, created_at, updated_at)
		 VALUES ('dev-1', 'em-1', 'tok', 'exploded', 1, ?, ?)`, now, now)
	if err != nil {
		t.Fatalf("inserting corrupt row: %v", err)
	}

	_, err = store.GetByDeviceID(ctx, "dev-1")
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("GetByDeviceID() error = %v, want ErrInvalidState", err)
	}
}
