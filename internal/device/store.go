package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Store defines the interface for device record persistence.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Store interface {
	// GetByDeviceID retrieves a record by its device identifier.
	// Returns ErrNotFound if no record exists.
	GetByDeviceID(ctx context.Context, deviceID string) (*Record, error)

	// GetByEmergencyID retrieves a record by its emergency identifier.
	// Returns ErrNotFound if no record exists.
	GetByEmergencyID(ctx context.Context, emergencyID string) (*Record, error)

	// Create inserts a new record.
	// Returns ErrExists if the device or emergency ID is already taken.
	Create(ctx context.Context, rec *Record) error

	// List retrieves all records ordered by creation time.
	List(ctx context.Context) ([]Record, error)

	// WithDevice runs fn against the record for deviceID inside a
	// transaction, holding a per-device lock so concurrent read-modify-write
	// sequences for the same device serialise. Changes fn makes to the
	// record are persisted when fn returns nil; any error aborts the
	// transaction and is returned. The committed record is returned.
	WithDevice(ctx context.Context, deviceID string, fn func(*Record) error) (*Record, error)

	// WithEmergency is WithDevice keyed by emergency identifier.
	WithEmergency(ctx context.Context, emergencyID string, fn func(*Record) error) (*Record, error)
}

// SQLiteStore implements Store using SQLite.
//
// Mutations go through per-device mutexes plus a transaction, so two
// concurrent requests for the same device always observe each other's
// writes. The database pool is limited to a single connection (see the
// database package), which keeps SQLite's single-writer model honest.
type SQLiteStore struct {
	db *sql.DB

	// locks holds one mutex per device ID, created on first use.
	// The map itself is guarded by mu.
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

// NewSQLiteStore creates a new SQLite-backed store.
// The db parameter should be an open SQLite connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}
}

// Busy-retry tuning. SQLite reports SQLITE_BUSY when a writer holds the
// file; with one pooled connection this is rare but still possible via
// external processes touching the same file.
const (
	maxBusyAttempts = 3
	busyBackoffStep = 50 * time.Millisecond
)

const recordColumns = `device_id, emergency_id, token, hwid, emergency_state,
		pending_action_time, user_can_unlock, last_seen, created_at, updated_at`

// GetByDeviceID retrieves a record by its device identifier.
func (s *SQLiteStore) GetByDeviceID(ctx context.Context, deviceID string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM devices WHERE device_id = ?`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return rec, nil
}

// GetByEmergencyID retrieves a record by its emergency identifier.
func (s *SQLiteStore) GetByEmergencyID(ctx context.Context, emergencyID string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM devices WHERE emergency_id = ?`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, emergencyID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by emergency id: %w", err)
	}
	return rec, nil
}

// Create inserts a new record.
func (s *SQLiteStore) Create(ctx context.Context, rec *Record) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.State == "" {
		rec.State = StateUnlocked
	}

	query := `
		INSERT INTO devices (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.DeviceID,
		nullableString(rec.EmergencyID),
		rec.Token,
		nullableString(rec.HWID),
		string(rec.State),
		nullableTime(rec.PendingActionTime),
		boolToInt(rec.UserCanUnlock),
		nullableTime(rec.LastSeen),
		rec.CreatedAt.Format(time.RFC3339),
		rec.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// List retrieves all records ordered by creation time.
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM devices ORDER BY created_at, device_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}

	return records, nil
}

// WithDevice runs fn against the record for deviceID under the per-device
// lock inside a transaction, persisting fn's changes on success.
func (s *SQLiteStore) WithDevice(ctx context.Context, deviceID string, fn func(*Record) error) (*Record, error) {
	lock := s.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	return s.mutate(ctx, deviceID, fn)
}

// WithEmergency resolves the emergency identifier to a device and then
// behaves like WithDevice. The device ID is immutable, so resolving
// outside the lock is safe.
func (s *SQLiteStore) WithEmergency(ctx context.Context, emergencyID string, fn func(*Record) error) (*Record, error) {
	rec, err := s.GetByEmergencyID(ctx, emergencyID)
	if err != nil {
		return nil, err
	}
	return s.WithDevice(ctx, rec.DeviceID, fn)
}

// mutate performs the locked read-modify-write cycle, retrying on
// transient SQLITE_BUSY errors.
func (s *SQLiteStore) mutate(ctx context.Context, deviceID string, fn func(*Record) error) (*Record, error) {
	var rec *Record
	var lastErr error

	for attempt := 1; attempt <= maxBusyAttempts; attempt++ {
		rec, lastErr = s.mutateOnce(ctx, deviceID, fn)
		if lastErr == nil || !isBusyError(lastErr) {
			return rec, lastErr
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("mutating device: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * busyBackoffStep):
		}
	}

	return nil, fmt.Errorf("mutating device after %d attempts: %w", maxBusyAttempts, lastErr)
}

func (s *SQLiteStore) mutateOnce(ctx context.Context, deviceID string, fn func(*Record) error) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	query := `SELECT ` + recordColumns + ` FROM devices WHERE device_id = ?`
	rec, err := scanRecord(tx.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}

	if err := fn(rec); err != nil {
		return nil, err
	}

	rec.UpdatedAt = time.Now().UTC()

	update := `
		UPDATE devices SET
			emergency_id = ?, token = ?, hwid = ?, emergency_state = ?,
			pending_action_time = ?, user_can_unlock = ?, last_seen = ?, updated_at = ?
		WHERE device_id = ?`

	_, err = tx.ExecContext(ctx, update,
		nullableString(rec.EmergencyID),
		rec.Token,
		nullableString(rec.HWID),
		string(rec.State),
		nullableTime(rec.PendingActionTime),
		boolToInt(rec.UserCanUnlock),
		nullableTime(rec.LastSeen),
		rec.UpdatedAt.Format(time.RFC3339),
		rec.DeviceID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrExists
		}
		return nil, fmt.Errorf("updating device: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing device update: %w", err)
	}

	return rec, nil
}

// lockFor returns the mutex for a device ID, creating it on first use.
// Mutexes are never removed; the fleet size bounds the map.
func (s *SQLiteStore) lockFor(deviceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[deviceID] = lock
	}
	return lock
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord reads a single record from a row.
func scanRecord(row scanner) (*Record, error) {
	var (
		rec               Record
		emergencyID       sql.NullString
		hwid              sql.NullString
		state             string
		pendingActionTime sql.NullString
		userCanUnlock     int
		lastSeen          sql.NullString
		createdAt         string
		updatedAt         string
	)

	err := row.Scan(
		&rec.DeviceID,
		&emergencyID,
		&rec.Token,
		&hwid,
		&state,
		&pendingActionTime,
		&userCanUnlock,
		&lastSeen,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.State = EmergencyState(state)
	if !rec.State.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	rec.UserCanUnlock = userCanUnlock != 0

	if emergencyID.Valid {
		rec.EmergencyID = emergencyID.String
	}
	if hwid.Valid {
		rec.HWID = hwid.String
	}

	if pendingActionTime.Valid {
		t, err := time.Parse(time.RFC3339, pendingActionTime.String)
		if err != nil {
			return nil, fmt.Errorf("parsing pending_action_time: %w", err)
		}
		rec.PendingActionTime = &t
	}
	if lastSeen.Valid {
		t, err := time.Parse(time.RFC3339, lastSeen.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}
		rec.LastSeen = &t
	}

	var parseErr error
	rec.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	rec.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &rec, nil
}

// nullableString returns a sql.NullString that is NULL for empty strings.
// emergency_id carries a UNIQUE constraint, so pre-registered records
// must store NULL rather than colliding empty strings.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}

// isBusyError checks if an error is a transient SQLite busy/locked error.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
