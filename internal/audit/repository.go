// Package audit provides the append-only audit trail for CorePost:
// registrations, lock/unlock requests, admin overrides and refused
// token retrievals end up in the audit_logs table.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditLog represents a single audit trail entry.
type AuditLog struct { //nolint:revive // audit.AuditLog is clearer than audit.Log in calling code
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`  // device, user, admin
	Action    string    `json:"action"` // register, lock, unlock, force_unlock, ...
	DeviceID  string    `json:"device_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Filter controls which audit logs to return.
type Filter struct {
	Actor    string // optional: filter by actor (device, user, admin)
	Action   string // optional: filter by action
	DeviceID string // optional: filter by device
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains the paginated audit log results.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository defines the interface for audit log operations.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores audit logs in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new audit log entry. The ID and Timestamp are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, log *AuditLog) error {
	if log.ID == "" {
		log.ID = "aud-" + uuid.NewString()[:8]
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, timestamp, actor, action, device_id, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		log.ID, log.Timestamp.Format(time.RFC3339), log.Actor, log.Action,
		nullableString(log.DeviceID), nullableString(log.Detail),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns audit logs matching the filter, ordered by most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for audit log queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.Actor != "" {
		conditions = append(conditions, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Get total count.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	// Get paginated results.
	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, timestamp, actor, action, device_id, detail FROM audit_logs %s ORDER BY timestamp DESC, id LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows

	logs := make([]AuditLog, 0, filter.Limit)
	for rows.Next() {
		var (
			log       AuditLog
			timestamp string
			deviceID  sql.NullString
			detail    sql.NullString
		)
		if err := rows.Scan(&log.ID, &timestamp, &log.Actor, &log.Action, &deviceID, &detail); err != nil {
			return nil, fmt.Errorf("scanning audit log: %w", err)
		}

		log.Timestamp, err = time.Parse(time.RFC3339, timestamp)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp: %w", err)
		}
		if deviceID.Valid {
			log.DeviceID = deviceID.String
		}
		if detail.Valid {
			log.Detail = detail.String
		}

		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{
		Logs:   logs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
