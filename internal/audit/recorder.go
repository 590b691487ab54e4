package audit

import "context"

// errorLogger is the minimal logging surface the recorder needs.
type errorLogger interface {
	Error(msg string, args ...any)
}

// Recorder adapts a Repository to the fire-and-forget interface the
// device services record through. Operations never fail because an
// audit write failed; write errors are logged and dropped.
type Recorder struct {
	repo   Repository
	logger errorLogger
}

// NewRecorder creates a Recorder. The logger may be nil.
func NewRecorder(repo Repository, logger errorLogger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Record writes one audit entry.
func (r *Recorder) Record(ctx context.Context, actor, action, deviceID, detail string) {
	err := r.repo.Create(ctx, &AuditLog{
		Actor:    actor,
		Action:   action,
		DeviceID: deviceID,
		Detail:   detail,
	})
	if err != nil && r.logger != nil {
		r.logger.Error("audit write failed", "action", action, "device_id", deviceID, "error", err)
	}
}
