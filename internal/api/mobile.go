package api

import (
	"errors"
	"net/http"

	"github.com/corepost/corepost-core/internal/device"
)

// handleCheck returns the device's panic state together with the lock
// policy, so the app can render the confirm flow without its own copy
// of the server configuration.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	rec := recordFromContext(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{
		"emergencyState":         rec.State,
		"userCanUnlock":          rec.UserCanUnlock,
		"lastSeen":               rec.LastSeen,
		"needLockApproval":       s.lockCfg.NeedApproval,
		"lockApprovalTimeSecond": s.lockCfg.ApprovalTimeSeconds,
	})
}

// handleLock requests a panic lock. 200 means the device is locked;
// 201 means a confirming second request is needed within the window.
func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	rec := recordFromContext(r.Context())

	result, err := s.panic.RequestLock(r.Context(), rec.EmergencyID)
	if err != nil {
		writeInternalError(w, "lock request failed")
		return
	}

	writeJSON(w, transitionStatus(result), result)
}

// handleUnlock requests an unlock, symmetric to handleLock but gated by
// the record's unlock permission.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	rec := recordFromContext(r.Context())

	result, err := s.panic.RequestUnlock(r.Context(), rec.EmergencyID)
	if err != nil {
		if errors.Is(err, device.ErrUnlockNotPermitted) {
			writeForbidden(w, ErrCodeForbidden, "unlock not permitted for this device")
			return
		}
		writeInternalError(w, "unlock request failed")
		return
	}

	writeJSON(w, transitionStatus(result), result)
}

// transitionStatus maps a state machine outcome to an HTTP status.
func transitionStatus(result *device.TransitionResult) int {
	if result.Outcome == device.OutcomePending {
		return http.StatusCreated
	}
	return http.StatusOK
}
