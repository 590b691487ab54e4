package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/corepost/corepost-core/internal/audit"
	"github.com/corepost/corepost-core/internal/device"
)

// adminRegisterRequest is the optional body of POST /admin/register.
type adminRegisterRequest struct {
	DeviceID string `json:"deviceId"`
	HWID     string `json:"hwid"`
}

// handleAdminRegister creates a pre-registration for later device claim.
func (s *Server) handleAdminRegister(w http.ResponseWriter, r *http.Request) {
	var req adminRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	deviceID, err := s.registry.PreRegister(r.Context(), req.DeviceID, req.HWID)
	if err != nil {
		if errors.Is(err, device.ErrExists) {
			writeConflict(w, "device id already exists")
			return
		}
		writeInternalError(w, "pre-registration failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"deviceId": deviceID})
}

// adminUnlockRequest is the body of POST /admin/unlock. Either
// identifier suffices; emergencyId wins when both are supplied.
type adminUnlockRequest struct {
	DeviceID    string `json:"deviceId"`
	EmergencyID string `json:"emergencyId"`
}

// handleAdminUnlock unconditionally returns a device to the unlocked
// state, ignoring the approval window and the unlock permission.
func (s *Server) handleAdminUnlock(w http.ResponseWriter, r *http.Request) {
	var req adminUnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	deviceID := req.DeviceID
	if req.EmergencyID != "" {
		rec, err := s.panic.Status(r.Context(), req.EmergencyID)
		if err != nil {
			if errors.Is(err, device.ErrNotFound) {
				writeNotFound(w, "device not found")
				return
			}
			writeInternalError(w, "unlock failed")
			return
		}
		deviceID = rec.DeviceID
	}
	if deviceID == "" {
		writeBadRequest(w, "deviceId or emergencyId is required")
		return
	}

	result, err := s.panic.ForceUnlock(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "unlock failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleAdminDevices lists all device records. Tokens are never
// serialised, so the listing is safe to expose on the admin surface.
func (s *Server) handleAdminDevices(w http.ResponseWriter, r *http.Request) {
	records, err := s.registry.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": records,
		"count":   len(records),
	})
}

// handleAdminAudit returns the audit trail, with optional query filters.
//
// Query parameters:
//   - actor: filter by actor (device, user, admin)
//   - action: filter by action
//   - device_id: filter by device
//   - limit, offset: pagination
func (s *Server) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit log not enabled")
		return
	}

	filter := audit.Filter{
		Actor:    r.URL.Query().Get("actor"),
		Action:   r.URL.Query().Get("action"),
		DeviceID: r.URL.Query().Get("device_id"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "invalid offset")
			return
		}
		filter.Offset = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
