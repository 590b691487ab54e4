package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/corepost/corepost-core/internal/device"
)

// registerRequest is the optional body of POST /client/register.
type registerRequest struct {
	DeviceID string `json:"deviceId"`
	HWID     string `json:"hwid"`
}

// handleClientRegister activates a device and returns its credentials.
//
// The triple in the response is the only time the token crosses the wire
// outside of /client/decrypt. Depending on registration policy the
// device either self-registers freely or must match an admin
// pre-registration.
func (s *Server) handleClientRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cred, err := s.registry.Register(r.Context(), req.DeviceID, req.HWID)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrHWIDRequired):
			writeBadRequest(w, "hardware id required")
		case errors.Is(err, device.ErrApprovalRequired), errors.Is(err, device.ErrHWIDMismatch):
			// One message for both: which pre-registrations exist, and
			// what hardware they are bound to, is not disclosed.
			writeForbidden(w, ErrCodeForbidden, "device not pre-registered")
		case errors.Is(err, device.ErrExists):
			writeConflict(w, "device already registered")
		default:
			writeInternalError(w, "registration failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, cred)
}

// handleHeartbeat records a device check-in.
//
// A locked or pending device still gets its check-in recorded but
// receives 403, which tells the pre-boot client to refuse to proceed.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	rec := recordFromContext(r.Context())

	updated, err := s.registry.Heartbeat(r.Context(), rec.DeviceID)
	if err != nil {
		if errors.Is(err, device.ErrLocked) {
			writeForbidden(w, ErrCodeLocked, "device is locked")
			return
		}
		writeInternalError(w, "heartbeat failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  updated.State,
	})
}

// handleDecrypt releases the disk decryption token to an unlocked device.
// The body is the raw token so the pre-boot client needs no JSON parser.
func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	rec := recordFromContext(r.Context())

	token, err := s.registry.RetrieveToken(r.Context(), rec.DeviceID)
	if err != nil {
		if errors.Is(err, device.ErrLocked) {
			writeForbidden(w, ErrCodeLocked, "device is locked")
			return
		}
		writeInternalError(w, "token retrieval failed")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write([]byte(token))
}
