package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/corepost/corepost-core/internal/device"
)

// Request headers carrying authentication material.
const (
	headerDeviceID    = "X-DeviceId"
	headerEmergencyID = "X-EmergencyId"
	headerTimestamp   = "X-Timestamp"
	headerSignature   = "X-Signature"
	headerAdminToken  = "X-Admin-Token"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// ctxKeyRequestID is the context key for the request ID.
	ctxKeyRequestID contextKey = "request_id"

	// ctxKeyRecord is the context key for the authenticated device record.
	ctxKeyRecord contextKey = "device_record"
)

// recordFromContext returns the device record stored by an auth middleware.
func recordFromContext(ctx context.Context) *device.Record {
	rec, _ := ctx.Value(ctxKeyRecord).(*device.Record)
	return rec
}

// requestIDMiddleware generates a unique request ID for each request.
// If the client sends an X-Request-ID header, it is used; otherwise one is generated.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	})
}

// recoveryMiddleware catches panics in handlers and returns a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", r.Context().Value(ctxKeyRequestID),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// maxRequestBodySize is the maximum allowed request body size (64 KB).
// Requests carry at most a small JSON object; anything larger is abuse.
const maxRequestBodySize = 64 << 10

// bodySizeLimitMiddleware limits the size of incoming request bodies to prevent
// denial-of-service attacks via oversized payloads.
func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// deviceAuthMiddleware verifies the signed-request headers on the client
// surface. The authenticated record is stored in the request context.
//
// Every failure produces the same generic 401; the specific reason is
// logged server-side only.
func (s *Server) deviceAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, err := s.auth.AuthenticateDevice(r.Context(),
			r.Header.Get(headerDeviceID),
			r.Header.Get(headerTimestamp),
			r.Header.Get(headerSignature),
		)
		if err != nil {
			s.logger.Warn("device authentication refused",
				"error", err,
				"path", r.URL.Path,
				"request_id", r.Context().Value(ctxKeyRequestID),
			)
			writeUnauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyRecord, rec)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// emergencyAuthMiddleware verifies the signed-request headers on the
// mobile surface, keyed by emergency identifier.
func (s *Server) emergencyAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, err := s.auth.AuthenticateEmergency(r.Context(),
			r.Header.Get(headerEmergencyID),
			r.Header.Get(headerTimestamp),
			r.Header.Get(headerSignature),
		)
		if err != nil {
			s.logger.Warn("emergency authentication refused",
				"error", err,
				"path", r.URL.Path,
				"request_id", r.Context().Value(ctxKeyRequestID),
			)
			writeUnauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyRecord, rec)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminAuthMiddleware verifies the static admin token.
func (s *Server) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.admin.Verify(r.Header.Get(headerAdminToken)); err != nil {
			s.logger.Warn("admin authentication refused",
				"path", r.URL.Path,
				"request_id", r.Context().Value(ctxKeyRequestID),
			)
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// requestIDBytes is the number of random bytes used for request IDs.
const requestIDBytes = 8

// generateRequestID creates a random hex request ID.
func generateRequestID() string {
	b := make([]byte, requestIDBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}
