package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/corepost/corepost-core/internal/device"
)

// RecordSource resolves identifiers to device records.
// device.Store satisfies this interface.
type RecordSource interface {
	GetByDeviceID(ctx context.Context, deviceID string) (*device.Record, error)
	GetByEmergencyID(ctx context.Context, emergencyID string) (*device.Record, error)
}

// Authenticator verifies signed requests from devices and mobile clients.
//
// A request carries an identifier, a Unix timestamp and a signature:
//
//	signature = hex(HMAC-SHA256(key: device token, message: timestamp string))
//
// The signature is computed over the exact timestamp string as sent, not
// a re-encoding, so client and server never disagree on formatting. The
// timestamp must fall within the freshness window of the server clock;
// replaying a captured request outside the window fails regardless of
// the signature.
type Authenticator struct {
	source RecordSource
	window time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewAuthenticator creates an authenticator over the given record source.
// window is the allowed clock skew in either direction.
func NewAuthenticator(source RecordSource, window time.Duration) *Authenticator {
	return &Authenticator{
		source: source,
		window: window,
		now:    time.Now,
	}
}

// AuthenticateDevice verifies a request signed with the device identifier.
// Returns the authenticated record, or one of ErrMissingCredentials,
// ErrUnknownIdentifier, ErrStaleTimestamp, ErrBadSignature.
func (a *Authenticator) AuthenticateDevice(ctx context.Context, deviceID, timestamp, signature string) (*device.Record, error) {
	if deviceID == "" || timestamp == "" || signature == "" {
		return nil, ErrMissingCredentials
	}

	rec, err := a.source.GetByDeviceID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			return nil, ErrUnknownIdentifier
		}
		return nil, err
	}

	return a.verify(rec, timestamp, signature)
}

// AuthenticateEmergency verifies a request signed with the emergency
// identifier. Same error contract as AuthenticateDevice.
func (a *Authenticator) AuthenticateEmergency(ctx context.Context, emergencyID, timestamp, signature string) (*device.Record, error) {
	if emergencyID == "" || timestamp == "" || signature == "" {
		return nil, ErrMissingCredentials
	}

	rec, err := a.source.GetByEmergencyID(ctx, emergencyID)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			return nil, ErrUnknownIdentifier
		}
		return nil, err
	}

	return a.verify(rec, timestamp, signature)
}

// verify checks activation, timestamp freshness and the HMAC signature.
func (a *Authenticator) verify(rec *device.Record, timestamp, signature string) (*device.Record, error) {
	// Pre-registered records have no token yet; they cannot authenticate.
	if !rec.Activated() {
		return nil, ErrUnknownIdentifier
	}

	// An unparseable timestamp can never be fresh.
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, ErrStaleTimestamp
	}

	skew := a.now().UTC().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.window {
		return nil, ErrStaleTimestamp
	}

	expected := Signature(rec.Token, timestamp)
	got, err := hex.DecodeString(signature)
	if err != nil {
		return nil, ErrBadSignature
	}
	want, err := hex.DecodeString(expected)
	if err != nil {
		return nil, ErrBadSignature
	}
	if !hmac.Equal(got, want) {
		return nil, ErrBadSignature
	}

	return rec, nil
}

// Signature computes the hex HMAC-SHA256 of the timestamp string keyed
// by the device token. Exported for clients and tests.
func Signature(token, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write([]byte(timestamp)) //nolint:errcheck // hash.Write never errors
	return hex.EncodeToString(mac.Sum(nil))
}
