package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a device or emergency identifier does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrExists is returned when creating a device with an ID that already exists,
	// or when registering against an already activated pre-registration.
	ErrExists = errors.New("device: already exists")

	// ErrNotActivated is returned when an operation requires an activated
	// record but the device is still awaiting registration.
	ErrNotActivated = errors.New("device: not activated")

	// ErrApprovalRequired is returned when self-registration is attempted
	// while the deployment requires admin pre-registration.
	ErrApprovalRequired = errors.New("device: registration requires admin approval")

	// ErrHWIDRequired is returned when registration is attempted without a
	// hardware identifier while the deployment requires one.
	ErrHWIDRequired = errors.New("device: hardware id required")

	// ErrHWIDMismatch is returned when a device claims a pre-registration
	// with a hardware identifier that differs from the pre-bound one.
	ErrHWIDMismatch = errors.New("device: hardware id mismatch")

	// ErrUnlockNotPermitted is returned when an unlock is requested for a
	// device whose owner may not unlock it themselves.
	ErrUnlockNotPermitted = errors.New("device: unlock not permitted")

	// ErrLocked is returned when the decryption token is requested while
	// the device is not in the unlocked state.
	ErrLocked = errors.New("device: locked")

	// ErrInvalidState is returned when a stored state value is not recognised.
	ErrInvalidState = errors.New("device: invalid state")

	// ErrIdentifierExhausted is returned when identifier generation failed
	// to produce an unused value after several attempts.
	ErrIdentifierExhausted = errors.New("device: identifier space exhausted")
)
