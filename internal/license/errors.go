package license

import "errors"

// Validation failure taxonomy. Each sentinel maps to a specific,
// user-facing message via Message; raw error strings never reach the host
// UI.
var (
	// ErrInvalidFormat indicates the token could not be decoded.
	ErrInvalidFormat = errors.New("license token is malformed")
	// ErrEmailMismatch indicates the token was issued for another email.
	ErrEmailMismatch = errors.New("license email does not match")
	// ErrDeviceMismatch indicates the token is bound to another device.
	ErrDeviceMismatch = errors.New("license is bound to a different device")
	// ErrInvalidSignature indicates the token signature failed to verify.
	ErrInvalidSignature = errors.New("license signature is invalid")
	// ErrExpired indicates the license expiration date has passed.
	ErrExpired = errors.New("license has expired")
	// ErrGraceExpired indicates the offline grace period has elapsed.
	ErrGraceExpired = errors.New("offline grace period has expired")

	// ErrNoLicense indicates no license record is stored on this device.
	ErrNoLicense = errors.New("no license stored")
	// ErrBoundToOtherDevice indicates the stored record belongs to a
	// different machine. The record is purged when this is detected.
	ErrBoundToOtherDevice = errors.New("stored license is bound to a different device")
)

// Message translates a validation error into the text shown to the user.
func Message(err error) string {
	switch {
	case err == nil:
		return "License is valid."
	case errors.Is(err, ErrInvalidFormat):
		return "The license key could not be read. Please re-enter it exactly as it was sent to you."
	case errors.Is(err, ErrEmailMismatch):
		return "This license was issued for a different email address."
	case errors.Is(err, ErrDeviceMismatch), errors.Is(err, ErrBoundToOtherDevice):
		return "This license is registered to a different computer. Contact support to transfer it."
	case errors.Is(err, ErrInvalidSignature):
		return "The license key failed verification. It may have been altered."
	case errors.Is(err, ErrExpired):
		return "Your license has expired. Please renew your subscription."
	case errors.Is(err, ErrGraceExpired):
		return "Your license could not be re-validated and the offline grace period has ended. Please reconnect to the internet."
	case errors.Is(err, ErrNoLicense):
		return "No license is installed on this computer."
	default:
		return "License validation failed. Please try again or contact support."
	}
}

// Terminal reports whether an error is unrecoverable for this
// device/license pair (the user must obtain or re-enter a license).
func Terminal(err error) bool {
	return errors.Is(err, ErrInvalidFormat) ||
		errors.Is(err, ErrEmailMismatch) ||
		errors.Is(err, ErrDeviceMismatch) ||
		errors.Is(err, ErrBoundToOtherDevice) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrGraceExpired)
}
