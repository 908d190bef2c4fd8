package myq

import "errors"

// Domain errors for the MyQ cloud client.
var (
	// ErrInvalidCredentials is returned when the cloud rejects the
	// configured username or password. The account stays locked out
	// until credentials are changed; no further login attempts are made.
	ErrInvalidCredentials = errors.New("myq: invalid credentials")

	// ErrAuthentication is returned for recoverable authentication
	// failures, such as an expired session that could not be renewed.
	ErrAuthentication = errors.New("myq: authentication failed")

	// ErrRequest is returned when a cloud request fails after retries.
	ErrRequest = errors.New("myq: request failed")

	// ErrNotConfirmed is returned when a device command was accepted by
	// the cloud but the device never reported the expected state.
	ErrNotConfirmed = errors.New("myq: command not confirmed")

	// ErrNoAccounts is returned when the cloud reports no accounts for
	// the authenticated user.
	ErrNoAccounts = errors.New("myq: no accounts found")

	// ErrDeviceNotFound is returned when a device serial is not present
	// in the device cache.
	ErrDeviceNotFound = errors.New("myq: device not found")

	// ErrCommandNotAllowed is returned when a door reports that the
	// requested movement is disallowed (open_allowed or close_allowed
	// is false).
	ErrCommandNotAllowed = errors.New("myq: command not allowed by device")
)
