package oauth

import "errors"

var (
	// ErrUnsupportedVersion is returned for a provider version other than
	// "1.0" or "2.0".
	ErrUnsupportedVersion = errors.New("oauth: unsupported version")

	// ErrInvalidState is returned when a callback's state fails
	// verification.
	ErrInvalidState = errors.New("oauth: invalid state")

	// ErrNoPendingAuthorisation is returned by SetAccessToken when no
	// authorisation was started for the device.
	ErrNoPendingAuthorisation = errors.New("oauth: no pending authorisation")

	// ErrTokenNotFound is returned when no token is stored for a device.
	ErrTokenNotFound = errors.New("oauth: token not found")

	// ErrMissingParameter is returned when the callback lacks the code,
	// token or verifier the flow needs.
	ErrMissingParameter = errors.New("oauth: missing callback parameter")
)
