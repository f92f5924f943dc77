package identity

import "errors"

var (
	// ErrInvalidAddress is returned for an empty hardware address.
	ErrInvalidAddress = errors.New("identity: invalid hardware address")

	// ErrInvalidID is returned for an empty identifier.
	ErrInvalidID = errors.New("identity: invalid device id")

	// ErrIDInUse is returned when assigning an identifier that already
	// belongs to another hardware address.
	ErrIDInUse = errors.New("identity: device id already assigned to another address")
)
