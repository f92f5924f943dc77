package device

import (
	"errors"
	"fmt"
)

// Sentinel errors for device operations. Operations return them wrapped in
// an *Error, so check with errors.Is:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // 404
//	}
var (
	ErrDeviceNotFound       = errors.New("device: not found")
	ErrServiceNotFound      = errors.New("device: service not found")
	ErrActionNotImplemented = errors.New("device: action not implemented")
	ErrNotConnected         = errors.New("device: device not connected")
	ErrCannotVerify         = errors.New("device: cannot verify")
	ErrUsernameMismatch     = errors.New("device: username not match")
	ErrPasswordMismatch     = errors.New("device: password not match")
	ErrBadRedirect          = errors.New("device: malformed redirect descriptor")
	ErrNoAuthStrategy       = errors.New("device: no auth strategy for userAuth device")
	ErrDiscovering          = errors.New("device: module is discovering")
	ErrNotResponding        = errors.New("device: device not responding")
	ErrDeviceOffline        = errors.New("device: device offline")
	ErrInvalidSpec          = errors.New("device: invalid specification")
	ErrInvalidArgument      = errors.New("device: invalid argument")
	ErrDriver               = errors.New("device: driver failure")
)

// Kind separates caller mistakes from device failures.
type Kind int

const (
	// KindProtocol covers bad input, unknown ids, failed authentication and
	// malformed redirects.
	KindProtocol Kind = iota

	// KindDriver covers failures reported by a module or device, including
	// timeouts.
	KindDriver
)

func (k Kind) String() string {
	if k == KindDriver {
		return "driver"
	}
	return "protocol"
}

// Error is the hub-wide error value. Topic names the operation that failed
// (connect, control, spec...).
type Error struct {
	Kind    Kind
	Topic   string
	Message string

	sentinel error
	cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Topic, e.Message)
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.sentinel != nil {
		errs = append(errs, e.sentinel)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// ProtocolError builds a usage error. An empty msg uses the sentinel's text.
func ProtocolError(topic string, sentinel error, msg string) *Error {
	if msg == "" && sentinel != nil {
		msg = sentinel.Error()
	}
	return &Error{Kind: KindProtocol, Topic: topic, Message: msg, sentinel: sentinel}
}

// DriverError wraps a failure that originated in a driver. A nil sentinel
// defaults to ErrDriver.
func DriverError(topic string, sentinel, cause error) *Error {
	if sentinel == nil {
		sentinel = ErrDriver
	}
	msg := sentinel.Error()
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: KindDriver, Topic: topic, Message: msg, sentinel: sentinel, cause: cause}
}

// AsError converts any error into an *Error for topic. Errors that already
// are *Error pass through unchanged; authentication sentinels become
// protocol errors; everything else is treated as a driver failure.
func AsError(topic string, err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	for _, s := range []error{ErrCannotVerify, ErrUsernameMismatch, ErrPasswordMismatch, ErrBadRedirect, ErrInvalidArgument, ErrNotConnected} {
		if errors.Is(err, s) {
			return &Error{Kind: KindProtocol, Topic: topic, Message: err.Error(), sentinel: s, cause: err}
		}
	}
	return DriverError(topic, nil, err)
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == k
}
