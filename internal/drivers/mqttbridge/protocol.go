package mqttbridge

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-hub/internal/device"
)

// Pseudo-actions sent for connect and disconnect.
const (
	ActionConnect    = "$connect"
	ActionDisconnect = "$disconnect"
)

// Error codes a bridge may return.
const (
	CodeUsernameMismatch = "username_mismatch"
	CodePasswordMismatch = "password_mismatch"
	CodeInvalidArgument  = "invalid_argument"
	CodeNotImplemented   = "not_implemented"
)

// Command is published to a device's command topic.
type Command struct {
	RequestID string         `json:"request_id"`
	ServiceID string         `json:"service_id,omitempty"`
	Action    string         `json:"action"`
	Args      map[string]any `json:"args,omitempty"`
}

// Response answers one Command.
type Response struct {
	RequestID string         `json:"request_id"`
	Output    map[string]any `json:"output,omitempty"`
	State     map[string]any `json:"state,omitempty"`
	Redirect  any            `json:"redirect,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError is a failure reported by a bridge.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StateUpdate is published by a device whose state changed on its own.
type StateUpdate struct {
	ServiceID string         `json:"service_id"`
	Values    map[string]any `json:"values"`
}

// err maps a bridge error code to the hub's sentinels.
func (e *ResponseError) err() error {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	var sentinel error
	switch e.Code {
	case CodeUsernameMismatch:
		sentinel = device.ErrUsernameMismatch
	case CodePasswordMismatch:
		sentinel = device.ErrPasswordMismatch
	case CodeInvalidArgument:
		sentinel = device.ErrInvalidArgument
	case CodeNotImplemented:
		sentinel = device.ErrActionNotImplemented
	default:
		return errors.New("bridge: " + msg)
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}
