package device

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("i2c timeout")
	err := DriverError("control", ErrNotResponding, cause)

	if !errors.Is(err, ErrNotResponding) || !errors.Is(err, cause) {
		t.Error("DriverError should expose both sentinel and cause")
	}
	if err.Error() != "control: i2c timeout" {
		t.Errorf("Error() = %q", err.Error())
	}

	perr := ProtocolError("connect", ErrCannotVerify, "")
	if perr.Message != ErrCannotVerify.Error() {
		t.Errorf("Message = %q, want sentinel text", perr.Message)
	}
	if perr.Kind.String() != "protocol" || err.Kind.String() != "driver" {
		t.Error("Kind.String() mismatch")
	}
}

func TestAsError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		kind Kind
	}{
		{"existing error kept", ProtocolError("x", ErrDeviceNotFound, ""), KindProtocol},
		{"wrapped auth sentinel", fmt.Errorf("hook: %w", ErrPasswordMismatch), KindProtocol},
		{"plain failure", errors.New("boom"), KindDriver},
	}
	for _, tt := range tests {
		got := AsError("connect", tt.in)
		if got.Kind != tt.kind {
			t.Errorf("%s: kind = %s, want %s", tt.name, got.Kind, tt.kind)
		}
		if !errors.Is(got, tt.in) && got != tt.in {
			t.Errorf("%s: original error lost", tt.name)
		}
	}
	if AsError("x", nil) != nil {
		t.Error("AsError(nil) != nil")
	}
}
