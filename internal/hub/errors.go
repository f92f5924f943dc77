package hub

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-hub/internal/device"
)

// ErrNoIdentityStore is returned by New without an identity store.
var ErrNoIdentityStore = errors.New("hub: identity store is required")

func notFound(topic, deviceID string) error {
	return device.ProtocolError(topic, device.ErrDeviceNotFound, fmt.Sprintf("device %q not found", deviceID))
}
