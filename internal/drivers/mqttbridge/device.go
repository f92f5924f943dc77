package mqttbridge

import (
	"context"
	"sync"

	"github.com/nerrad567/gray-logic-hub/internal/device"
)

// Device is one bridged device. Every declared action is forwarded to the
// bridge as a Command.
type Device struct {
	bridge *Bridge
	hwAddr string
	spec   *device.Specification

	mu   sync.Mutex
	emit func(serviceID string, values map[string]any)
}

var (
	_ device.ConnectHook    = (*Device)(nil)
	_ device.DisconnectHook = (*Device)(nil)
	_ device.EventSource    = (*Device)(nil)
)

// Spec returns the announced specification.
func (d *Device) Spec(context.Context) (*device.Specification, error) { return d.spec, nil }

// HardwareAddress returns the address from the announce topic.
func (d *Device) HardwareAddress(context.Context) (string, error) { return d.hwAddr, nil }

// Actions forwards every declared action of serviceID.
func (d *Device) Actions(serviceID string) map[string]device.ActionHandler {
	svc, ok := d.spec.Service(serviceID)
	if !ok {
		return nil
	}
	handlers := make(map[string]device.ActionHandler, len(svc.ActionList))
	for name := range svc.ActionList {
		action := name
		handlers[action] = func(ctx context.Context, svc *device.Service, args map[string]any) (map[string]any, error) {
			resp, err := d.bridge.request(ctx, d.hwAddr, Command{ServiceID: serviceID, Action: action, Args: args})
			if err != nil {
				return nil, err
			}
			if len(resp.State) > 0 {
				svc.SendEvent(resp.State)
			}
			return resp.Output, nil
		}
	}
	return handlers
}

// Connect forwards credentials to devices that declare userAuth.
func (d *Device) Connect(ctx context.Context, user, pass string) (*device.Redirect, error) {
	if !d.spec.UserAuth {
		return nil, nil
	}
	resp, err := d.bridge.request(ctx, d.hwAddr, Command{
		Action: ActionConnect,
		Args:   map[string]any{"user": user, "password": pass},
	})
	if err != nil {
		return nil, err
	}
	return device.RedirectFromAny(resp.Redirect)
}

// Disconnect tells userAuth devices the session ended.
func (d *Device) Disconnect(ctx context.Context) error {
	if !d.spec.UserAuth {
		return nil
	}
	_, err := d.bridge.request(ctx, d.hwAddr, Command{Action: ActionDisconnect})
	return err
}

// BindEvents stores the hub's event callback.
func (d *Device) BindEvents(emit func(serviceID string, values map[string]any)) {
	d.mu.Lock()
	d.emit = emit
	d.mu.Unlock()
}

func (d *Device) emitState(serviceID string, values map[string]any) {
	d.mu.Lock()
	emit := d.emit
	d.mu.Unlock()
	if emit != nil && len(values) > 0 {
		emit(serviceID, values)
	}
}
