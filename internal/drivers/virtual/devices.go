package virtual

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-hub/internal/device"
)

// Device kinds.
const (
	KindSwitch = "switch"
	KindDimmer = "dimmer"
)

// Service identifiers.
const (
	SwitchServiceID  = "urn:graylogic:serviceId:SwitchPower"
	DimmingServiceID = "urn:graylogic:serviceId:Dimming"
)

// DeviceConfig declares one simulated device.
type DeviceConfig struct {
	ID       string `yaml:"id"`
	Kind     string `yaml:"kind"`
	Name     string `yaml:"name"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Device is a simulated device. It implements device.Driver and, when a
// password is configured, device.ConnectHook.
type Device struct {
	cfg  DeviceConfig
	hwID string

	mu   sync.Mutex
	emit func(serviceID string, values map[string]any)
}

func newDevice(module string, cfg DeviceConfig) *Device {
	return &Device{cfg: cfg, hwID: module + ":" + cfg.ID}
}

// Spec returns the specification for the device kind.
func (d *Device) Spec(context.Context) (*device.Specification, error) {
	name := d.cfg.Name
	if name == "" {
		name = d.cfg.ID
	}
	spec := &device.Specification{
		FriendlyName: name,
		Manufacturer: "Gray Logic",
		ModelName:    "Virtual " + d.cfg.Kind,
		UDN:          "uuid:" + d.hwID,
		UserAuth:     d.cfg.Password != "",
		ServiceList:  []device.ServiceSpec{switchService()},
	}
	switch d.cfg.Kind {
	case KindSwitch:
		spec.DeviceType = "urn:graylogic:device:BinaryLight:1"
	case KindDimmer:
		spec.DeviceType = "urn:graylogic:device:DimmableLight:1"
		spec.ServiceList = append(spec.ServiceList, dimmingService())
	default:
		return nil, fmt.Errorf("unknown device kind %q", d.cfg.Kind)
	}
	return spec, nil
}

func switchService() device.ServiceSpec {
	return device.ServiceSpec{
		ServiceID:   SwitchServiceID,
		ServiceType: "urn:graylogic:service:SwitchPower:1",
		ActionList: map[string]device.ActionSpec{
			"SetTarget": {ArgumentList: []device.ArgumentSpec{
				{Name: "newTargetValue", Direction: device.DirectionIn, RelatedStateVariable: "Target"},
			}},
			"GetStatus": {ArgumentList: []device.ArgumentSpec{
				{Name: "ResultStatus", Direction: device.DirectionOut, RelatedStateVariable: "Status"},
			}},
			"Toggle": {},
		},
		ServiceStateTable: map[string]device.StateVariableSpec{
			"Target": {DataType: device.TypeBoolean, DefaultValue: false},
			"Status": {DataType: device.TypeBoolean, DefaultValue: false, SendEvents: true},
		},
	}
}

func dimmingService() device.ServiceSpec {
	return device.ServiceSpec{
		ServiceID:   DimmingServiceID,
		ServiceType: "urn:graylogic:service:Dimming:1",
		ActionList: map[string]device.ActionSpec{
			"SetLoadLevelTarget": {ArgumentList: []device.ArgumentSpec{
				{Name: "newLoadlevelTarget", Direction: device.DirectionIn, RelatedStateVariable: "LoadLevelTarget"},
			}},
			"GetLoadLevelStatus": {ArgumentList: []device.ArgumentSpec{
				{Name: "retLoadlevelStatus", Direction: device.DirectionOut, RelatedStateVariable: "LoadLevelStatus"},
			}},
		},
		ServiceStateTable: map[string]device.StateVariableSpec{
			"LoadLevelTarget": {
				DataType:          device.TypeInteger,
				AllowedValueRange: &device.ValueRange{Minimum: 0, Maximum: 100, Step: 1},
				DefaultValue:      0,
			},
			"LoadLevelStatus": {
				DataType:          device.TypeInteger,
				AllowedValueRange: &device.ValueRange{Minimum: 0, Maximum: 100, Step: 1},
				DefaultValue:      0,
				SendEvents:        true,
			},
		},
	}
}

// HardwareAddress returns "<module>:<device id>".
func (d *Device) HardwareAddress(context.Context) (string, error) { return d.hwID, nil }

// Actions binds the handlers of a service.
func (d *Device) Actions(serviceID string) map[string]device.ActionHandler {
	switch serviceID {
	case SwitchServiceID:
		return map[string]device.ActionHandler{
			"SetTarget": func(_ context.Context, svc *device.Service, args map[string]any) (map[string]any, error) {
				on, _ := args["newTargetValue"].(bool)
				svc.SendEvent(map[string]any{"Target": on, "Status": on})
				return nil, nil
			},
			"GetStatus": func(_ context.Context, svc *device.Service, _ map[string]any) (map[string]any, error) {
				v, _ := svc.Value("Status")
				return map[string]any{"ResultStatus": v}, nil
			},
			"Toggle": func(_ context.Context, svc *device.Service, _ map[string]any) (map[string]any, error) {
				v, _ := svc.Value("Status")
				on, _ := v.(bool)
				svc.SendEvent(map[string]any{"Target": !on, "Status": !on})
				return map[string]any{"Status": !on}, nil
			},
		}
	case DimmingServiceID:
		return map[string]device.ActionHandler{
			"SetLoadLevelTarget": func(_ context.Context, svc *device.Service, args map[string]any) (map[string]any, error) {
				level := args["newLoadlevelTarget"]
				svc.SendEvent(map[string]any{"LoadLevelTarget": level, "LoadLevelStatus": level})
				return nil, nil
			},
			"GetLoadLevelStatus": func(_ context.Context, svc *device.Service, _ map[string]any) (map[string]any, error) {
				v, _ := svc.Value("LoadLevelStatus")
				return map[string]any{"retLoadlevelStatus": v}, nil
			},
		}
	}
	return nil
}

// Connect checks the configured credentials. Devices without a password
// accept anyone.
func (d *Device) Connect(_ context.Context, user, pass string) (*device.Redirect, error) {
	if d.cfg.Password == "" {
		return nil, nil
	}
	if d.cfg.Username != "" && user != d.cfg.Username {
		return nil, device.ErrUsernameMismatch
	}
	if pass != d.cfg.Password {
		return nil, device.ErrPasswordMismatch
	}
	return nil, nil
}

// BindEvents stores the hub's event callback.
func (d *Device) BindEvents(emit func(serviceID string, values map[string]any)) {
	d.mu.Lock()
	d.emit = emit
	d.mu.Unlock()
}

// Set changes state as if the device had been operated locally.
func (d *Device) Set(serviceID string, values map[string]any) bool {
	d.mu.Lock()
	emit := d.emit
	d.mu.Unlock()
	if emit == nil {
		return false
	}
	emit(serviceID, values)
	return true
}

// ID returns the configured device id.
func (d *Device) ID() string { return d.cfg.ID }
