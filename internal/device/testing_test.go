package device

import (
	"context"
	"sync"
)

// Argon2 parameters small enough for tests.
var testHash = HashParams{Time: 1, MemoryKiB: 64, Threads: 1, KeyLength: 16, SaltLength: 8}

func dimmerSpec(userAuth bool) *Specification {
	return &Specification{
		DeviceType:   "urn:graylogic:device:dimmer:1",
		FriendlyName: "Hall dimmer",
		Manufacturer: "Gray Logic",
		UDN:          "uuid:dimmer-0001",
		UserAuth:     userAuth,
		ServiceList: []ServiceSpec{{
			ServiceID:   "urn:graylogic:serviceId:dimming",
			ServiceType: "urn:graylogic:service:dimming:1",
			ActionList: map[string]ActionSpec{
				"setLevel": {ArgumentList: []ArgumentSpec{
					{Name: "newLevel", Direction: DirectionIn, RelatedStateVariable: "level"},
				}},
				"getLevel": {ArgumentList: []ArgumentSpec{
					{Name: "level", Direction: DirectionOut, RelatedStateVariable: "level"},
				}},
				"calibrate": {},
			},
			ServiceStateTable: map[string]StateVariableSpec{
				"level": {
					DataType:          TypeInteger,
					AllowedValueRange: &ValueRange{Minimum: 0, Maximum: 100},
					DefaultValue:      0,
					SendEvents:        true,
				},
				"label": {DataType: TypeString},
			},
		}},
	}
}

const dimmingID = "urn:graylogic:serviceId:dimming"

type fakeDriver struct {
	mu          sync.Mutex
	spec        *Specification
	connectFn   func(ctx context.Context, user, pass string) (*Redirect, error)
	disconnects int
	block       chan struct{}
	emit        func(string, map[string]any)
}

func newFakeDriver(userAuth bool) *fakeDriver {
	return &fakeDriver{spec: dimmerSpec(userAuth)}
}

func (d *fakeDriver) Spec(context.Context) (*Specification, error) { return d.spec, nil }

func (d *fakeDriver) HardwareAddress(context.Context) (string, error) { return "aa:bb:cc", nil }

func (d *fakeDriver) Actions(serviceID string) map[string]ActionHandler {
	if serviceID != dimmingID {
		return nil
	}
	return map[string]ActionHandler{
		"setLevel": func(ctx context.Context, svc *Service, args map[string]any) (map[string]any, error) {
			if d.block != nil {
				select {
				case <-d.block:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			svc.SendEvent(map[string]any{"level": args["newLevel"]})
			return nil, nil
		},
		"getLevel": func(_ context.Context, svc *Service, _ map[string]any) (map[string]any, error) {
			v, _ := svc.Value("level")
			return map[string]any{"level": v}, nil
		},
		"explode": func(context.Context, *Service, map[string]any) (map[string]any, error) {
			panic("driver bug")
		},
	}
}

func (d *fakeDriver) BindEvents(emit func(string, map[string]any)) { d.emit = emit }

// hookDriver adds connect and disconnect hooks to fakeDriver.
type hookDriver struct {
	*fakeDriver
}

func (d hookDriver) Connect(ctx context.Context, user, pass string) (*Redirect, error) {
	if d.connectFn != nil {
		return d.connectFn(ctx, user, pass)
	}
	return nil, nil
}

func (d hookDriver) Disconnect(context.Context) error {
	d.mu.Lock()
	d.disconnects++
	d.mu.Unlock()
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	ids    []string
}

func (s *recordingSink) HandleEvent(deviceID string, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, deviceID)
	s.events = append(s.events, ev)
}

func (s *recordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

type fakeDelegate struct {
	redirect   *Redirect
	err        error
	completed  []CallbackParams
	disconnect int
}

func (f *fakeDelegate) Connect(context.Context, string) (*Redirect, error) { return f.redirect, f.err }

func (f *fakeDelegate) Disconnect(context.Context, string) error {
	f.disconnect++
	return nil
}

func (f *fakeDelegate) SetAccessToken(_ context.Context, _ string, p CallbackParams) error {
	f.completed = append(f.completed, p)
	return nil
}
