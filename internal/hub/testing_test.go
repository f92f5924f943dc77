package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/identity"
	"github.com/nerrad567/gray-logic-hub/internal/subscription"
)

const switchID = "urn:graylogic:serviceId:switch"

var testHash = device.HashParams{Time: 1, MemoryKiB: 64, Threads: 1, KeyLength: 16, SaltLength: 8}

// fakeSwitch is a binary switch. With userAuth set it only accepts the
// password "pw".
type fakeSwitch struct {
	udn      string
	userAuth bool
	specErr  error
	block    chan struct{}
}

func (d *fakeSwitch) Spec(context.Context) (*device.Specification, error) {
	if d.specErr != nil {
		return nil, d.specErr
	}
	return &device.Specification{
		DeviceType:   "urn:graylogic:device:switch:1",
		FriendlyName: "Switch " + d.udn,
		UDN:          "uuid:" + d.udn,
		UserAuth:     d.userAuth,
		ServiceList: []device.ServiceSpec{{
			ServiceID:   switchID,
			ServiceType: "urn:graylogic:service:switch:1",
			ActionList: map[string]device.ActionSpec{
				"setTarget": {ArgumentList: []device.ArgumentSpec{
					{Name: "newTarget", Direction: device.DirectionIn, RelatedStateVariable: "status"},
				}},
				"getStatus": {ArgumentList: []device.ArgumentSpec{
					{Name: "status", Direction: device.DirectionOut, RelatedStateVariable: "status"},
				}},
			},
			ServiceStateTable: map[string]device.StateVariableSpec{
				"status": {DataType: device.TypeBoolean, DefaultValue: false, SendEvents: true},
				"power":  {DataType: device.TypeNumber, DefaultValue: 0, SendEvents: true},
			},
		}},
	}, nil
}

func (d *fakeSwitch) HardwareAddress(context.Context) (string, error) { return d.udn, nil }

func (d *fakeSwitch) Actions(serviceID string) map[string]device.ActionHandler {
	if serviceID != switchID {
		return nil
	}
	return map[string]device.ActionHandler{
		"setTarget": func(_ context.Context, svc *device.Service, args map[string]any) (map[string]any, error) {
			if d.block != nil {
				<-d.block
			}
			on, _ := args["newTarget"].(bool)
			power := 0.0
			if on {
				power = 42.5
			}
			svc.SendEvent(map[string]any{"status": on, "power": power})
			return nil, nil
		},
		"getStatus": func(_ context.Context, svc *device.Service, _ map[string]any) (map[string]any, error) {
			v, _ := svc.Value("status")
			return map[string]any{"status": v}, nil
		},
	}
}

// authSwitch adds a password check.
type authSwitch struct {
	*fakeSwitch
}

func (d authSwitch) Connect(_ context.Context, _, pass string) (*device.Redirect, error) {
	if pass != "pw" {
		return nil, device.ErrPasswordMismatch
	}
	return nil, nil
}

type fakeModules struct {
	mu          sync.Mutex
	discovering map[string]bool
	discovers   int
	stops       int
	closed      bool
}

func (m *fakeModules) IsDiscovering(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discovering[name]
}

func (m *fakeModules) DiscoverAll(context.Context) {
	m.mu.Lock()
	m.discovers++
	m.mu.Unlock()
}

func (m *fakeModules) StopDiscoverAll(context.Context) {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
}

func (m *fakeModules) Close(context.Context) {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, published{topic, payload})
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

type fakeTelemetry struct {
	mu          sync.Mutex
	values      map[string]float64
	connections []string
}

func (f *fakeTelemetry) WriteStateVariable(_, _, variable string, value float64, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values == nil {
		f.values = make(map[string]float64)
	}
	f.values[variable] = value
}

func (f *fakeTelemetry) WriteConnection(_, state string, _ time.Time) {
	f.mu.Lock()
	f.connections = append(f.connections, state)
	f.mu.Unlock()
}

type fakeChannel struct {
	id string

	mu   sync.Mutex
	msgs []subscription.Message
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) Send(msg subscription.Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) messages() []subscription.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]subscription.Message(nil), c.msgs...)
}

// fakeDelegates hands out one delegate for module "cloud" and accepts the
// state "state-<device id>".
type fakeDelegates struct {
	delegate *fakeDelegate
}

func (f *fakeDelegates) Delegate(module string) (device.AuthDelegate, bool) {
	if module != "cloud" {
		return nil, false
	}
	return f.delegate, true
}

func (f *fakeDelegates) VerifyState(state string) (string, error) {
	const prefix = "state-"
	if len(state) <= len(prefix) || state[:len(prefix)] != prefix {
		return "", errors.New("bad state")
	}
	return state[len(prefix):], nil
}

type fakeDelegate struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (d *fakeDelegate) Connect(_ context.Context, deviceID string) (*device.Redirect, error) {
	return &device.Redirect{Href: "https://auth.example/authorize?state=state-" + deviceID, Method: "GET"}, nil
}

func (d *fakeDelegate) Disconnect(_ context.Context, deviceID string) error {
	d.mu.Lock()
	delete(d.tokens, deviceID)
	d.mu.Unlock()
	return nil
}

func (d *fakeDelegate) SetAccessToken(_ context.Context, deviceID string, params device.CallbackParams) error {
	if params.Code != "good" {
		return device.ErrCannotVerify
	}
	d.mu.Lock()
	if d.tokens == nil {
		d.tokens = make(map[string]string)
	}
	d.tokens[deviceID] = params.Code
	d.mu.Unlock()
	return nil
}

type testHub struct {
	*Manager
	store     *identity.MemoryStore
	modules   *fakeModules
	publisher *fakePublisher
	telemetry *fakeTelemetry
}

func newTestHub(t *testing.T, opts Options) *testHub {
	t.Helper()
	th := &testHub{
		store:     identity.NewMemoryStore(),
		modules:   &fakeModules{discovering: map[string]bool{}},
		publisher: &fakePublisher{},
		telemetry: &fakeTelemetry{},
	}
	opts.Identity = th.store
	opts.Publisher = th.publisher
	opts.Telemetry = th.telemetry
	opts.Hash = testHash
	if opts.DeviceTimeout == 0 {
		opts.DeviceTimeout = time.Second
	}
	m, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.SetModules(th.modules)
	th.Manager = m
	t.Cleanup(func() { m.Close(context.Background()) })
	return th
}

// online announces driver and returns the id it was published under.
func (th *testHub) online(t *testing.T, module string, driver device.Driver, hwAddr string) string {
	t.Helper()
	th.DeviceOnline(module, driver)
	id, ok, err := th.store.Lookup(context.Background(), hwAddr)
	if err != nil || !ok {
		t.Fatalf("no id assigned for %s (err %v)", hwAddr, err)
	}
	return id
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
