package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Logger defines the logging interface used by the package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Device is the operation set every device exposes to the hub.
type Device interface {
	Spec() *Specification
	Connect(ctx context.Context, user, pass string) (ConnectionState, *Redirect, error)
	Disconnect(ctx context.Context) error
	HardwareAddress() string
	Control(ctx context.Context, serviceID, action string, args map[string]any) (map[string]any, error)
	Subscribe(sink EventSink, serviceID string) error
	Unsubscribe(sink EventSink, serviceID string) error
}

// BaseOptions configure a Base.
type BaseOptions struct {
	Hash     HashParams
	Delegate AuthDelegate
	Logger   Logger
}

// Base is the generic device adapter. It builds the service runtimes from
// the specification and implements Device on top of a Driver.
//
// Operations on one Base run one at a time, in the order they acquire the
// device; different devices proceed independently.
type Base struct {
	driver   Driver
	spec     *Specification
	hwAddr   string
	order    []string
	services map[string]*Service
	handlers map[string]map[string]ActionHandler
	conn     *ConnectManager
	delegate AuthDelegate
	logger   Logger

	lock    chan struct{}
	offline atomic.Bool

	idMu       sync.RWMutex
	id         string
	eventsOnce sync.Once
}

var _ Device = (*Base)(nil)

// NewBase validates spec and wraps driver. hwAddr is the device's stable
// hardware address.
func NewBase(driver Driver, spec *Specification, hwAddr string, opts BaseOptions) (*Base, error) {
	if driver == nil {
		return nil, fmt.Errorf("%w: nil driver", ErrInvalidSpec)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if hwAddr == "" {
		return nil, fmt.Errorf("%w: empty hardware address", ErrInvalidSpec)
	}

	b := &Base{
		driver:   driver,
		spec:     spec.Clone(),
		hwAddr:   hwAddr,
		services: make(map[string]*Service, len(spec.ServiceList)),
		handlers: make(map[string]map[string]ActionHandler, len(spec.ServiceList)),
		delegate: opts.Delegate,
		logger:   opts.Logger,
		lock:     make(chan struct{}, 1),
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	b.conn = NewConnectManager(spec.UserAuth, opts.Delegate != nil, opts.Hash)

	for _, svcSpec := range b.spec.ServiceList {
		b.order = append(b.order, svcSpec.ServiceID)
		b.services[svcSpec.ServiceID] = NewService(svcSpec)
		b.handlers[svcSpec.ServiceID] = driver.Actions(svcSpec.ServiceID)
	}
	return b, nil
}

// Bind assigns the stable id and an observer that sees every event of
// every service, before any sink does. Drivers that push their own events
// are hooked up here, once. Call it before publishing the device.
func (b *Base) Bind(id string, observe func(deviceID string, ev Event)) {
	b.idMu.Lock()
	b.id = id
	b.idMu.Unlock()
	for _, svc := range b.services {
		svc.bind(id, observe)
	}
	b.eventsOnce.Do(func() {
		if src, ok := b.driver.(EventSource); ok {
			src.BindEvents(b.Emit)
		}
	})
}

// ID returns the stable identifier assigned by Bind.
func (b *Base) ID() string {
	b.idMu.RLock()
	defer b.idMu.RUnlock()
	return b.id
}

// Driver returns the wrapped driver.
func (b *Base) Driver() Driver { return b.driver }

// Spec returns a copy of the specification.
func (b *Base) Spec() *Specification { return b.spec.Clone() }

// HardwareAddress returns the address the device was registered under.
func (b *Base) HardwareAddress() string { return b.hwAddr }

// ConnectionState returns the current connection state.
func (b *Base) ConnectionState() ConnectionState { return b.conn.State() }

// Delegated reports whether authentication goes through an AuthDelegate.
func (b *Base) Delegated() bool { return b.delegate != nil }

// MarkOffline makes every later operation fail with ErrDeviceOffline.
func (b *Base) MarkOffline() { b.offline.Store(true) }

// Offline reports whether MarkOffline was called.
func (b *Base) Offline() bool { return b.offline.Load() }

// acquire waits for exclusive use of the device or for ctx to end.
func (b *Base) acquire(ctx context.Context, topic string) (func(), error) {
	if b.Offline() {
		return nil, ProtocolError(topic, ErrDeviceOffline, "")
	}
	select {
	case b.lock <- struct{}{}:
		return func() { <-b.lock }, nil
	case <-ctx.Done():
		return nil, DriverError(topic, ErrNotResponding, ctx.Err())
	}
}

// Connect authenticates against the device. Devices that already hold
// credentials are verified against them; otherwise the connect hook runs.
func (b *Base) Connect(ctx context.Context, user, pass string) (ConnectionState, *Redirect, error) {
	release, err := b.acquire(ctx, "connect")
	if err != nil {
		return b.conn.State(), nil, err
	}
	defer release()

	if b.conn.NeedsVerify() {
		if err := b.conn.VerifyConnect(user, pass); err != nil {
			return b.conn.State(), nil, err
		}
		return b.conn.State(), nil, nil
	}
	if b.conn.State() == StateConnected {
		return StateConnected, nil, nil
	}

	redirect, err := b.conn.ProcessConnect(ctx, user, pass, b.connectHook())
	return b.conn.State(), redirect, err
}

func (b *Base) connectHook() ConnectHookFunc {
	if b.delegate != nil {
		return func(ctx context.Context, _, _ string) (*Redirect, error) {
			return b.delegate.Connect(ctx, b.ID())
		}
	}
	if h, ok := b.driver.(ConnectHook); ok {
		return h.Connect
	}
	return nil
}

// Disconnect ends the session with the device.
func (b *Base) Disconnect(ctx context.Context) error {
	release, err := b.acquire(ctx, "disconnect")
	if err != nil {
		return err
	}
	defer release()

	var hook DisconnectHookFunc
	switch {
	case b.delegate != nil:
		hook = func(ctx context.Context) error { return b.delegate.Disconnect(ctx, b.ID()) }
	default:
		if h, ok := b.driver.(DisconnectHook); ok {
			hook = h.Disconnect
		}
	}
	return b.conn.ProcessDisconnect(ctx, hook)
}

// CompleteAuth finishes a pending external authorisation with the values
// returned by the provider.
func (b *Base) CompleteAuth(ctx context.Context, params CallbackParams) error {
	release, err := b.acquire(ctx, "oauth")
	if err != nil {
		return err
	}
	defer release()

	if b.delegate == nil {
		return ProtocolError("oauth", ErrNoAuthStrategy, "device does not use external authorisation")
	}
	if b.conn.State() != StateRedirecting {
		return ProtocolError("oauth", ErrNotConnected, "no authorisation pending")
	}
	if err := b.delegate.SetAccessToken(ctx, b.ID(), params); err != nil {
		return AsError("oauth", err)
	}
	return b.conn.CompleteRedirect()
}

// Control invokes an action on a service of a connected device.
func (b *Base) Control(ctx context.Context, serviceID, action string, args map[string]any) (map[string]any, error) {
	svc, ok := b.services[serviceID]
	if !ok {
		return nil, ProtocolError("control", ErrServiceNotFound, fmt.Sprintf("service %q not found", serviceID))
	}

	release, err := b.acquire(ctx, "control")
	if err != nil {
		return nil, err
	}
	defer release()

	if err := b.conn.RequireConnected("control"); err != nil {
		return nil, err
	}

	_, declared := svc.spec.ActionList[action]
	handler := b.handlers[serviceID][action]
	if handler == nil {
		if declared {
			return nil, DriverError("control", ErrActionNotImplemented, fmt.Errorf("action %q not implemented", action))
		}
		return nil, ProtocolError("control", ErrActionNotImplemented, fmt.Sprintf("action %q not implemented", action))
	}
	if err := svc.spec.CheckArgs(action, args); err != nil {
		return nil, ProtocolError("control", ErrInvalidArgument, err.Error())
	}

	return b.invoke(ctx, handler, svc, action, args)
}

// invoke runs handler and converts a panic into a driver error.
func (b *Base) invoke(ctx context.Context, handler ActionHandler, svc *Service, action string, args map[string]any) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("action handler panicked",
				"device_id", b.ID(), "service_id", svc.ID(), "action", action, "panic", r)
			out, err = nil, DriverError("control", nil, fmt.Errorf("action %q panicked: %v", action, r))
		}
	}()

	out, err = handler(ctx, svc, args)
	if err != nil {
		return nil, AsError("control", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// Emit reports values observed outside an action, e.g. pushed by the device.
func (b *Base) Emit(serviceID string, values map[string]any) {
	svc, ok := b.services[serviceID]
	if !ok {
		b.logger.Warn("event for unknown service dropped", "device_id", b.ID(), "service_id", serviceID)
		return
	}
	svc.SendEvent(values)
}

// Subscribe attaches sink to a service.
func (b *Base) Subscribe(sink EventSink, serviceID string) error {
	svc, ok := b.services[serviceID]
	if !ok {
		return ProtocolError("subscribe", ErrServiceNotFound, fmt.Sprintf("service %q not found", serviceID))
	}
	svc.Subscribe(sink)
	return nil
}

// Unsubscribe detaches sink from a service.
func (b *Base) Unsubscribe(sink EventSink, serviceID string) error {
	svc, ok := b.services[serviceID]
	if !ok {
		return ProtocolError("unsubscribe", ErrServiceNotFound, fmt.Sprintf("service %q not found", serviceID))
	}
	svc.Unsubscribe(sink)
	return nil
}

// State returns the current state table of a service.
func (b *Base) State(serviceID string) (map[string]any, error) {
	svc, ok := b.services[serviceID]
	if !ok {
		return nil, ProtocolError("state", ErrServiceNotFound, fmt.Sprintf("service %q not found", serviceID))
	}
	return svc.State(), nil
}

// Services returns the service runtimes in specification order.
func (b *Base) Services() []*Service {
	out := make([]*Service, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.services[id])
	}
	return out
}
